// Package mcp exposes the generation capabilities as Model Context Protocol
// tools over the streamable HTTP transport. Each tool normalizes its input
// into the same request shape the REST endpoints use, so MCP callers get the
// identical routing, budget, and caching behavior.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/transport"
)

// ServerName identifies this MCP server to clients.
const ServerName = "atelier"

// Server bridges MCP tool calls onto a transport.Generator.
type Server struct {
	gen     transport.Generator
	mcp     *sdk.Server
	version string
}

// New creates an MCP server exposing the generate_image, generate_diagram,
// and generate_video tools.
func New(gen transport.Generator, version string) (*Server, error) {
	if gen == nil {
		return nil, fmt.Errorf("mcp: generator must not be nil")
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		gen:     gen,
		version: version,
		mcp: sdk.NewServer(
			&sdk.Implementation{Name: ServerName, Version: version},
			nil,
		),
	}

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "generate_image",
		Description: "Generates an image from a text prompt",
	}, s.generateImage)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "generate_diagram",
		Description: "Generates a diagram from a text description",
	}, s.generateDiagram)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "generate_video",
		Description: "Generates a short video from a text prompt",
	}, s.generateVideo)

	return s, nil
}

// Handler returns the streamable HTTP handler serving this MCP server.
func (s *Server) Handler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(_ *http.Request) *sdk.Server {
		return s.mcp
	}, nil)
}

// ImageInput is the input schema of the generate_image tool.
type ImageInput struct {
	Prompt   string `json:"prompt" jsonschema_description:"Text prompt describing the image"`
	Size     string `json:"size,omitempty" jsonschema_description:"Image size such as 1024x1024"`
	Style    string `json:"style,omitempty" jsonschema_description:"Rendering style such as vivid or natural"`
	Count    int    `json:"count,omitempty" jsonschema_description:"Number of images to generate"`
	Provider string `json:"provider,omitempty" jsonschema_description:"Pin generation to one provider"`
}

// DiagramInput is the input schema of the generate_diagram tool.
type DiagramInput struct {
	Description string `json:"description" jsonschema_description:"Text description of the diagram"`
	Kind        string `json:"kind,omitempty" jsonschema_description:"Diagram kind such as flowchart or sequence"`
	Format      string `json:"format,omitempty" jsonschema_description:"Output format such as mermaid or svg"`
	Provider    string `json:"provider,omitempty" jsonschema_description:"Pin generation to one provider"`
}

// VideoInput is the input schema of the generate_video tool.
type VideoInput struct {
	Prompt          string `json:"prompt" jsonschema_description:"Text prompt describing the video"`
	ImageURL        string `json:"image_url,omitempty" jsonschema_description:"Source image to animate (image-to-video)"`
	Motion          int    `json:"motion,omitempty" jsonschema_description:"Motion intensity from 1 to 255"`
	DurationSeconds int    `json:"duration_seconds,omitempty" jsonschema_description:"Target clip length in seconds"`
	Resolution      string `json:"resolution,omitempty" jsonschema_description:"Target resolution such as 720p"`
	Provider        string `json:"provider,omitempty" jsonschema_description:"Pin generation to one provider"`
}

// toolResult is the JSON payload embedded in the tool's text content.
type toolResult struct {
	ID       string      `json:"id"`
	Provider string      `json:"provider,omitempty"`
	Cached   bool        `json:"cached"`
	Media    []api.Media `json:"media,omitempty"`
	Code     string      `json:"code,omitempty"`
	Format   string      `json:"format,omitempty"`
	CostUSD  float64     `json:"cost_usd,omitempty"`
}

func (s *Server) generateImage(ctx context.Context, _ *sdk.CallToolRequest, in ImageInput) (*sdk.CallToolResult, struct{}, error) {
	params := map[string]string{}
	setParam(params, api.ParamSize, in.Size)
	setParam(params, api.ParamStyle, in.Style)
	if in.Count > 0 {
		params[api.ParamCount] = strconv.Itoa(in.Count)
	}
	return s.run(ctx, &api.Request{
		Capability: api.CapabilityImage,
		Prompt:     in.Prompt,
		Params:     params,
		Provider:   in.Provider,
	})
}

func (s *Server) generateDiagram(ctx context.Context, _ *sdk.CallToolRequest, in DiagramInput) (*sdk.CallToolResult, struct{}, error) {
	params := map[string]string{}
	setParam(params, api.ParamKind, in.Kind)
	setParam(params, api.ParamFormat, in.Format)
	return s.run(ctx, &api.Request{
		Capability: api.CapabilityDiagram,
		Prompt:     in.Description,
		Params:     params,
		Provider:   in.Provider,
	})
}

func (s *Server) generateVideo(ctx context.Context, _ *sdk.CallToolRequest, in VideoInput) (*sdk.CallToolResult, struct{}, error) {
	params := map[string]string{}
	setParam(params, api.ParamResolution, in.Resolution)
	setParam(params, api.ParamImageURL, in.ImageURL)
	if in.Motion > 0 {
		params[api.ParamMotion] = strconv.Itoa(in.Motion)
	}
	if in.DurationSeconds > 0 {
		params[api.ParamDuration] = strconv.Itoa(in.DurationSeconds)
	}
	return s.run(ctx, &api.Request{
		Capability: api.CapabilityVideo,
		Prompt:     in.Prompt,
		Params:     params,
		Provider:   in.Provider,
	})
}

// run pushes one normalized request through the generator and renders the
// outcome as tool content. Orchestration failures surface as tool errors so
// MCP clients see the structured message.
func (s *Server) run(ctx context.Context, req *api.Request) (*sdk.CallToolResult, struct{}, error) {
	req.ID = api.NewGenerationID()

	out, err := s.gen.Generate(ctx, req)
	if err != nil {
		return nil, struct{}{}, fmt.Errorf("generation failed: %w", err)
	}
	if !out.Succeeded() {
		if out.Err != nil {
			return nil, struct{}{}, out.Err
		}
		return nil, struct{}{}, fmt.Errorf("generation ended with status %s", out.Status)
	}

	result := toolResult{
		ID:       out.RequestID,
		Provider: out.Provider,
		Cached:   out.Status == api.StatusCacheHit,
		CostUSD:  out.ActualCost,
	}
	if art := out.Artifact; art != nil {
		result.Media = art.Media
		result.Code = art.Code
		result.Format = art.Format
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, struct{}{}, fmt.Errorf("encoding tool result: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{
			&sdk.TextContent{Text: string(payload)},
		},
	}, struct{}{}, nil
}

func setParam(params map[string]string, key, value string) {
	if value != "" {
		params[key] = value
	}
}

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/provider"
)

const providerName = "openai"

// Adapter implements provider.Adapter against the OpenAI API.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// New creates a new Adapter with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return providerName
}

// Capabilities returns the generation capabilities this backend serves.
func (a *Adapter) Capabilities() []api.Capability {
	return []api.Capability{api.CapabilityImage, api.CapabilityDiagram}
}

// Invoke dispatches the request to the endpoint matching its capability.
func (a *Adapter) Invoke(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	switch req.Capability {
	case api.CapabilityImage:
		return a.generateImage(ctx, req)
	case api.CapabilityDiagram:
		return a.generateDiagram(ctx, req)
	default:
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  fmt.Sprintf("capability %q not supported", req.Capability),
		}
	}
}

// Close releases provider resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) generateImage(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	size := req.Param(api.ParamSize)
	if size == "" {
		size = "1024x1024"
	}
	n := 1
	if v := req.Param(api.ParamCount); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	// DALL-E 3 renders one image per call.
	if a.cfg.ImageModel == "dall-e-3" && n > 1 {
		n = 1
	}

	body := imageGenerationRequest{
		Model:          a.cfg.ImageModel,
		Prompt:         req.Prompt,
		N:              n,
		Size:           size,
		Style:          req.Param(api.ParamStyle),
		ResponseFormat: "b64_json",
	}

	var out imageGenerationResponse
	if err := a.post(ctx, "/v1/images/generations", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "backend returned no images",
		}
	}

	media := make([]api.Media, 0, len(out.Data))
	for _, d := range out.Data {
		media = append(media, api.Media{URL: d.URL, B64: d.B64JSON, MimeType: "image/png"})
	}
	return &api.Artifact{
		Capability: api.CapabilityImage,
		Provider:   providerName,
		Media:      media,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (a *Adapter) generateDiagram(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	format := req.Param(api.ParamFormat)
	if format == "" {
		format = "mermaid"
	}
	kind := req.Param(api.ParamKind)
	if kind == "" {
		kind = "flowchart"
	}

	temperature := 0.3
	body := chatCompletionRequest{
		Model: a.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: diagramSystemPrompt(format, kind)},
			{Role: "user", Content: fmt.Sprintf("Create a %s %s diagram for the following:\n%s", format, kind, req.Prompt)},
		},
		Temperature: &temperature,
	}

	var out chatCompletionResponse
	if err := a.post(ctx, "/v1/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "backend returned no choices",
		}
	}

	code := extractCode(out.Choices[0].Message.Content)
	if code == "" {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "backend returned empty diagram source",
		}
	}

	return &api.Artifact{
		Capability: api.CapabilityDiagram,
		Provider:   providerName,
		Code:       code,
		Format:     format,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// post sends a JSON request to the given path and decodes the response
// into out. Non-2xx responses and transport failures come back as *provider.Error.
func (a *Adapter) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to marshal request: " + err.Error(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to build request: " + err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return provider.MapNetworkError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return provider.MapHTTPError(providerName, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "failed to parse backend response: " + err.Error(),
		}
	}
	return nil
}

func diagramSystemPrompt(format, kind string) string {
	return fmt.Sprintf("You are an expert at writing %s diagrams for technical documentation. "+
		"Reply with ONLY the %s source for a %s diagram. No markdown fences, no explanations.",
		format, format, kind)
}

// extractCode strips a surrounding markdown fence if the model added one
// despite instructions.
func extractCode(text string) string {
	code := strings.TrimSpace(text)
	if !strings.HasPrefix(code, "```") {
		return code
	}
	lines := strings.Split(code, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

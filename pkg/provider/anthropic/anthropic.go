package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/provider"
)

const providerName = "anthropic"

// apiVersion is the required anthropic-version header value.
const apiVersion = "2023-06-01"

// Adapter implements provider.Adapter against the Anthropic API.
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
		return nil, fmt.Errorf("anthropic: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
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
	return []api.Capability{api.CapabilityDiagram}
}

// Invoke generates diagram source for the request.
func (a *Adapter) Invoke(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	if req.Capability != api.CapabilityDiagram {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  fmt.Sprintf("capability %q not supported", req.Capability),
		}
	}
	return a.generateDiagram(ctx, req)
}

// Close releases provider resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
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

	body := messagesRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    diagramSystemPrompt(format, kind),
		Messages: []message{
			{Role: "user", Content: fmt.Sprintf("Create a %s %s diagram for the following:\n%s", format, kind, req.Prompt)},
		},
	}

	var out messagesResponse
	if err := a.post(ctx, "/v1/messages", body, &out); err != nil {
		return nil, err
	}

	code := extractCode(firstText(out.Content))
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
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

// firstText returns the first text block of the response content.
func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
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

// Package cipher adapts the Cipher image gateway to the provider.Adapter
// interface. The gateway speaks the OpenAI images response shape but sits
// behind a single fixed endpoint and authenticates with an api_key query
// parameter.
package cipher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/provider"
)

const providerName = "cipher"

// Adapter implements provider.Adapter against the Cipher gateway.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// New creates a new Adapter with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cipher: Endpoint is required")
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
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
	return []api.Capability{api.CapabilityImage}
}

// Invoke generates images. Only the image capability is served.
func (a *Adapter) Invoke(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	if req.Capability != api.CapabilityImage {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  fmt.Sprintf("capability %q not supported", req.Capability),
		}
	}

	size := req.Param(api.ParamSize)
	if size == "" {
		size = a.cfg.Size
	}
	count := 1
	if v := req.Param(api.ParamCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	payload, err := json.Marshal(imageRequest{Prompt: req.Prompt, N: count, Size: size})
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to marshal request: " + err.Error(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to build request: " + err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.MapHTTPError(providerName, resp)
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "failed to parse backend response: " + err.Error(),
		}
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

// Close releases provider resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// endpoint returns the configured URL with the api_key parameter appended.
func (a *Adapter) endpoint() string {
	if a.cfg.APIKey == "" {
		return a.cfg.Endpoint
	}
	sep := "?"
	if strings.Contains(a.cfg.Endpoint, "?") {
		sep = "&"
	}
	return a.cfg.Endpoint + sep + "api_key=" + url.QueryEscape(a.cfg.APIKey)
}

// imageRequest and imageResponse mirror the OpenAI images wire shape the
// gateway implements.
type imageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []imageDatum `json:"data"`
}

type imageDatum struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

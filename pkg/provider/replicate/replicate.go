package replicate

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

const providerName = "replicate"

// videoFPS is the frame rate assumed when translating a duration parameter
// into a frame count for text-to-video models.
const videoFPS = 8

// Adapter implements provider.Adapter against the Replicate predictions API.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// New creates a new Adapter with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("replicate: APIToken is required")
	}
	if cfg.ImageVersion == "" && cfg.VideoVersion == "" {
		return nil, fmt.Errorf("replicate: at least one model version is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
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

// Capabilities returns the capabilities with a configured model version.
func (a *Adapter) Capabilities() []api.Capability {
	caps := make([]api.Capability, 0, 2)
	if a.cfg.ImageVersion != "" {
		caps = append(caps, api.CapabilityImage)
	}
	if a.cfg.VideoVersion != "" {
		caps = append(caps, api.CapabilityVideo)
	}
	return caps
}

// Invoke creates a prediction for the request and waits for its output.
func (a *Adapter) Invoke(ctx context.Context, req *api.Request) (*api.Artifact, error) {
	switch req.Capability {
	case api.CapabilityImage:
		if a.cfg.ImageVersion == "" {
			return nil, a.unsupported(req.Capability)
		}
		return a.predict(ctx, a.cfg.ImageVersion, imageInput(req), api.CapabilityImage, "image/png")
	case api.CapabilityVideo:
		if a.cfg.VideoVersion == "" {
			return nil, a.unsupported(req.Capability)
		}
		return a.predict(ctx, a.cfg.VideoVersion, videoInput(req), api.CapabilityVideo, "video/mp4")
	default:
		return nil, a.unsupported(req.Capability)
	}
}

// Close releases provider resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) unsupported(capability api.Capability) *provider.Error {
	return &provider.Error{
		Provider: providerName,
		Kind:     provider.ErrKindBadRequest,
		Message:  fmt.Sprintf("capability %q not supported", capability),
	}
}

// predict creates a prediction and polls it to a terminal status.
func (a *Adapter) predict(ctx context.Context, version string, input map[string]any, capability api.Capability, mimeType string) (*api.Artifact, error) {
	pred, err := a.createPrediction(ctx, version, input)
	if err != nil {
		return nil, err
	}

	for !pred.terminal() {
		if err := sleepCtx(ctx, a.cfg.PollInterval); err != nil {
			return nil, err
		}
		pred, err = a.getPrediction(ctx, pred.pollURL(a.cfg.BaseURL))
		if err != nil {
			return nil, err
		}
	}

	if pred.Status != statusSucceeded {
		message := pred.Error
		if message == "" {
			message = fmt.Sprintf("prediction ended with status %q", pred.Status)
		}
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindServer,
			Message:  message,
		}
	}

	urls, err := pred.outputURLs()
	if err != nil || len(urls) == 0 {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "prediction succeeded without usable output",
		}
	}

	media := make([]api.Media, 0, len(urls))
	for _, u := range urls {
		media = append(media, api.Media{URL: u, MimeType: mimeType})
	}
	return &api.Artifact{
		Capability: capability,
		Provider:   providerName,
		Media:      media,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (a *Adapter) createPrediction(ctx context.Context, version string, input map[string]any) (*prediction, error) {
	payload, err := json.Marshal(predictionRequest{Version: version, Input: input})
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to marshal request: " + err.Error(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/predictions", bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to build request: " + err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	// Hold the connection until the prediction finishes or the server's
	// wait budget runs out. Slow models fall through to polling.
	httpReq.Header.Set("Prefer", "wait")

	return a.doPrediction(httpReq)
}

func (a *Adapter) getPrediction(ctx context.Context, url string) (*prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindBadRequest,
			Message:  "failed to build request: " + err.Error(),
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	return a.doPrediction(httpReq)
}

func (a *Adapter) doPrediction(httpReq *http.Request) (*prediction, error) {
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.MapHTTPError(providerName, resp)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.ErrKindInvalidOutput,
			Message:  "failed to parse prediction: " + err.Error(),
		}
	}
	return &pred, nil
}

// imageInput builds SDXL-style model input from the request parameters.
func imageInput(req *api.Request) map[string]any {
	width, height := parseSize(req.Param(api.ParamSize), 1024, 1024)
	outputs := 1
	if v := req.Param(api.ParamCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			outputs = n
		}
	}
	return map[string]any{
		"prompt":          req.Prompt,
		"negative_prompt": "blurry, low quality, distorted, watermark, text",
		"width":           width,
		"height":          height,
		"num_outputs":     outputs,
	}
}

// Stable Video Diffusion conditioning defaults. Motion sits mid-range on
// the 1-255 scale; cond_aug matches the model's recommended value.
const (
	defaultMotionBucket = 127
	defaultCondAug      = 0.02
)

// videoInput builds video model input. With a source image it takes the
// image-to-video shape (image plus motion conditioning); otherwise it is
// text-to-video driven by the prompt. A duration parameter is approximated
// as frames at the assumed frame rate.
func videoInput(req *api.Request) map[string]any {
	input := map[string]any{
		"prompt": req.Prompt,
		"fps":    videoFPS,
	}
	if img := req.Param(api.ParamImageURL); img != "" {
		input["image"] = img
		input["cond_aug"] = defaultCondAug
		motion := defaultMotionBucket
		if v := req.Param(api.ParamMotion); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 255 {
				motion = n
			}
		}
		input["motion_bucket_id"] = motion
	}
	if v := req.Param(api.ParamDuration); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			input["num_frames"] = seconds * videoFPS
		}
	}
	if v := req.Param(api.ParamResolution); v != "" {
		if w, h := parseSize(v, 0, 0); w > 0 && h > 0 {
			input["width"] = w
			input["height"] = h
		}
	}
	return input
}

// parseSize splits "1024x768" into width and height, falling back to the
// given defaults when the value is absent or malformed.
func parseSize(size string, defWidth, defHeight int) (int, int) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return defWidth, defHeight
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return defWidth, defHeight
	}
	return w, h
}

// sleepCtx waits for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package replicate

import (
	"encoding/json"
	"fmt"
)

// Prediction lifecycle statuses. Polling stops at a terminal status.
const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

// predictionRequest is the body for POST /v1/predictions.
type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

// prediction mirrors the predictions API resource. Output shape varies by
// model (single URL or list of URLs), so it stays raw until decoded.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	URLs   predictionURLs  `json:"urls"`
}

type predictionURLs struct {
	Get string `json:"get"`
}

// terminal reports whether polling can stop.
func (p *prediction) terminal() bool {
	switch p.Status {
	case statusSucceeded, statusFailed, statusCanceled:
		return true
	}
	return false
}

// pollURL returns the URL to poll for this prediction.
func (p *prediction) pollURL(baseURL string) string {
	if p.URLs.Get != "" {
		return p.URLs.Get
	}
	return baseURL + "/v1/predictions/" + p.ID
}

// outputURLs decodes the model output as either a list of URLs or a single
// URL string.
func (p *prediction) outputURLs() ([]string, error) {
	if len(p.Output) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	return nil, fmt.Errorf("unrecognized prediction output shape")
}

package anthropic

import "time"

// Config holds configuration for the Anthropic adapter.
type Config struct {
	// BaseURL is the API root. Defaults to "https://api.anthropic.com".
	BaseURL string

	// APIKey authenticates every request. Required.
	APIKey string

	// Model is the model asked for diagram source. Defaults to
	// "claude-3-5-sonnet-latest".
	Model string

	// MaxTokens caps the completion length. Defaults to 2000.
	MaxTokens int

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration
}

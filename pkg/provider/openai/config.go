package openai

import "time"

// Config holds configuration for the OpenAI adapter.
type Config struct {
	// BaseURL is the API root. Defaults to "https://api.openai.com".
	BaseURL string

	// APIKey authenticates every request. Required.
	APIKey string

	// ImageModel is the image generation model. Defaults to "dall-e-3".
	ImageModel string

	// ChatModel is the model asked for diagram source. Defaults to
	// "gpt-4o-mini".
	ChatModel string

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration
}

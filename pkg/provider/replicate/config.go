package replicate

import "time"

// Config holds configuration for the Replicate adapter.
type Config struct {
	// BaseURL is the API root. Defaults to "https://api.replicate.com".
	BaseURL string

	// APIToken authenticates every request. Required.
	APIToken string

	// ImageVersion is the model version for image predictions (SDXL or
	// similar). Leave empty to disable the image capability.
	ImageVersion string

	// VideoVersion is the model version for video predictions. Leave empty
	// to disable the video capability.
	VideoVersion string

	// Timeout for individual HTTP requests. Defaults to 120s. The overall
	// create-and-poll cycle is bounded by the request context.
	Timeout time.Duration

	// PollInterval between prediction status checks. Defaults to 2s.
	PollInterval time.Duration
}

package cipher

import "time"

// Config holds configuration for the Cipher adapter.
type Config struct {
	// Endpoint is the full URL of the images endpoint. Required.
	Endpoint string

	// APIKey is sent as the api_key query parameter, which is how the
	// Cipher gateway authenticates callers.
	APIKey string

	// Size is the image size used when the request does not carry one.
	// Defaults to "1024x1024".
	Size string

	// Timeout for individual HTTP requests. Defaults to 60s.
	Timeout time.Duration
}

// Package provider defines the interface for generation backends. Each
// adapter implementation (e.g., openai, replicate) handles its own backend
// protocol internally and reports failures as *provider.Error, which
// carries the classification the retry and circuit breaker layers act on.
package provider

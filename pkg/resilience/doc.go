// Package resilience wraps provider calls with retry, per-attempt
// timeouts, and per-(capability, provider) circuit breakers.
//
// Breakers watch a rolling window of call outcomes and open when the
// failure rate over a full window reaches the configured threshold. An
// open breaker short-circuits calls until its wait elapses, then admits
// exactly one trial: success closes the breaker, failure reopens it for
// twice as long, up to a cap. A breaker never skips from open back to
// closed without a successful trial.
package resilience

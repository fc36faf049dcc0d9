// Package engine implements the core orchestration logic for Atelier.
// The Engine struct is the single composition point of the pipeline: each
// request captures one policy snapshot, passes the validation gates,
// consults the response cache, places a budget hold, and walks the routed
// provider candidates through the resilience executor until one produces
// an artifact. Every terminal outcome, including cache hits and rejections,
// is recorded to usage and emitted to the observability sink. Optional
// collaborators (cache, usage recorder, sink) use nil-safe composition for
// graceful degradation.
package engine

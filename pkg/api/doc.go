// Package api defines the core request and outcome types for the Atelier
// generation gateway.
//
// This package provides the data types shared by every layer of the system:
// capabilities, normalized generation requests, produced artifacts, the
// per-request orchestration outcome with its attempt records, cache
// fingerprints, error types, and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. Request normalization and fingerprinting are deterministic:
// two requests with the same capability, prompt, and parameters always produce
// the same fingerprint, regardless of surrounding whitespace or parameter
// ordering.
//
// Core types:
//   - [Request]: Normalized generation request (capability + prompt + parameters)
//   - [Artifact]: Provider-produced payload (media items and/or source code)
//   - [Outcome]: Terminal result of one orchestration, with per-candidate attempts
//   - [SimilarityKey]: Token-set key for near-duplicate cache matching
//   - [APIError]: Structured error with type, code, param, and message
package api

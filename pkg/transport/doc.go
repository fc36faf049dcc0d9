// Package transport defines the handler contract and middleware chain for
// the atelier HTTP transport layer.
//
// The transport layer bridges external clients and the orchestration engine.
// It deserializes incoming generation requests into api.Request, dispatches
// them through the Generator contract, and serializes the resulting
// api.Outcome back to the client as JSON.
//
// # Handler Contract
//
// Generator is the single operation the transport needs from the engine:
// one Generate call per inbound generation request. The HTTP adapter in the
// http subpackage builds an api.Request per endpoint and maps the outcome's
// error taxonomy onto HTTP status codes centrally (HTTPStatusFromError).
//
// # Middleware
//
// Middleware wraps http.Handler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID),
// and structured logging via log/slog. CORS, metrics, and auth middleware
// are layered on by the http subpackage's server assembly.
package transport

// Package auth provides pluggable authentication and authorization for the
// atelier gateway.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// orchestration engine. The middleware injects the caller identity into the
// request context; RequireScope layers admin-scope enforcement on top for
// the admin endpoints, and the rate limiter throttles per subject and tier.
package auth

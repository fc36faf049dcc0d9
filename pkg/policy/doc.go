// Package policy defines the versioned policy snapshot that governs
// orchestration: routing chains, resilience settings, cost ceilings, cache
// behavior, security/quality gate rules, and feature flags.
//
// A [Snapshot] is immutable once published. The [Store] holds the current
// snapshot behind an atomic pointer: readers call Current and keep the
// returned reference for the duration of their request, so a concurrent
// Reload never changes the behavior of a request already in flight. A reload
// with an invalid snapshot is rejected and the store keeps serving the
// previous one.
//
// Snapshots are loaded from YAML policy files layered over built-in defaults,
// mirroring the config package's loading discipline.
package policy

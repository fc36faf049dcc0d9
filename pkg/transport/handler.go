package transport

import (
	"context"

	"github.com/atelier-dev/atelier/pkg/api"
)

// Generator handles one generation request end to end. It is the single
// contract between the transport layer and the orchestration engine: the
// returned Outcome is terminal for every path, and the error return is
// reserved for misuse (nil request) rather than orchestration failures.
type Generator interface {
	Generate(ctx context.Context, req *api.Request) (*api.Outcome, error)
}

// GeneratorFunc is an adapter that allows using an ordinary function as a
// Generator.
type GeneratorFunc func(ctx context.Context, req *api.Request) (*api.Outcome, error)

// Generate calls f(ctx, req).
func (f GeneratorFunc) Generate(ctx context.Context, req *api.Request) (*api.Outcome, error) {
	return f(ctx, req)
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atelier-dev/atelier/pkg/api"
)

// Adapter abstracts a generation backend. Implementations must be safe for
// concurrent use by multiple goroutines.
type Adapter interface {
	// Name returns the provider identifier (e.g., "openai", "replicate").
	Name() string

	// Capabilities returns the generation capabilities this backend serves.
	Capabilities() []api.Capability

	// Invoke performs one generation call. A non-nil error should be a
	// *Error so the caller can classify it; Invoke never retries
	// internally.
	Invoke(ctx context.Context, req *api.Request) (*api.Artifact, error)

	// Close releases adapter resources (HTTP clients, connections).
	Close() error
}

// Registry holds the configured adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering two adapters with the same name is
// a wiring mistake and returns an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("provider: nil adapter")
	}
	name := a.Name()
	if name == "" {
		return errors.New("provider: adapter has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider: adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Supports reports whether the named adapter is registered and serves the
// capability.
func (r *Registry) Supports(name string, capability api.Capability) bool {
	a, ok := r.Get(name)
	if !ok {
		return false
	}
	for _, c := range a.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// Names returns the registered adapter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered adapter and returns the joined errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Package routing turns the policy's provider chains into the ordered
// candidate list the orchestrator walks.
//
// Feature-disabled providers are removed outright. Providers whose circuit
// breaker is open stay in the list but move to the end: they are a last
// resort, not forbidden, since an open breaker may admit a trial by the
// time the orchestrator reaches them.
package routing

import (
	"errors"
	"sort"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/resilience"
)

// ErrNoProviders is returned when a capability has no usable candidates:
// nothing configured, or every configured provider flagged off.
var ErrNoProviders = errors.New("no providers configured")

// Candidate is one provider to try, with the breaker state observed at
// routing time.
type Candidate struct {
	Provider     string
	BreakerState resilience.State
}

// Router orders provider candidates for a capability.
type Router struct {
	breakers *resilience.Registry
}

// New returns a Router consulting the given breaker registry.
func New(breakers *resilience.Registry) *Router {
	return &Router{breakers: breakers}
}

// Candidates returns the providers to try for a capability, in order: the
// policy chain, minus disabled providers, with open-breaker providers
// deprioritized to the tail. Among the deprioritized, the least recently
// opened breaker sorts first; the provider most likely to still be down is
// tried last of all.
func (r *Router) Candidates(snap *policy.Snapshot, capability api.Capability) ([]Candidate, error) {
	chain := snap.Routing.ChainFor(capability)

	var healthy, opened []Candidate
	for _, ref := range chain {
		if !snap.Features.ProviderEnabled(ref.Name) {
			continue
		}
		c := Candidate{Provider: ref.Name, BreakerState: r.breakers.State(capability, ref.Name)}
		if c.BreakerState == resilience.StateOpen {
			opened = append(opened, c)
		} else {
			healthy = append(healthy, c)
		}
	}

	sort.SliceStable(opened, func(i, j int) bool {
		oi := r.breakers.OpenedAt(capability, opened[i].Provider)
		oj := r.breakers.OpenedAt(capability, opened[j].Provider)
		return oi.Before(oj)
	})

	candidates := append(healthy, opened...)
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}
	return candidates, nil
}

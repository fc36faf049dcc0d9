package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/resilience"
)

func testSnapshot() *policy.Snapshot {
	snap := policy.Defaults()
	snap.Routing.Chains = map[api.Capability][]policy.ProviderRef{
		api.CapabilityImage: {
			{Name: "openai", Priority: 1},
			{Name: "replicate", Priority: 2},
			{Name: "cipher", Priority: 3},
		},
		api.CapabilityVideo: {
			{Name: "replicate", Priority: 1},
		},
	}
	return &snap
}

func providers(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Provider
	}
	return out
}

func equalOrder(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func singleFailureSettings() policy.BreakerSettings {
	return policy.BreakerSettings{
		WindowSize:           1,
		FailureRateThreshold: 1.0,
		OpenDuration:         time.Minute,
		MaxOpenDuration:      4 * time.Minute,
	}
}

// trip opens the (capability, provider) breaker.
func trip(t *testing.T, reg *resilience.Registry, capability api.Capability, name string) {
	t.Helper()
	reg.For(capability, name).RecordFailure(singleFailureSettings())
	if got := reg.State(capability, name); got != resilience.StateOpen {
		t.Fatalf("breaker %s/%s state = %q, want open", capability, name, got)
	}
}

func TestCandidatesFollowChainOrder(t *testing.T) {
	r := New(resilience.NewRegistry())

	candidates, err := r.Candidates(testSnapshot(), api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got := providers(candidates); !equalOrder(got, []string{"openai", "replicate", "cipher"}) {
		t.Errorf("order = %v, want chain order", got)
	}
	for _, c := range candidates {
		if c.BreakerState != resilience.StateClosed {
			t.Errorf("%s breaker state = %q, want closed", c.Provider, c.BreakerState)
		}
	}
}

func TestCandidatesPriorityOverridesDeclarationOrder(t *testing.T) {
	snap := testSnapshot()
	snap.Routing.Chains[api.CapabilityImage] = []policy.ProviderRef{
		{Name: "cipher", Priority: 30},
		{Name: "openai", Priority: 10},
		{Name: "replicate", Priority: 20},
	}

	r := New(resilience.NewRegistry())
	candidates, err := r.Candidates(snap, api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got := providers(candidates); !equalOrder(got, []string{"openai", "replicate", "cipher"}) {
		t.Errorf("order = %v, want priority order", got)
	}
}

func TestCandidatesRemoveDisabledProviders(t *testing.T) {
	snap := testSnapshot()
	snap.Features.Providers = map[string]bool{"replicate": false}

	r := New(resilience.NewRegistry())
	candidates, err := r.Candidates(snap, api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got := providers(candidates); !equalOrder(got, []string{"openai", "cipher"}) {
		t.Errorf("order = %v, want disabled provider removed", got)
	}
}

func TestCandidatesEmptyChain(t *testing.T) {
	r := New(resilience.NewRegistry())

	if _, err := r.Candidates(testSnapshot(), api.CapabilityDiagram); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders for unconfigured capability", err)
	}
}

func TestCandidatesAllDisabled(t *testing.T) {
	snap := testSnapshot()
	snap.Features.Providers = map[string]bool{"replicate": false}

	r := New(resilience.NewRegistry())
	if _, err := r.Candidates(snap, api.CapabilityVideo); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders when every provider is flagged off", err)
	}
}

func TestCandidatesDeprioritizeOpenBreakers(t *testing.T) {
	reg := resilience.NewRegistry()
	r := New(reg)
	trip(t, reg, api.CapabilityImage, "openai")

	candidates, err := r.Candidates(testSnapshot(), api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got := providers(candidates); !equalOrder(got, []string{"replicate", "cipher", "openai"}) {
		t.Errorf("order = %v, want open breaker moved to the end", got)
	}
	if candidates[2].BreakerState != resilience.StateOpen {
		t.Errorf("deprioritized candidate state = %q, want open", candidates[2].BreakerState)
	}
}

func TestCandidatesOrderOpenBreakersByOpenedAt(t *testing.T) {
	reg := resilience.NewRegistry()
	r := New(reg)

	// Trip all three in an order that differs from the chain; the sleeps
	// keep the opened_at stamps strictly increasing.
	trip(t, reg, api.CapabilityImage, "replicate")
	time.Sleep(2 * time.Millisecond)
	trip(t, reg, api.CapabilityImage, "cipher")
	time.Sleep(2 * time.Millisecond)
	trip(t, reg, api.CapabilityImage, "openai")

	candidates, err := r.Candidates(testSnapshot(), api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	// All open: the least recently opened (replicate) leads, the most
	// recently opened (openai) is the true last resort.
	if got := providers(candidates); !equalOrder(got, []string{"replicate", "cipher", "openai"}) {
		t.Errorf("order = %v, want open breakers sorted by opened_at ascending", got)
	}
}

func TestCandidatesKeepHalfOpenInPlace(t *testing.T) {
	reg := resilience.NewRegistry()
	r := New(reg)

	cfg := singleFailureSettings()
	cfg.OpenDuration = time.Millisecond
	br := reg.For(api.CapabilityImage, "openai")
	br.RecordFailure(cfg)
	time.Sleep(5 * time.Millisecond)
	if !br.Allow(cfg) {
		t.Fatal("trial not admitted after the open wait")
	}

	// half_open is not open: the provider keeps its chain position so the
	// pending trial happens at its normal priority.
	candidates, err := r.Candidates(testSnapshot(), api.CapabilityImage)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got := providers(candidates); !equalOrder(got, []string{"openai", "replicate", "cipher"}) {
		t.Errorf("order = %v, want half_open provider kept in place", got)
	}
	if candidates[0].BreakerState != resilience.StateHalfOpen {
		t.Errorf("first candidate state = %q, want half_open", candidates[0].BreakerState)
	}
}

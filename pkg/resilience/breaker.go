package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker guards one (capability, provider) pair. All transitions happen
// under its mutex; thresholds come from the caller's policy snapshot on
// every call, so a reload takes effect without discarding outcome history.
type Breaker struct {
	mu    sync.Mutex
	state State

	// window is a ring buffer of recent call outcomes, true = failure.
	window []bool
	head   int
	count  int

	openedAt         time.Time
	consecutiveOpens int
	trialInFlight    bool

	now func() time.Time
}

func newBreaker(now func() time.Time) *Breaker {
	return &Breaker{state: StateClosed, now: now}
}

// Allow reports whether a call may proceed. An open breaker whose wait has
// elapsed transitions to half_open here and grants the single trial slot;
// further callers are rejected until the trial's outcome is recorded.
func (b *Breaker) Allow(cfg policy.BreakerSettings) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openWait(cfg) {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess feeds a successful call outcome.
func (b *Breaker) RecordSuccess(cfg policy.BreakerSettings) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// Trial succeeded: back to normal service with a clean slate.
		b.state = StateClosed
		b.trialInFlight = false
		b.consecutiveOpens = 0
		b.resetWindow()
	case StateClosed:
		b.record(cfg, false)
	case StateOpen:
		// Straggler from a call admitted before the trip; the window was
		// reset at the transition, so there is nothing to update.
	}
}

// RecordFailure feeds a failed call outcome.
func (b *Breaker) RecordFailure(cfg policy.BreakerSettings) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.trip()
	case StateClosed:
		b.record(cfg, true)
	case StateOpen:
	}
}

// State returns the current state without evaluating time-based
// transitions; an open breaker past its wait still reports open until a
// call arrives.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenedAt returns when the breaker last tripped, or the zero time if it
// has never opened.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// record pushes an outcome into the rolling window and trips the breaker
// when a full window's failure rate reaches the threshold.
func (b *Breaker) record(cfg policy.BreakerSettings, failure bool) {
	size := cfg.WindowSize
	if size <= 0 {
		size = 1
	}
	if len(b.window) != size {
		// Window size changed by a policy reload; start over.
		b.window = make([]bool, size)
		b.head = 0
		b.count = 0
	}

	b.window[b.head] = failure
	b.head = (b.head + 1) % size
	if b.count < size {
		b.count++
	}

	if b.count < size {
		return
	}
	failures := 0
	for _, f := range b.window {
		if f {
			failures++
		}
	}
	if float64(failures)/float64(size) >= cfg.FailureRateThreshold {
		b.trip()
	}
}

// trip opens the breaker. Called with the mutex held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveOpens++
	b.resetWindow()
}

func (b *Breaker) resetWindow() {
	b.head = 0
	b.count = 0
}

// openWait is how long the breaker stays open: the base duration doubled
// per consecutive open without a successful trial, capped.
func (b *Breaker) openWait(cfg policy.BreakerSettings) time.Duration {
	wait := cfg.OpenDuration
	for i := 1; i < b.consecutiveOpens; i++ {
		wait *= 2
		if cfg.MaxOpenDuration > 0 && wait >= cfg.MaxOpenDuration {
			return cfg.MaxOpenDuration
		}
	}
	if cfg.MaxOpenDuration > 0 && wait > cfg.MaxOpenDuration {
		wait = cfg.MaxOpenDuration
	}
	return wait
}

// Registry hands out breakers per (capability, provider), creating them on
// first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	now func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		now:      time.Now,
	}
}

// For returns the breaker for a (capability, provider) pair, creating it
// in the closed state on first use.
func (r *Registry) For(capability api.Capability, providerName string) *Breaker {
	k := breakerKey(capability, providerName)

	r.mu.RLock()
	b, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[k]; ok {
		return b
	}
	b = newBreaker(r.now)
	r.breakers[k] = b
	return b
}

// State reports the breaker state for a pair without creating it; a pair
// that has never seen traffic is closed.
func (r *Registry) State(capability api.Capability, providerName string) State {
	r.mu.RLock()
	b, ok := r.breakers[breakerKey(capability, providerName)]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// OpenedAt reports when the pair's breaker last tripped; the zero time if
// the breaker does not exist or has never opened.
func (r *Registry) OpenedAt(capability api.Capability, providerName string) time.Time {
	r.mu.RLock()
	b, ok := r.breakers[breakerKey(capability, providerName)]
	r.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return b.OpenedAt()
}

// BreakerStatus is a point-in-time view of one breaker for introspection.
// OpenedAt is the zero time for a breaker that has never tripped.
type BreakerStatus struct {
	Capability api.Capability `json:"capability"`
	Provider   string         `json:"provider"`
	State      State          `json:"state"`
	OpenedAt   time.Time      `json:"opened_at"`
}

// Statuses lists every tracked breaker sorted by capability then provider.
func (r *Registry) Statuses() []BreakerStatus {
	r.mu.RLock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)

	statuses := make([]BreakerStatus, 0, len(keys))
	for _, k := range keys {
		r.mu.RLock()
		b := r.breakers[k]
		r.mu.RUnlock()
		if b == nil {
			continue
		}
		capability, providerName := splitBreakerKey(k)
		statuses = append(statuses, BreakerStatus{
			Capability: api.Capability(capability),
			Provider:   providerName,
			State:      b.State(),
			OpenedAt:   b.OpenedAt(),
		})
	}
	return statuses
}

func breakerKey(capability api.Capability, providerName string) string {
	return string(capability) + "/" + providerName
}

func splitBreakerKey(k string) (capability, providerName string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

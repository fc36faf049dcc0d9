// Package budget tracks spend against configured cost ceilings.
//
// A Ledger holds running totals per budget scope. Admission is a
// check-then-reserve: the estimated cost of a request is held against the
// scope before any provider work starts, then reconciled once the real cost
// is known. Holds from requests that never produce billable work are
// released in full. Windows roll over lazily when an operation observes
// that the current window has elapsed.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/pkg/policy"
)

// ErrBudgetExceeded is returned when admitting a request would push a
// scope past its ceiling.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrPerRequestLimit is returned when a single request's estimate exceeds
// the per-request ceiling, regardless of remaining scope budget.
var ErrPerRequestLimit = errors.New("per-request cost limit exceeded")

// Ledger tracks reserved and committed spend per scope.
type Ledger struct {
	mu     sync.Mutex
	scopes map[string]*scopeState

	now func() time.Time
}

// scopeState is the running total for one scope within its current window.
// Ceiling and window length are refreshed from the admitting request's
// policy on every operation, so a policy reload takes effect without
// discarding accumulated spend.
type scopeState struct {
	ceiling     float64
	window      time.Duration
	unit        string
	windowStart time.Time
	committed   float64
	reserved    float64
	epoch       uint64
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		scopes: make(map[string]*scopeState),
		now:    time.Now,
	}
}

// Admit places a hold of estimate against the named scope. It fails when
// the estimate exceeds the per-request limit, or when committed spend plus
// outstanding holds plus the estimate would exceed the scope ceiling.
//
// A scope absent from cfg carries no ceiling; the returned Admission is
// then a no-op on Commit and Release. The check and the reservation happen
// under one lock, so concurrent admissions can never jointly oversubscribe
// a scope.
func (l *Ledger) Admit(cfg policy.CostPolicy, scope string, estimate float64) (*Admission, error) {
	if estimate < 0 {
		return nil, fmt.Errorf("negative cost estimate %.4f", estimate)
	}
	if cfg.PerRequestLimit > 0 && estimate > cfg.PerRequestLimit {
		return nil, fmt.Errorf("%w: estimate %.4f exceeds limit %.4f", ErrPerRequestLimit, estimate, cfg.PerRequestLimit)
	}

	def := scopeDefinition(cfg, scope)
	if def == nil {
		return &Admission{scope: scope, estimate: estimate}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(scope, def)
	st.rollover(l.now())

	if st.committed+st.reserved+estimate > st.ceiling {
		remaining := st.ceiling - st.committed - st.reserved
		if remaining < 0 {
			remaining = 0
		}
		return nil, fmt.Errorf("%w: scope %q estimate %.4f remaining %.4f", ErrBudgetExceeded, scope, estimate, remaining)
	}

	st.reserved += estimate
	return &Admission{
		ledger:      l,
		scope:       scope,
		estimate:    estimate,
		epoch:       st.epoch,
		constrained: true,
	}, nil
}

// Status reports the current window totals for every scope in cfg. Scopes
// that have never admitted a request report a full window starting now.
func (l *Ledger) Status(cfg policy.CostPolicy) []ScopeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	statuses := make([]ScopeStatus, 0, len(cfg.Scopes))
	for i := range cfg.Scopes {
		def := &cfg.Scopes[i]
		st := l.state(def.Scope, def)
		st.rollover(now)
		remaining := st.ceiling - st.committed - st.reserved
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, ScopeStatus{
			Scope:        def.Scope,
			Unit:         st.unit,
			Ceiling:      st.ceiling,
			Committed:    st.committed,
			Reserved:     st.reserved,
			Remaining:    remaining,
			WindowStart:  st.windowStart,
			WindowEndsAt: st.windowStart.Add(st.window),
		})
	}
	return statuses
}

// state returns the tracked totals for scope, creating them on first use
// and refreshing ceiling, window and unit from the caller's policy.
func (l *Ledger) state(scope string, def *policy.BudgetScope) *scopeState {
	st, ok := l.scopes[scope]
	if !ok {
		st = &scopeState{windowStart: l.now()}
		l.scopes[scope] = st
	}
	st.ceiling = def.Limit
	st.window = def.Window
	st.unit = def.Unit
	return st
}

// rollover resets the window when now has moved past its end. Outstanding
// holds belong to the closed window, so the epoch advances and stale
// reservations are forgotten; their eventual Commit or Release applies to
// committed spend only.
func (st *scopeState) rollover(now time.Time) {
	if st.window <= 0 {
		return
	}
	if now.Before(st.windowStart.Add(st.window)) {
		return
	}
	st.windowStart = now
	st.committed = 0
	st.reserved = 0
	st.epoch++
}

func scopeDefinition(cfg policy.CostPolicy, scope string) *policy.BudgetScope {
	for i := range cfg.Scopes {
		if cfg.Scopes[i].Scope == scope {
			return &cfg.Scopes[i]
		}
	}
	return nil
}

// ScopeStatus is a point-in-time view of one scope's window.
type ScopeStatus struct {
	Scope        string    `json:"scope"`
	Unit         string    `json:"unit"`
	Ceiling      float64   `json:"ceiling"`
	Committed    float64   `json:"committed"`
	Reserved     float64   `json:"reserved"`
	Remaining    float64   `json:"remaining"`
	WindowStart  time.Time `json:"window_start"`
	WindowEndsAt time.Time `json:"window_ends_at"`
}

// Admission is an outstanding hold against one scope. Exactly one of
// Commit or Release must be called; later calls are no-ops.
type Admission struct {
	ledger      *Ledger
	scope       string
	estimate    float64
	epoch       uint64
	constrained bool
	settled     bool
}

// Estimate returns the amount held at admission.
func (a *Admission) Estimate() float64 {
	if a == nil {
		return 0
	}
	return a.estimate
}

// Commit replaces the hold with the actual cost. The actual cost is always
// recorded, even when it lands the scope past its ceiling; the return value
// reports that condition so callers can surface it.
func (a *Admission) Commit(actual float64) (overCeiling bool) {
	if a == nil || a.settled {
		return false
	}
	a.settled = true
	if !a.constrained {
		return false
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.scopes[a.scope]
	if !ok {
		return false
	}
	st.rollover(l.now())
	if st.epoch == a.epoch {
		st.reserved -= a.estimate
		if st.reserved < 0 {
			st.reserved = 0
		}
	}
	st.committed += actual
	return st.committed > st.ceiling
}

// Release drops the hold without recording any spend.
func (a *Admission) Release() {
	if a == nil || a.settled {
		return
	}
	a.settled = true
	if !a.constrained {
		return
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.scopes[a.scope]
	if !ok {
		return
	}
	st.rollover(l.now())
	if st.epoch == a.epoch {
		st.reserved -= a.estimate
		if st.reserved < 0 {
			st.reserved = 0
		}
	}
}

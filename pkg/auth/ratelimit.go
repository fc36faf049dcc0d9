package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter meters generation traffic before it reaches the engine.
// Implementations decide per identity; returning ErrTooManyRequests turns
// into a 429 in the middleware.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig is the per-minute budget of one service tier. Tiers come from
// the gateway's rate_limit config block: an API key or JWT claim maps the
// caller to a tier, and the tier maps here.
type TierConfig struct {
	RequestsPerMinute int
}

// quotaWindow is one identity's consumption inside the current minute.
type quotaWindow struct {
	used    int
	startAt time.Time
}

// Window length and the idle age at which a quota window is dropped.
const (
	quotaWindowLength = time.Minute
	quotaIdleAge      = 3 * time.Minute
)

// InProcessLimiter enforces fixed one-minute quota windows per subject and
// tier, entirely in process memory. Counts reset when a window rolls over,
// so a caller can momentarily see up to twice its budget across a window
// boundary; that is accepted for a single-instance gateway.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	// now is replaceable so tests can steer window rollover.
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*quotaWindow
	sweepAt time.Time
}

var _ RateLimiter = (*InProcessLimiter)(nil)

// NewInProcessLimiter builds a limiter from the configured tier budgets.
// Identities whose tier has no entry fall back to defaultRPM; a budget of
// zero or less means the tier is unmetered.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		windows:    make(map[string]*quotaWindow),
	}
}

// Allow consumes one unit of the identity's quota. Unmetered tiers always
// pass. The only error the limiter returns is ErrTooManyRequests.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	rpm := l.budgetFor(identity.ServiceTier)
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tierOrDefault(identity.ServiceTier)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.startAt) >= quotaWindowLength {
		l.windows[key] = &quotaWindow{used: 1, startAt: now}
		return nil
	}

	w.used++
	if w.used > rpm {
		return ErrTooManyRequests
	}
	return nil
}

// budgetFor resolves the tier's requests-per-minute budget.
func (l *InProcessLimiter) budgetFor(tier string) int {
	if tc, ok := l.tiers[tierOrDefault(tier)]; ok {
		return tc.RequestsPerMinute
	}
	return l.defaultRPM
}

func tierOrDefault(tier string) string {
	if tier == "" {
		return "default"
	}
	return tier
}

// sweepLocked drops windows idle past quotaIdleAge so one-off subjects do
// not accumulate forever. At most one sweep per window length.
func (l *InProcessLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.sweepAt) < quotaWindowLength {
		return
	}
	l.sweepAt = now
	for key, w := range l.windows {
		if now.Sub(w.startAt) >= quotaIdleAge {
			delete(l.windows, key)
		}
	}
}

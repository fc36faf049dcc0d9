package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/engine"
	"github.com/atelier-dev/atelier/pkg/resilience"
)

// Sink receives every terminal outcome from the engine and turns it into
// one structured log line plus metric updates. All work is in-memory; Emit
// never blocks on I/O.
type Sink struct {
	logger   *slog.Logger
	breakers *resilience.Registry

	mu        sync.Mutex
	lastState map[string]resilience.State
}

var _ engine.OutcomeSink = (*Sink)(nil)

// NewSink returns a Sink logging through logger and reading circuit state
// from breakers. A nil logger means slog.Default(); a nil registry skips
// the breaker metrics.
func NewSink(logger *slog.Logger, breakers *resilience.Registry) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		logger:    logger,
		breakers:  breakers,
		lastState: make(map[string]resilience.State),
	}
}

// Emit records one outcome.
func (s *Sink) Emit(ctx context.Context, req *api.Request, out *api.Outcome) {
	if out == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("request_id", out.RequestID),
		slog.String("capability", string(out.Capability)),
		slog.String("status", string(out.Status)),
		slog.String("provider", out.Provider),
		slog.Int("attempts", len(out.Attempts)),
		slog.Float64("cost_usd", out.ActualCost),
		slog.Int64("duration_ms", out.DurationMS),
		slog.Int64("policy_version", out.PolicyVersion),
	}
	if out.Err != nil {
		attrs = append(attrs, slog.String("error", out.Err.Message))
	}
	if out.Succeeded() {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "generation completed", attrs...)
	} else {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "generation failed", attrs...)
	}

	capability := string(out.Capability)
	RequestsTotal.WithLabelValues(capability, string(out.Status)).Inc()
	RequestDuration.WithLabelValues(capability).Observe(float64(out.DurationMS) / 1000)
	PolicySnapshotVersion.Set(float64(out.PolicyVersion))

	if out.Status == api.StatusSuccess {
		RequestCost.Observe(out.ActualCost)
	}
	if out.Status == api.StatusBudgetRejected && out.Err != nil {
		BudgetRejections.WithLabelValues(out.Err.Param).Inc()
	}

	for _, attempt := range out.Attempts {
		ProviderAttempts.WithLabelValues(attempt.Provider, string(attempt.Reason)).Inc()
		ProviderLatency.WithLabelValues(attempt.Provider).Observe(float64(attempt.DurationMS) / 1000)
		if attempt.Reason == api.ReasonBudgetRejected {
			BudgetRejections.WithLabelValues(attempt.Provider).Inc()
		}
	}

	s.observeBreakers()
}

// observeBreakers refreshes the breaker state gauge and counts transitions
// since the previous emit. Flaps between two emits collapse into the net
// transition; the gauge is always exact.
func (s *Sink) observeBreakers() {
	if s.breakers == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.breakers.Statuses() {
		capability := string(st.Capability)
		BreakerState.WithLabelValues(capability, st.Provider).Set(stateValue(st.State))

		key := capability + "/" + st.Provider
		if prev, seen := s.lastState[key]; !seen || prev != st.State {
			if seen {
				BreakerTransitions.WithLabelValues(capability, st.Provider, string(st.State)).Inc()
			}
			s.lastState[key] = st.State
		}
	}
}

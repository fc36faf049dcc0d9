package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
)

// fastSettings keeps retries and timeouts in the microsecond range so the
// tests run quickly.
func fastSettings() policy.ResilienceSettings {
	return policy.ResilienceSettings{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
		AttemptTimeout:    50 * time.Millisecond,
		RequestTimeout:    time.Second,
		Breaker: policy.BreakerSettings{
			WindowSize:           10,
			FailureRateThreshold: 0.5,
			OpenDuration:         30 * time.Second,
			MaxOpenDuration:      240 * time.Second,
		},
	}
}

func TestExecuteSuccessFirstTry(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	want := &api.Artifact{Provider: "openai", Capability: api.CapabilityImage}

	var calls int32
	artifact, attempt := ex.Execute(context.Background(), fastSettings(), api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return want, nil
		})

	if artifact != want {
		t.Fatalf("artifact = %v, want %v", artifact, want)
	}
	if attempt.Reason != api.ReasonSuccess {
		t.Errorf("Reason = %q, want success", attempt.Reason)
	}
	if attempt.Tries != 1 {
		t.Errorf("Tries = %d, want 1", attempt.Tries)
	}
	if calls != 1 {
		t.Errorf("work invoked %d times, want 1", calls)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	want := &api.Artifact{Provider: "openai"}

	var calls int32
	artifact, attempt := ex.Execute(context.Background(), fastSettings(), api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, &provider.Error{Provider: "openai", Kind: provider.ErrKindServer, StatusCode: 503}
			}
			return want, nil
		})

	if artifact != want {
		t.Fatalf("artifact = %v, want success on third try", artifact)
	}
	if attempt.Reason != api.ReasonSuccess || attempt.Tries != 3 {
		t.Errorf("attempt = %+v, want success after 3 tries", attempt)
	}
}

func TestExecuteStopsOnTerminalError(t *testing.T) {
	ex := NewExecutor(NewRegistry())

	var calls int32
	artifact, attempt := ex.Execute(context.Background(), fastSettings(), api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &provider.Error{Provider: "openai", Kind: provider.ErrKindBadRequest, StatusCode: 400, Message: "prompt rejected"}
		})

	if artifact != nil {
		t.Fatal("artifact returned for failed candidate")
	}
	if attempt.Reason != api.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", attempt.Reason)
	}
	if calls != 1 {
		t.Errorf("work invoked %d times for a terminal error, want 1", calls)
	}
	if attempt.Error == "" {
		t.Error("attempt.Error is empty, want the backend failure")
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	ex := NewExecutor(NewRegistry())

	var calls int32
	_, attempt := ex.Execute(context.Background(), fastSettings(), api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &provider.Error{Provider: "openai", Kind: provider.ErrKindRateLimited, StatusCode: 429}
		})

	if attempt.Reason != api.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", attempt.Reason)
	}
	if calls != 3 {
		t.Errorf("work invoked %d times, want 3", calls)
	}
	if attempt.Tries != 3 {
		t.Errorf("Tries = %d, want 3", attempt.Tries)
	}
}

func TestExecuteAttemptTimeoutsExhaust(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	settings := fastSettings()
	settings.AttemptTimeout = 5 * time.Millisecond

	// The backend hangs; every attempt should be cut off by the
	// per-attempt timeout and counted, ending in exhaustion.
	var calls int32
	_, attempt := ex.Execute(context.Background(), settings, api.CapabilityVideo, "replicate",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	if attempt.Reason != api.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", attempt.Reason)
	}
	if calls != 3 {
		t.Errorf("work invoked %d times, want 3", calls)
	}

	// All three timeouts were reported to the breaker.
	br := ex.Breakers().For(api.CapabilityVideo, "replicate")
	br.mu.Lock()
	count := br.count
	br.mu.Unlock()
	if count != 3 {
		t.Errorf("breaker window holds %d outcomes, want 3", count)
	}
}

func TestExecuteRequestDeadline(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	settings := fastSettings()
	settings.AttemptTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var calls int32
	_, attempt := ex.Execute(ctx, settings, api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	if attempt.Reason != api.ReasonDeadlineExceeded {
		t.Errorf("Reason = %q, want deadline_exceeded", attempt.Reason)
	}
	if calls != 1 {
		t.Errorf("work invoked %d times after the deadline passed, want 1", calls)
	}
}

func TestExecuteCircuitOpenShortCircuits(t *testing.T) {
	reg := NewRegistry()
	ex := NewExecutor(reg)
	settings := fastSettings()
	settings.Breaker.WindowSize = 1
	settings.Breaker.FailureRateThreshold = 1.0

	reg.For(api.CapabilityImage, "openai").RecordFailure(settings.Breaker)
	if got := reg.State(api.CapabilityImage, "openai"); got != StateOpen {
		t.Fatalf("breaker state = %q, want open", got)
	}

	var calls int32
	artifact, attempt := ex.Execute(context.Background(), settings, api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return &api.Artifact{}, nil
		})

	if artifact != nil {
		t.Fatal("artifact returned through an open breaker")
	}
	if attempt.Reason != api.ReasonCircuitOpen {
		t.Errorf("Reason = %q, want circuit_open", attempt.Reason)
	}
	if calls != 0 {
		t.Errorf("work invoked %d times through an open breaker, want 0", calls)
	}
	if attempt.Tries != 0 {
		t.Errorf("Tries = %d, want 0", attempt.Tries)
	}
}

func TestExecuteHalfOpenSingleTrial(t *testing.T) {
	reg := NewRegistry()
	ex := NewExecutor(reg)
	settings := fastSettings()
	settings.Breaker.WindowSize = 1
	settings.Breaker.FailureRateThreshold = 1.0

	br := reg.For(api.CapabilityImage, "openai")
	clock := time.Now()
	br.now = func() time.Time { return clock }
	br.RecordFailure(settings.Breaker)

	// Past the open wait: the next Execute gets the single trial. Even
	// with retries in budget, a failing trial is not retried.
	clock = clock.Add(settings.Breaker.OpenDuration)

	var calls int32
	_, attempt := ex.Execute(context.Background(), settings, api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &provider.Error{Provider: "openai", Kind: provider.ErrKindServer, StatusCode: 502}
		})

	if calls != 1 {
		t.Errorf("trial invoked work %d times, want exactly 1", calls)
	}
	if attempt.Reason != api.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", attempt.Reason)
	}
	if got := br.State(); got != StateOpen {
		t.Errorf("breaker state = %q after failed trial, want open", got)
	}
}

func TestExecuteHalfOpenTrialSuccessCloses(t *testing.T) {
	reg := NewRegistry()
	ex := NewExecutor(reg)
	settings := fastSettings()
	settings.Breaker.WindowSize = 1
	settings.Breaker.FailureRateThreshold = 1.0

	br := reg.For(api.CapabilityImage, "openai")
	clock := time.Now()
	br.now = func() time.Time { return clock }
	br.RecordFailure(settings.Breaker)
	clock = clock.Add(settings.Breaker.OpenDuration)

	artifact, attempt := ex.Execute(context.Background(), settings, api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			return &api.Artifact{Provider: "openai"}, nil
		})

	if artifact == nil || attempt.Reason != api.ReasonSuccess {
		t.Fatalf("trial result = %v / %q, want success", artifact, attempt.Reason)
	}
	if got := br.State(); got != StateClosed {
		t.Errorf("breaker state = %q after successful trial, want closed", got)
	}
}

func TestExecuteStopsRetryingWhenBreakerTrips(t *testing.T) {
	reg := NewRegistry()
	ex := NewExecutor(reg)
	settings := fastSettings()
	settings.MaxAttempts = 5
	settings.Breaker.WindowSize = 1
	settings.Breaker.FailureRateThreshold = 1.0

	// The first failure fills the single-slot window and trips the
	// breaker; the remaining retry budget must not be spent.
	var calls int32
	_, attempt := ex.Execute(context.Background(), settings, api.CapabilityImage, "openai",
		func(ctx context.Context) (*api.Artifact, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &provider.Error{Provider: "openai", Kind: provider.ErrKindServer, StatusCode: 500}
		})

	if calls != 1 {
		t.Errorf("work invoked %d times after the breaker tripped, want 1", calls)
	}
	if attempt.Reason != api.ReasonExhausted {
		t.Errorf("Reason = %q, want exhausted", attempt.Reason)
	}
	if got := reg.State(api.CapabilityImage, "openai"); got != StateOpen {
		t.Errorf("breaker state = %q, want open", got)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	settings := policy.ResilienceSettings{
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Millisecond,
	}

	// With ±10% jitter the delay stays within a known band.
	within := func(d, base time.Duration) bool {
		lo := time.Duration(float64(base) * 0.9)
		hi := time.Duration(float64(base) * 1.1)
		return d >= lo && d <= hi
	}

	if d := backoffDelay(settings, 1); !within(d, 100*time.Millisecond) {
		t.Errorf("delay after attempt 1 = %v, want ~100ms", d)
	}
	if d := backoffDelay(settings, 2); !within(d, 200*time.Millisecond) {
		t.Errorf("delay after attempt 2 = %v, want ~200ms", d)
	}
	// Attempt 3 would be 400ms uncapped.
	if d := backoffDelay(settings, 3); !within(d, 300*time.Millisecond) {
		t.Errorf("delay after attempt 3 = %v, want ~300ms (capped)", d)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("sleep on canceled ctx = %v, want context.Canceled", err)
	}
	if err := sleep(context.Background(), 0); err != nil {
		t.Errorf("sleep(0) = %v, want nil", err)
	}
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2.0,
	}
}

func TestExecutor_SucceedsAfterRetries(t *testing.T) {
	rec := &recordingSleep{}
	history := NewHistory(10)
	exec := NewExecutor(testPolicy(3), fixedClock{testNow}, history).WithSleep(rec.sleep)

	calls := 0
	result, err := exec.Execute(context.Background(), func(_ context.Context, attempt int) (map[string]any, error) {
		calls++
		if attempt < 3 {
			return nil, errors.New("connection refused")
		}
		return map[string]any{"attempt": attempt}, nil
	}, Hooks{})

	require.NoError(t, err)
	assert.Equal(t, 3, result["attempt"])
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
	assert.Equal(t, 2, history.Len())
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	rec := &recordingSleep{}
	exec := NewExecutor(testPolicy(3), fixedClock{testNow}, nil).WithSleep(rec.sleep)

	calls := 0
	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		calls++
		return nil, errors.New("503 service unavailable")
	}, Hooks{})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Len(t, ex.History, 3)
	assert.Equal(t, domain.CategoryNetwork, ex.Last.Category)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.delays, 2)
}

func TestExecutor_UnrecoverableStopsImmediately(t *testing.T) {
	rec := &recordingSleep{}
	exec := NewExecutor(testPolicy(5), fixedClock{testNow}, nil).WithSleep(rec.sleep)

	calls := 0
	var retryingSeen []bool
	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		calls++
		return nil, errors.New("401 unauthorized")
	}, Hooks{
		AfterFailure: func(_ context.Context, _ int, _ *domain.AgentError, retrying bool) error {
			retryingSeen = append(retryingSeen, retrying)
			return nil
		},
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
	assert.Equal(t, []bool{false}, retryingSeen)
}

func TestExecutor_HooksOrder(t *testing.T) {
	exec := NewExecutor(testPolicy(2), fixedClock{testNow}, nil).WithSleep((&recordingSleep{}).sleep)

	var events []string
	_, err := exec.Execute(context.Background(), func(_ context.Context, attempt int) (map[string]any, error) {
		events = append(events, "op")
		if attempt == 1 {
			return nil, errors.New("timeout")
		}
		return nil, nil
	}, Hooks{
		BeforeAttempt: func(context.Context, int) error {
			events = append(events, "before")
			return nil
		},
		AfterFailure: func(_ context.Context, _ int, _ *domain.AgentError, retrying bool) error {
			if retrying {
				events = append(events, "fail-retry")
			} else {
				events = append(events, "fail-final")
			}
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"before", "op", "fail-retry", "before", "op"}, events)
}

func TestExecutor_BeforeAttemptErrorAborts(t *testing.T) {
	exec := NewExecutor(testPolicy(3), fixedClock{testNow}, nil)
	stop := errors.New("stop")
	calls := 0

	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		calls++
		return nil, nil
	}, Hooks{BeforeAttempt: func(context.Context, int) error { return stop }})

	assert.ErrorIs(t, err, stop)
	assert.Zero(t, calls)
}

func TestExecutor_HistoryKeepsEachAttempt(t *testing.T) {
	history := NewHistory(10)
	exec := NewExecutor(testPolicy(3), fixedClock{testNow}, history).WithSleep((&recordingSleep{}).sleep)
	shared := domain.NewAgentError(errors.New("503"), domain.CategoryNetwork, domain.SeverityMedium, testNow)

	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		return nil, shared
	}, Hooks{})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.History, 3)
	for i, aerr := range exhausted.History {
		assert.Equal(t, fmt.Sprint(i+1), aerr.Context["attempt"])
		assert.NotSame(t, shared, aerr)
	}
	entries := history.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].Context["attempt"])
	assert.Nil(t, shared.Context, "the caller's error is left untouched")
}

func TestExecutor_AbortEndsLoopUnrecorded(t *testing.T) {
	history := NewHistory(10)
	exec := NewExecutor(testPolicy(3), fixedClock{testNow}, history).WithSleep((&recordingSleep{}).sleep)
	stop := errors.New("not configured")
	calls, failures := 0, 0

	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		calls++
		return nil, Abort(stop)
	}, Hooks{AfterFailure: func(context.Context, int, *domain.AgentError, bool) error {
		failures++
		return nil
	}})

	assert.Same(t, stop, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, failures)
	assert.Zero(t, history.Len())
	assert.NoError(t, Abort(nil))
}

func TestExecutor_AttemptTimeoutClassifiesAsTimeout(t *testing.T) {
	policy := testPolicy(1)
	policy.AttemptTimeout = 10 * time.Millisecond
	exec := NewExecutor(policy, fixedClock{testNow}, nil)

	_, err := exec.Execute(context.Background(), func(ctx context.Context, _ int) (map[string]any, error) {
		<-ctx.Done()
		return nil, errors.New("performer interrupted")
	}, Hooks{})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, domain.CategoryTimeout, ex.Last.Category)
}

func TestExecutor_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(testPolicy(5), fixedClock{testNow}, nil)

	calls := 0
	_, err := exec.Execute(ctx, func(context.Context, int) (map[string]any, error) {
		calls++
		cancel()
		return nil, errors.New("connection reset")
	}, Hooks{})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_MaxTotalTime(t *testing.T) {
	policy := testPolicy(5)
	policy.MaxTotalTime = 150 * time.Millisecond
	rec := &recordingSleep{}
	exec := NewExecutor(policy, fixedClock{testNow}, nil).WithSleep(rec.sleep)

	calls := 0
	_, err := exec.Execute(context.Background(), func(context.Context, int) (map[string]any, error) {
		calls++
		return nil, errors.New("connection reset")
	}, Hooks{})

	require.Error(t, err)
	// First delay (100ms) fits the budget, the second (200ms) does not.
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 1)
}

func TestShouldRetry(t *testing.T) {
	medium := domain.NewAgentError(errors.New("x"), domain.CategoryNetwork, domain.SeverityMedium, testNow)
	high := domain.NewAgentError(errors.New("x"), domain.CategoryAuthentication, domain.SeverityHigh, testNow)
	critical := domain.NewAgentError(errors.New("x"), domain.CategoryFilesystem, domain.SeverityCritical, testNow)
	flagged := domain.NewAgentError(errors.New("x"), domain.CategoryNetwork, domain.SeverityLow, testNow)
	flagged.Recoverable = false

	assert.True(t, ShouldRetry(medium, 1, 3))
	assert.False(t, ShouldRetry(medium, 3, 3))
	assert.False(t, ShouldRetry(high, 1, 3))
	assert.False(t, ShouldRetry(critical, 1, 3))
	assert.False(t, ShouldRetry(flagged, 1, 3))
}

func TestDelayFor(t *testing.T) {
	assert.Equal(t, time.Second, DelayFor(0, time.Second, 30*time.Second, 2, false, nil))
	assert.Equal(t, 8*time.Second, DelayFor(3, time.Second, 30*time.Second, 2, false, nil))
	assert.Equal(t, 30*time.Second, DelayFor(10, time.Second, 30*time.Second, 2, false, nil))
	assert.Equal(t, 30*time.Second, DelayFor(5000, time.Second, 30*time.Second, 2, false, nil))

	half := func() float64 { return 0 }
	assert.Equal(t, 4*time.Second, DelayFor(3, time.Second, 30*time.Second, 2, true, half))
}

func TestPresetFor(t *testing.T) {
	assert.Equal(t, 5, PresetFor(domain.CategoryNetwork).MaxAttempts)
	assert.False(t, PresetFor(domain.CategorySourceControl).Jitter)
	assert.InDelta(t, 1.5, PresetFor(domain.CategoryFilesystem).ExponentialBase, 0)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := domain.NewDefaultConfig().Retry
	p := PolicyFromConfig(cfg)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.True(t, p.Jitter)
}

func TestHistory_RingBuffer(t *testing.T) {
	h := NewHistory(3)
	for i, cat := range []domain.ErrorCategory{
		domain.CategoryNetwork, domain.CategoryTimeout, domain.CategoryNetwork, domain.CategoryValidation,
	} {
		aerr := domain.NewAgentError(errors.New("e"), cat, domain.SeverityMedium, testNow.Add(time.Duration(i)))
		h.Add(aerr)
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, domain.CategoryTimeout, entries[0].Category)
	assert.Equal(t, domain.CategoryValidation, entries[2].Category)

	s := h.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.ByCategory[domain.CategoryNetwork])
	assert.Equal(t, 3, s.BySeverity[domain.SeverityMedium])
	assert.Equal(t, 3, s.Recoverable)
}

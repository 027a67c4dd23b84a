package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// Operation is one attempt of a retried call.
type Operation func(ctx context.Context, attempt int) (map[string]any, error)

// Hooks observe the retry loop. attempt is 1-based.
type Hooks struct {
	// BeforeAttempt runs before every attempt. Returning an error aborts
	// the loop without calling the operation.
	BeforeAttempt func(ctx context.Context, attempt int) error
	// AfterFailure runs after every failed attempt with the classified error
	// and whether another attempt will follow.
	AfterFailure func(ctx context.Context, attempt int, aerr *domain.AgentError, retrying bool) error
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Last     *domain.AgentError
	History  []*domain.AgentError // one entry per failed attempt, oldest first
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// abortError carries an error that ends the retry loop as is.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }

func (e *abortError) Unwrap() error { return e.err }

// Abort marks err as final: Execute returns it unchanged without
// classifying it, recording it or calling AfterFailure.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Executor runs operations under a Policy.
// Fields are ordered to minimize memory padding.
type Executor struct {
	classifier *Classifier
	history    *History
	clock      domain.Clock
	sleep      func(ctx context.Context, d time.Duration) error
	rnd        func() float64
	policy     Policy
}

// NewExecutor creates an Executor. history may be nil.
func NewExecutor(policy Policy, clock domain.Clock, history *History) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Executor{
		policy:     policy,
		classifier: NewClassifier(clock),
		history:    history,
		clock:      clock,
		sleep:      sleepContext,
	}
}

// WithSleep replaces the sleep function. Used by tests.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = sleep
	return e
}

// WithRand replaces the jitter source. Used by tests.
func (e *Executor) WithRand(rnd func() float64) *Executor {
	e.rnd = rnd
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute calls op until it succeeds, the policy gives up, or ctx is done.
// op runs at most MaxAttempts times and the executor sleeps at most
// MaxAttempts-1 times. Every failure is classified and recorded in the history.
func (e *Executor) Execute(ctx context.Context, op Operation, hooks Hooks) (map[string]any, error) {
	start := e.clock.Now()
	var failures []*domain.AgentError

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if hooks.BeforeAttempt != nil {
			if err := hooks.BeforeAttempt(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := e.attempt(ctx, op, attempt)
		if err == nil {
			return result, nil
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return nil, abort.err
		}

		aerr := e.classifier.Wrap(err)
		aerr.WithContext("attempt", fmt.Sprint(attempt))
		failures = append(failures, aerr)
		if e.history != nil {
			e.history.Add(aerr)
		}

		retrying := ShouldRetry(aerr, attempt, e.policy.MaxAttempts) && ctx.Err() == nil
		var delay time.Duration
		if retrying {
			delay = e.policy.Delay(attempt-1, e.rnd)
			if e.policy.MaxTotalTime > 0 && e.clock.Now().Sub(start)+delay > e.policy.MaxTotalTime {
				retrying = false
			}
		}

		if hooks.AfterFailure != nil {
			if herr := hooks.AfterFailure(ctx, attempt, aerr, retrying); herr != nil {
				return nil, herr
			}
		}

		if !retrying {
			return nil, &ExhaustedError{Attempts: attempt, Last: aerr, History: failures}
		}

		if err := e.sleep(ctx, delay); err != nil {
			return nil, &ExhaustedError{Attempts: attempt, Last: aerr, History: failures}
		}
	}

	// Unreachable: the last iteration always returns.
	return nil, errors.New("retry loop exited without result")
}

func (e *Executor) attempt(ctx context.Context, op Operation, attempt int) (map[string]any, error) {
	if e.policy.AttemptTimeout <= 0 {
		return op(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()
	result, err := op(actx, attempt)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt %d exceeded %s: %w", attempt, e.policy.AttemptTimeout, errors.Join(context.DeadlineExceeded, err))
	}
	return result, err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

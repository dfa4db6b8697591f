package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Name identifies a pipeline stage.
type Name string

const (
	List          Name = "list"
	Scrape        Name = "scrape"
	Load          Name = "load"
	PersistSource Name = "persist_source"
	Convert       Name = "convert"
	PersistTarget Name = "persist_target"
	Upload        Name = "upload"
	Advance       Name = "advance"
)

// Attempt results reported to the observer.
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultFailure = "failure"
)

// ErrTransient marks failures worth retrying: unreachable collaborators,
// remote timeouts, dropped connections.
var ErrTransient = errors.New("stage: transient failure")

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient marks err as retryable. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Error is the failure result of a stage. It carries the stage identity so
// callers can report where a run stopped.
type Error struct {
	Stage     Name
	Attempts  int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor runs stage functions under a Policy.
type Executor struct {
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
	observe func(stage Name, result string)
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(observe func(stage Name, result string)) Option {
	return func(e *Executor) { e.observe = observe }
}

func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger:  logger,
		sleep:   sleepContext,
		observe: func(Name, string) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes fn under policy. See Do.
func (e *Executor) Run(ctx context.Context, name Name, policy Policy, fn func(context.Context) error) error {
	_, err := Do(ctx, e, name, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do executes fn with a per-attempt timeout, retrying transient failures
// with exponential backoff up to the policy's attempt limit. Any failure is
// returned as *Error. Cancellation of ctx stops retrying immediately.
func Do[T any](ctx context.Context, e *Executor, name Name, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.attempts()

	for attempt := 1; ; attempt++ {
		value, err := runAttempt(ctx, policy.Timeout, fn)
		if err == nil {
			e.observe(name, ResultSuccess)
			return value, nil
		}

		transient := IsTransient(err)
		if ctx.Err() != nil {
			e.observe(name, ResultFailure)
			return zero, &Error{Stage: name, Attempts: attempt, Transient: false, Err: err}
		}
		if !transient || attempt >= maxAttempts {
			e.observe(name, ResultFailure)
			e.logger.Error("stage failed",
				"stage", name,
				"attempts", attempt,
				"transient", transient,
				"error", err)
			return zero, &Error{Stage: name, Attempts: attempt, Transient: transient, Err: err}
		}

		delay := policy.Retry.Backoff(attempt)
		e.observe(name, ResultRetry)
		e.logger.Warn("stage attempt failed, retrying",
			"stage", name,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", delay,
			"error", err)

		if err := e.sleep(ctx, delay); err != nil {
			return zero, &Error{Stage: name, Attempts: attempt, Err: err}
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (value T, err error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()

	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package runs tracks asynchronous batch and pipeline runs so callers can
// poll their status by ID.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/relay/internal/metrics"
)

// State is the externally visible state of a run.
type State string

const (
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateNotFound  State = "NOT_FOUND"
)

var (
	ErrNotFound  = errors.New("runs: run not found")
	ErrDuplicate = errors.New("runs: run id already in use")
	ErrClosed    = errors.New("runs: registry closed")
)

// Status is a snapshot of one run.
type Status struct {
	ID         string     `json:"run_id"`
	State      State      `json:"state"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Func is the body of a run. A non-nil error marks the run FAILED; the
// result is kept either way.
type Func func(ctx context.Context) (any, error)

// Clock abstracts time for retention tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config controls how long finished runs stay queryable.
type Config struct {
	Retention     time.Duration `toml:"retention"`
	PruneInterval time.Duration `toml:"prune_interval"`
}

func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		PruneInterval: 10 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %v", c.Retention)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("prune_interval must be positive, got %v", c.PruneInterval)
	}
	return nil
}

// Registry starts runs in the background and records their outcome.
// Runs execute under the registry's context, not the caller's, so they
// survive the request that started them.
type Registry struct {
	config Config
	clock  Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*Status
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(clock Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func NewRegistry(ctx context.Context, config Config, logger *slog.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		config: config,
		clock:  realClock{},
		logger: logger.With("component", "runs"),
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*Status),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches fn under id and returns immediately.
func (r *Registry) Start(id string, fn Func) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.runs[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.runs[id] = &Status{ID: id, State: StateRunning, StartedAt: r.clock.Now()}
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.RunStarted()
	r.logger.Info("run started", "runID", id)

	go r.execute(id, fn)
	return nil
}

func (r *Registry) execute(id string, fn Func) {
	defer r.wg.Done()
	defer metrics.RunFinished()

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("run panic recovered", "runID", id, "panic", p)
				err = fmt.Errorf("run panicked: %v", p)
			}
		}()
		result, err = fn(r.ctx)
	}()

	r.finish(id, result, err)
}

func (r *Registry) finish(id string, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runs[id]
	if !ok {
		return
	}
	now := r.clock.Now()
	st.FinishedAt = &now
	st.Result = result
	if err != nil {
		st.State = StateFailed
		st.Error = err.Error()
		r.logger.Warn("run failed", "runID", id, "error", err)
		return
	}
	st.State = StateCompleted
	r.logger.Info("run completed", "runID", id, "duration", now.Sub(st.StartedAt))
}

// Get returns the status of a run. Unknown and pruned IDs report NOT_FOUND.
func (r *Registry) Get(id string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runs[id]
	if !ok {
		return Status{ID: id, State: StateNotFound}
	}
	return *st
}

// Running reports the number of runs still executing.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, st := range r.runs {
		if st.State == StateRunning {
			n++
		}
	}
	return n
}

// Prune drops finished runs older than the retention and returns how many
// were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-r.config.Retention)
	removed := 0
	for id, st := range r.runs {
		if st.FinishedAt != nil && st.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

// Run prunes on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Prune(); n > 0 {
				r.logger.Debug("pruned finished runs", "count", n)
			}
		}
	}
}

// Close stops accepting runs, cancels the running ones and waits for them
// to return.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// Wait blocks until every started run has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

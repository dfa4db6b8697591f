// Package scheduler keeps the recurring batch trigger in step with the
// configured daily fire times and fires batches when they come due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/relay/internal/cron"
	"github.com/livinlefevreloca/relay/internal/metrics"
)

// ErrNoTrigger is returned by Pause and Resume when no trigger is defined.
var ErrNoTrigger = errors.New("scheduler: no trigger defined")

// Launcher starts batch runs on behalf of the trigger.
type Launcher interface {
	// StartBatch begins a batch asynchronously and returns its run ID.
	StartBatch(ctx context.Context, listingURL string) (string, error)
	// IsRunning reports whether the run is still executing.
	IsRunning(runID string) bool
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Trigger is one immutable trigger definition. Updates swap in a new value.
type Trigger struct {
	Schedule   *cron.Daily
	ListingURL string
	Paused     bool
	DefinedAt  time.Time
}

// Status reports the trigger state.
type Status struct {
	Exists     bool             `json:"exists"`
	Paused     bool             `json:"paused"`
	Times      []cron.TimeOfDay `json:"times,omitempty"`
	ListingURL string           `json:"listing_url,omitempty"`
	NextFire   *time.Time       `json:"next_fire,omitempty"`
	LastFire   *time.Time       `json:"last_fire,omitempty"`
	LastRunID  string           `json:"last_run_id,omitempty"`
}

// Synchronizer owns the trigger and the loop that fires it.
type Synchronizer struct {
	config   Config
	location *time.Location
	clock    Clock
	launcher Launcher
	logger   *slog.Logger

	// Readers load without locking; writers serialize on writeMu.
	trigger atomic.Pointer[Trigger]
	writeMu sync.Mutex

	// Loop state, guarded by loopMu
	loopMu    sync.Mutex
	cursor    time.Time
	lastFire  time.Time
	lastRunID string
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

func WithClock(clock Clock) Option {
	return func(s *Synchronizer) { s.clock = clock }
}

// NewSynchronizer creates a synchronizer with no trigger defined
func NewSynchronizer(config Config, launcher Launcher, logger *slog.Logger, opts ...Option) (*Synchronizer, error) {
	loc, err := config.Validate()
	if err != nil {
		return nil, err
	}

	s := &Synchronizer{
		config:   config,
		location: loc,
		clock:    realClock{},
		launcher: launcher,
		logger:   logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cursor = s.clock.Now()
	return s, nil
}

// Sync replaces the trigger with one firing daily at times and passing
// listingURL to every batch. An empty set removes the trigger. A replaced
// trigger starts unpaused.
func (s *Synchronizer) Sync(times []cron.TimeOfDay, listingURL string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(times) == 0 {
		if s.trigger.Swap(nil) != nil {
			s.logger.Info("trigger removed")
		}
		return nil
	}

	daily, err := cron.NewDaily(times)
	if err != nil {
		return fmt.Errorf("define trigger: %w", err)
	}

	prev := s.trigger.Swap(&Trigger{
		Schedule:   daily,
		ListingURL: listingURL,
		DefinedAt:  s.clock.Now(),
	})

	action := "trigger created"
	if prev != nil {
		action = "trigger replaced"
	}
	s.logger.Info(action,
		"times", daily.String(),
		"listingURL", listingURL,
		"timezone", s.location.String())
	return nil
}

// Pause stops the trigger from firing until Resume.
func (s *Synchronizer) Pause() error {
	return s.setPaused(true)
}

// Resume lets a paused trigger fire again. Fire times that passed while
// paused are not caught up.
func (s *Synchronizer) Resume() error {
	return s.setPaused(false)
}

func (s *Synchronizer) setPaused(paused bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.trigger.Load()
	if current == nil {
		return ErrNoTrigger
	}
	if current.Paused == paused {
		return nil
	}

	next := *current
	next.Paused = paused
	s.trigger.Store(&next)
	s.logger.Info("trigger pause changed", "paused", paused)
	return nil
}

// Status reports whether a trigger exists, whether it is paused and when
// it fires next.
func (s *Synchronizer) Status() Status {
	s.loopMu.Lock()
	lastFire, lastRunID := s.lastFire, s.lastRunID
	s.loopMu.Unlock()

	st := Status{LastRunID: lastRunID}
	if !lastFire.IsZero() {
		st.LastFire = &lastFire
	}

	t := s.trigger.Load()
	if t == nil {
		return st
	}
	st.Exists = true
	st.Paused = t.Paused
	st.Times = t.Schedule.Times()
	st.ListingURL = t.ListingURL
	if !t.Paused {
		next := t.Schedule.Next(s.clock.Now().In(s.location))
		if !next.IsZero() {
			st.NextFire = &next
		}
	}
	return st
}

// Run fires the trigger until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler",
		"loopInterval", s.config.LoopInterval,
		"timezone", s.location.String())

	s.loopMu.Lock()
	s.cursor = s.clock.Now()
	s.loopMu.Unlock()

	ticker := time.NewTicker(s.config.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.iteration(ctx)
		}
	}
}

// iteration fires the trigger if a fire time passed since the previous
// iteration. Several due fire times collapse into one batch.
func (s *Synchronizer) iteration(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	now := s.clock.Now().In(s.location)
	from := s.cursor.In(s.location)
	s.cursor = now
	if !now.After(from) {
		return
	}

	t := s.trigger.Load()
	if t == nil || t.Paused {
		return
	}

	due := t.Schedule.Between(from, now)
	if len(due) == 0 {
		return
	}
	fireAt := due[len(due)-1]
	if len(due) > 1 {
		s.logger.Warn("coalescing missed fire times", "count", len(due), "fireAt", fireAt)
	}

	if s.lastRunID != "" && s.launcher.IsRunning(s.lastRunID) {
		metrics.IncreaseScheduleFires("skipped")
		s.logger.Warn("previous scheduled batch still running, skipping fire",
			"fireAt", fireAt,
			"runID", s.lastRunID)
		return
	}

	runID, err := s.launcher.StartBatch(ctx, t.ListingURL)
	if err != nil {
		metrics.IncreaseScheduleFires("error")
		s.logger.Error("failed to start scheduled batch", "fireAt", fireAt, "error", err)
		return
	}

	metrics.IncreaseScheduleFires("fired")
	s.lastFire = fireAt
	s.lastRunID = runID
	s.logger.Info("scheduled batch started", "fireAt", fireAt, "runID", runID)
}

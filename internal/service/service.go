// Package service exposes the entry points of the relay: batch and record
// runs, run status, call intake and schedule management.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/livinlefevreloca/relay/internal/batch"
	"github.com/livinlefevreloca/relay/internal/convert"
	"github.com/livinlefevreloca/relay/internal/cron"
	"github.com/livinlefevreloca/relay/internal/db"
	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/pipeline"
	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/livinlefevreloca/relay/internal/runs"
	"github.com/livinlefevreloca/relay/internal/scheduler"
)

var (
	// ErrRecordNotFound is returned when a run is requested for an unknown record.
	ErrRecordNotFound   = errors.New("service: record not found")
	ErrInvalidCallEvent = errors.New("service: invalid call event")
)

// PipelineRunner runs one record pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, runID string, req pipeline.Request) pipeline.Outcome
}

// BatchRunner runs one batch.
type BatchRunner interface {
	Run(ctx context.Context, listingURL string) (*batch.Report, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     *db.DB
	Pipelines PipelineRunner
	Batches   BatchRunner
	Runs      *runs.Registry
	Logger    *slog.Logger
}

// Service implements the relay entry points. Every run it starts is
// registered with the run registry and can be polled by ID.
type Service struct {
	store     *db.DB
	pipelines PipelineRunner
	batches   BatchRunner
	runs      *runs.Registry
	schedule  *scheduler.Synchronizer
	validate  *validator.Validate
	logger    *slog.Logger
}

func New(deps Deps) *Service {
	return &Service{
		store:     deps.Store,
		pipelines: deps.Pipelines,
		batches:   deps.Batches,
		runs:      deps.Runs,
		validate:  newValidator(callEventRules()...),
		logger:    deps.Logger.With("component", "service"),
	}
}

// AttachScheduler connects the trigger. The synchronizer launches batches
// through the service, so it is created after it.
func (s *Service) AttachScheduler(sync *scheduler.Synchronizer) {
	s.schedule = sync
}

// =============================================================================
// Runs
// =============================================================================

// StartBatch begins a batch run against listingURL, or the default listing
// when empty, and returns its run ID.
func (s *Service) StartBatch(ctx context.Context, listingURL string) (string, error) {
	id := runs.NewID(runs.PrefixBatch)
	err := s.runs.Start(id, func(ctx context.Context) (any, error) {
		report, err := s.batches.Run(ctx, listingURL)
		if report == nil {
			return nil, err
		}
		return report, err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// IsRunning reports whether a run is still executing.
func (s *Service) IsRunning(runID string) bool {
	return s.runs.Get(runID).State == runs.StateRunning
}

// GetRunStatus reports the state of a run. Unknown IDs report NOT_FOUND.
func (s *Service) GetRunStatus(runID string) runs.Status {
	return s.runs.Get(runID)
}

// StartRecordPipeline reruns a stored record's pipeline from its last
// persisted stage.
func (s *Service) StartRecordPipeline(ctx context.Context, kind record.Kind, ref string) (string, error) {
	prefix := runs.PrefixProcessOrder
	if kind == record.KindCall {
		prefix = runs.PrefixProcessCall
	}
	return s.startPipeline(ctx, kind, ref, pipeline.ModeFull, runs.NewID(prefix, ref))
}

// StartConversion reruns only the conversion of a stored record.
func (s *Service) StartConversion(ctx context.Context, kind record.Kind, ref string) (string, error) {
	return s.startPipeline(ctx, kind, ref, pipeline.ModeConvertOnly, runs.NewID(runs.PrefixConvert, string(kind), ref))
}

// StartUpload reruns only the upload of a converted record.
func (s *Service) StartUpload(ctx context.Context, kind record.Kind, ref string) (string, error) {
	return s.startPipeline(ctx, kind, ref, pipeline.ModeUploadOnly, runs.NewID(runs.PrefixUpload, string(kind), ref))
}

func (s *Service) startPipeline(ctx context.Context, kind record.Kind, ref string, mode pipeline.Mode, id string) (string, error) {
	if _, err := record.ParseKind(string(kind)); err != nil {
		return "", err
	}
	if _, err := s.store.GetRecord(ctx, kind, ref); err != nil {
		if db.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s %s", ErrRecordNotFound, kind, ref)
		}
		return "", err
	}

	req := pipeline.Request{Kind: kind, Ref: ref, Mode: mode}
	if err := s.runs.Start(id, s.pipelineRun(id, req)); err != nil {
		return "", err
	}
	return id, nil
}

// pipelineRun adapts a pipeline to a registry run. A failed outcome fails
// the run; a partial outcome completes it.
func (s *Service) pipelineRun(runID string, req pipeline.Request) runs.Func {
	return func(ctx context.Context) (any, error) {
		outcome := s.pipelines.Run(ctx, runID, req)
		if outcome.Result == pipeline.ResultFailure {
			return outcome, fmt.Errorf("stage %s: %s", outcome.Stage, outcome.Error)
		}
		return outcome, nil
	}
}

// =============================================================================
// Schedule
// =============================================================================

// ScheduleStatus reports the trigger together with the stored override.
type ScheduleStatus struct {
	scheduler.Status
	Active bool `json:"active"`
}

// SyncSchedule replaces the trigger with one firing at times.
func (s *Service) SyncSchedule(times []cron.TimeOfDay, listingURL string) error {
	return s.schedule.Sync(times, listingURL)
}

// GetScheduleStatus reports whether a trigger exists and whether it is
// paused. The trigger is active when it exists and is not paused.
func (s *Service) GetScheduleStatus() ScheduleStatus {
	st := s.schedule.Status()
	return ScheduleStatus{Status: st, Active: st.Exists && !st.Paused}
}

func (s *Service) PauseSchedule() error  { return s.schedule.Pause() }
func (s *Service) ResumeSchedule() error { return s.schedule.Resume() }

// SyncScheduleFromStore rebuilds the trigger from the enabled schedule
// entries and the stored listing override.
func (s *Service) SyncScheduleFromStore(ctx context.Context) error {
	entries, err := s.store.ListEnabledScheduleEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedule entries: %w", err)
	}
	cfg, err := s.store.GetScrapeConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scrape config: %w", err)
	}

	times := make([]cron.TimeOfDay, 0, len(entries))
	for _, e := range entries {
		times = append(times, cron.TimeOfDay{Hour: e.Hour, Minute: e.Minute})
	}
	url := ""
	if cfg.ListingURL != nil {
		url = *cfg.ListingURL
	}

	if err := s.schedule.Sync(times, url); err != nil {
		return err
	}
	s.logger.Info("schedule synchronized", "times", len(times), "listingURL", url)
	return nil
}

// AddScheduleTime stores a new daily fire time. A second entry for the same
// time fails with db.ErrDuplicate.
func (s *Service) AddScheduleTime(ctx context.Context, hour, minute int) (*db.ScheduleEntry, error) {
	entry, err := s.store.CreateScheduleEntry(ctx, hour, minute)
	if err != nil {
		return nil, err
	}
	return entry, s.SyncScheduleFromStore(ctx)
}

func (s *Service) RemoveScheduleTime(ctx context.Context, id string) error {
	if err := s.store.DeleteScheduleEntry(ctx, id); err != nil {
		return err
	}
	return s.SyncScheduleFromStore(ctx)
}

// ToggleScheduleTime flips an entry's enabled flag.
func (s *Service) ToggleScheduleTime(ctx context.Context, id string) (*db.ScheduleEntry, error) {
	entry, err := s.store.ToggleScheduleEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry, s.SyncScheduleFromStore(ctx)
}

func (s *Service) ListScheduleTimes(ctx context.Context) ([]*db.ScheduleEntry, error) {
	return s.store.ListScheduleEntries(ctx)
}

// SetListingURL stores the listing override used by scheduled batches. An
// empty URL clears it.
func (s *Service) SetListingURL(ctx context.Context, listingURL string) (*db.ScrapeConfig, error) {
	var value *string
	if u := strings.TrimSpace(listingURL); u != "" {
		value = &u
	}
	cfg, err := s.store.SetScrapeConfig(ctx, value)
	if err != nil {
		return nil, err
	}
	return cfg, s.SyncScheduleFromStore(ctx)
}

func (s *Service) GetListingURL(ctx context.Context) (*db.ScrapeConfig, error) {
	return s.store.GetScrapeConfig(ctx)
}

// =============================================================================
// Call intake
// =============================================================================

// callCaptureLayout normalizes the captured timestamp so re-sent events
// render identical exports whatever form the phone system used.
const callCaptureLayout = "2006-01-02T15:04:05"

// CallEvent is an inbound phone-system event.
type CallEvent struct {
	State      string  `json:"state" validate:"required,oneof=ringing answered ended"`
	From       string  `json:"from" validate:"required"`
	To         string  `json:"to" validate:"required"`
	Extension  *string `json:"extension"`
	CallerName *string `json:"caller_name"`
	Timestamp  string  `json:"timestamp" validate:"required,calltime"`
}

// CallReceipt acknowledges a call event.
type CallReceipt struct {
	Key      string `json:"key"`
	RecordID string `json:"record_id"`
	Created  bool   `json:"created"`
	RunID    string `json:"run_id,omitempty"`
}

// ReceiveCall stores an inbound call event and starts its pipeline. A
// re-delivered event updates the stored call state and caller name and does
// not start another run.
func (s *Service) ReceiveCall(ctx context.Context, event CallEvent) (*CallReceipt, error) {
	if err := s.validate.Struct(event); err != nil {
		metrics.IncreaseCallEvents("invalid")
		return nil, fmt.Errorf("%w: %w", ErrInvalidCallEvent, err)
	}
	ts, err := parseCallTime(event.Timestamp)
	if err != nil {
		metrics.IncreaseCallEvents("invalid")
		return nil, fmt.Errorf("%w: %w", ErrInvalidCallEvent, err)
	}

	key := record.CallKey(event.From, ts)
	capture, err := json.Marshal(convert.CallEvent{
		State:      event.State,
		From:       event.From,
		To:         event.To,
		Extension:  event.Extension,
		CallerName: event.CallerName,
		Timestamp:  ts.Format(callCaptureLayout),
	})
	if err != nil {
		return nil, err
	}

	var (
		stored  *db.Record
		created bool
	)
	err = s.store.WithTransaction(ctx, func(tx *db.Tx) error {
		rec, isNew, err := tx.UpsertRecord(ctx, &db.Record{
			Kind:       record.KindCall,
			Ref:        key,
			Status:     record.StatusReceived,
			CallState:  event.State,
			FromNumber: event.From,
			ToNumber:   event.To,
			Extension:  event.Extension,
			CallerName: event.CallerName,
			CallAt:     &ts,
		})
		if err != nil {
			return err
		}
		stored, created = rec, isNew
		if !created {
			return tx.UpdateCallDetails(ctx, stored.ID, event.State, nonBlank(event.CallerName))
		}
		_, err = tx.UpsertExport(ctx, stored.ID, record.FormatAgfeo, string(capture))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store call %s: %w", key, err)
	}

	receipt := &CallReceipt{Key: key, RecordID: stored.ID, Created: created}
	logger := s.logger.With("kind", record.KindCall, "ref", key)
	if !created {
		metrics.IncreaseCallEvents("updated")
		logger.Info("call event re-delivered", "state", event.State)
		return receipt, nil
	}
	metrics.IncreaseCallEvents("created")

	id := runs.NewID(runs.PrefixProcessCall, key)
	req := pipeline.Request{Kind: record.KindCall, Ref: key, Mode: pipeline.ModeFull}
	// The call is stored; a run that fails to start is left to a manual
	// StartRecordPipeline.
	if err := s.runs.Start(id, s.pipelineRun(id, req)); err != nil {
		logger.Error("failed to start call pipeline", "error", err)
		return receipt, nil
	}
	receipt.RunID = id
	logger.Info("call received", "state", event.State, "runID", id)
	return receipt, nil
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/relay/internal/db"
	"github.com/livinlefevreloca/relay/internal/delivery"
	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/livinlefevreloca/relay/internal/stage"
)

var (
	ErrRecordNotFound = errors.New("pipeline: record not found")
	ErrNoDetailURL    = errors.New("pipeline: order has no detail url")
	ErrNoSource       = errors.New("pipeline: source document not persisted")
	ErrNotConverted   = errors.New("pipeline: record not converted")
)

// Mode selects which part of the stage sequence a run covers.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeConvertOnly Mode = "convert_only"
	ModeUploadOnly  Mode = "upload_only"
)

// Result is the terminal classification of a run.
type Result string

const (
	ResultSuccess Result = "success"
	ResultPartial Result = "partial" // converted, delivery pending
	ResultFailure Result = "failure"
)

// Request identifies the record a run drives. DocumentNo and DetailURL
// come from the listing and are only needed for orders not yet stored.
type Request struct {
	Kind       record.Kind
	Ref        string
	Mode       Mode
	DocumentNo string
	DetailURL  string
}

// Outcome is the structured result of one run.
type Outcome struct {
	Kind       record.Kind   `json:"kind"`
	Ref        string        `json:"ref"`
	RecordID   string        `json:"record_id,omitempty"`
	Result     Result        `json:"result"`
	Stage      stage.Name    `json:"stage,omitempty"`
	Error      string        `json:"error,omitempty"`
	Status     record.Status `json:"status,omitempty"`
	RemotePath string        `json:"remote_path,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
}

// Store is the part of the record store a run reads and writes.
type Store interface {
	GetRecord(ctx context.Context, kind record.Kind, ref string) (*db.Record, error)
	GetExport(ctx context.Context, recordID string, format record.Format) (*db.Export, error)
	SetStatus(ctx context.Context, id string, status record.Status) error
	WithTransaction(ctx context.Context, fn func(*db.Tx) error) error
}

// Deliverer uploads a target document unless it is already present remotely.
type Deliverer interface {
	Deliver(ctx context.Context, filename, content string) (delivery.Result, error)
}

// ConvertFunc maps a source document to its target document.
type ConvertFunc func(kind record.Kind, source string) (string, error)

// pipeline is the state of a single run.
type pipeline struct {
	ctx    context.Context
	runID  string
	req    Request
	runner *Runner
	logger *slog.Logger

	state State

	rec    *db.Record
	source string
	target string
	sent   delivery.Result

	failedStage stage.Name
	err         error

	recorder *StateRecorder
}

func (p *pipeline) transitionTo(newState State) {
	oldStateName := p.state.Name()
	p.state = newState

	if p.recorder != nil {
		p.recorder.Record(newState)
	}

	p.logger.Info("state transition",
		"from", oldStateName,
		"to", newState.Name(),
		"runID", p.runID)
}

// fail records the failing stage. A *stage.Error names its own stage.
func (p *pipeline) fail(name stage.Name, err error) {
	var se *stage.Error
	if errors.As(err, &se) {
		name = se.Stage
	}
	p.failedStage = name
	p.err = err
}

// run drives the state machine until a terminal state is reached.
func (p *pipeline) run() (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered",
				"runID", p.runID,
				"panic", r)
			if p.failedStage == "" {
				p.failedStage = stage.Load
			}
			p.err = fmt.Errorf("pipeline panicked: %v", r)
			p.transitionTo(&FailedState{})
			outcome = p.outcome(ResultFailure)
		}
	}()

	for {
		switch p.state.(type) {
		case *StartState:
			p.runStart()
		case *SourceFetchedState:
			p.runSourceFetched()
		case *SourcePersistedState:
			p.runSourcePersisted()
		case *ConvertedState:
			p.runConverted()
		case *TargetPersistedState:
			p.runTargetPersisted()
		case *UploadedState:
			p.runUploaded()
		case *DoneState:
			return p.outcome(ResultSuccess)
		case *DeliveryPendingState:
			return p.outcome(ResultPartial)
		case *FailedState:
			return p.outcome(ResultFailure)
		default:
			p.logger.Error("unknown state type",
				"state", fmt.Sprintf("%T", p.state),
				"runID", p.runID)
			p.err = fmt.Errorf("unknown state %T", p.state)
			p.transitionTo(&FailedState{})
		}
	}
}

func (p *pipeline) outcome(result Result) Outcome {
	out := Outcome{
		Kind:       p.req.Kind,
		Ref:        p.req.Ref,
		Result:     result,
		RemotePath: p.sent.RemotePath,
		Skipped:    p.sent.Skipped,
	}
	if p.rec != nil {
		out.RecordID = p.rec.ID
		out.Status = p.rec.Status
	}
	if p.err != nil {
		out.Stage = p.failedStage
		out.Error = p.err.Error()
	}
	return out
}

// runStart resolves the record against the store and resumes after the
// last persisted stage.
func (p *pipeline) runStart() {
	state := p.state.(*StartState)
	r := p.runner
	kind := p.req.Kind

	rec, err := stage.Do(p.ctx, r.executor, stage.Load, r.policies.PersistSource, func(ctx context.Context) (*db.Record, error) {
		rec, err := r.store.GetRecord(ctx, kind, p.req.Ref)
		if db.IsNotFound(err) {
			return nil, nil
		}
		return rec, err
	})
	if err != nil {
		p.fail(stage.Load, err)
		p.transitionTo(state.ToFailed())
		return
	}
	p.rec = rec

	switch p.req.Mode {
	case ModeConvertOnly:
		if rec == nil || !kind.Reached(rec.Status, kind.SourceStatus()) {
			p.fail(stage.Load, p.missing(ErrNoSource))
			p.transitionTo(state.ToFailed())
			return
		}
		if p.loadSource() {
			p.transitionTo(state.ToSourcePersisted())
		} else {
			p.transitionTo(state.ToFailed())
		}
		return
	case ModeUploadOnly:
		if rec == nil || !kind.Reached(rec.Status, record.StatusConverted) {
			p.fail(stage.Load, p.missing(ErrNotConverted))
			p.transitionTo(state.ToFailed())
			return
		}
		if p.loadTarget() {
			p.transitionTo(state.ToTargetPersisted())
		} else {
			p.transitionTo(state.ToFailed())
		}
		return
	}

	switch {
	case rec != nil && rec.Status == record.StatusSent:
		p.logger.Info("record already delivered", "runID", p.runID)
		p.transitionTo(state.ToDone())
	case rec != nil && kind.Reached(rec.Status, record.StatusConverted):
		if p.loadTarget() {
			p.transitionTo(state.ToTargetPersisted())
		} else {
			p.transitionTo(state.ToFailed())
		}
	case rec != nil && kind.Reached(rec.Status, kind.SourceStatus()):
		if p.loadSource() {
			p.transitionTo(state.ToSourcePersisted())
		} else {
			p.transitionTo(state.ToFailed())
		}
	case kind == record.KindCall:
		// Call records are created together with their source export.
		p.fail(stage.Load, p.missing(ErrRecordNotFound))
		p.transitionTo(state.ToFailed())
	default:
		if p.scrape() {
			p.transitionTo(state.ToSourceFetched())
		} else {
			p.transitionTo(state.ToFailed())
		}
	}
}

func (p *pipeline) missing(sentinel error) error {
	status := record.Status("absent")
	if p.rec != nil {
		status = p.rec.Status
	}
	return fmt.Errorf("%w: %s %s (status %s)", sentinel, p.req.Kind, p.req.Ref, status)
}

func (p *pipeline) detailURL() string {
	if p.req.DetailURL != "" {
		return p.req.DetailURL
	}
	if p.rec != nil {
		return p.rec.DetailURL
	}
	return ""
}

func (p *pipeline) documentNo() string {
	if p.rec != nil && p.rec.DocumentNo != "" {
		return p.rec.DocumentNo
	}
	return p.req.DocumentNo
}

func (p *pipeline) scrape() bool {
	r := p.runner
	detailURL := p.detailURL()
	if detailURL == "" {
		p.fail(stage.Scrape, fmt.Errorf("%w: %s", ErrNoDetailURL, p.req.Ref))
		return false
	}

	doc, err := stage.Do(p.ctx, r.executor, stage.Scrape, r.policies.Scrape, func(ctx context.Context) (string, error) {
		return r.scraper.FetchDocument(ctx, detailURL)
	})
	if err != nil {
		p.fail(stage.Scrape, err)
		return false
	}
	p.source = doc
	return true
}

func (p *pipeline) loadSource() bool {
	return p.loadExport(p.req.Kind.SourceFormat(), &p.source)
}

func (p *pipeline) loadTarget() bool {
	return p.loadExport(p.req.Kind.TargetFormat(), &p.target)
}

func (p *pipeline) loadExport(format record.Format, into *string) bool {
	r := p.runner
	exp, err := stage.Do(p.ctx, r.executor, stage.Load, r.policies.PersistSource, func(ctx context.Context) (*db.Export, error) {
		exp, err := r.store.GetExport(ctx, p.rec.ID, format)
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%s export of %s %s: %w", format, p.req.Kind, p.req.Ref, err)
		}
		return exp, err
	})
	if err != nil {
		p.fail(stage.Load, err)
		return false
	}
	*into = exp.Content
	return true
}

// runSourceFetched stores the record and its source export in one
// transaction. New orders land directly at their source status.
func (p *pipeline) runSourceFetched() {
	state := p.state.(*SourceFetchedState)
	r := p.runner
	kind := p.req.Kind

	rec, err := stage.Do(p.ctx, r.executor, stage.PersistSource, r.policies.PersistSource, func(ctx context.Context) (*db.Record, error) {
		var stored *db.Record
		err := r.store.WithTransaction(ctx, func(tx *db.Tx) error {
			rec, created, err := tx.UpsertRecord(ctx, &db.Record{
				Kind:       kind,
				Ref:        p.req.Ref,
				DocumentNo: p.req.DocumentNo,
				DetailURL:  p.detailURL(),
			})
			if err != nil {
				return fmt.Errorf("upsert record: %w", err)
			}
			if !created {
				p.logger.Debug("reusing existing record", "recordID", rec.ID, "status", rec.Status)
			}
			if _, err := tx.UpsertExport(ctx, rec.ID, kind.SourceFormat(), p.source); err != nil {
				return fmt.Errorf("upsert %s export: %w", kind.SourceFormat(), err)
			}
			if !kind.Reached(rec.Status, kind.SourceStatus()) {
				if err := tx.SetStatus(ctx, rec.ID, kind.SourceStatus()); err != nil {
					return err
				}
				rec.Status = kind.SourceStatus()
			}
			stored = rec
			return nil
		})
		return stored, err
	})
	if err != nil {
		p.fail(stage.PersistSource, err)
		p.transitionTo(state.ToFailed())
		return
	}

	p.rec = rec
	p.transitionTo(state.ToSourcePersisted())
}

func (p *pipeline) runSourcePersisted() {
	state := p.state.(*SourcePersistedState)
	r := p.runner

	target, err := stage.Do(p.ctx, r.executor, stage.Convert, r.policies.Convert, func(ctx context.Context) (string, error) {
		return r.convert(p.req.Kind, p.source)
	})
	if err != nil {
		p.fail(stage.Convert, err)
		p.transitionTo(state.ToFailed())
		return
	}

	p.target = target
	p.transitionTo(state.ToConverted())
}

// runConverted stores the target export and advances to converted
// atomically. A record already past converted keeps its status.
func (p *pipeline) runConverted() {
	state := p.state.(*ConvertedState)
	r := p.runner
	kind := p.req.Kind

	status, err := stage.Do(p.ctx, r.executor, stage.PersistTarget, r.policies.PersistTarget, func(ctx context.Context) (record.Status, error) {
		var status record.Status
		err := r.store.WithTransaction(ctx, func(tx *db.Tx) error {
			current, err := tx.GetRecord(ctx, kind, p.req.Ref)
			if err != nil {
				return err
			}
			if _, err := tx.UpsertExport(ctx, current.ID, kind.TargetFormat(), p.target); err != nil {
				return fmt.Errorf("upsert %s export: %w", kind.TargetFormat(), err)
			}
			status = current.Status
			if !kind.Reached(current.Status, record.StatusConverted) {
				if err := tx.SetStatus(ctx, current.ID, record.StatusConverted); err != nil {
					return err
				}
				status = record.StatusConverted
			}
			return nil
		})
		return status, err
	})
	if err != nil {
		p.fail(stage.PersistTarget, err)
		p.transitionTo(state.ToFailed())
		return
	}

	p.rec.Status = status
	p.transitionTo(state.ToTargetPersisted())
}

// runTargetPersisted delivers the target document. An upload failure
// leaves the record at converted.
func (p *pipeline) runTargetPersisted() {
	state := p.state.(*TargetPersistedState)
	r := p.runner

	if p.req.Mode == ModeConvertOnly {
		p.transitionTo(state.ToDone())
		return
	}

	filename := record.Filename(p.req.Kind, p.req.Ref, p.documentNo())
	res, err := stage.Do(p.ctx, r.executor, stage.Upload, r.policies.Upload, func(ctx context.Context) (delivery.Result, error) {
		return r.deliverer.Deliver(ctx, filename, p.target)
	})
	if err != nil {
		p.fail(stage.Upload, err)
		p.logger.Warn("delivery pending",
			"runID", p.runID,
			"filename", filename,
			"error", err)
		p.transitionTo(state.ToDeliveryPending())
		return
	}

	p.sent = res
	p.transitionTo(state.ToUploaded())
}

func (p *pipeline) runUploaded() {
	state := p.state.(*UploadedState)
	r := p.runner

	err := r.executor.Run(p.ctx, stage.Advance, r.policies.Advance, func(ctx context.Context) error {
		return r.store.SetStatus(ctx, p.rec.ID, record.StatusSent)
	})
	if err != nil {
		p.fail(stage.Advance, err)
		p.transitionTo(state.ToFailed())
		return
	}

	p.rec.Status = record.StatusSent
	p.transitionTo(state.ToDone())
}

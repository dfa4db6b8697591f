package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/livinlefevreloca/relay/internal/convert"
	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/scraper"
	"github.com/livinlefevreloca/relay/internal/stage"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Store     Store
	Scraper   scraper.Scraper
	Deliverer Deliverer
	Convert   ConvertFunc // defaults to convert.Convert
	Executor  *stage.Executor
	Policies  stage.Policies
	Logger    *slog.Logger
}

// Runner executes record pipelines. Concurrent requests for the same
// record and mode share a single run.
type Runner struct {
	store     Store
	scraper   scraper.Scraper
	deliverer Deliverer
	convert   ConvertFunc
	executor  *stage.Executor
	policies  stage.Policies
	logger    *slog.Logger

	inflight singleflight.Group
}

func NewRunner(deps Deps) *Runner {
	conv := deps.Convert
	if conv == nil {
		conv = convert.Convert
	}
	return &Runner{
		store:     deps.Store,
		scraper:   deps.Scraper,
		deliverer: deps.Deliverer,
		convert:   conv,
		executor:  deps.Executor,
		policies:  deps.Policies,
		logger:    deps.Logger.With("component", "pipeline"),
	}
}

// Run drives req's record to a terminal state and reports the outcome.
// It never returns a raw collaborator error.
func (r *Runner) Run(ctx context.Context, runID string, req Request) Outcome {
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	key := fmt.Sprintf("%s|%s|%s", req.Kind, req.Ref, req.Mode)

	v, _, shared := r.inflight.Do(key, func() (any, error) {
		return r.runWith(ctx, runID, req, nil), nil
	})
	if shared {
		r.logger.Info("joined in-flight pipeline run",
			"runID", runID,
			"kind", req.Kind,
			"ref", req.Ref)
	}
	return v.(Outcome)
}

func (r *Runner) runWith(ctx context.Context, runID string, req Request, recorder *StateRecorder) Outcome {
	start := time.Now()
	p := &pipeline{
		ctx:      ctx,
		runID:    runID,
		req:      req,
		runner:   r,
		logger:   r.logger.With("kind", req.Kind, "ref", req.Ref, "mode", req.Mode),
		state:    &StartState{},
		recorder: recorder,
	}

	outcome := p.run()

	metrics.ObservePipeline(string(req.Kind), string(outcome.Result), string(outcome.Stage), time.Since(start))
	p.logger.Info("pipeline finished",
		"runID", runID,
		"result", outcome.Result,
		"status", outcome.Status,
		"stage", outcome.Stage,
		"duration", time.Since(start))
	return outcome
}

// Package batch lists candidate orders from the portal and drives a
// pipeline for every order the store has not seen yet.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/relay/internal/metrics"
	"github.com/livinlefevreloca/relay/internal/pipeline"
	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/livinlefevreloca/relay/internal/runs"
	"github.com/livinlefevreloca/relay/internal/scraper"
	"github.com/livinlefevreloca/relay/internal/stage"
)

// Store lists the orders already known.
type Store interface {
	ListRecordRefs(ctx context.Context, kind record.Kind) ([]string, error)
}

// PipelineRunner runs one record pipeline to completion.
type PipelineRunner interface {
	Run(ctx context.Context, runID string, req pipeline.Request) pipeline.Outcome
}

// Processed is an order whose pipeline completed at least through conversion.
type Processed struct {
	Ref        string          `json:"ref"`
	DocumentNo string          `json:"document_no"`
	RunID      string          `json:"run_id"`
	Result     pipeline.Result `json:"result"`
	Status     record.Status   `json:"status"`
	RemotePath string          `json:"remote_path,omitempty"`
}

// Failure is an order whose pipeline stopped before conversion completed.
type Failure struct {
	Ref        string     `json:"ref"`
	DocumentNo string     `json:"document_no"`
	RunID      string     `json:"run_id"`
	Stage      stage.Name `json:"stage"`
	Error      string     `json:"error"`
}

// Report summarizes one batch run.
type Report struct {
	ListingURL     string      `json:"listing_url,omitempty"`
	TotalFound     int         `json:"total_found"`
	NewOrders      int         `json:"new_orders"`
	SkippedOrders  int         `json:"skipped_orders"`
	ProcessedCount int         `json:"processed_count"`
	FailedCount    int         `json:"failed_count"`
	Processed      []Processed `json:"processed"`
	Failed         []Failure   `json:"failed"`
}

// Orchestrator runs batches. A batch processes its new orders one at a
// time; every pipeline opens its own portal session.
type Orchestrator struct {
	scraper  scraper.Scraper
	store    Store
	runner   PipelineRunner
	executor *stage.Executor
	policy   stage.Policy
	logger   *slog.Logger
}

func NewOrchestrator(s scraper.Scraper, store Store, runner PipelineRunner, executor *stage.Executor, listPolicy stage.Policy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scraper:  s,
		store:    store,
		runner:   runner,
		executor: executor,
		policy:   listPolicy,
		logger:   logger.With("component", "batch"),
	}
}

// Run executes one batch against listingURL, or the portal's default
// listing when it is empty. Only a listing or store failure or cancellation
// fails the batch; per-order failures are reported. A cancelled batch
// returns the report of the orders handled so far along with the error.
func (o *Orchestrator) Run(ctx context.Context, listingURL string) (*Report, error) {
	start := time.Now()
	report, err := o.run(ctx, listingURL)
	if err != nil {
		if report != nil {
			metrics.ObserveBatch("failure", report.TotalFound, report.NewOrders, report.SkippedOrders, report.ProcessedCount, report.FailedCount)
			o.logger.Error("batch interrupted", "error", err,
				"processed", report.ProcessedCount,
				"failed", report.FailedCount,
				"duration", time.Since(start))
			return report, err
		}
		metrics.ObserveBatch("failure", 0, 0, 0, 0, 0)
		o.logger.Error("batch failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	metrics.ObserveBatch("success", report.TotalFound, report.NewOrders, report.SkippedOrders, report.ProcessedCount, report.FailedCount)
	o.logger.Info("batch completed",
		"found", report.TotalFound,
		"new", report.NewOrders,
		"skipped", report.SkippedOrders,
		"processed", report.ProcessedCount,
		"failed", report.FailedCount,
		"duration", time.Since(start))
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, listingURL string) (*Report, error) {
	candidates, err := stage.Do(ctx, o.executor, stage.List, o.policy, func(ctx context.Context) ([]scraper.Candidate, error) {
		return o.scraper.ListCandidates(ctx, listingURL)
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	candidates = scraper.Normalize(candidates)

	known, err := o.store.ListRecordRefs(ctx, record.KindOrder)
	if err != nil {
		return nil, fmt.Errorf("list known orders: %w", err)
	}

	fresh := Diff(candidates, known)
	report := &Report{
		ListingURL:    listingURL,
		TotalFound:    len(candidates),
		NewOrders:     len(fresh),
		SkippedOrders: len(candidates) - len(fresh),
		Processed:     []Processed{},
		Failed:        []Failure{},
	}
	o.logger.Info("candidates listed",
		"found", report.TotalFound,
		"new", report.NewOrders,
		"skipped", report.SkippedOrders)

	for _, c := range fresh {
		if err := ctx.Err(); err != nil {
			report.ProcessedCount = len(report.Processed)
			report.FailedCount = len(report.Failed)
			return report, err
		}

		runID := runs.NewID(runs.PrefixProcessOrder, c.Ref)
		outcome := o.runner.Run(ctx, runID, pipeline.Request{
			Kind:       record.KindOrder,
			Ref:        c.Ref,
			Mode:       pipeline.ModeFull,
			DocumentNo: c.DocumentNo,
			DetailURL:  c.DetailURL,
		})

		if outcome.Result == pipeline.ResultFailure {
			report.Failed = append(report.Failed, Failure{
				Ref:        c.Ref,
				DocumentNo: c.DocumentNo,
				RunID:      runID,
				Stage:      outcome.Stage,
				Error:      outcome.Error,
			})
			continue
		}
		report.Processed = append(report.Processed, Processed{
			Ref:        c.Ref,
			DocumentNo: c.DocumentNo,
			RunID:      runID,
			Result:     outcome.Result,
			Status:     outcome.Status,
			RemotePath: outcome.RemotePath,
		})
	}

	report.ProcessedCount = len(report.Processed)
	report.FailedCount = len(report.Failed)
	return report, nil
}

// Diff returns the candidates whose reference is not in known, keeping
// listing order.
func Diff(candidates []scraper.Candidate, known []string) []scraper.Candidate {
	seen := make(map[string]struct{}, len(known))
	for _, ref := range known {
		seen[ref] = struct{}{}
	}

	fresh := make([]scraper.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Ref]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh
}

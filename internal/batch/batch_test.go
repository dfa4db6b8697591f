package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/relay/internal/delivery"
	"github.com/livinlefevreloca/relay/internal/pipeline"
	"github.com/livinlefevreloca/relay/internal/record"
	"github.com/livinlefevreloca/relay/internal/scraper"
	"github.com/livinlefevreloca/relay/internal/stage"
	"github.com/livinlefevreloca/relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutor() *stage.Executor {
	return stage.NewExecutor(discardLogger(), stage.WithSleeper(func(context.Context, time.Duration) error { return nil }))
}

type fakeStore struct {
	refs []string
	err  error
}

func (s *fakeStore) ListRecordRefs(ctx context.Context, kind record.Kind) ([]string, error) {
	return s.refs, s.err
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	runIDs   []string
	outcomes map[string]pipeline.Outcome
	onRun    func(req pipeline.Request)
}

func (r *fakeRunner) Run(ctx context.Context, runID string, req pipeline.Request) pipeline.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.runIDs = append(r.runIDs, runID)
	if r.onRun != nil {
		r.onRun(req)
	}
	if out, ok := r.outcomes[req.Ref]; ok {
		return out
	}
	return pipeline.Outcome{Kind: req.Kind, Ref: req.Ref, Result: pipeline.ResultSuccess, Status: record.StatusSent}
}

func (r *fakeRunner) refs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.Ref)
	}
	return out
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(ctx context.Context, filename, content string) (delivery.Result, error) {
	return delivery.Result{RemotePath: "/import/orders/" + filename}, nil
}

// =============================================================================
// Diff
// =============================================================================

func TestDiff(t *testing.T) {
	candidates := []scraper.Candidate{{Ref: "R1"}, {Ref: "R2"}, {Ref: "R3"}}

	fresh := Diff(candidates, []string{"R2", "R9"})

	require.Len(t, fresh, 2)
	assert.Equal(t, "R1", fresh[0].Ref)
	assert.Equal(t, "R3", fresh[1].Ref)
	assert.Empty(t, Diff(candidates, []string{"R1", "R2", "R3"}))
}

// =============================================================================
// Run
// =============================================================================

func TestRun_OnlyNewOrdersRunPipelines(t *testing.T) {
	s := scraper.NewMock()
	s.SetCandidates(
		scraper.Candidate{Ref: "R1", DocumentNo: "1", DetailURL: "u1"},
		scraper.Candidate{Ref: "R2", DocumentNo: "2", DetailURL: "u2"},
	)
	runner := &fakeRunner{}
	o := NewOrchestrator(s, &fakeStore{refs: []string{"R1"}}, runner, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	report, err := o.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalFound)
	assert.Equal(t, 1, report.NewOrders)
	assert.Equal(t, 1, report.SkippedOrders)
	assert.Equal(t, 1, report.ProcessedCount)
	assert.Equal(t, []string{"R2"}, runner.refs())

	req := runner.requests[0]
	assert.Equal(t, record.KindOrder, req.Kind)
	assert.Equal(t, pipeline.ModeFull, req.Mode)
	assert.Equal(t, "2", req.DocumentNo)
	assert.Equal(t, "u2", req.DetailURL)
	assert.Regexp(t, `^process-order-R2-[0-9a-f]{8}$`, runner.runIDs[0])
}

func TestRun_PassesListingURL(t *testing.T) {
	s := scraper.NewMock()
	o := NewOrchestrator(s, &fakeStore{}, &fakeRunner{}, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	report, err := o.Run(context.Background(), "https://portal.example/list?page=2")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://portal.example/list?page=2"}, s.ListCalls())
	assert.Equal(t, 0, report.TotalFound)
	assert.NotNil(t, report.Processed)
	assert.NotNil(t, report.Failed)
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	s := scraper.NewMock()
	s.SetCandidates(scraper.Candidate{Ref: "A"}, scraper.Candidate{Ref: "B"}, scraper.Candidate{Ref: "C"})
	runner := &fakeRunner{outcomes: map[string]pipeline.Outcome{
		"A": {Ref: "A", Result: pipeline.ResultFailure, Stage: stage.Convert, Error: "bad document"},
		"C": {Ref: "C", Result: pipeline.ResultPartial, Stage: stage.Upload, Status: record.StatusConverted},
	}}
	o := NewOrchestrator(s, &fakeStore{}, runner, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	report, err := o.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, runner.refs())
	assert.Equal(t, 2, report.ProcessedCount)
	assert.Equal(t, 1, report.FailedCount)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "A", report.Failed[0].Ref)
	assert.Equal(t, stage.Convert, report.Failed[0].Stage)
	assert.Equal(t, pipeline.ResultPartial, report.Processed[1].Result)
}

func TestRun_CancelledKeepsPartialReport(t *testing.T) {
	s := scraper.NewMock()
	s.SetCandidates(scraper.Candidate{Ref: "A"}, scraper.Candidate{Ref: "B"}, scraper.Candidate{Ref: "C"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{
		outcomes: map[string]pipeline.Outcome{
			"B": {Ref: "B", Result: pipeline.ResultFailure, Stage: stage.Scrape, Error: "timeout"},
		},
		onRun: func(req pipeline.Request) {
			if req.Ref == "B" {
				cancel()
			}
		},
	}
	o := NewOrchestrator(s, &fakeStore{}, runner, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	report, err := o.Run(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	assert.Equal(t, []string{"A", "B"}, runner.refs())
	assert.Equal(t, 3, report.TotalFound)
	assert.Equal(t, 3, report.NewOrders)
	assert.Equal(t, 1, report.ProcessedCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, "A", report.Processed[0].Ref)
	assert.Equal(t, "B", report.Failed[0].Ref)
}

func TestRun_ListingRetriedThenFails(t *testing.T) {
	s := scraper.NewMock()
	s.SetListError(stage.Transient(errors.New("portal unreachable")))
	runner := &fakeRunner{}
	o := NewOrchestrator(s, &fakeStore{}, runner, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	_, err := o.Run(context.Background(), "")
	require.Error(t, err)

	var se *stage.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stage.List, se.Stage)
	assert.Len(t, s.ListCalls(), stage.DefaultPolicies().List.Retry.MaxAttempts)
	assert.Empty(t, runner.refs())
}

func TestRun_StoreFailureFailsBatch(t *testing.T) {
	s := scraper.NewMock()
	s.SetCandidates(scraper.Candidate{Ref: "R1"})
	o := NewOrchestrator(s, &fakeStore{err: errors.New("database is locked")}, &fakeRunner{}, testExecutor(), stage.DefaultPolicies().List, discardLogger())

	_, err := o.Run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list known orders")
}

// The conversion failure of one order leaves the next order's run intact.
func TestRun_WithPipeline(t *testing.T) {
	store := testutil.OpenTestDB(t)

	s := scraper.NewMock()
	s.SetCandidates(
		scraper.Candidate{Ref: "A", DocumentNo: "1", DetailURL: "uA"},
		scraper.Candidate{Ref: "B", DocumentNo: "4711", DetailURL: "uB"},
	)
	s.SetDocument("uA", "<ORDERS05><IDOC>")
	s.SetDocument("uB", `<ORDERS05><IDOC><E1EDK01><BELNR>4711</BELNR></E1EDK01></IDOC></ORDERS05>`)

	executor := testExecutor()
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     store,
		Scraper:   s,
		Deliverer: nopDeliverer{},
		Executor:  executor,
		Policies:  stage.DefaultPolicies(),
		Logger:    discardLogger(),
	})
	o := NewOrchestrator(s, store, runner, executor, stage.DefaultPolicies().List, discardLogger())

	report, err := o.Run(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "A", report.Failed[0].Ref)
	assert.Equal(t, stage.Convert, report.Failed[0].Stage)
	require.Len(t, report.Processed, 1)
	assert.Equal(t, "B", report.Processed[0].Ref)
	assert.Equal(t, record.StatusSent, report.Processed[0].Status)
	assert.Equal(t, "/import/orders/order_B_4711.xml", report.Processed[0].RemotePath)

	a, err := store.GetRecord(context.Background(), record.KindOrder, "A")
	require.NoError(t, err)
	assert.Equal(t, record.StatusScraped, a.Status)

	// Both orders are now known; a second batch runs nothing.
	again, err := o.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewOrders)
	assert.Equal(t, 2, again.SkippedOrders)
}

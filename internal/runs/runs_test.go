package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC))
	r := NewRegistry(context.Background(), DefaultConfig(), testutil.NewTestLogger().Logger(), WithClock(clock))
	t.Cleanup(r.Close)
	return r, clock
}

func TestNewID(t *testing.T) {
	assert.Regexp(t, `^scrape-and-process-[0-9a-f]{8}$`, NewID(PrefixBatch))
	assert.Regexp(t, `^process-call-20240315101112_4920312-[0-9a-f]{8}$`, NewID(PrefixProcessCall, "20240315101112_4920312"))
	assert.NotEqual(t, NewID(PrefixBatch), NewID(PrefixBatch))
}

func TestRegistry_Completed(t *testing.T) {
	r, _ := newTestRegistry(t)
	release := make(chan struct{})

	require.NoError(t, r.Start("run-1", func(ctx context.Context) (any, error) {
		<-release
		return "report", nil
	}))

	assert.Equal(t, StateRunning, r.Get("run-1").State)
	assert.Equal(t, 1, r.Running())

	close(release)
	r.Wait()

	st := r.Get("run-1")
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, "report", st.Result)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.FinishedAt)
	assert.Equal(t, 0, r.Running())
}

func TestRegistry_Failed(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Start("run-1", func(ctx context.Context) (any, error) {
		return "partial report", errors.New("listing unavailable")
	}))
	r.Wait()

	st := r.Get("run-1")
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "listing unavailable", st.Error)
	assert.Equal(t, "partial report", st.Result)
}

func TestRegistry_PanicBecomesFailed(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Start("run-1", func(ctx context.Context) (any, error) {
		panic("boom")
	}))
	r.Wait()

	st := r.Get("run-1")
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "boom")
}

func TestRegistry_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	st := r.Get("nope")
	assert.Equal(t, StateNotFound, st.State)
	assert.Equal(t, "nope", st.ID)
}

func TestRegistry_DuplicateID(t *testing.T) {
	r, _ := newTestRegistry(t)
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	require.NoError(t, r.Start("run-1", noop))
	err := r.Start("run-1", noop)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistry_Prune(t *testing.T) {
	r, clock := newTestRegistry(t)
	release := make(chan struct{})

	require.NoError(t, r.Start("done", func(ctx context.Context) (any, error) { return nil, nil }))
	require.NoError(t, r.Start("busy", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}))
	testutil.WaitFor(t, func() bool { return r.Get("done").State == StateCompleted }, time.Second)

	clock.Advance(23 * time.Hour)
	assert.Equal(t, 0, r.Prune())
	assert.Equal(t, StateCompleted, r.Get("done").State)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, r.Prune())
	assert.Equal(t, StateNotFound, r.Get("done").State)
	assert.Equal(t, StateRunning, r.Get("busy").State)

	close(release)
}

func TestRegistry_CloseCancelsRuns(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	r := NewRegistry(context.Background(), DefaultConfig(), testutil.NewTestLogger().Logger(), WithClock(clock))

	require.NoError(t, r.Start("run-1", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	r.Close()

	assert.Equal(t, StateFailed, r.Get("run-1").State)
	assert.ErrorIs(t, r.Start("run-2", func(ctx context.Context) (any, error) { return nil, nil }), ErrClosed)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Retention = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PruneInterval = -time.Second
	assert.Error(t, cfg.Validate())
}

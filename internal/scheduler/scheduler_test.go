package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/relay/internal/cron"
	"github.com/livinlefevreloca/relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeLauncher struct {
	mu      sync.Mutex
	urls    []string
	running map[string]bool
	err     error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{running: make(map[string]bool)}
}

func (l *fakeLauncher) StartBatch(ctx context.Context, listingURL string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	l.urls = append(l.urls, listingURL)
	id := "batch-" + string(rune('0'+len(l.urls)))
	l.running[id] = true
	return id, nil
}

func (l *fakeLauncher) IsRunning(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[runID]
}

func (l *fakeLauncher) finish(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, runID)
}

func (l *fakeLauncher) starts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.urls...)
}

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
	return loc
}()

func newTestSynchronizer(t *testing.T, start time.Time) (*Synchronizer, *fakeLauncher, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(start)
	launcher := newFakeLauncher()
	s, err := NewSynchronizer(DefaultConfig(), launcher, testutil.NewTestLogger().Logger(), WithClock(clock))
	require.NoError(t, err)
	return s, launcher, clock
}

func times(t *testing.T, values ...string) []cron.TimeOfDay {
	t.Helper()
	out := make([]cron.TimeOfDay, 0, len(values))
	for _, v := range values {
		tod, err := cron.ParseTimeOfDay(v)
		require.NoError(t, err)
		out = append(out, tod)
	}
	return out
}

// step advances the clock and runs one loop iteration.
func step(s *Synchronizer, clock *testutil.MockClock, d time.Duration) {
	clock.Advance(d)
	s.iteration(context.Background())
}

// =============================================================================
// Sync
// =============================================================================

func TestSync_CreateReplaceRemove(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, time.Date(2024, 3, 15, 5, 0, 0, 0, berlin))

	assert.False(t, s.Status().Exists)

	require.NoError(t, s.Sync(times(t, "06:30", "18:00"), ""))
	st := s.Status()
	assert.True(t, st.Exists)
	assert.False(t, st.Paused)
	assert.Equal(t, times(t, "06:30", "18:00"), st.Times)
	require.NotNil(t, st.NextFire)
	assert.True(t, st.NextFire.Equal(time.Date(2024, 3, 15, 6, 30, 0, 0, berlin)))

	require.NoError(t, s.Sync(times(t, "07:00"), "https://portal.example/list"))
	st = s.Status()
	assert.Equal(t, times(t, "07:00"), st.Times)
	assert.Equal(t, "https://portal.example/list", st.ListingURL)

	require.NoError(t, s.Sync(nil, ""))
	st = s.Status()
	assert.False(t, st.Exists)
	assert.Nil(t, st.NextFire)
}

func TestSync_ReplaceClearsPause(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, time.Date(2024, 3, 15, 5, 0, 0, 0, berlin))

	require.NoError(t, s.Sync(times(t, "06:30"), ""))
	require.NoError(t, s.Pause())
	assert.True(t, s.Status().Paused)
	assert.Nil(t, s.Status().NextFire)

	require.NoError(t, s.Sync(times(t, "06:30", "12:00"), ""))
	assert.False(t, s.Status().Paused)
}

func TestSync_InvalidTime(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, time.Now())

	err := s.Sync([]cron.TimeOfDay{{Hour: 24, Minute: 0}}, "")
	assert.Error(t, err)
	assert.False(t, s.Status().Exists)
}

func TestPauseResume_NoTrigger(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, time.Now())

	assert.ErrorIs(t, s.Pause(), ErrNoTrigger)
	assert.ErrorIs(t, s.Resume(), ErrNoTrigger)
}

// =============================================================================
// Firing
// =============================================================================

func TestIteration_FiresAtScheduledTime(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 6, 29, 58, 0, berlin))
	require.NoError(t, s.Sync(times(t, "06:30"), "https://portal.example/list"))

	step(s, clock, time.Second)
	assert.Empty(t, launcher.starts())

	step(s, clock, time.Second)
	step(s, clock, time.Second)
	assert.Equal(t, []string{"https://portal.example/list"}, launcher.starts())

	st := s.Status()
	require.NotNil(t, st.LastFire)
	assert.True(t, st.LastFire.Equal(time.Date(2024, 3, 15, 6, 30, 0, 0, berlin)))
	assert.Equal(t, "batch-1", st.LastRunID)

	// The same fire time is not fired twice.
	step(s, clock, 30*time.Second)
	assert.Len(t, launcher.starts(), 1)
}

func TestIteration_UsesConfiguredTimezone(t *testing.T) {
	// 05:29:59 UTC is 06:29:59 in Berlin during winter time.
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 1, 10, 5, 29, 59, 0, time.UTC))
	require.NoError(t, s.Sync(times(t, "06:30"), ""))

	step(s, clock, 2*time.Second)
	assert.Len(t, launcher.starts(), 1)
}

func TestIteration_PausedDoesNotFireOrCatchUp(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 6, 29, 0, 0, berlin))
	require.NoError(t, s.Sync(times(t, "06:30"), ""))
	require.NoError(t, s.Pause())

	step(s, clock, 2*time.Minute)
	assert.Empty(t, launcher.starts())

	require.NoError(t, s.Resume())
	step(s, clock, time.Second)
	assert.Empty(t, launcher.starts())
}

func TestIteration_SkipsWhilePreviousBatchRuns(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 6, 29, 30, 0, berlin))
	require.NoError(t, s.Sync(times(t, "06:30", "06:31", "06:32"), ""))

	step(s, clock, time.Minute) // 06:30:30 fires
	require.Len(t, launcher.starts(), 1)

	step(s, clock, time.Minute) // 06:31:30 skipped, batch-1 still running
	assert.Len(t, launcher.starts(), 1)

	launcher.finish("batch-1")
	step(s, clock, time.Minute) // 06:32:30 fires
	assert.Len(t, launcher.starts(), 2)
}

func TestIteration_CoalescesMissedFires(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 5, 0, 0, 0, berlin))
	require.NoError(t, s.Sync(times(t, "06:00", "07:00", "08:00"), ""))

	step(s, clock, 4*time.Hour)
	assert.Len(t, launcher.starts(), 1)
	assert.True(t, s.Status().LastFire.Equal(time.Date(2024, 3, 15, 8, 0, 0, 0, berlin)))
}

func TestIteration_LaunchErrorIsLogged(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 6, 29, 59, 0, berlin))
	launcher.err = errors.New("registry closed")
	require.NoError(t, s.Sync(times(t, "06:30"), ""))

	step(s, clock, 2*time.Second)
	assert.Empty(t, s.Status().LastRunID)
}

func TestIteration_NoTrigger(t *testing.T) {
	s, launcher, clock := newTestSynchronizer(t, time.Date(2024, 3, 15, 6, 29, 59, 0, berlin))

	step(s, clock, time.Hour)
	assert.Empty(t, launcher.starts())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// =============================================================================
// Config
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	loc, err := DefaultConfig().Validate()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Validate()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.LoopInterval = 0
	_, err = cfg.Validate()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.LoopInterval = 2 * time.Minute
	_, err = cfg.Validate()
	assert.Error(t, err)
}

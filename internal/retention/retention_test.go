package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pipeflow/runner/internal/store"
	"github.com/stretchr/testify/assert"
)

// fakeRunStore implements store.RunStore with DeleteRunsOlderThan counting
// calls and everything else unimplemented — the sweeper never calls them.
type fakeRunStore struct {
	store.RunStore
	calls     int32
	deleted   int
	err       error
	lastCutoff time.Time
}

func (f *fakeRunStore) DeleteRunsOlderThan(ctx context.Context, olderThan time.Time) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastCutoff = olderThan
	return f.deleted, f.err
}

func TestSweeper_SweepsImmediatelyOnStart(t *testing.T) {
	runs := &fakeRunStore{deleted: 3}
	s := New(runs, time.Hour, time.Hour)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs.calls) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestSweeper_UsesConfiguredMaxAge(t *testing.T) {
	runs := &fakeRunStore{}
	s := New(runs, time.Hour, 24*time.Hour)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs.calls) >= 1
	}, time.Second, 10*time.Millisecond)

	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), runs.lastCutoff, 5*time.Second)
}

func TestSweeper_StopWaitsForInFlightSweep(t *testing.T) {
	runs := &fakeRunStore{}
	s := New(runs, time.Hour, time.Hour)

	s.Start(context.Background())
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs.calls), int32(1))
}

func TestSweeper_DefaultsAppliedForZeroValues(t *testing.T) {
	s := New(&fakeRunStore{}, 0, 0)
	assert.Equal(t, DefaultSweepInterval, s.sweepInterval)
	assert.Equal(t, DefaultMaxAge, s.maxAge)
}

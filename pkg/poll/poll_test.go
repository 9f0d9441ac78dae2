package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetch serves a fixed sequence of views, repeating the last one.
type scriptedFetch struct {
	mu    sync.Mutex
	views []models.JobView
	errs  map[int]error
	calls int
}

func (s *scriptedFetch) fetch(ctx context.Context, jobID string) (models.JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if err, ok := s.errs[i]; ok {
		return models.JobView{}, err
	}
	if i >= len(s.views) {
		i = len(s.views) - 1
	}
	return s.views[i], nil
}

func (s *scriptedFetch) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func running(pct int) models.JobView {
	return models.JobView{Id: "j1", Status: tables.JobStatusRunning, Completion: pct}
}

func completed() models.JobView {
	return models.JobView{Id: "j1", Status: tables.JobStatusCompleted, Completion: 100}
}

func TestStartIsSingleFlight(t *testing.T) {
	src := &scriptedFetch{views: []models.JobView{running(10)}}
	p := NewPoller(10*time.Millisecond, src.fetch)
	defer p.Stop("j1")

	require.True(t, p.Start("j1", func(models.JobView) {}))
	assert.False(t, p.Start("j1", func(models.JobView) {}), "second start for an active job is refused")
	assert.True(t, p.Active("j1"))
}

func TestLoopEndsOnTerminalStatus(t *testing.T) {
	src := &scriptedFetch{views: []models.JobView{running(50), completed()}}
	p := NewPoller(5*time.Millisecond, src.fetch)

	var last atomic.Value
	require.True(t, p.Start("j1", func(v models.JobView) { last.Store(v) }))

	require.Eventually(t, func() bool { return !p.Active("j1") }, time.Second, 5*time.Millisecond)

	got := last.Load().(models.JobView)
	assert.Equal(t, tables.JobStatusCompleted, got.Status)

	// the loop is gone; no further fetches happen
	n := src.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, src.count())

	// a finished job can be watched again as a fresh loop
	assert.True(t, p.Start("j1", func(models.JobView) {}))
	p.Stop("j1")
}

func TestStopIsIdempotent(t *testing.T) {
	src := &scriptedFetch{views: []models.JobView{running(10)}}
	p := NewPoller(5*time.Millisecond, src.fetch)

	require.True(t, p.Start("j1", func(models.JobView) {}))
	p.Stop("j1")
	p.Stop("j1")
	p.Stop("never-started")
	assert.False(t, p.Active("j1"))
}

func TestTransientErrorKeepsPolling(t *testing.T) {
	src := &scriptedFetch{
		views: []models.JobView{running(10), running(20), completed()},
		errs:  map[int]error{1: errors.New("connection reset")},
	}
	p := NewPoller(5*time.Millisecond, src.fetch)

	var updates atomic.Int32
	require.True(t, p.Start("j1", func(models.JobView) { updates.Add(1) }))

	require.Eventually(t, func() bool { return !p.Active("j1") }, time.Second, 5*time.Millisecond)
	// the failed round-trip produced no update but did not end the loop
	assert.GreaterOrEqual(t, updates.Load(), int32(2))
}

func TestNudgeForcesImmediatePoll(t *testing.T) {
	src := &scriptedFetch{views: []models.JobView{running(10)}}
	p := NewPoller(time.Hour, src.fetch)
	defer p.Stop("j1")

	require.True(t, p.Start("j1", func(models.JobView) {}))
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)

	// with an hour-long interval only the nudge can cause the second fetch
	p.Nudge("j1")
	require.Eventually(t, func() bool { return src.count() == 2 }, time.Second, time.Millisecond)

	p.Nudge("no-such-job")
}

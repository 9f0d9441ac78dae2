package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
)

// FetchFunc retrieves the current view of a job, typically via the status
// API. Errors are treated as transient: the loop keeps its schedule and
// retries on the next tick.
type FetchFunc func(ctx context.Context, jobID string) (models.JobView, error)

// Poller keeps remote viewers consistent with server-side job state by
// polling on a fixed interval. One loop per job id, single-flight: starting
// a poll for a job already being polled is a no-op. A loop is torn down
// exactly once, on terminal status or explicit stop, whichever comes first.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc

	mu     sync.Mutex
	active map[string]*loop
}

type loop struct {
	nudge chan struct{}
	stop  chan struct{}
	once  sync.Once
}

func (l *loop) halt() {
	l.once.Do(func() { close(l.stop) })
}

func NewPoller(interval time.Duration, fetch FetchFunc) *Poller {
	return &Poller{
		interval: interval,
		fetch:    fetch,
		active:   make(map[string]*loop),
	}
}

// Start begins polling jobID, delivering every successful fetch to onUpdate.
// Returns false if a loop for this job already exists.
func (p *Poller) Start(jobID string, onUpdate func(models.JobView)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[jobID]; ok {
		return false
	}

	l := &loop{
		nudge: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	p.active[jobID] = l
	go p.run(jobID, l, onUpdate)
	return true
}

// Stop tears down the loop for jobID. Safe to call more than once, and safe
// to call after the loop already stopped itself on a terminal status.
func (p *Poller) Stop(jobID string) {
	p.mu.Lock()
	l, ok := p.active[jobID]
	if ok {
		delete(p.active, jobID)
	}
	p.mu.Unlock()

	if ok {
		l.halt()
	}
}

// Nudge forces one immediate out-of-band poll, e.g. when the viewer regains
// foreground visibility after missing ticks in the background. Liveness
// only; the next scheduled tick would converge anyway.
func (p *Poller) Nudge(jobID string) {
	p.mu.Lock()
	l, ok := p.active[jobID]
	p.mu.Unlock()
	if !ok {
		return
	}

	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// Active reports whether a loop currently exists for jobID.
func (p *Poller) Active(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[jobID]
	return ok
}

func (p *Poller) run(jobID string, l *loop, onUpdate func(models.JobView)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// first poll immediately; the interval only paces the follow-ups
	if p.pollOnce(jobID, l, onUpdate) {
		return
	}

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		case <-l.nudge:
		}

		if p.pollOnce(jobID, l, onUpdate) {
			return
		}
	}
}

// pollOnce fetches and delivers one update. Returns true when the loop
// should end because the job reached a terminal state.
func (p *Poller) pollOnce(jobID string, l *loop, onUpdate func(models.JobView)) bool {
	view, err := p.fetch(context.Background(), jobID)
	if err != nil {
		// transient; a single failed round-trip never tears the loop down
		slog.Debug("poll fetch failed", "job_id", jobID, "error", err.Error())
		return false
	}

	onUpdate(view)

	if jobs.IsTerminal(view.Status) {
		p.mu.Lock()
		if cur, ok := p.active[jobID]; ok && cur == l {
			delete(p.active, jobID)
		}
		p.mu.Unlock()
		l.halt()
		return true
	}
	return false
}

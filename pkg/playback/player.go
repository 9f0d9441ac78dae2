package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Sink consumes one clip of audio and blocks until it has finished playing
// or the context is cancelled.
type Sink interface {
	Play(ctx context.Context, audio []byte) error
}

// Recorder receives the index of each sentence as playback reaches it.
type Recorder interface {
	Record(fileID string, index int64)
}

const defaultPrefetchAhead = 3

// Player walks a document sentence by sentence, feeding synthesized audio
// to a sink. At most one run is live at a time: jumping restarts from the
// new index and stopping is synchronous, so when Stop returns the sink is
// quiet and no goroutine of the old run survives.
type Player struct {
	cache    *Cache
	sink     Sink
	recorder Recorder
	ahead    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(cache *Cache, sink Sink, recorder Recorder) *Player {
	return &Player{cache: cache, sink: sink, recorder: recorder, ahead: defaultPrefetchAhead}
}

// PlayFrom stops any current run and starts playing at index. The stop of
// the old run and the registration of the new one happen under one lock, so
// concurrent restarts cannot interleave and orphan a run goroutine.
func (p *Player) PlayFrom(index int64) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.cancel = cancel
	p.done = done
	go p.run(ctx, index, done)
}

// JumpTo repositions playback. The in-flight sentence is cut off rather
// than played to the end.
func (p *Player) JumpTo(index int64) {
	p.PlayFrom(index)
}

// Stop halts playback and waits for the run goroutine to exit. Safe to
// call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked cancels the current run and waits for it to exit. Holding the
// lock across the wait is safe because run never takes it.
func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

func (p *Player) run(ctx context.Context, index int64, done chan struct{}) {
	defer close(done)

	for i := index; ; i++ {
		audio, err := p.cache.Get(ctx, i)
		if err != nil {
			if errors.Is(err, ErrNoSentence) {
				slog.Info("playback reached end of document", "file_id", p.cache.fileID, "index", i)
			} else if !errors.Is(err, context.Canceled) {
				slog.Error("playback synthesis failed", "file_id", p.cache.fileID, "index", i, "error", err.Error())
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		p.cache.Prefetch(ctx, i+1, p.ahead)

		if err := p.sink.Play(ctx, audio); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("audio sink failed", "file_id", p.cache.fileID, "index", i, "error", err.Error())
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if p.recorder != nil {
			p.recorder.Record(p.cache.fileID, i)
		}
	}
}

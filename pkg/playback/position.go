package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

// PositionStore persists the last-heard sentence index per file.
type PositionStore interface {
	SavePosition(ctx context.Context, fileID string, index int64) error
}

// PositionWriter debounces position updates. Playback reports every
// sentence; only the latest index per file reaches the store, written once
// the stream of updates has been quiet for the debounce window.
type PositionWriter struct {
	store PositionStore
	delay time.Duration

	mu      sync.Mutex
	pending map[string]int64
	timers  map[string]*time.Timer
}

func NewPositionWriter(store PositionStore, delay time.Duration) *PositionWriter {
	return &PositionWriter{
		store:   store,
		delay:   delay,
		pending: make(map[string]int64),
		timers:  make(map[string]*time.Timer),
	}
}

// Record notes the current index for fileID and (re)arms the flush timer.
func (w *PositionWriter) Record(fileID string, index int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[fileID] = index
	if timer, ok := w.timers[fileID]; ok {
		timer.Reset(w.delay)
		return
	}
	w.timers[fileID] = time.AfterFunc(w.delay, func() { w.flush(fileID) })
}

// Flush writes every pending position immediately, for shutdown paths.
func (w *PositionWriter) Flush() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.pending))
	for fileID := range w.pending {
		ids = append(ids, fileID)
	}
	w.mu.Unlock()

	for _, fileID := range ids {
		w.flush(fileID)
	}
}

func (w *PositionWriter) flush(fileID string) {
	w.mu.Lock()
	index, ok := w.pending[fileID]
	delete(w.pending, fileID)
	if timer, has := w.timers[fileID]; has {
		timer.Stop()
		delete(w.timers, fileID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	if err := w.store.SavePosition(context.Background(), fileID, index); err != nil {
		slog.Error("save playback position failed", "file_id", fileID, "index", index, "error", err.Error())
	}
}

type SQLPositionStore struct {
	engine *xorm.Engine
}

func NewSQLPositionStore(engine *xorm.Engine) *SQLPositionStore {
	return &SQLPositionStore{engine: engine}
}

func (s *SQLPositionStore) SavePosition(ctx context.Context, fileID string, index int64) error {
	pos := tables.PlaybackPosition{FileId: fileID, SentenceIndex: index, UpdatedAt: time.Now().UTC()}
	n, err := s.engine.Context(ctx).ID(fileID).AllCols().Update(&pos)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = s.engine.Context(ctx).Insert(&pos)
	}
	return err
}

func (s *SQLPositionStore) Position(ctx context.Context, fileID string) (tables.PlaybackPosition, bool, error) {
	var pos tables.PlaybackPosition
	has, err := s.engine.Context(ctx).ID(fileID).Get(&pos)
	return pos, has, err
}

package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"golang.org/x/sync/singleflight"
)

// ErrNoSentence: the requested reading-order index does not exist for the
// file, e.g. playback ran past the last committed sentence.
var ErrNoSentence = errors.New("no sentence at index")

// Synthesizer turns one sentence of text into playable audio.
type Synthesizer interface {
	SynthesizeSentence(ctx context.Context, text string) ([]byte, error)
}

// SentenceSource looks up a sentence by reading-order index.
type SentenceSource interface {
	Sentence(ctx context.Context, fileID string, index int64) (tables.Sentence, bool, error)
}

// Cache holds per-sentence audio for a single listening session. Synthesis
// for an index runs at most once even when Get and Prefetch race for it;
// everyone waiting on the same index shares the one in-flight call.
type Cache struct {
	fileID string
	source SentenceSource
	synth  Synthesizer
	shared SharedStore

	group singleflight.Group

	mu    sync.Mutex
	audio map[int64][]byte
}

func NewCache(fileID string, source SentenceSource, synth Synthesizer) *Cache {
	return &Cache{
		fileID: fileID,
		source: source,
		synth:  synth,
		audio:  make(map[int64][]byte),
	}
}

// WithShared adds a cross-session cache layer, checked on a local miss and
// written through after synthesis. Call before the first Get.
func (c *Cache) WithShared(shared SharedStore) *Cache {
	c.shared = shared
	return c
}

// Get returns the audio for the sentence at index, synthesizing it on a
// miss. Blocks until the audio is ready or the context ends.
func (c *Cache) Get(ctx context.Context, index int64) ([]byte, error) {
	c.mu.Lock()
	if audio, ok := c.audio[index]; ok {
		c.mu.Unlock()
		return audio, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.FormatInt(index, 10), func() (interface{}, error) {
		return c.fill(ctx, index)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Prefetch warms the next `ahead` sentences in the background so playback
// does not stall at sentence boundaries. Misses past the end of the
// document are expected and ignored.
func (c *Cache) Prefetch(ctx context.Context, index int64, ahead int) {
	for i := index; i < index+int64(ahead); i++ {
		go func(i int64) {
			if _, err := c.Get(ctx, i); err != nil && !errors.Is(err, ErrNoSentence) && !errors.Is(err, context.Canceled) {
				slog.Debug("prefetch failed", "file_id", c.fileID, "index", i, "error", err.Error())
			}
		}(i)
	}
}

// Cached reports whether audio for index is already resident.
func (c *Cache) Cached(index int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.audio[index]
	return ok
}

func (c *Cache) fill(ctx context.Context, index int64) ([]byte, error) {
	if c.shared != nil {
		audio, hit, err := c.shared.GetAudio(ctx, c.fileID, index)
		if err != nil {
			slog.Debug("shared audio cache read failed", "file_id", c.fileID, "index", index, "error", err.Error())
		} else if hit {
			c.mu.Lock()
			c.audio[index] = audio
			c.mu.Unlock()
			return audio, nil
		}
	}

	sentence, found, err := c.source.Sentence(ctx, c.fileID, index)
	if err != nil {
		return nil, fmt.Errorf("load sentence %d: %w", index, err)
	}
	if !found {
		return nil, ErrNoSentence
	}

	audio, err := c.synth.SynthesizeSentence(ctx, sentence.Text)
	if err != nil {
		return nil, fmt.Errorf("synthesize sentence %d: %w", index, err)
	}

	c.mu.Lock()
	c.audio[index] = audio
	c.mu.Unlock()

	if c.shared != nil {
		if err := c.shared.PutAudio(ctx, c.fileID, index, audio); err != nil {
			slog.Debug("shared audio cache write failed", "file_id", c.fileID, "index", index, "error", err.Error())
		}
	}
	return audio, nil
}

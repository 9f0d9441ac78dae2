package assemble

import (
	"context"
	"testing"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	pages     []tables.Page
	sentences []tables.Sentence
	parsed    map[string]string
	raw       map[string]string
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{parsed: make(map[string]string), raw: make(map[string]string)}
}

// Inserts enforce the same unique indexes as the real tables: one page row
// per (file, page number), one sentence row per (file, seq).
func (m *memStore) InsertPage(ctx context.Context, page *tables.Page) error {
	for _, p := range m.pages {
		if p.FileId == page.FileId && p.PageNumber == page.PageNumber {
			return ErrPageCommitted
		}
	}
	m.nextID++
	page.Id = m.nextID
	m.pages = append(m.pages, *page)
	return nil
}

func (m *memStore) InsertSentences(ctx context.Context, rows []tables.Sentence) error {
	for _, existing := range m.sentences {
		for _, row := range rows {
			if existing.FileId == row.FileId && existing.Seq == row.Seq {
				return ErrPageCommitted
			}
		}
	}
	m.sentences = append(m.sentences, rows...)
	return nil
}

func (m *memStore) GetPage(ctx context.Context, fileID string, pageNumber int) (tables.Page, bool, error) {
	for _, p := range m.pages {
		if p.FileId == fileID && p.PageNumber == pageNumber {
			return p, true, nil
		}
	}
	return tables.Page{}, false, nil
}

func (m *memStore) SaveParsedText(ctx context.Context, fileID, parsedText, rawMarkdown string) error {
	m.parsed[fileID] = parsedText
	m.raw[fileID] = rawMarkdown
	return nil
}

type fakeTracker struct {
	jobs      map[string]tables.Job
	progress  []int
	completed []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{jobs: make(map[string]tables.Job)}
}

func (f *fakeTracker) GetByID(ctx context.Context, id string) (tables.Job, error) {
	return f.jobs[id], nil
}

func (f *fakeTracker) ReportProgress(ctx context.Context, id string, percent int) error {
	f.progress = append(f.progress, percent)
	job := f.jobs[id]
	job.Completion = percent
	job.Status = tables.JobStatusRunning
	f.jobs[id] = job
	return nil
}

func (f *fakeTracker) ReportCompleted(ctx context.Context, id, resultRef string) error {
	f.completed = append(f.completed, resultRef)
	job := f.jobs[id]
	job.Status = tables.JobStatusCompleted
	job.Completion = 100
	job.ResultRef = resultRef
	f.jobs[id] = job
	return nil
}

func pageResult(jobID string, pageNum int, percent int, startSeq int64, texts ...string) models.PageResult {
	res := models.PageResult{
		JobId:      jobID,
		PageNumber: pageNum,
		Width:      612,
		Height:     792,
		Markdown:   "# page",
		Percent:    percent,
	}
	for i, text := range texts {
		res.Sentences = append(res.Sentences, models.SentenceResult{
			Seq:  startSeq + int64(i),
			Text: text,
			Bbox: [][][2]float64{{{10, 10}, {100, 10}, {100, 30}, {10, 30}}},
		})
	}
	return res
}

func TestApplyPageCommitsInOrder(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Kind: tables.JobKindParse, Status: tables.JobStatusPending}
	asm := New(store, store, tracker)
	ctx := context.Background()

	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 0, 38, 0, "First.", "Second.")))
	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 1, 62, 2, "Third.")))

	require.Len(t, store.pages, 2)
	assert.Equal(t, 0, store.pages[0].PageNumber)
	assert.Equal(t, 1, store.pages[1].PageNumber)

	// sentence sequence numbers form a contiguous run from 0
	require.Len(t, store.sentences, 3)
	for i, s := range store.sentences {
		assert.EqualValues(t, i, s.Seq)
		assert.Equal(t, "f1", s.FileId)
	}
	// sentences carry their page's id
	assert.Equal(t, store.pages[0].Id, store.sentences[0].PageId)
	assert.Equal(t, store.pages[1].Id, store.sentences[2].PageId)

	assert.Equal(t, []int{38, 62}, tracker.progress)
}

// The worker retries delivery when an acknowledgement is lost; the retried
// page must not duplicate rows, must not error, and must still land its
// progress report.
func TestApplyPageRedeliveryIsNoop(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Kind: tables.JobKindParse, Status: tables.JobStatusPending}
	asm := New(store, store, tracker)
	ctx := context.Background()

	res := pageResult("j1", 0, 38, 0, "First.", "Second.")
	require.NoError(t, asm.ApplyPage(ctx, res))
	require.NoError(t, asm.ApplyPage(ctx, res))

	assert.Len(t, store.pages, 1)
	assert.Len(t, store.sentences, 2)
	assert.Equal(t, []int{38, 38}, tracker.progress)
}

// A crash between the page insert and the sentence insert leaves a page row
// with no sentences; the redelivery attaches them to the existing row.
func TestApplyPageRedeliveryRecoversLostSentences(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Kind: tables.JobKindParse, Status: tables.JobStatusPending}
	asm := New(store, store, tracker)
	ctx := context.Background()

	// first attempt committed only the page row
	require.NoError(t, store.InsertPage(ctx, &tables.Page{FileId: "f1", PageNumber: 0, Width: 612, Height: 792}))

	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 0, 38, 0, "First.", "Second.")))

	require.Len(t, store.pages, 1)
	require.Len(t, store.sentences, 2)
	assert.Equal(t, store.pages[0].Id, store.sentences[0].PageId)
	assert.Equal(t, []int{38}, tracker.progress)
}

func TestApplyPageDroppedForTerminalJob(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Status: tables.JobStatusCompleted, Completion: 100}
	asm := New(store, store, tracker)

	require.NoError(t, asm.ApplyPage(context.Background(), pageResult("j1", 5, 60, 10, "Stale.")))
	assert.Empty(t, store.pages)
	assert.Empty(t, tracker.progress)
}

func TestFinalizeExtraction(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Kind: tables.JobKindParse, Status: tables.JobStatusRunning, Completion: 95}
	asm := New(store, store, tracker)

	err := asm.FinalizeExtraction(context.Background(), models.CompletedResult{
		JobId:       "j1",
		Text:        "First. Second. Third.",
		RawMarkdown: "# page\nFirst. Second. Third.",
	})
	require.NoError(t, err)

	assert.Equal(t, "First. Second. Third.", store.parsed["f1"])
	assert.Equal(t, []string{"f1"}, tracker.completed)
	assert.Equal(t, tables.JobStatusCompleted, tracker.jobs["j1"].Status)
}

func TestFinalizeExtractionReplayIsNoop(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Status: tables.JobStatusCompleted}
	asm := New(store, store, tracker)

	require.NoError(t, asm.FinalizeExtraction(context.Background(), models.CompletedResult{JobId: "j1", Text: "dup"}))
	assert.Empty(t, store.parsed)
	assert.Empty(t, tracker.completed)
}

// Above the early-unlock threshold the committed pages and sentences are a
// complete, readable prefix of the document.
func TestPartialViewReadableAboveThreshold(t *testing.T) {
	store := newMemStore()
	tracker := newFakeTracker()
	tracker.jobs["j1"] = tables.Job{Id: "j1", FileId: "f1", Kind: tables.JobKindParse, Status: tables.JobStatusPending}
	asm := New(store, store, tracker)
	ctx := context.Background()

	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 0, 18, 0, "S0.", "S1.")))
	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 1, 21, 2, "S2.")))
	require.NoError(t, asm.ApplyPage(ctx, pageResult("j1", 2, 25, 3, "S3.")))

	job := tracker.jobs["j1"]
	assert.Greater(t, job.Completion, 15)
	assert.Len(t, store.pages, 3)
	require.Len(t, store.sentences, 4)
	assert.EqualValues(t, 0, store.sentences[0].Seq)
	assert.Equal(t, "S0.", store.sentences[0].Text)
}

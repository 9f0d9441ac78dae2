package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
)

// ErrPageCommitted reports that the rows already exist. Worker delivery is
// at-least-once, so a retried page result lands on the unique page/sentence
// indexes; stores map that to this error instead of surfacing it.
var ErrPageCommitted = errors.New("page already committed")

// PageStore persists extraction output. Pages and sentences are append-only:
// inserted once in reading order, never revised. That ordering guarantee is
// what makes consuming partial results safe. Inserting rows that already
// exist must fail with ErrPageCommitted.
type PageStore interface {
	InsertPage(ctx context.Context, page *tables.Page) error
	InsertSentences(ctx context.Context, sentences []tables.Sentence) error
	GetPage(ctx context.Context, fileID string, pageNumber int) (tables.Page, bool, error)
}

// FileStore receives the finalized full-document text.
type FileStore interface {
	SaveParsedText(ctx context.Context, fileID, parsedText, rawMarkdown string) error
}

// Tracker is the slice of the job tracker the assembler drives.
type Tracker interface {
	GetByID(ctx context.Context, id string) (tables.Job, error)
	ReportProgress(ctx context.Context, id string, percent int) error
	ReportCompleted(ctx context.Context, id, resultRef string) error
}

// Assembler merges per-page worker results into storage as they arrive and
// advances the job's completion percent.
type Assembler struct {
	pages   PageStore
	files   FileStore
	tracker Tracker
}

func New(pages PageStore, files FileStore, tracker Tracker) *Assembler {
	return &Assembler{pages: pages, files: files, tracker: tracker}
}

// ApplyPage commits one page and its sentences, then reports the worker's
// percentage. Delivery is at-least-once, so both failure modes of a retry
// are absorbed: results for a job already in a terminal state are dropped
// with a log line, and a redelivered page that is already committed skips
// the inserts but still lands its progress report, so a retry after a lost
// acknowledgement converges instead of erroring forever.
func (a *Assembler) ApplyPage(ctx context.Context, res models.PageResult) error {
	job, err := a.tracker.GetByID(ctx, res.JobId)
	if err != nil {
		return err
	}
	if jobs.IsTerminal(job.Status) {
		slog.Info("dropping page result for terminal job", "job_id", res.JobId, "page", res.PageNumber)
		return nil
	}

	page := tables.Page{
		FileId:       job.FileId,
		PageNumber:   res.PageNumber,
		Width:        res.Width,
		Height:       res.Height,
		MarkdownText: res.Markdown,
	}
	if err := a.pages.InsertPage(ctx, &page); err != nil {
		if !errors.Is(err, ErrPageCommitted) {
			return fmt.Errorf("insert page %d: %w", res.PageNumber, err)
		}
		// redelivery: reuse the committed row's id so the sentence rows,
		// if a previous attempt lost them, still attach to the right page
		existing, found, gerr := a.pages.GetPage(ctx, job.FileId, res.PageNumber)
		if gerr != nil {
			return fmt.Errorf("load committed page %d: %w", res.PageNumber, gerr)
		}
		if !found {
			return fmt.Errorf("page %d reported committed but not found", res.PageNumber)
		}
		page = existing
		slog.Info("redelivered page result", "job_id", res.JobId, "page", res.PageNumber)
	}

	if len(res.Sentences) > 0 {
		rows := make([]tables.Sentence, 0, len(res.Sentences))
		for _, s := range res.Sentences {
			bbox, err := json.Marshal(s.Bbox)
			if err != nil {
				return fmt.Errorf("encode bbox for sentence %d: %w", s.Seq, err)
			}
			rows = append(rows, tables.Sentence{
				PageId: page.Id,
				FileId: job.FileId,
				Seq:    s.Seq,
				Text:   s.Text,
				Bbox:   string(bbox),
			})
		}
		if err := a.pages.InsertSentences(ctx, rows); err != nil {
			if !errors.Is(err, ErrPageCommitted) {
				return fmt.Errorf("insert sentences for page %d: %w", res.PageNumber, err)
			}
			slog.Info("sentences already committed", "job_id", res.JobId, "page", res.PageNumber)
		}
	}

	return a.tracker.ReportProgress(ctx, res.JobId, res.Percent)
}

// FinalizeExtraction stores the concatenated document text on the file row
// and completes the job with the file as its result reference.
func (a *Assembler) FinalizeExtraction(ctx context.Context, res models.CompletedResult) error {
	job, err := a.tracker.GetByID(ctx, res.JobId)
	if err != nil {
		return err
	}
	if jobs.IsTerminal(job.Status) {
		slog.Info("dropping completion for terminal job", "job_id", res.JobId)
		return nil
	}

	if err := a.files.SaveParsedText(ctx, job.FileId, res.Text, res.RawMarkdown); err != nil {
		return fmt.Errorf("save parsed text: %w", err)
	}
	return a.tracker.ReportCompleted(ctx, res.JobId, job.FileId)
}

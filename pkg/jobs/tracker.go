package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"

	"github.com/google/uuid"
)

// EarlyUnlockPercent is the completion threshold past which partial
// extraction results are safe to consume: pages and sentences are committed
// in reading order and never revised, so viewers may render and start
// playback before the job finishes.
const EarlyUnlockPercent = 15

var ErrJobNotFound = errors.New("job not found")

// Store is the persistence boundary for job rows.
type Store interface {
	Insert(ctx context.Context, job *tables.Job) error
	Get(ctx context.Context, id string) (tables.Job, bool, error)
	Latest(ctx context.Context, fileID, kind string) (tables.Job, bool, error)
	Update(ctx context.Context, job *tables.Job, cols ...string) error
}

// Tracker owns the job state machine: pending -> running -> completed|failed.
// Terminal states are final; replayed worker callbacks are dropped, which
// makes at-least-once delivery safe.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Create inserts a pending job. attemptOf links a retry back to the job it
// replaces, for audit; pass "" for a first attempt.
func (t *Tracker) Create(ctx context.Context, fileID, kind, attemptOf string) (tables.Job, error) {
	job := tables.Job{
		Id:        uuid.New().String(),
		FileId:    fileID,
		Kind:      kind,
		Status:    tables.JobStatusPending,
		AttemptOf: attemptOf,
	}
	if err := t.store.Insert(ctx, &job); err != nil {
		return tables.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (t *Tracker) GetByID(ctx context.Context, id string) (tables.Job, error) {
	job, found, err := t.store.Get(ctx, id)
	if err != nil {
		return tables.Job{}, err
	}
	if !found {
		return tables.Job{}, ErrJobNotFound
	}
	return job, nil
}

// GetLatest returns the most recently created job of the kind for the file.
// Retries create new rows, so only the latest is authoritative for display.
func (t *Tracker) GetLatest(ctx context.Context, fileID, kind string) (tables.Job, bool, error) {
	return t.store.Latest(ctx, fileID, kind)
}

// ReportProgress applies a worker progress callback. Progress on a job that
// already reached a terminal state is logged and dropped so a stale or
// duplicated message can never reopen a finished job.
func (t *Tracker) ReportProgress(ctx context.Context, id string, percent int) error {
	job, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(job.Status) {
		slog.Info("dropping progress for terminal job", "job_id", id, "status", job.Status, "percent", percent)
		return nil
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	job.Completion = percent
	if percent > 0 {
		job.Status = tables.JobStatusRunning
	}
	return t.store.Update(ctx, &job, "completion", "status")
}

// ReportCompleted finalizes a job at 100%. A completed job must carry a
// result reference; a completion callback without one is rejected so the
// worker retries with a full payload instead of finishing the job with no
// artifact.
func (t *Tracker) ReportCompleted(ctx context.Context, id, resultRef string) error {
	if resultRef == "" {
		return fmt.Errorf("job %s: completion requires a result reference", id)
	}

	job, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(job.Status) {
		slog.Info("dropping completion for terminal job", "job_id", id, "status", job.Status)
		return nil
	}

	job.Status = tables.JobStatusCompleted
	job.Completion = 100
	job.ResultRef = resultRef
	return t.store.Update(ctx, &job, "status", "completion", "result_ref")
}

// ReportFailed marks a job failed with a detail string for display. The only
// recovery is a fresh submission; failed jobs are never resurrected.
func (t *Tracker) ReportFailed(ctx context.Context, id, errorDetail string) error {
	job, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(job.Status) {
		slog.Info("dropping failure for terminal job", "job_id", id, "status", job.Status)
		return nil
	}

	job.Status = tables.JobStatusFailed
	job.ErrorDetail = errorDetail
	return t.store.Update(ctx, &job, "status", "error_detail")
}

func IsTerminal(status string) bool {
	return status == tables.JobStatusCompleted || status == tables.JobStatusFailed
}

// View builds the poll read model for a job.
func View(job tables.Job) models.JobView {
	return models.JobView{
		Id:           job.Id,
		FileId:       job.FileId,
		Kind:         job.Kind,
		Status:       job.Status,
		Completion:   job.Completion,
		ErrorDetail:  job.ErrorDetail,
		ResultRef:    job.ResultRef,
		PartialReady: job.Completion > EarlyUnlockPercent,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

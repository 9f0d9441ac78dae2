package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmoscardi/textbook-tts/models/tables"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	"github.com/cmoscardi/textbook-tts/pkg/quota"
)

var (
	// ErrForbidden: the caller does not own the document.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyInProgress: an extraction for this document is pending or
	// running; the client should poll the existing job instead.
	ErrAlreadyInProgress = errors.New("job already in progress")

	// ErrWorkerUnavailable: dispatch failed before the compute pool held
	// the job. The job row is marked failed; reserved quota stays spent.
	ErrWorkerUnavailable = errors.New("worker unavailable")
)

// FileStore resolves document ownership.
type FileStore interface {
	File(ctx context.Context, id string) (tables.File, bool, error)
}

// Ledger is the quota slice the gateway consults.
type Ledger interface {
	CanConsume(ctx context.Context, userID string, units int64) (bool, error)
	Reserve(ctx context.Context, userID string, units int64) (tables.UsagePeriod, error)
}

// Tracker is the job slice the gateway drives.
type Tracker interface {
	Create(ctx context.Context, fileID, kind, attemptOf string) (tables.Job, error)
	GetLatest(ctx context.Context, fileID, kind string) (tables.Job, bool, error)
	ReportFailed(ctx context.Context, id, errorDetail string) error
}

// Pool dispatches to the external compute workers without blocking.
type Pool interface {
	SubmitExtraction(ctx context.Context, jobID, fileID string) error
	SubmitConversion(ctx context.Context, jobID, fileID string) error
}

// Gateway validates ownership, charges quota, and dispatches pipeline jobs.
type Gateway struct {
	files   FileStore
	ledger  Ledger
	tracker Tracker
	pool    Pool
}

func New(files FileStore, ledger Ledger, tracker Tracker, pool Pool) *Gateway {
	return &Gateway{files: files, ledger: ledger, tracker: tracker, pool: pool}
}

// Submit admits one extraction or conversion job. The quota reservation
// happens before dispatch so a burst of concurrent submissions cannot all
// pass a stale check and overshoot the limit; the atomic reserve is the
// single point of truth. The call returns as soon as the job is handed off.
func (g *Gateway) Submit(ctx context.Context, userID, fileID, kind string, units int64) (tables.Job, error) {
	file, found, err := g.files.File(ctx, fileID)
	if err != nil {
		return tables.Job{}, fmt.Errorf("load file: %w", err)
	}
	if !found || file.UserId != userID {
		return tables.Job{}, ErrForbidden
	}

	latest, hasLatest, err := g.tracker.GetLatest(ctx, fileID, kind)
	if err != nil {
		return tables.Job{}, err
	}

	// at most one live extraction per document
	if kind == tables.JobKindParse && hasLatest && !jobs.IsTerminal(latest.Status) {
		return tables.Job{}, ErrAlreadyInProgress
	}

	// cheap rejection before touching the atomic path
	ok, err := g.ledger.CanConsume(ctx, userID, units)
	if err != nil {
		return tables.Job{}, err
	}
	if !ok {
		return tables.Job{}, quota.ErrQuotaExceeded
	}

	if _, err := g.ledger.Reserve(ctx, userID, units); err != nil {
		return tables.Job{}, err
	}

	// a resubmission after a terminal attempt is a fresh row with an audit
	// link back, never a resurrection
	attemptOf := ""
	if hasLatest && jobs.IsTerminal(latest.Status) {
		attemptOf = latest.Id
	}

	job, err := g.tracker.Create(ctx, fileID, kind, attemptOf)
	if err != nil {
		return tables.Job{}, err
	}

	if err := g.dispatch(ctx, job); err != nil {
		slog.Error("dispatch failed", "job_id", job.Id, "kind", kind, "error", err.Error())
		detail := "worker unavailable: " + err.Error()
		if ferr := g.tracker.ReportFailed(ctx, job.Id, detail); ferr != nil {
			slog.Error("failed to mark undispatched job failed", "job_id", job.Id, "error", ferr.Error())
		}
		return tables.Job{}, fmt.Errorf("%s: %w", err.Error(), ErrWorkerUnavailable)
	}

	return job, nil
}

func (g *Gateway) dispatch(ctx context.Context, job tables.Job) error {
	if job.Kind == tables.JobKindConvert {
		return g.pool.SubmitConversion(ctx, job.Id, job.FileId)
	}
	return g.pool.SubmitExtraction(ctx, job.Id, job.FileId)
}

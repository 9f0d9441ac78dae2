package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/models/tables"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	"github.com/cmoscardi/textbook-tts/pkg/logger"
	"github.com/cmoscardi/textbook-tts/pkg/mlpool"
	"github.com/cmoscardi/textbook-tts/pkg/storage"

	"github.com/hibiken/asynq"
)

const (
	PipelineParse   = "pipeline:parse"
	PipelineConvert = "pipeline:convert"

	// dedicated queues mirror the compute pool's routing: parsing and
	// conversion scale independently
	QueueParse   = "parse"
	QueueConvert = "convert"

	signedURLExpirySeconds = 3600
)

var AsynqClient *asynq.Client

func init() {
	AsynqClient = asynq.NewClient(asynq.RedisClientOpt{Addr: fmt.Sprintf("%s:%d", config.Cfg.Redis.Host, config.Cfg.Redis.Port), Password: config.Cfg.Redis.Password})
}

type PipelinePayload struct {
	JobId  string `json:"job_id"`
	FileId string `json:"file_id"`
}

func NewParseTask(jobID string, fileID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PipelinePayload{JobId: jobID, FileId: fileID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(PipelineParse, payload), nil
}

func NewConvertTask(jobID string, fileID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PipelinePayload{JobId: jobID, FileId: fileID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(PipelineConvert, payload), nil
}

// Dispatcher is the admission gateway's handle on the compute pool: enqueue
// and return, never wait for the job.
type Dispatcher struct{}

func (Dispatcher) SubmitExtraction(ctx context.Context, jobID string, fileID string) error {
	task, err := NewParseTask(jobID, fileID)
	if err != nil {
		return err
	}
	info, err := AsynqClient.EnqueueContext(ctx, task, asynq.Queue(QueueParse))
	if err != nil {
		return fmt.Errorf("enqueue parse task: %w", err)
	}
	logger.Logger.Info("enqueued parse task", "task_id", info.ID, "queue", info.Queue, "job_id", jobID)
	return nil
}

func (Dispatcher) SubmitConversion(ctx context.Context, jobID string, fileID string) error {
	task, err := NewConvertTask(jobID, fileID)
	if err != nil {
		return err
	}
	info, err := AsynqClient.EnqueueContext(ctx, task, asynq.Queue(QueueConvert))
	if err != nil {
		return fmt.Errorf("enqueue convert task: %w", err)
	}
	logger.Logger.Info("enqueued convert task", "task_id", info.ID, "queue", info.Queue, "job_id", jobID)
	return nil
}

func tracker() *jobs.Tracker {
	return jobs.NewTracker(jobs.NewSQLStore(mysql.MysqlEngine))
}

func poolClient() *mlpool.Client {
	return mlpool.NewClient(config.Cfg.MLPool.BaseUrl, config.Cfg.MLPool.CallbackBaseUrl, config.Cfg.MLPool.CallbackToken)
}

// HandleParseTask forwards an extraction job to the ML pool: issue a signed
// URL for the raw upload, hand it over with our callback address. Everything
// after that arrives through the callback routes.
func HandleParseTask(ctx context.Context, t *asynq.Task) error {
	var p PipelinePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	file, err := fetchFile(ctx, p.FileId)
	if err != nil {
		return failDispatch(ctx, p.JobId, fmt.Errorf("load file: %w", err))
	}

	store := storage.NewClient(config.Cfg.Supabase.SupabaseUrl, config.Cfg.Supabase.SupabaseSecretKey)
	signedURL, err := store.SignedURL(ctx, "files", file.FilePath, signedURLExpirySeconds)
	if err != nil {
		return failDispatch(ctx, p.JobId, fmt.Errorf("sign document url: %w", err))
	}

	if err := poolClient().SubmitParse(ctx, p.JobId, p.FileId, signedURL); err != nil {
		return failDispatch(ctx, p.JobId, err)
	}

	logger.Logger.Info("parse job handed to ml pool", "job_id", p.JobId, "file_id", p.FileId)
	return nil
}

// HandleConvertTask forwards a conversion job with the full parsed text.
func HandleConvertTask(ctx context.Context, t *asynq.Task) error {
	var p PipelinePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	file, err := fetchFile(ctx, p.FileId)
	if err != nil {
		return failDispatch(ctx, p.JobId, fmt.Errorf("load file: %w", err))
	}

	if file.ParsedText == "" {
		return failDispatch(ctx, p.JobId, fmt.Errorf("file %s has no parsed text; run extraction first", p.FileId))
	}

	if err := poolClient().SubmitConvert(ctx, p.JobId, p.FileId, file.ParsedText); err != nil {
		return failDispatch(ctx, p.JobId, err)
	}

	logger.Logger.Info("convert job handed to ml pool", "job_id", p.JobId, "file_id", p.FileId)
	return nil
}

// failDispatch marks the job failed before the pool ever held it. The quota
// already reserved for the job is intentionally not refunded.
func failDispatch(ctx context.Context, jobID string, cause error) error {
	logger.Logger.Error("dispatch to ml pool failed", "job_id", jobID, "error", cause.Error())
	if err := tracker().ReportFailed(ctx, jobID, "worker unavailable: "+cause.Error()); err != nil {
		logger.Logger.Error("failed to mark job failed", "job_id", jobID, "error", err.Error())
	}
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

func fetchFile(ctx context.Context, fileID string) (tables.File, error) {
	var file tables.File
	has, err := mysql.MysqlEngine.Context(ctx).ID(fileID).Get(&file)
	if err != nil {
		return tables.File{}, err
	}
	if !has {
		return tables.File{}, fmt.Errorf("file %s not found", fileID)
	}
	return file, nil
}

// Stats logs queue depths periodically via the asynq inspector.
func Stats() {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: fmt.Sprintf("%s:%d", config.Cfg.Redis.Host, config.Cfg.Redis.Port), Password: config.Cfg.Redis.Password})
	for {
		time.Sleep(time.Minute * 1)
		for _, queue := range []string{QueueParse, QueueConvert} {
			info, err := inspector.GetQueueInfo(queue)
			if err != nil {
				continue
			}
			logger.Logger.Info("queue stats", "queue", queue, "pending", info.Pending, "active", info.Active)
		}
	}
}

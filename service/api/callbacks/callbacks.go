package callbacks

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"
	"github.com/cmoscardi/textbook-tts/pkg/assemble"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	"github.com/cmoscardi/textbook-tts/pkg/logger"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"
)

// Callback routes for the compute pool. Delivery is at-least-once, so every
// handler tolerates replays; stale results against terminal jobs are dropped
// downstream and still acknowledged with 200 to stop the pool from retrying.

func tracker() *jobs.Tracker {
	return jobs.NewTracker(jobs.NewSQLStore(mysql.MysqlEngine))
}

func assembler() *assemble.Assembler {
	store := assemble.NewSQLStore(mysql.MysqlEngine)
	return assemble.New(store, store, tracker())
}

// Page ingests one extracted page with its sentences.
func Page(w http.ResponseWriter, r *http.Request) {
	var res models.PageResult
	if !decode(w, r, &res) {
		return
	}
	if err := assembler().ApplyPage(r.Context(), res); err != nil {
		fail(w, "apply page result", res.JobId, err)
		return
	}
	ok(w)
}

// Progress advances the job's completion percent.
func Progress(w http.ResponseWriter, r *http.Request) {
	var res models.ProgressResult
	if !decode(w, r, &res) {
		return
	}
	if err := tracker().ReportProgress(r.Context(), res.JobId, res.Percent); err != nil {
		fail(w, "report progress", res.JobId, err)
		return
	}
	ok(w)
}

// Completed closes out a job. Extraction completions carry the full document
// text; conversion completions carry the audio artifact reference.
func Completed(w http.ResponseWriter, r *http.Request) {
	var res models.CompletedResult
	if !decode(w, r, &res) {
		return
	}

	job, err := tracker().GetByID(r.Context(), res.JobId)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			logger.Logger.Error("completion for unknown job", "job_id", res.JobId)
			notFound(w)
			return
		}
		fail(w, "load job", res.JobId, err)
		return
	}

	if job.Kind == tables.JobKindParse {
		err = assembler().FinalizeExtraction(r.Context(), res)
	} else {
		err = tracker().ReportCompleted(r.Context(), res.JobId, res.ResultRef)
	}
	if err != nil {
		fail(w, "finalize job", res.JobId, err)
		return
	}
	ok(w)
}

// Failed marks the job failed with the worker's error detail.
func Failed(w http.ResponseWriter, r *http.Request) {
	var res models.FailedResult
	if !decode(w, r, &res) {
		return
	}
	if err := tracker().ReportFailed(r.Context(), res.JobId, res.ErrorDetail); err != nil {
		fail(w, "report failure", res.JobId, err)
		return
	}
	ok(w)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		responsex.RespondWithJSON(w, http.StatusBadRequest, models.Response{
			Code: http.StatusBadRequest,
			Msg:  "Invalid payload",
			Data: map[string]interface{}{},
		})
		return false
	}
	return true
}

func ok(w http.ResponseWriter) {
	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: map[string]interface{}{},
	})
}

func notFound(w http.ResponseWriter) {
	responsex.RespondWithJSON(w, http.StatusNotFound, models.Response{
		Code: http.StatusNotFound,
		Msg:  "Unknown job",
		Data: map[string]interface{}{},
	})
}

func fail(w http.ResponseWriter, op, jobID string, err error) {
	logger.Logger.Error("callback failed", "op", op, "job_id", jobID, "error", err.Error())
	responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
		Code: http.StatusInternalServerError,
		Msg:  err.Error(),
		Data: map[string]interface{}{},
	})
}

package status

import (
	"errors"
	"net/http"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/pkg/admission"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"
	"github.com/cmoscardi/textbook-tts/service/api/middleware/auth"

	"github.com/go-chi/chi"
)

// Job is the poll target: clients hit it on a fixed interval until the
// returned status goes terminal.
func Job(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	tracker := jobs.NewTracker(jobs.NewSQLStore(mysql.MysqlEngine))

	job, err := tracker.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			responsex.RespondWithJSON(w, http.StatusNotFound, models.Response{
				Code: http.StatusNotFound,
				Msg:  "Job not found",
				Data: map[string]interface{}{},
			})
			return
		}
		responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
			Code: http.StatusInternalServerError,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	file, found, err := admission.NewSQLFileStore(mysql.MysqlEngine).File(r.Context(), job.FileId)
	if err != nil {
		responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
			Code: http.StatusInternalServerError,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}
	if !found || file.UserId != auth.GetUserIDFromContext(r) {
		responsex.RespondWithJSON(w, http.StatusForbidden, models.Response{
			Code: http.StatusForbidden,
			Msg:  "Forbidden",
			Data: map[string]interface{}{},
		})
		return
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: jobs.View(job),
	})
}

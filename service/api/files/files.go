package files

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"
	"github.com/cmoscardi/textbook-tts/pkg/admission"
	"github.com/cmoscardi/textbook-tts/pkg/assemble"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	"github.com/cmoscardi/textbook-tts/pkg/mlpool"
	"github.com/cmoscardi/textbook-tts/pkg/playback"
	"github.com/cmoscardi/textbook-tts/pkg/quota"
	"github.com/cmoscardi/textbook-tts/pkg/rds"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"
	"github.com/cmoscardi/textbook-tts/pkg/tasks"
	"github.com/cmoscardi/textbook-tts/service/api/middleware/auth"

	"github.com/go-chi/chi"
)

// Each admitted pipeline job charges one quota unit, regardless of document
// length.
const unitsPerJob = 1

func gateway() *admission.Gateway {
	return admission.New(
		admission.NewSQLFileStore(mysql.MysqlEngine),
		quota.New(quota.NewSQLStore(mysql.MysqlEngine)),
		jobs.NewTracker(jobs.NewSQLStore(mysql.MysqlEngine)),
		tasks.Dispatcher{},
	)
}

// Parse admits a text-extraction job for the document.
func Parse(w http.ResponseWriter, r *http.Request) {
	submit(w, r, tables.JobKindParse)
}

// Convert admits a text-to-audio conversion job for the document.
func Convert(w http.ResponseWriter, r *http.Request) {
	submit(w, r, tables.JobKindConvert)
}

func submit(w http.ResponseWriter, r *http.Request, kind string) {
	userID := auth.GetUserIDFromContext(r)
	fileID := chi.URLParam(r, "id")

	job, err := gateway().Submit(r.Context(), userID, fileID, kind, unitsPerJob)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, admission.ErrForbidden):
			code = http.StatusForbidden
		case errors.Is(err, admission.ErrAlreadyInProgress):
			code = http.StatusConflict
		case errors.Is(err, quota.ErrQuotaExceeded):
			code = http.StatusTooManyRequests
		case errors.Is(err, admission.ErrWorkerUnavailable):
			code = http.StatusBadGateway
		}
		responsex.RespondWithJSON(w, code, models.Response{
			Code: code,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	responsex.RespondWithJSON(w, http.StatusAccepted, models.Response{
		Code: http.StatusAccepted,
		Msg:  "success",
		Data: jobs.View(job),
	})
}

type pageView struct {
	PageNumber int                     `json:"page_number"`
	Width      float64                 `json:"width"`
	Height     float64                 `json:"height"`
	Markdown   string                  `json:"markdown"`
	Sentences  []models.SentenceResult `json:"sentences"`
}

type pagesView struct {
	FileId string     `json:"file_id"`
	Parsed bool       `json:"parsed"`
	Pages  []pageView `json:"pages"`
}

// Pages returns every page committed so far, with its sentences in reading
// order. During extraction this is a growing but always-consistent prefix of
// the document.
func Pages(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	file, ok := mustOwnFile(w, r, fileID)
	if !ok {
		return
	}

	store := assemble.NewSQLStore(mysql.MysqlEngine)
	pages, err := store.ListPages(r.Context(), fileID)
	if err != nil {
		internalError(w, err)
		return
	}
	sentences, err := store.ListSentences(r.Context(), fileID)
	if err != nil {
		internalError(w, err)
		return
	}

	byPage := make(map[int64][]models.SentenceResult)
	for _, s := range sentences {
		var bbox [][][2]float64
		if s.Bbox != "" {
			if err := json.Unmarshal([]byte(s.Bbox), &bbox); err != nil {
				bbox = nil
			}
		}
		byPage[s.PageId] = append(byPage[s.PageId], models.SentenceResult{
			Seq:  s.Seq,
			Text: s.Text,
			Bbox: bbox,
		})
	}

	view := pagesView{FileId: fileID, Parsed: file.ParsedAt != nil, Pages: []pageView{}}
	for _, p := range pages {
		view.Pages = append(view.Pages, pageView{
			PageNumber: p.PageNumber,
			Width:      p.Width,
			Height:     p.Height,
			Markdown:   p.MarkdownText,
			Sentences:  byPage[p.Id],
		})
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: view,
	})
}

// SentenceAudio streams synthesized audio for one sentence, for scrub
// playback. The redis layer makes repeat requests for the same sentence a
// cache hit across sessions and server instances.
func SentenceAudio(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, ok := mustOwnFile(w, r, fileID); !ok {
		return
	}

	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil || index < 0 {
		responsex.RespondWithJSON(w, http.StatusBadRequest, models.Response{
			Code: http.StatusBadRequest,
			Msg:  "Invalid sentence index",
			Data: map[string]interface{}{},
		})
		return
	}

	synth := mlpool.NewClient(config.Cfg.MLPool.BaseUrl, config.Cfg.MLPool.CallbackBaseUrl, config.Cfg.MLPool.CallbackToken)
	cache := playback.NewCache(fileID, assemble.NewSQLStore(mysql.MysqlEngine), synth).
		WithShared(playback.NewRedisAudioStore(rds.Client))

	audio, err := cache.Get(r.Context(), index)
	if err != nil {
		if errors.Is(err, playback.ErrNoSentence) {
			responsex.RespondWithJSON(w, http.StatusNotFound, models.Response{
				Code: http.StatusNotFound,
				Msg:  "No sentence at index",
				Data: map[string]interface{}{},
			})
			return
		}
		responsex.RespondWithJSON(w, http.StatusBadGateway, models.Response{
			Code: http.StatusBadGateway,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(audio)
}

// GetPosition returns the saved resume point, index 0 when none exists.
func GetPosition(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, ok := mustOwnFile(w, r, fileID); !ok {
		return
	}

	pos, _, err := playback.NewSQLPositionStore(mysql.MysqlEngine).Position(r.Context(), fileID)
	if err != nil {
		internalError(w, err)
		return
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: models.PositionRequest{SentenceIndex: pos.SentenceIndex},
	})
}

// PutPosition overwrites the resume point. Clients debounce; the last write
// wins.
func PutPosition(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, ok := mustOwnFile(w, r, fileID); !ok {
		return
	}

	var req models.PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SentenceIndex < 0 {
		responsex.RespondWithJSON(w, http.StatusBadRequest, models.Response{
			Code: http.StatusBadRequest,
			Msg:  "Invalid position",
			Data: map[string]interface{}{},
		})
		return
	}

	if err := playback.NewSQLPositionStore(mysql.MysqlEngine).SavePosition(r.Context(), fileID, req.SentenceIndex); err != nil {
		internalError(w, err)
		return
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: map[string]interface{}{},
	})
}

// mustOwnFile resolves the file and enforces ownership, writing the error
// response itself when the check fails. Missing files are reported as 403 to
// avoid leaking which ids exist.
func mustOwnFile(w http.ResponseWriter, r *http.Request, fileID string) (tables.File, bool) {
	file, found, err := admission.NewSQLFileStore(mysql.MysqlEngine).File(r.Context(), fileID)
	if err != nil {
		internalError(w, err)
		return tables.File{}, false
	}
	if !found || file.UserId != auth.GetUserIDFromContext(r) {
		responsex.RespondWithJSON(w, http.StatusForbidden, models.Response{
			Code: http.StatusForbidden,
			Msg:  "Forbidden",
			Data: map[string]interface{}{},
		})
		return tables.File{}, false
	}
	return file, true
}

func internalError(w http.ResponseWriter, err error) {
	responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
		Code: http.StatusInternalServerError,
		Msg:  err.Error(),
		Data: map[string]interface{}{},
	})
}

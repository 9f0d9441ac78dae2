package usage

import (
	"net/http"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	"github.com/cmoscardi/textbook-tts/pkg/quota"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"
	"github.com/cmoscardi/textbook-tts/service/api/middleware/auth"
)

// GetCurrentUsage reports the caller's live usage period: the ledger
// lazily creates or refreshes the row, so this also reflects a billing
// renewal or tier change that happened since the last request.
func GetCurrentUsage(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r)
	store := quota.NewSQLStore(mysql.MysqlEngine)

	usage, err := quota.New(store).GetOrCreateUsage(r.Context(), userID)
	if err != nil {
		responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
			Code: http.StatusInternalServerError,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	user, err := store.User(r.Context(), userID)
	if err != nil {
		responsex.RespondWithJSON(w, http.StatusInternalServerError, models.Response{
			Code: http.StatusInternalServerError,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	view := models.UsageView{
		PeriodKind:  usage.PeriodKind,
		PeriodStart: usage.PeriodStart.UTC().Format(time.RFC3339),
		UnitsUsed:   usage.UnitsUsed,
		UnitLimit:   usage.UnitLimit,
		Unlimited:   user.Unlimited,
	}
	if usage.PeriodEnd != nil {
		view.PeriodEnd = usage.PeriodEnd.UTC().Format(time.RFC3339)
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: view,
	})
}

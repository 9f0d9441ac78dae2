package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/pkg/billing"
	"github.com/cmoscardi/textbook-tts/pkg/db/mysql"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"
)

// Receive accepts one billing-provider event. A 200 means the delivery is
// claimed, including redeliveries and events whose handler failed; the
// provider must only retry on non-2xx.
func Receive(w http.ResponseWriter, r *http.Request) {
	var event models.BillingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		responsex.RespondWithJSON(w, http.StatusBadRequest, models.Response{
			Code: http.StatusBadRequest,
			Msg:  "Invalid event payload",
			Data: map[string]interface{}{},
		})
		return
	}

	store := billing.NewSQLStore(mysql.MysqlEngine)
	if err := billing.NewIntake(store, store).Process(r.Context(), event); err != nil {
		responsex.RespondWithJSON(w, http.StatusBadRequest, models.Response{
			Code: http.StatusBadRequest,
			Msg:  err.Error(),
			Data: map[string]interface{}{},
		})
		return
	}

	responsex.RespondWithJSON(w, http.StatusOK, models.Response{
		Code: http.StatusOK,
		Msg:  "success",
		Data: map[string]interface{}{},
	})
}

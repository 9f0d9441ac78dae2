package responsex

import (
	"encoding/json"
	"net/http"

	"github.com/cmoscardi/textbook-tts/models/models"
)

func RespondWithJSON(w http.ResponseWriter, http_status_code int, response models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http_status_code)
	_ = json.NewEncoder(w).Encode(response)
}

package apperr

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/agency-leads/pkg/logging"
)

// ErrorBody is the client-facing error payload.
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details any      `json:"details,omitempty"`
	Type    Category `json:"type"`
}

// Envelope is the uniform error response.
type Envelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteError serializes err into the error envelope. Unclassified errors
// become INTERNAL_ERROR; any 5xx is logged with its full cause while the
// client only sees the generic message.
func WriteError(w http.ResponseWriter, logger *logging.Logger, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}

	if appErr.Status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"code", appErr.Code,
			"category", appErr.Category,
			"error", err,
		)
	}

	WriteJSON(w, appErr.Status, Envelope{
		Success: false,
		Error: ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
			Type:    appErr.Category,
		},
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package ui

import (
	"encoding/json"
	"net/http"

	"github.com/filigree-dev/filigree/internal/engine"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// statusFor maps engine error codes to HTTP statuses: shape problems are 400,
// missing resources 404, workflow violations 422.
func statusFor(code string) int {
	switch code {
	case engine.CodeValidation, engine.CodeInvalidPath:
		return http.StatusBadRequest
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodeInvalid, engine.CodeInvalidTransition,
		engine.CodeAlreadyClaimed, engine.CodeWouldCreateCycle, engine.CodeConflict:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := engine.CodeOf(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusFor(code))
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: err.Error(),
		Code:    code,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

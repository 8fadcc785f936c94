package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/pkg/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError maps a domain error to its HTTP status. Internal causes are
// logged and never leak to the client.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	msg := "internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Code != apperr.CodeInternal {
		msg = appErr.Message
	}

	var status int
	switch code {
	case apperr.CodeValidation:
		status = http.StatusUnprocessableEntity
	case apperr.CodeAccessDenied:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		logger.Errorf("handler: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: string(code)})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

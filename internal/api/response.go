package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/query"
)

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type listResponse struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data"`
	Pagination query.Pagination `json:"pagination"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

func writeList(w http.ResponseWriter, data any, p query.Pagination) {
	writeJSON(w, http.StatusOK, listResponse{Success: true, Data: data, Pagination: p})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// statusFor maps an error kind to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch k := apperr.KindOf(err); k {
	case apperr.KindValidation:
		return http.StatusBadRequest, k.String()
	case apperr.KindForbidden:
		return http.StatusForbidden, k.String()
	case apperr.KindNotFound:
		return http.StatusNotFound, k.String()
	case apperr.KindCapacity, apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict, k.String()
	case apperr.KindStorage:
		return http.StatusServiceUnavailable, k.String()
	case apperr.KindInvariant:
		return http.StatusInternalServerError, k.String()
	}
	return http.StatusInternalServerError, "internal_error"
}

// handleError writes err as an error response. Details of server-side
// failures are logged, not returned.
func handleError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := statusFor(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
		switch status {
		case http.StatusServiceUnavailable:
			msg = "storage is unavailable, please retry later"
		default:
			msg = "internal error"
		}
	}

	writeError(w, status, code, msg)
}

package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    any  `json:"meta,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK renders a success envelope around data.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, dataBody{Success: true, Data: data})
}

// OKWithMeta renders a success envelope with an extra meta object (pagination, counts).
func OKWithMeta(w http.ResponseWriter, status int, data, meta any) {
	JSON(w, status, dataBody{Success: true, Data: data, Meta: meta})
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorBody{
		Success: false,
		Code:    code,
		Message: message,
		Details: details,
	})
}

// WriteError maps err onto the error envelope. Anything that is not an AppError
// is treated as an unexpected failure, logged and hidden behind a 500.
func WriteError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	if err == nil {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "unknown error", nil)
		return
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = CodeBadRequest
		}
		if status >= http.StatusInternalServerError && logger != nil {
			logger.Error().Err(err).Str("code", code).Msg("request failed")
		}
		JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	if logger != nil {
		logger.Error().Err(err).Msg("unexpected error")
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}

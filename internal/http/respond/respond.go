package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Data      any               `json:"data,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, status int, errorCode, message string) {
	write(w, status, Envelope{Code: status, Message: message, ErrorCode: errorCode})
}

// AppError writes err using its wire code and status. Untyped errors become a
// generic 500 so internal detail never leaks to the caller.
func AppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.Code(err)
	message := "an internal error occurred"
	var fields map[string]string

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.Message
		fields = appErr.Fields
	case status != http.StatusInternalServerError:
		message = http.StatusText(status)
	}
	write(w, status, Envelope{Code: status, Message: message, ErrorCode: code, Fields: fields})
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", slog.String("error", err.Error()))
	}
}

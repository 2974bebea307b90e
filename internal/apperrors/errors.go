package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for every failure kind the auth core reports.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateIdentity  = errors.New("identity already exists")
	ErrDuplicateEmail     = fmt.Errorf("%w: email taken", ErrDuplicateIdentity)
	ErrDuplicateUsername  = fmt.Errorf("%w: username taken", ErrDuplicateIdentity)
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpired            = errors.New("token expired")
	ErrRevoked            = errors.New("token revoked")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrRateLimited        = errors.New("rate limited")
)

// Wire codes carried in error responses.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeExpired            = "TOKEN_EXPIRED"
	CodeRevoked            = "TOKEN_REVOKED"
	CodeTimeout            = "TIMEOUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is a typed failure with a wire code and HTTP status.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidInput creates a 400 error. fields maps input names to a reason.
func InvalidInput(message string, fields map[string]string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
		Fields:  fields,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidCredentials creates the single undifferentiated login failure.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    CodeInvalidCredentials,
		Message: "invalid credentials",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// DuplicateEmail creates a 409 error for a taken email address.
func DuplicateEmail() *AppError {
	return &AppError{
		Code:    CodeDuplicateEmail,
		Message: "email is already registered",
		Fields:  map[string]string{"email": "is already registered"},
		Status:  http.StatusConflict,
		Err:     ErrDuplicateEmail,
	}
}

// DuplicateUsername creates a 409 error for a taken username.
func DuplicateUsername() *AppError {
	return &AppError{
		Code:    CodeDuplicateUsername,
		Message: "username is already taken",
		Fields:  map[string]string{"username": "is already taken"},
		Status:  http.StatusConflict,
		Err:     ErrDuplicateUsername,
	}
}

// InvalidToken creates a 401 error for a malformed or mis-signed token.
func InvalidToken(message string) *AppError {
	return &AppError{Code: CodeInvalidToken, Message: message, Status: http.StatusUnauthorized, Err: ErrInvalidToken}
}

// Expired creates a 401 error for a token past its expiry.
func Expired(message string) *AppError {
	return &AppError{Code: CodeExpired, Message: message, Status: http.StatusUnauthorized, Err: ErrExpired}
}

// Revoked creates a 401 error for a refresh token that is no longer the active one.
func Revoked(message string) *AppError {
	return &AppError{Code: CodeRevoked, Message: message, Status: http.StatusUnauthorized, Err: ErrRevoked}
}

// Timeout creates a 504 error. err is the underlying deadline or transport failure.
func Timeout(op string, err error) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: op + " timed out",
		Status:  http.StatusGatewayTimeout,
		Err:     errors.Join(ErrTimeout, err),
	}
}

// Unauthorized creates a 401 error for missing or unusable credentials on a protected call.
func Unauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized, Err: ErrUnauthorized}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message, Status: http.StatusForbidden, Err: ErrForbidden}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// RateLimited creates a 429 error.
func RateLimited() *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: "too many attempts, slow down",
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// FromContext converts a context failure into a Timeout error and passes other
// errors through. Errors that are already typed are returned unchanged.
func FromContext(op string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(op, err)
	}
	return err
}

// FromCode rebuilds a typed error from a wire code, for clients decoding API responses.
func FromCode(code, message string, fields map[string]string) error {
	var e *AppError
	switch code {
	case CodeInvalidInput:
		e = InvalidInput(message, fields)
	case CodeInvalidCredentials:
		e = InvalidCredentials()
	case CodeDuplicateEmail:
		e = DuplicateEmail()
	case CodeDuplicateUsername:
		e = DuplicateUsername()
	case CodeInvalidToken:
		e = InvalidToken(message)
	case CodeExpired:
		e = Expired(message)
	case CodeRevoked:
		e = Revoked(message)
	case CodeTimeout:
		e = Timeout("remote call", nil)
	case CodeUnauthorized:
		e = Unauthorized(message)
	case CodeForbidden:
		e = Forbidden(message)
	case CodeNotFound:
		e = &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound, Err: ErrNotFound}
	case CodeRateLimited:
		e = RateLimited()
	default:
		return fmt.Errorf("%s: %s", code, message)
	}
	if message != "" {
		e.Message = message
	}
	return e
}

// IsTerminal reports whether err means the server rejected the refresh token,
// so the session cannot continue. A Timeout is not terminal on its own.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrRevoked)
}

// Code returns the wire code for err.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateIdentity):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpired), errors.Is(err, ErrRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateErrors_WrapDuplicateIdentity(t *testing.T) {
	assert.True(t, errors.Is(DuplicateEmail(), ErrDuplicateIdentity))
	assert.True(t, errors.Is(DuplicateUsername(), ErrDuplicateIdentity))
	assert.True(t, errors.Is(DuplicateEmail(), ErrDuplicateEmail))
	assert.False(t, errors.Is(DuplicateEmail(), ErrDuplicateUsername))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", InvalidInput("bad", nil), http.StatusBadRequest},
		{"credentials", InvalidCredentials(), http.StatusUnauthorized},
		{"duplicate", DuplicateEmail(), http.StatusConflict},
		{"revoked", Revoked("gone"), http.StatusUnauthorized},
		{"timeout", Timeout("refresh", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{"bare deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestFromContext(t *testing.T) {
	err := FromContext("verify", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, CodeTimeout, Code(err))

	other := errors.New("db down")
	assert.Same(t, other, FromContext("verify", other))
}

func TestFromContext_KeepsTypedErrors(t *testing.T) {
	typed := Timeout("POST /auth/refresh", context.DeadlineExceeded)
	err := FromContext("refresh", typed)
	assert.Same(t, typed, err)
	assert.Equal(t, "TIMEOUT: POST /auth/refresh timed out: operation timed out\ncontext deadline exceeded", err.Error())

	var wrapped error = fmt.Errorf("load identity: %w", InvalidToken("bad"))
	assert.Same(t, wrapped, FromContext("refresh", wrapped))
}

func TestFromCode_RoundTripsKinds(t *testing.T) {
	for _, src := range []*AppError{
		InvalidInput("bad", map[string]string{"email": "must be a valid email address"}),
		InvalidCredentials(),
		DuplicateEmail(),
		DuplicateUsername(),
		InvalidToken("bad token"),
		Expired("old token"),
		Revoked("rotated"),
		Unauthorized("missing"),
		Forbidden("nope"),
		RateLimited(),
	} {
		rebuilt := FromCode(src.Code, src.Message, src.Fields)
		assert.True(t, errors.Is(rebuilt, src.Err), "code %s", src.Code)
		assert.Equal(t, src.Code, Code(rebuilt))
	}

	assert.True(t, errors.Is(FromCode(CodeTimeout, "", nil), ErrTimeout))
	assert.Equal(t, CodeInternal, Code(FromCode("SOMETHING_ELSE", "x", nil)))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Expired("x")))
	assert.True(t, IsTerminal(Revoked("x")))
	assert.True(t, IsTerminal(InvalidToken("x")))
	assert.False(t, IsTerminal(Timeout("refresh", context.DeadlineExceeded)))
	assert.False(t, IsTerminal(InvalidCredentials()))
	assert.False(t, IsTerminal(InvalidInput("x", nil)))
}

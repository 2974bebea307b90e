package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/models/dto"
)

const maxResponseBytes = 1 << 20

// RemoteOptions tunes a RemoteBackend.
type RemoteOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// FailureThreshold is the run of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// RemoteBackend drives the auth HTTP API. Unreachable servers and an open
// breaker surface as Timeout so callers can tell them from rejections.
type RemoteBackend struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// NewRemoteBackend returns a Backend talking to the auth server at baseURL.
func NewRemoteBackend(baseURL string, opts RemoteOptions) *RemoteBackend {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	l := opts.Logger
	threshold := opts.FailureThreshold

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "fanzone-auth",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		breaker: breaker,
		logger:  l,
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Data      json.RawMessage   `json:"data"`
	ErrorCode string            `json:"error_code"`
	Fields    map[string]string `json:"fields"`
}

// Login calls POST /auth/login.
func (b *RemoteBackend) Login(ctx context.Context, identifier, password string) (models.Session, error) {
	var out dto.AuthResponse
	err := b.call(ctx, http.MethodPost, "/auth/login", "", dto.LoginRequest{Identifier: identifier, Password: password}, &out)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{Identity: out.Identity, Tokens: out.Tokens, IsAuthenticated: true}, nil
}

// Register calls POST /auth/register.
func (b *RemoteBackend) Register(ctx context.Context, in credentials.RegisterInput) (models.Session, error) {
	req := dto.RegisterRequest{
		Email:       in.Email,
		Username:    in.Username,
		Password:    in.Password,
		DisplayName: in.DisplayName,
	}
	var out dto.AuthResponse
	if err := b.call(ctx, http.MethodPost, "/auth/register", "", req, &out); err != nil {
		return models.Session{}, err
	}
	return models.Session{Identity: out.Identity, Tokens: out.Tokens, IsAuthenticated: true}, nil
}

// Refresh calls POST /auth/refresh.
func (b *RemoteBackend) Refresh(ctx context.Context, refreshToken string) (auth.RefreshResult, error) {
	var out dto.RefreshResponse
	if err := b.call(ctx, http.MethodPost, "/auth/refresh", "", dto.RefreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return auth.RefreshResult{}, err
	}
	return auth.RefreshResult{
		AccessToken:     out.AccessToken,
		AccessExpiresAt: out.AccessExpiresAt,
		RefreshToken:    out.RefreshToken,
		Rotated:         out.RefreshToken != refreshToken,
		Identity:        out.Identity,
	}, nil
}

// Logout presents both tokens so the server can still find the session when
// the access token has lapsed.
func (b *RemoteBackend) Logout(ctx context.Context, tokens models.TokenPair) error {
	return b.call(ctx, http.MethodPost, "/auth/logout", tokens.AccessToken, dto.LogoutRequest{RefreshToken: tokens.RefreshToken}, nil)
}

// Me fetches the caller's identity, permissions and gates.
func (b *RemoteBackend) Me(ctx context.Context, accessToken string) (dto.MeResponse, error) {
	var out dto.MeResponse
	err := b.call(ctx, http.MethodGet, "/auth/me", accessToken, nil, &out)
	return out, err
}

// ChangePassword calls POST /auth/password. The server ends the session on success.
func (b *RemoteBackend) ChangePassword(ctx context.Context, accessToken, current, next string) error {
	req := dto.ChangePasswordRequest{CurrentPassword: current, NewPassword: next}
	return b.call(ctx, http.MethodPost, "/auth/password", accessToken, req, nil)
}

func (b *RemoteBackend) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := b.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, decodeFailure(resp)
		}
		return resp, nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		b.logger.WarnContext(ctx, "auth server unreachable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apperrors.Timeout(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeFailure(resp)
	}
	if out == nil {
		return nil
	}
	env, err := decodeEnvelope(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeEnvelope(resp *http.Response) (envelope, error) {
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}

func decodeFailure(resp *http.Response) error {
	env, err := decodeEnvelope(resp)
	if err != nil || env.ErrorCode == "" {
		return &apperrors.AppError{
			Code:    apperrors.CodeInternal,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	typed := apperrors.FromCode(env.ErrorCode, env.Message, env.Fields)
	var appErr *apperrors.AppError
	if errors.As(typed, &appErr) {
		return appErr
	}
	return &apperrors.AppError{Code: env.ErrorCode, Message: env.Message, Status: resp.StatusCode}
}

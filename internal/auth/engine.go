package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/metrics"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/storage"
)

// DefaultTimeout bounds engine operations when EngineOptions.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Store is the persistence the engine needs: identity lookup plus the single
// refresh reference per identity.
type Store interface {
	FindByID(ctx context.Context, id string) (models.Identity, error)
	storage.RefreshTokenStore
}

// RefreshResult is what a successful refresh hands back. RefreshToken equals
// the presented token unless rotation is enabled. Identity is the hash-free
// record the new access token was minted from.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	Rotated         bool
	Identity        models.Identity
}

// EngineOptions tunes an Engine.
type EngineOptions struct {
	RotateRefreshTokens bool
	Timeout             time.Duration
	Logger              *slog.Logger
}

// Engine issues, refreshes and revokes token pairs. Operations on the same
// identity are serialized; different identities never contend.
type Engine struct {
	tokens  *TokenManager
	store   Store
	rotate  bool
	timeout time.Duration
	logger  *slog.Logger
	locks   *keyedMutex
}

// NewEngine returns an Engine over tokens and store.
func NewEngine(tokens *TokenManager, store Store, opts EngineOptions) *Engine {
	e := &Engine{
		tokens:  tokens,
		store:   store,
		rotate:  opts.RotateRefreshTokens,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		locks:   newKeyedMutex(),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.logger == nil {
		e.logger = logger.Discard()
	}
	return e
}

// Issue mints a token pair and records the refresh token as the identity's
// only valid one, replacing any earlier session.
func (e *Engine) Issue(ctx context.Context, identity models.Identity) (models.TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, identity.ID)
	if err != nil {
		return models.TokenPair{}, apperrors.FromContext("issue tokens", err)
	}
	defer unlock()

	access, accessExp, err := e.tokens.GenerateAccess(identity)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, _, err := e.tokens.GenerateRefresh(identity.ID)
	if err != nil {
		return models.TokenPair{}, err
	}
	if err := e.store.SetRefreshTokenHash(ctx, identity.ID, HashToken(refresh)); err != nil {
		return models.TokenPair{}, apperrors.FromContext("issue tokens", fmt.Errorf("store refresh reference: %w", err))
	}

	metrics.TokensIssued.Inc()
	e.logger.InfoContext(ctx, "token pair issued", slog.String("identity_id", identity.ID))
	return models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExp,
	}, nil
}

// Refresh exchanges a valid, current refresh token for a new access token.
// Claims are rebuilt from the stored identity so role and tier changes apply.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	result, err := e.refresh(ctx, refreshToken)
	metrics.RefreshOutcomes.WithLabelValues(refreshOutcome(err)).Inc()
	return result, err
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}
	id := claims.Subject

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return RefreshResult{}, apperrors.FromContext("refresh", err)
	}
	defer unlock()

	identity, err := e.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RefreshResult{}, apperrors.Revoked("identity no longer exists")
		}
		return RefreshResult{}, apperrors.FromContext("refresh", fmt.Errorf("load identity: %w", err))
	}

	presented := HashToken(refreshToken)
	stored := identity.CurrentRefreshTokenHash
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		e.logger.InfoContext(ctx, "stale refresh token rejected", slog.String("identity_id", id))
		return RefreshResult{}, apperrors.Revoked("refresh token is no longer active")
	}

	access, accessExp, err := e.tokens.GenerateAccess(identity)
	if err != nil {
		return RefreshResult{}, err
	}
	result := RefreshResult{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    refreshToken,
		Identity:        identity.Snapshot(),
	}
	if !e.rotate {
		return result, nil
	}

	next, _, err := e.tokens.GenerateRefresh(id)
	if err != nil {
		return RefreshResult{}, err
	}
	swapped, err := e.store.SwapRefreshTokenHash(ctx, id, presented, HashToken(next))
	if err != nil {
		return RefreshResult{}, apperrors.FromContext("refresh", fmt.Errorf("rotate refresh reference: %w", err))
	}
	if !swapped {
		return RefreshResult{}, apperrors.Revoked("refresh token is no longer active")
	}
	result.RefreshToken = next
	result.Rotated = true
	return result, nil
}

// Revoke clears the identity's refresh reference. Revoking twice, or revoking
// an unknown identity, is not an error.
func (e *Engine) Revoke(ctx context.Context, identityID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, identityID)
	if err != nil {
		return apperrors.FromContext("revoke", err)
	}
	defer unlock()

	if err := e.store.ClearRefreshTokenHash(ctx, identityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return apperrors.FromContext("revoke", fmt.Errorf("clear refresh reference: %w", err))
	}
	metrics.Revocations.Inc()
	e.logger.InfoContext(ctx, "refresh token revoked", slog.String("identity_id", identityID))
	return nil
}

// RevokeRefresh clears the stored reference only if refreshToken is still the
// current one, so a stale token cannot end a newer session.
func (e *Engine) RevokeRefresh(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, claims.Subject)
	if err != nil {
		return apperrors.FromContext("revoke", err)
	}
	defer unlock()

	cleared, err := e.store.SwapRefreshTokenHash(ctx, claims.Subject, HashToken(refreshToken), "")
	if err != nil {
		return apperrors.FromContext("revoke", fmt.Errorf("clear refresh reference: %w", err))
	}
	if !cleared {
		return apperrors.Revoked("refresh token is no longer active")
	}
	metrics.Revocations.Inc()
	e.logger.InfoContext(ctx, "refresh token revoked", slog.String("identity_id", claims.Subject))
	return nil
}

// ParseAccess validates an access token presented on a protected call.
func (e *Engine) ParseAccess(token string) (*AccessClaims, error) {
	return e.tokens.ParseAccess(token)
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, apperrors.ErrExpired):
		return metrics.ResultExpired
	case errors.Is(err, apperrors.ErrRevoked):
		return metrics.ResultRevoked
	case errors.Is(err, apperrors.ErrInvalidToken):
		return metrics.ResultInvalid
	case errors.Is(err, apperrors.ErrTimeout):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}

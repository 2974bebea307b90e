package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/rbac"
)

// AuthService is the entry point other components use: it pairs credential
// checks with token issuance and answers authorization questions about a session.
type AuthService struct {
	verifier *credentials.Verifier
	engine   *auth.Engine
	logger   *slog.Logger
}

// NewAuthService wires the verifier's password-change hook to the engine's revoke.
func NewAuthService(verifier *credentials.Verifier, engine *auth.Engine, l *slog.Logger) *AuthService {
	if l == nil {
		l = logger.Discard()
	}
	verifier.OnPasswordChange(engine.Revoke)
	return &AuthService{verifier: verifier, engine: engine, logger: l}
}

// Register creates an identity and starts its first session.
func (s *AuthService) Register(ctx context.Context, in credentials.RegisterInput) (models.Session, error) {
	identity, err := s.verifier.Register(ctx, in)
	if err != nil {
		return models.Session{}, err
	}
	return s.startSession(ctx, identity)
}

// Authenticate verifies credentials and starts a session, replacing any
// session the identity already had.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password string) (models.Session, error) {
	identity, err := s.verifier.Verify(ctx, identifier, password)
	if err != nil {
		return models.Session{}, err
	}
	return s.startSession(ctx, identity)
}

// Login is Authenticate under the name session backends use.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (models.Session, error) {
	return s.Authenticate(ctx, identifier, password)
}

func (s *AuthService) startSession(ctx context.Context, identity models.Identity) (models.Session, error) {
	pair, err := s.engine.Issue(ctx, identity)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{
		Identity:        identity.Snapshot(),
		Tokens:          pair,
		IsAuthenticated: true,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (auth.RefreshResult, error) {
	return s.engine.Refresh(ctx, strings.TrimSpace(refreshToken))
}

// Logout revokes the session the tokens belong to. A presented refresh token
// decides alone: it names one session, and if that session is already over
// (replaced, revoked or expired) there is nothing left to revoke. The access
// token is used only when no refresh token is presented.
func (s *AuthService) Logout(ctx context.Context, tokens models.TokenPair) error {
	if refresh := strings.TrimSpace(tokens.RefreshToken); refresh != "" {
		err := s.engine.RevokeRefresh(ctx, refresh)
		if err == nil || errors.Is(err, apperrors.ErrRevoked) || errors.Is(err, apperrors.ErrExpired) {
			return nil
		}
		return err
	}
	if tokens.AccessToken != "" {
		claims, err := s.engine.ParseAccess(tokens.AccessToken)
		if err != nil {
			return err
		}
		return s.engine.Revoke(ctx, claims.Subject)
	}
	return apperrors.Unauthorized("no token presented")
}

// Revoke ends the session of an identity already authenticated by the caller.
func (s *AuthService) Revoke(ctx context.Context, identityID string) error {
	return s.engine.Revoke(ctx, identityID)
}

// ParseAccess validates a bearer access token.
func (s *AuthService) ParseAccess(token string) (*auth.AccessClaims, error) {
	return s.engine.ParseAccess(token)
}

// Me returns the current hash-free identity record.
func (s *AuthService) Me(ctx context.Context, identityID string) (models.Identity, error) {
	identity, err := s.verifier.Identity(ctx, identityID)
	if err != nil {
		return models.Identity{}, err
	}
	return identity.Snapshot(), nil
}

// ChangePassword replaces the password and ends the identity's session.
func (s *AuthService) ChangePassword(ctx context.Context, identityID, current, next string) error {
	return s.verifier.ChangePassword(ctx, identityID, current, next)
}

// SetRole assigns a role. The new role reaches tokens on the next refresh.
func (s *AuthService) SetRole(ctx context.Context, identityID string, role models.Role) (models.Identity, error) {
	identity, err := s.verifier.SetRole(ctx, identityID, role)
	if err != nil {
		return models.Identity{}, err
	}
	return identity.Snapshot(), nil
}

// SetSubscription records a tier and billing status for an identity.
func (s *AuthService) SetSubscription(ctx context.Context, identityID string, tier models.SubscriptionTier, status models.SubscriptionStatus) (models.Identity, error) {
	identity, err := s.verifier.SetSubscription(ctx, identityID, tier, status)
	if err != nil {
		return models.Identity{}, err
	}
	return identity.Snapshot(), nil
}

// CurrentPermissions returns what the session may do. A logged-out session
// holds guest permissions.
func (s *AuthService) CurrentPermissions(session models.Session) rbac.PermissionSet {
	role, tier := principal(session)
	return rbac.EffectivePermissions(role, tier)
}

// RequireRole reports whether the session's role ranks at least role.
func (s *AuthService) RequireRole(session models.Session, role models.Role) bool {
	actual, _ := principal(session)
	return rbac.HasRole(actual, role)
}

// RequireTier reports whether the session's effective tier ranks at least tier.
func (s *AuthService) RequireTier(session models.Session, tier models.SubscriptionTier) bool {
	_, actual := principal(session)
	return rbac.HasSubscriptionTier(actual, tier)
}

func principal(session models.Session) (models.Role, models.SubscriptionTier) {
	if !session.IsAuthenticated {
		return models.RoleGuest, models.TierFree
	}
	return session.Identity.Role, session.Identity.EffectiveTier()
}

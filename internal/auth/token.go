package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/models"
)

// TokenTypeRefresh marks refresh tokens so they can never pass as access tokens.
const TokenTypeRefresh = "refresh"

// AccessClaims are the signed claims of a short-lived access token.
type AccessClaims struct {
	Role models.Role             `json:"role"`
	Tier models.SubscriptionTier `json:"tier"`
	Type string                  `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are the signed claims of a long-lived refresh token.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager signs and parses JWTs. Access and refresh tokens use separate secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager creates a manager with the provided secrets, issuer, and lifetimes.
func NewTokenManager(accessSecret, refreshSecret, issuer string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (t *TokenManager) AccessTTL() time.Duration {
	return t.accessTTL
}

// GenerateAccess issues an access token carrying the identity's role and effective tier.
func (t *TokenManager) GenerateAccess(identity models.Identity) (string, time.Time, error) {
	now := t.now()
	exp := jwt.NewNumericDate(now.Add(t.accessTTL))
	claims := AccessClaims{
		Role: identity.Role,
		Tier: identity.EffectiveTier(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp.Time, nil
}

// GenerateRefresh issues a refresh token for the identity.
func (t *TokenManager) GenerateRefresh(identityID string) (string, time.Time, error) {
	now := t.now()
	exp := jwt.NewNumericDate(now.Add(t.refreshTTL))
	claims := RefreshClaims{
		Type: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp.Time, nil
}

// ParseAccess validates an access token and returns its claims.
func (t *TokenManager) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, claims, t.accessSecret, "access"); err != nil {
		return nil, err
	}
	if claims.Type != "" {
		return nil, apperrors.InvalidToken("not an access token")
	}
	return claims, nil
}

// ParseRefresh validates a refresh token and returns its claims.
func (t *TokenManager) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(token, claims, t.refreshSecret, "refresh"); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, apperrors.InvalidToken("not a refresh token")
	}
	return claims, nil
}

func (t *TokenManager) parse(token string, claims jwt.Claims, secret []byte, kind string) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperrors.Expired(kind + " token has expired")
		}
		return apperrors.InvalidToken("invalid " + kind + " token")
	}
	if !parsed.Valid {
		return apperrors.InvalidToken("invalid " + kind + " token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return apperrors.InvalidToken(kind + " token has no subject")
	}
	return nil
}

// HashToken returns the hex SHA-256 digest stored in place of a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

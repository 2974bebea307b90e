package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/http/respond"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/rbac"
)

type claimsKey struct{}

// TokenValidator parses bearer access tokens.
type TokenValidator interface {
	ParseAccess(token string) (*auth.AccessClaims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims stores validated access claims on the context.
func WithClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims placed by Authenticate.
func ClaimsFromContext(ctx context.Context) (*auth.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.AccessClaims)
	return claims, ok && claims != nil
}

// Authenticate rejects requests without a valid access token and stores its
// claims on the request context.
func Authenticate(validator TokenValidator, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				respond.AppError(w, apperrors.Unauthorized("missing bearer token"))
				return
			}
			claims, err := validator.ParseAccess(token)
			if err != nil {
				l.DebugContext(r.Context(), "access token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error_code", apperrors.Code(err)),
				)
				respond.AppError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// principal answers as a guest when no claims are present.
func principal(r *http.Request) (models.Role, models.SubscriptionTier) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return models.RoleGuest, models.TierFree
	}
	return claims.Role, claims.Tier
}

func gate(allowed func(models.Role, models.SubscriptionTier) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed(principal(r)) {
				respond.AppError(w, apperrors.Forbidden(message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission allows the request when the caller's role and tier grant perm.
func RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return gate(func(role models.Role, tier models.SubscriptionTier) bool {
		return rbac.EffectivePermissions(role, tier).Has(perm)
	}, "missing permission "+string(perm))
}

// RequireRole allows the request when the caller's role ranks at least role.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return gate(func(actual models.Role, _ models.SubscriptionTier) bool {
		return rbac.HasRole(actual, role)
	}, "requires role "+string(role))
}

// RequireTier allows the request when the caller's effective tier ranks at least tier.
func RequireTier(tier models.SubscriptionTier) func(http.Handler) http.Handler {
	return gate(func(_ models.Role, actual models.SubscriptionTier) bool {
		return rbac.HasSubscriptionTier(actual, tier)
	}, "requires "+string(tier)+" subscription")
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/http/respond"
	"github.com/hongminglow/fanzone-auth/internal/middleware"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/models/dto"
	"github.com/hongminglow/fanzone-auth/internal/rbac"
	"github.com/hongminglow/fanzone-auth/internal/service"
)

// AuthHandler owns the /auth endpoints.
type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(svc *service.AuthService, l *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: l}
}

// Register attaches auth routes. limit guards the credential endpoints.
func (h *AuthHandler) Register(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.With(limit).Post("/register", h.handleRegister)
		r.With(limit).Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(h.svc, h.logger))
			r.Get("/me", h.handleMe)
			r.With(limit).Post("/password", h.handleChangePassword)
		})
	})
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	session, err := h.svc.Register(r.Context(), credentials.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	respond.JSON(w, http.StatusCreated, "registration successful", dto.AuthResponse{
		Identity: session.Identity,
		Tokens:   session.Tokens,
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	session, err := h.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	respond.JSON(w, http.StatusOK, "login successful", dto.AuthResponse{
		Identity: session.Identity,
		Tokens:   session.Tokens,
	})
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	result, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	respond.JSON(w, http.StatusOK, "token refreshed", dto.RefreshResponse{
		AccessToken:     result.AccessToken,
		AccessExpiresAt: result.AccessExpiresAt,
		RefreshToken:    result.RefreshToken,
		Identity:        result.Identity,
	})
}

// handleLogout accepts the bearer access token, the refresh token in the
// body, or both.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req dto.LogoutRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	access, _ := middleware.BearerToken(r)
	err := h.svc.Logout(r.Context(), models.TokenPair{AccessToken: access, RefreshToken: req.RefreshToken})
	if err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	respond.JSON(w, http.StatusOK, "logged out", nil)
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	identity, err := h.svc.Me(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}
	tier := identity.EffectiveTier()
	respond.JSON(w, http.StatusOK, "ok", dto.MeResponse{
		Identity:      identity,
		EffectiveTier: string(tier),
		Permissions:   rbac.EffectivePermissions(identity.Role, tier).Strings(),
		Gates: dto.Gates{
			PremiumContent: rbac.CanAccessPremiumContent(identity.Role, tier),
			VIPContent:     rbac.CanAccessVIPContent(identity.Role, tier),
			Moderate:       rbac.CanModerate(identity.Role),
		},
	})
}

func (h *AuthHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.svc.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, "change password", err)
		return
	}
	respond.JSON(w, http.StatusOK, "password changed, sign in again", nil)
}

// fail logs unexpected errors and writes the typed response.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	}
	respond.AppError(w, err)
}

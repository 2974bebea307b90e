package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/http/respond"
	"github.com/hongminglow/fanzone-auth/internal/middleware"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/models/dto"
	"github.com/hongminglow/fanzone-auth/internal/rbac"
	"github.com/hongminglow/fanzone-auth/internal/service"
)

// AdminHandler lets identity managers change roles and subscriptions.
type AdminHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewAdminHandler creates the identity administration routes.
func NewAdminHandler(svc *service.AuthService, l *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: l}
}

// Register attaches admin routes behind bearer auth and MANAGE_USERS.
func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin/identities/{id}", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.svc, h.logger))
		r.Use(middleware.RequirePermission(rbac.PermManageUsers))
		r.Put("/role", h.handleSetRole)
		r.Put("/subscription", h.handleSetSubscription)
	})
}

func (h *AdminHandler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req dto.SetRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		respond.AppError(w, apperrors.InvalidInput("validation failed", map[string]string{"role": "is not a known role"}))
		return
	}
	identity, err := h.svc.SetRole(r.Context(), chi.URLParam(r, "id"), role)
	if err != nil {
		respond.AppError(w, err)
		return
	}
	h.audit(r, "role changed", identity)
	respond.JSON(w, http.StatusOK, "role updated", identity)
}

func (h *AdminHandler) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	var req dto.SetSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.AppError(w, err)
		return
	}
	fields := map[string]string{}
	tier, err := models.ParseSubscriptionTier(req.Tier)
	if err != nil {
		fields["tier"] = "is not a known subscription tier"
	}
	status, err := models.ParseSubscriptionStatus(req.Status)
	if err != nil {
		fields["status"] = "is not a known subscription status"
	}
	if len(fields) > 0 {
		respond.AppError(w, apperrors.InvalidInput("validation failed", fields))
		return
	}
	identity, err := h.svc.SetSubscription(r.Context(), chi.URLParam(r, "id"), tier, status)
	if err != nil {
		respond.AppError(w, err)
		return
	}
	h.audit(r, "subscription changed", identity)
	respond.JSON(w, http.StatusOK, "subscription updated", identity)
}

func (h *AdminHandler) audit(r *http.Request, msg string, target models.Identity) {
	actor := ""
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	h.logger.InfoContext(r.Context(), msg,
		slog.String("actor_id", actor),
		slog.String("identity_id", target.ID),
		slog.String("role", string(target.Role)),
		slog.String("tier", string(target.SubscriptionTier)),
		slog.String("status", string(target.SubscriptionStatus)),
	)
}

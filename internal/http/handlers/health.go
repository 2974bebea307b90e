package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/fanzone-auth/internal/http/respond"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns uptime and storage reachability.
type HealthHandler struct {
	startedAt time.Time
	store     Pinger
	logger    *slog.Logger
}

// NewHealthHandler creates a health endpoint handler.
func NewHealthHandler(startedAt time.Time, store Pinger, l *slog.Logger) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, store: store, logger: l}
}

// Register wires the handler into the router.
func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/health", h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, storage, code := "ok", "ok", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "storage ping failed", slog.String("error", err.Error()))
		status, storage, code = "degraded", "unreachable", http.StatusServiceUnavailable
	}
	respond.JSON(w, code, status, map[string]string{
		"status":  status,
		"storage": storage,
		"uptime":  time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

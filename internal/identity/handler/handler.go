package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"knomee/internal/identity/models"
	"knomee/internal/identity/service"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	"knomee/pkg/platform/httputil"
	"knomee/pkg/requestcontext"
)

// Governance supplies authority checks and governance time.
type Governance interface {
	IsAuthority(ctx context.Context, addr domain.Address) (bool, error)
	Now(ctx context.Context) (time.Time, error)
}

// Handler handles identity registry endpoints.
type Handler struct {
	registry   *service.Registry
	governance Governance
	logger     *slog.Logger
}

func New(registry *service.Registry, governance Governance, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, governance: governance, logger: logger}
}

// Register mounts the identity routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/identities/{address}", h.handleGetIdentity)
	r.Post("/identities/{address}/oracle", h.handleGrantOracle)
}

type identityResponse struct {
	*models.Identity
	Links []models.LinkedPlatform `json:"links"`
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, links, err := h.registry.Get(ctx, addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if links == nil {
		links = []models.LinkedPlatform{}
	}
	httputil.WriteJSON(w, http.StatusOK, identityResponse{Identity: identity, Links: links})
}

// handleGrantOracle promotes a Verified identity to Oracle. Only the
// governance authority may call it.
func (h *Handler) handleGrantOracle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)

	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	isAuthority, err := h.governance.IsAuthority(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !isAuthority {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "only the governance authority may grant oracle tier"))
		return
	}

	now, err := h.governance.Now(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.registry.GrantOracle(ctx, addr, now)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.logger != nil {
		h.logger.InfoContext(ctx, "oracle tier granted",
			"address", addr,
			"granted_by", caller,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

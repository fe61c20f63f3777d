// Package handler exposes governance over HTTP. Parameter updates, clock
// warps, and renouncement are privileged; the service enforces who may call
// what, the handler only shapes requests and responses.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"knomee/internal/governance/models"
	"knomee/internal/governance/service"
	dErrors "knomee/pkg/domain-errors"
	"knomee/pkg/platform/httputil"
	"knomee/pkg/requestcontext"
)

// Handler handles governance endpoints.
type Handler struct {
	governance *service.Service
	logger     *slog.Logger
}

func New(governance *service.Service, logger *slog.Logger) *Handler {
	return &Handler{governance: governance, logger: logger}
}

// Register mounts the governance routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/governance", h.handleGetState)
	r.Put("/governance/params", h.handleUpdateParams)
	r.Post("/governance/time-warp", h.handleTimeWarp)
	r.Post("/governance/renounce", h.handleRenounce)
}

type stateResponse struct {
	Authority      string        `json:"authority"`
	OverrideActive bool          `json:"override_active"`
	WarpOffset     string        `json:"warp_offset"`
	Params         models.Params `json:"params"`
	LaunchedAt     time.Time     `json:"launched_at"`
	Now            time.Time     `json:"now"`
}

func toStateResponse(state *models.State, now time.Time) stateResponse {
	return stateResponse{
		Authority:      state.Authority.String(),
		OverrideActive: state.OverrideActive,
		WarpOffset:     state.WarpOffset.String(),
		Params:         state.Params,
		LaunchedAt:     state.LaunchedAt,
		Now:            now,
	}
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, err := h.governance.State(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now, err := h.governance.Now(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(state, now))
}

func (h *Handler) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)

	params, ok := httputil.Decode[models.Params](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	state, err := h.governance.UpdateParams(ctx, caller, params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now, err := h.governance.Now(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(state, now))
}

type timeWarpRequest struct {
	// Duration in Go syntax, e.g. "168h" for one week.
	Duration string `json:"duration"`
}

func (h *Handler) handleTimeWarp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)

	req, ok := httputil.Decode[timeWarpRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "duration must be a valid Go duration"))
		return
	}

	state, err := h.governance.TimeWarp(ctx, caller, d)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now, err := h.governance.Now(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(state, now))
}

func (h *Handler) handleRenounce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)

	state, err := h.governance.Renounce(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now, err := h.governance.Now(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStateResponse(state, now))
}

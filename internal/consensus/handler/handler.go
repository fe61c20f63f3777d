package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"knomee/internal/consensus/models"
	"knomee/internal/consensus/service"
	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	"knomee/pkg/platform/httputil"
	"knomee/pkg/requestcontext"
)

// Handler handles consensus claim endpoints. The caller address comes from
// the caller middleware; requests without one are rejected before they reach
// the engine.
type Handler struct {
	engine *service.Engine
	logger *slog.Logger
}

func New(engine *service.Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Register mounts the claim routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/claims/link", h.handleRequestLink)
	r.Post("/claims/verification", h.handleRequestVerification)
	r.Post("/claims/duplicate", h.handleChallengeDuplicate)
	r.Get("/claims", h.handleListClaims)
	r.Get("/claims/{claimID}", h.handleGetClaim)
	r.Post("/claims/{claimID}/vouches", h.handleCastVouch)
	r.Post("/claims/{claimID}/rewards", h.handleClaimRewards)
}

type linkRequest struct {
	Anchor        string `json:"anchor"`
	Platform      string `json:"platform"`
	Justification string `json:"justification"`
	Stake         uint64 `json:"stake"`
}

type verificationRequest struct {
	Justification string `json:"justification"`
	Stake         uint64 `json:"stake"`
}

type duplicateRequest struct {
	First    string `json:"first"`
	Second   string `json:"second"`
	Evidence string `json:"evidence"`
	Stake    uint64 `json:"stake"`
}

type vouchRequest struct {
	Supports bool   `json:"supports"`
	Stake    uint64 `json:"stake"`
}

type claimResponse struct {
	*models.Claim
	Vouches []*models.Vouch `json:"vouches,omitempty"`
}

type rewardsResponse struct {
	ClaimID string `json:"claim_id"`
	Payout  uint64 `json:"payout"`
}

func (h *Handler) handleRequestLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[linkRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	anchor, err := domain.ParseAddress(req.Anchor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claim, err := h.engine.RequestLinkToPrimary(ctx, caller, anchor, req.Platform, req.Justification, req.Stake)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, claimResponse{Claim: claim})
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[verificationRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	claim, err := h.engine.RequestVerification(ctx, caller, req.Justification, req.Stake)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, claimResponse{Claim: claim})
}

func (h *Handler) handleChallengeDuplicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[duplicateRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	first, err := domain.ParseAddress(req.First)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	second, err := domain.ParseAddress(req.Second)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claim, err := h.engine.ChallengeDuplicate(ctx, caller, first, second, req.Evidence, req.Stake)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, claimResponse{Claim: claim})
}

func (h *Handler) handleCastVouch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[vouchRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	claim, err := h.engine.CastVouch(ctx, caller, claimID, req.Supports, req.Stake)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claimResponse{Claim: claim})
}

func (h *Handler) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}

	payout, err := h.engine.ClaimRewards(ctx, claimID, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rewardsResponse{ClaimID: claimID.String(), Payout: payout})
}

func (h *Handler) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}

	claim, vouches, err := h.engine.GetClaim(ctx, claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claimResponse{Claim: claim, Vouches: vouches})
}

func (h *Handler) handleListClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.StatusActive
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseClaimStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		status = parsed
	}

	claims, err := h.engine.ListClaims(ctx, status, 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if claims == nil {
		claims = []*models.Claim{}
	}
	httputil.WriteJSON(w, http.StatusOK, claims)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	caller := requestcontext.Caller(r.Context())
	if caller == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller address is required"))
		return "", false
	}
	return caller, true
}

func (h *Handler) claimID(w http.ResponseWriter, r *http.Request) (domain.ClaimID, bool) {
	claimID, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.ClaimID{}, false
	}
	return claimID, true
}

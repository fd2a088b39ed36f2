package restriction

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"lv-restrict/internal/admin"
	"lv-restrict/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type mutationRequest struct {
	UserID        string           `json:"user_id"`
	Threshold     *decimal.Decimal `json:"threshold,omitempty"`
	Override      *bool            `json:"override,omitempty"`
	ClearOverride bool             `json:"clear_override,omitempty"`
	Template      *string          `json:"template,omitempty"`
}

type mutationResponse struct {
	UserID   string   `json:"user_id"`
	Decision Decision `json:"decision"`
}

type adminConfigResponse struct {
	Config   Config   `json:"config"`
	Decision Decision `json:"decision"`
}

// Eligibility serves the withdrawal eligibility poll source.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.svc.Eligibility(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// Settings serves the restriction settings poll source.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.svc.Settings(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	d, cfg, err := h.svc.Decision(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adminConfigResponse{Config: cfg, Decision: d})
}

// AdminApply accepts any combination of threshold, override and template.
// threshold may be a JSON number or a decimal string.
func (h *Handler) AdminApply(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	m := Mutation{
		UserID:        strings.TrimSpace(req.UserID),
		Threshold:     req.Threshold,
		Override:      req.Override,
		ClearOverride: req.ClearOverride,
		Template:      req.Template,
		Actor:         admin.Username(r),
	}
	d, err := h.svc.Apply(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{UserID: m.UserID, Decision: d})
}

func (h *Handler) AdminSetThreshold(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req struct {
		Threshold *decimal.Decimal `json:"threshold"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Threshold == nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "threshold is required"})
		return
	}
	d, err := h.svc.SetThreshold(r.Context(), userID, *req.Threshold, admin.Username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{UserID: userID, Decision: d})
}

// AdminSetOverride takes {"override": true|false|null}; null clears it.
func (h *Handler) AdminSetOverride(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req struct {
		Override json.RawMessage `json:"override"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	var forced *bool
	if len(req.Override) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "override is required"})
		return
	}
	if err := json.Unmarshal(req.Override, &forced); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "override must be true, false or null"})
		return
	}
	d, err := h.svc.SetCanWithdrawOverride(r.Context(), userID, forced, admin.Username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{UserID: userID, Decision: d})
}

func (h *Handler) AdminSetTemplate(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req struct {
		Template string `json:"template"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.svc.SetMessageTemplate(r.Context(), userID, req.Template, admin.Username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{UserID: userID, Decision: d})
}

// InternalRefresh is called by the deposit review flow once a deposit is
// approved so the user's session updates without waiting for a poll.
func (h *Handler) InternalRefresh(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	d, err := h.svc.Refresh(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{UserID: userID, Decision: d})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidThreshold),
		errors.Is(err, ErrInvalidTemplate),
		errors.Is(err, ErrEmptyMutation):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
	}
}

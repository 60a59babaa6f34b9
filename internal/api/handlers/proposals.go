package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vouchmesh/vouchmesh/internal/service"
)

type ProposalHandler struct {
	svc *service.NetworkService
}

func NewProposalHandler(svc *service.NetworkService) *ProposalHandler {
	return &ProposalHandler{svc: svc}
}

type proposalResponse struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Checked   bool   `json:"checked"`
	Result    *bool  `json:"result,omitempty"`
}

func (h *ProposalHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Propose(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create proposal")
		return
	}
	writeJSON(w, http.StatusCreated, proposalResponse{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	})
}

func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Snapshot()
	out := make([]proposalResponse, 0, len(state.ActiveProposals))
	for _, p := range state.ActiveProposals {
		out = append(out, proposalResponse{
			ID:        p.ID,
			CreatedAt: p.CreatedAt,
			ExpiresAt: p.ExpiresAt,
			Checked:   p.Checked,
			Result:    p.Result,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

// CheckExpired marks every proposal past its expiry as checked.
func (h *ProposalHandler) CheckExpired(w http.ResponseWriter, r *http.Request) {
	expired, err := h.svc.CheckExpiredProposals(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check proposals")
		return
	}
	if expired == nil {
		expired = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

type resultRequest struct {
	Approved bool `json:"approved"`
}

func (h *ProposalHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.RecordProposalResult(r.Context(), id, req.Approved)
	switch {
	case errors.Is(err, service.ErrUnknownProposal):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to record result")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

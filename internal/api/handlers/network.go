package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"github.com/vouchmesh/vouchmesh/internal/service"
	"go.uber.org/zap"
)

// maxBlobSize bounds state and delta uploads.
const maxBlobSize = 16 << 20

type NetworkHandler struct {
	svc    *service.NetworkService
	logger *zap.Logger
}

func NewNetworkHandler(svc *service.NetworkService, logger *zap.Logger) *NetworkHandler {
	return &NetworkHandler{svc: svc, logger: logger}
}

type memberSummary struct {
	Hash             string `json:"hash"`
	VoucherCount     int    `json:"voucher_count"`
	EffectiveVouches int    `json:"effective_vouches"`
	RegularFlags     int    `json:"regular_flags"`
	Standing         int    `json:"standing"`
	Validator        bool   `json:"validator"`
}

type listMembersResponse struct {
	Members []memberSummary `json:"members"`
	Ejected []string        `json:"ejected"`
}

func (h *NetworkHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Snapshot()

	resp := listMembersResponse{
		Members: make([]memberSummary, 0, len(state.Members)),
		Ejected: make([]string, 0, len(state.Ejected)),
	}
	for _, m := range state.Members.Sorted() {
		s, _ := service.StandingOf(state, m)
		resp.Members = append(resp.Members, memberSummary{
			Hash:             m.String(),
			VoucherCount:     state.VoucherCount(m),
			EffectiveVouches: s.EffectiveVouches,
			RegularFlags:     s.RegularFlags,
			Standing:         s.Score,
			Validator:        state.VoucherCount(m) >= service.ValidatorVouchThreshold,
		})
	}
	for _, m := range state.Ejected.Sorted() {
		resp.Ejected = append(resp.Ejected, m.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NetworkHandler) GetStanding(w http.ResponseWriter, r *http.Request) {
	member, err := domain.ParseMemberHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member hash")
		return
	}

	state := h.svc.Snapshot()
	s, ok := service.StandingOf(state, member)
	if !ok {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type ejectionResponse struct {
	ShouldEject bool   `json:"should_eject"`
	Reason      string `json:"reason,omitempty"`
}

func (h *NetworkHandler) CheckEjection(w http.ResponseWriter, r *http.Request) {
	member, err := domain.ParseMemberHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member hash")
		return
	}

	state := h.svc.Snapshot()
	if !state.IsMember(member) {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}

	resp := ejectionResponse{ShouldEject: service.ShouldEject(state, member)}
	if resp.ShouldEject {
		resp.Reason, _ = service.EjectionReason(state, member)
	}
	writeJSON(w, http.StatusOK, resp)
}

type seedRequest struct {
	Members []string `json:"members"`
}

func (h *NetworkHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Members) != 3 {
		writeError(w, http.StatusBadRequest, "seeding requires exactly 3 members")
		return
	}
	hashes := make([]domain.MemberHash, 3)
	for i, s := range req.Members {
		m, err := domain.ParseMemberHash(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid member hash")
			return
		}
		hashes[i] = m
	}

	err := h.svc.Seed(r.Context(), hashes[0], hashes[1], hashes[2])
	switch {
	case errors.Is(err, service.ErrSeedSize):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAlreadySeeded):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to seed network")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "seeded"})
	}
}

type pairRequest struct {
	Actor  string `json:"actor"`
	Target string `json:"target"`
}

func (h *NetworkHandler) parsePair(w http.ResponseWriter, r *http.Request) (actor, target domain.MemberHash, ok bool) {
	var req pairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var err error
	if actor, err = domain.ParseMemberHash(req.Actor); err != nil {
		writeError(w, http.StatusBadRequest, "invalid actor hash")
		return
	}
	if target, err = domain.ParseMemberHash(req.Target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid target hash")
		return
	}
	return actor, target, true
}

func (h *NetworkHandler) Vouch(w http.ResponseWriter, r *http.Request) {
	voucher, vouchee, ok := h.parsePair(w, r)
	if !ok {
		return
	}
	h.respondCommand(w, h.svc.Vouch(r.Context(), voucher, vouchee))
}

func (h *NetworkHandler) RemoveVouch(w http.ResponseWriter, r *http.Request) {
	voucher, vouchee, ok := h.parsePair(w, r)
	if !ok {
		return
	}
	h.respondCommand(w, h.svc.RemoveVouch(r.Context(), voucher, vouchee))
}

func (h *NetworkHandler) Flag(w http.ResponseWriter, r *http.Request) {
	flagger, flagged, ok := h.parsePair(w, r)
	if !ok {
		return
	}
	h.respondCommand(w, h.svc.Flag(r.Context(), flagger, flagged))
}

func (h *NetworkHandler) RemoveFlag(w http.ResponseWriter, r *http.Request) {
	flagger, flagged, ok := h.parsePair(w, r)
	if !ok {
		return
	}
	h.respondCommand(w, h.svc.RemoveFlag(r.Context(), flagger, flagged))
}

func (h *NetworkHandler) Invite(w http.ResponseWriter, r *http.Request) {
	inviter, invitee, ok := h.parsePair(w, r)
	if !ok {
		return
	}
	h.respondCommand(w, h.svc.Invite(r.Context(), inviter, invitee))
}

func (h *NetworkHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	member, err := domain.ParseMemberHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member hash")
		return
	}
	h.respondCommand(w, h.svc.RemoveMember(r.Context(), member))
}

func (h *NetworkHandler) respondCommand(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotAMember),
		errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrSelfReference):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "command failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

// GetState serves the current snapshot as a CBOR frame for replica
// exchange.
func (h *NetworkHandler) GetState(w http.ResponseWriter, r *http.Request) {
	blob, err := h.svc.EncodedState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode state")
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// ApplyDelta accepts a CBOR delta frame from another replica.
func (h *NetworkHandler) ApplyDelta(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := h.svc.ApplyRemoteDelta(r.Context(), blob); err != nil {
		h.respondCodec(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// MergeState accepts a full CBOR state frame from another replica.
func (h *NetworkHandler) MergeState(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := h.svc.MergeRemoteState(r.Context(), blob); err != nil {
		h.respondCodec(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

func (h *NetworkHandler) respondCodec(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrFrameTooShort),
		errors.Is(err, service.ErrFrameLength),
		errors.Is(err, service.ErrMalformedState),
		errors.Is(err, service.ErrMalformedDelta),
		errors.Is(err, service.ErrInvalidHashSize):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("replica exchange failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "replica exchange failed")
	}
}

type federationRequest struct {
	Contract string `json:"contract"`
}

func (h *NetworkHandler) RegisterFederation(w http.ResponseWriter, r *http.Request) {
	var req federationRequest
	if err := decodeJSON(r, &req); err != nil || req.Contract == "" {
		writeError(w, http.StatusBadRequest, "contract is required")
		return
	}
	if err := h.svc.RegisterFederationContract(r.Context(), req.Contract); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register contract")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"contract": req.Contract})
}

func (h *NetworkHandler) ListFederation(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Snapshot()
	contracts := make([]string, 0, len(state.FederationContracts))
	for c := range state.FederationContracts {
		contracts = append(contracts, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

type updateConfigRequest struct {
	MinVouches        int     `json:"min_vouches"`
	MaxFlags          int     `json:"max_flags"`
	OpenMembership    bool    `json:"open_membership"`
	PollTimeoutHours  int     `json:"poll_timeout_hours"`
	ApprovalThreshold float64 `json:"approval_threshold"`
	Quorum            float64 `json:"quorum"`
	Timestamp         int64   `json:"timestamp"`
}

func (h *NetworkHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := domain.GroupConfig{
		MinVouches:        req.MinVouches,
		MaxFlags:          req.MaxFlags,
		OpenMembership:    req.OpenMembership,
		PollTimeout:       hoursToDuration(req.PollTimeoutHours),
		ApprovalThreshold: req.ApprovalThreshold,
		Quorum:            req.Quorum,
	}
	err := h.svc.UpdateConfig(r.Context(), cfg, req.Timestamp)
	switch {
	case errors.Is(err, domain.ErrInvalidGroupConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to update config")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

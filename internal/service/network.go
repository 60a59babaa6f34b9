package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"github.com/vouchmesh/vouchmesh/internal/store"
	"go.uber.org/zap"
)

var (
	ErrNotAMember      = errors.New("actor is not an active member")
	ErrAlreadyMember   = errors.New("target is already an active member")
	ErrSelfReference   = errors.New("a member cannot vouch for or flag themselves")
	ErrSeedSize        = errors.New("seeding requires three distinct members")
	ErrAlreadySeeded   = errors.New("network already has members")
	ErrUnknownProposal = errors.New("unknown proposal")
)

// NetworkService owns the long-lived CRDT state for one contract. Every
// member command builds a delta through the fluent builder, applies it
// locally, and persists the re-encoded state through the replicated
// storage collaborator. All analysis runs on cloned snapshots, so the
// engine's pure functions never see the mutable copy.
type NetworkService struct {
	store    domain.ContractStateStore
	contract string
	logger   *zap.Logger

	mu    sync.Mutex
	state *domain.TrustNetworkState
}

func NewNetworkService(st domain.ContractStateStore, contract string, logger *zap.Logger) *NetworkService {
	return &NetworkService{
		store:    st,
		contract: contract,
		logger:   logger,
		state:    domain.NewTrustNetworkState(),
	}
}

func (s *NetworkService) Contract() string {
	return s.contract
}

// Load replaces the in-memory state with the persisted snapshot. A
// missing blob leaves a fresh state; that is the bootstrap path.
func (s *NetworkService) Load(ctx context.Context) error {
	blob, err := s.store.GetState(ctx, s.contract)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("no persisted state, starting fresh", zap.String("contract", s.contract))
			return nil
		}
		return err
	}
	state, err := DecodeState(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Info("loaded network state",
		zap.String("contract", s.contract),
		zap.Int("members", len(state.Members)))
	return nil
}

// Reload merges the persisted snapshot into the in-memory state. Used
// when a state-change notification fires: merging, instead of replacing,
// keeps locally applied but not yet re-read deltas.
func (s *NetworkService) Reload(ctx context.Context) error {
	blob, err := s.store.GetState(ctx, s.contract)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	remote, err := DecodeState(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Merge(s.state, remote)
	return nil
}

// Snapshot returns an independent deep copy for analysis.
func (s *NetworkService) Snapshot() *domain.TrustNetworkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Seed bootstraps an empty network with the initial mutual-vouch
// triangle.
func (s *NetworkService) Seed(ctx context.Context, a, b, c domain.MemberHash) error {
	if a == b || b == c || a == c {
		return ErrSeedSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Members) > 0 {
		return ErrAlreadySeeded
	}
	delta := domain.NewDelta().
		AddMember(a).AddMember(b).AddMember(c).
		AddVouch(a, b).AddVouch(b, a).
		AddVouch(b, c).AddVouch(c, b).
		AddVouch(a, c).AddVouch(c, a)
	return s.applyLocked(ctx, delta)
}

// Vouch records an endorsement from an active member.
func (s *NetworkService) Vouch(ctx context.Context, voucher, vouchee domain.MemberHash) error {
	if voucher == vouchee {
		return ErrSelfReference
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(voucher) {
		return ErrNotAMember
	}
	return s.applyLocked(ctx, domain.NewDelta().AddVouch(voucher, vouchee))
}

// RemoveVouch retracts an endorsement. Removal is idempotent: retracting
// a vouch that was never recorded is a no-op, not an error.
func (s *NetworkService) RemoveVouch(ctx context.Context, voucher, vouchee domain.MemberHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(voucher) {
		return ErrNotAMember
	}
	return s.applyLocked(ctx, domain.NewDelta().RemoveVouch(voucher, vouchee))
}

// Flag records an accusation from an active member.
func (s *NetworkService) Flag(ctx context.Context, flagger, flagged domain.MemberHash) error {
	if flagger == flagged {
		return ErrSelfReference
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(flagger) {
		return ErrNotAMember
	}
	return s.applyLocked(ctx, domain.NewDelta().AddFlag(flagger, flagged))
}

// RemoveFlag retracts an accusation. Idempotent like RemoveVouch.
func (s *NetworkService) RemoveFlag(ctx context.Context, flagger, flagged domain.MemberHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(flagger) {
		return ErrNotAMember
	}
	return s.applyLocked(ctx, domain.NewDelta().RemoveFlag(flagger, flagged))
}

// Invite admits a new member with the inviter's vouch as their first
// endorsement. Re-inviting an ejected member clears the ejection.
func (s *NetworkService) Invite(ctx context.Context, inviter, invitee domain.MemberHash) error {
	if inviter == invitee {
		return ErrSelfReference
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(inviter) {
		return ErrNotAMember
	}
	if s.state.IsMember(invitee) {
		return ErrAlreadyMember
	}
	return s.applyLocked(ctx, domain.NewDelta().AddMember(invitee).AddVouch(inviter, invitee))
}

// RemoveMember moves a member to the ejected set.
func (s *NetworkService) RemoveMember(ctx context.Context, member domain.MemberHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsMember(member) {
		return ErrNotAMember
	}
	return s.applyLocked(ctx, domain.NewDelta().RemoveMember(member))
}

// UpdateConfig validates and installs a new group policy with a
// last-write-wins timestamp.
func (s *NetworkService) UpdateConfig(ctx context.Context, cfg domain.GroupConfig, timestamp int64) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, domain.NewDelta().UpdateConfig(cfg, timestamp))
}

// Propose opens a membership poll expiring after the configured poll
// timeout. Votes are collected by the messaging collaborator; the state
// tracks only the poll lifecycle.
func (s *NetworkService) Propose(ctx context.Context, now time.Time) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := domain.Proposal{
		ID:        uuid.NewString(),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.state.Config.PollTimeout).UnixMilli(),
	}
	if err := s.applyLocked(ctx, domain.NewDelta().CreateProposal(p)); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// CheckExpiredProposals marks every unchecked proposal past its expiry
// as checked and returns their ids. Expiry is state that is evaluated,
// never awaited.
func (s *NetworkService) CheckExpiredProposals(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := domain.NewDelta()
	var expired []string
	for id, p := range s.state.ActiveProposals {
		if !p.Checked && p.Expired(now) {
			delta = delta.CheckProposal(id)
			expired = append(expired, id)
		}
	}
	if delta.Empty() {
		return nil, nil
	}
	if err := s.applyLocked(ctx, delta); err != nil {
		return nil, err
	}
	return expired, nil
}

// RecordProposalResult stores a concluded poll's outcome.
func (s *NetworkService) RecordProposalResult(ctx context.Context, id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.ActiveProposals[id]; !ok {
		return ErrUnknownProposal
	}
	return s.applyLocked(ctx, domain.NewDelta().RecordResult(id, approved))
}

// RegisterFederationContract adds an external contract identifier. The
// set is additive only and carried outside the delta vocabulary.
func (s *NetworkService) RegisterFederationContract(ctx context.Context, contract string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FederationContracts[contract] = struct{}{}
	return s.persistLocked(ctx)
}

// ApplyRemoteDelta folds a delta received from another replica into the
// local state.
func (s *NetworkService) ApplyRemoteDelta(ctx context.Context, blob []byte) error {
	delta, err := DecodeDelta(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, delta)
}

// MergeRemoteState merges a full snapshot from another replica.
func (s *NetworkService) MergeRemoteState(ctx context.Context, blob []byte) error {
	remote, err := DecodeState(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Merge(s.state, remote)
	return s.persistLocked(ctx)
}

// EncodedState returns the current state as a wire frame.
func (s *NetworkService) EncodedState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EncodeState(s.state)
}

func (s *NetworkService) applyLocked(ctx context.Context, delta domain.StateDelta) error {
	ApplyDelta(s.state, delta)
	return s.persistLocked(ctx)
}

func (s *NetworkService) persistLocked(ctx context.Context) error {
	blob, err := EncodeState(s.state)
	if err != nil {
		return err
	}
	if err := s.store.SaveState(ctx, s.contract, blob); err != nil {
		return err
	}
	return nil
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CurrentSchemaVersion is bumped whenever the wire layout of the state
// gains fields. Decoding default-fills absent fields so older blobs
// remain readable.
const CurrentSchemaVersion = 1

var ErrInvalidGroupConfig = errors.New("invalid group config")

// GroupConfig is the group policy half of the CRDT state. It is resolved
// last-write-wins by ConfigTimestamp on the enclosing state.
type GroupConfig struct {
	// MinVouches is the floor of effective vouches an active member must
	// hold; falling below it is an ejection trigger.
	MinVouches int
	// MaxFlags is advisory for the messaging layer's warnings; the engine's
	// ejection triggers are MinVouches and negative standing.
	MaxFlags int
	// OpenMembership allows any member to invite without a poll.
	OpenMembership bool
	// PollTimeout bounds how long a membership poll stays open.
	PollTimeout time.Duration
	// ApprovalThreshold is the fraction of cast votes that must approve.
	ApprovalThreshold float64
	// Quorum is the fraction of active members that must vote at all.
	Quorum float64
}

// DefaultGroupConfig returns the policy a freshly bootstrapped network uses.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		MinVouches:        2,
		MaxFlags:          3,
		OpenMembership:    false,
		PollTimeout:       48 * time.Hour,
		ApprovalThreshold: 0.66,
		Quorum:            0.5,
	}
}

// Validate rejects out-of-range policy values at construction time rather
// than at use time.
func (c GroupConfig) Validate() error {
	if c.MinVouches < 0 {
		return fmt.Errorf("%w: min_vouches %d is negative", ErrInvalidGroupConfig, c.MinVouches)
	}
	if c.MaxFlags < 0 {
		return fmt.Errorf("%w: max_flags %d is negative", ErrInvalidGroupConfig, c.MaxFlags)
	}
	if c.ApprovalThreshold < 0.0 || c.ApprovalThreshold > 1.0 {
		return fmt.Errorf("%w: approval_threshold %v outside [0.0, 1.0]", ErrInvalidGroupConfig, c.ApprovalThreshold)
	}
	if c.Quorum < 0.0 || c.Quorum > 1.0 {
		return fmt.Errorf("%w: quorum %v outside [0.0, 1.0]", ErrInvalidGroupConfig, c.Quorum)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("%w: poll_timeout %v is negative", ErrInvalidGroupConfig, c.PollTimeout)
	}
	// The wire encoding carries poll timeouts in milliseconds, so finer
	// precision would not survive a round trip.
	if c.PollTimeout%time.Millisecond != 0 {
		return fmt.Errorf("%w: poll_timeout %v has sub-millisecond precision", ErrInvalidGroupConfig, c.PollTimeout)
	}
	return nil
}

// Proposal is a membership poll record carried inside the CRDT state.
// Votes live with the messaging collaborator; the state only tracks the
// poll's lifecycle so replicas agree on whether it has concluded.
type Proposal struct {
	ID        string
	CreatedAt int64 // unix milliseconds
	ExpiresAt int64 // unix milliseconds
	Checked   bool
	// Result is nil until the poll concludes; then true for approved.
	Result *bool
}

// Expired reports whether the proposal's window has closed at the given time.
func (p Proposal) Expired(now time.Time) bool {
	return now.UnixMilli() >= p.ExpiresAt
}

// TrustNetworkState is the conflict-free replicated state of the network.
// Every replica updates it independently; the merge law in the service
// layer guarantees convergence without coordination.
type TrustNetworkState struct {
	// Members are the active participants.
	Members MemberSet
	// Ejected holds removed members. Not a permanent tombstone: re-adding
	// a member removes them from this set. Members and Ejected are always
	// disjoint.
	Ejected MemberSet
	// Vouches maps vouchee to the set of vouchers. Entries with empty
	// voucher sets are pruned, never retained.
	Vouches map[MemberHash]MemberSet
	// Flags maps flagged member to the set of flaggers. Same pruning rule.
	Flags map[MemberHash]MemberSet

	Config GroupConfig
	// ConfigTimestamp orders config updates last-write-wins. On an exact
	// tie the existing value is kept; replicas must share this tie-break
	// to stay convergent.
	ConfigTimestamp int64

	SchemaVersion uint32
	// FederationContracts is additive only.
	FederationContracts map[string]struct{}
	// ActiveProposals is keyed by proposal ID.
	ActiveProposals map[string]Proposal
}

// NewTrustNetworkState returns an empty state at the current schema version.
func NewTrustNetworkState() *TrustNetworkState {
	return &TrustNetworkState{
		Members:             make(MemberSet),
		Ejected:             make(MemberSet),
		Vouches:             make(map[MemberHash]MemberSet),
		Flags:               make(map[MemberHash]MemberSet),
		Config:              DefaultGroupConfig(),
		SchemaVersion:       CurrentSchemaVersion,
		FederationContracts: make(map[string]struct{}),
		ActiveProposals:     make(map[string]Proposal),
	}
}

// Clone returns a deep copy. Analysis passes run over clones so the
// long-lived state is never shared with pure computation.
func (s *TrustNetworkState) Clone() *TrustNetworkState {
	out := &TrustNetworkState{
		Members:             s.Members.Clone(),
		Ejected:             s.Ejected.Clone(),
		Vouches:             make(map[MemberHash]MemberSet, len(s.Vouches)),
		Flags:               make(map[MemberHash]MemberSet, len(s.Flags)),
		Config:              s.Config,
		ConfigTimestamp:     s.ConfigTimestamp,
		SchemaVersion:       s.SchemaVersion,
		FederationContracts: make(map[string]struct{}, len(s.FederationContracts)),
		ActiveProposals:     make(map[string]Proposal, len(s.ActiveProposals)),
	}
	for vouchee, vouchers := range s.Vouches {
		out.Vouches[vouchee] = vouchers.Clone()
	}
	for flagged, flaggers := range s.Flags {
		out.Flags[flagged] = flaggers.Clone()
	}
	for contract := range s.FederationContracts {
		out.FederationContracts[contract] = struct{}{}
	}
	for id, p := range s.ActiveProposals {
		if p.Result != nil {
			r := *p.Result
			p.Result = &r
		}
		out.ActiveProposals[id] = p
	}
	return out
}

// IsMember reports whether m is currently active.
func (s *TrustNetworkState) IsMember(m MemberHash) bool {
	return s.Members.Contains(m)
}

// Vouchers returns the set of members vouching for m (possibly nil).
func (s *TrustNetworkState) Vouchers(m MemberHash) MemberSet {
	return s.Vouches[m]
}

// Flaggers returns the set of members flagging m (possibly nil).
func (s *TrustNetworkState) Flaggers(m MemberHash) MemberSet {
	return s.Flags[m]
}

// VoucherCount returns how many incoming vouches m holds.
func (s *TrustNetworkState) VoucherCount(m MemberHash) int {
	return len(s.Vouches[m])
}

// StateChange notifies a subscriber that a contract's state was rewritten.
type StateChange struct {
	Contract string
}

// ContractStateStore is the replicated-storage collaborator. The engine
// treats blobs as opaque; encryption, chunking, and distribution live
// behind this interface.
type ContractStateStore interface {
	// GetState returns the persisted blob for a contract, or ErrNotFound
	// from the implementing package if the contract has never been saved.
	GetState(ctx context.Context, contract string) ([]byte, error)
	// SaveState persists the blob and wakes subscribers.
	SaveState(ctx context.Context, contract string, blob []byte) error
	// Subscribe delivers a StateChange after every SaveState for the
	// contract until ctx is cancelled. Delivery is edge-triggered; the
	// subscriber reloads the full state rather than consuming a diff.
	Subscribe(ctx context.Context, contract string) (<-chan StateChange, error)
}

// Ejector performs the side effects of removing a member (dropping them
// from the messaging group, notifying peers). The engine only decides;
// it never acts.
type Ejector interface {
	Eject(ctx context.Context, contract string, member MemberHash, reason string) error
}

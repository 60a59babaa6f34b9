package domain

import "slices"

// VouchPair is a directed endorsement edge.
type VouchPair struct {
	Voucher MemberHash
	Vouchee MemberHash
}

// FlagPair is a directed accusation edge.
type FlagPair struct {
	Flagger MemberHash
	Flagged MemberHash
}

// ConfigUpdate carries a replacement policy with its own last-write-wins
// timestamp.
type ConfigUpdate struct {
	Config    GroupConfig
	Timestamp int64
}

// ProposalResult records the outcome of a concluded poll.
type ProposalResult struct {
	ID       string
	Approved bool
}

// StateDelta is the unit of state change: a pure value with no history
// that can be applied, discarded, or replayed any number of times.
// Builder methods return a new delta, so multi-part command deltas
// compose fluently before a single apply.
type StateDelta struct {
	AddMembers    []MemberHash
	RemoveMembers []MemberHash
	AddVouches    []VouchPair
	RemoveVouches []VouchPair
	AddFlags      []FlagPair
	RemoveFlags   []FlagPair

	ConfigUpdate *ConfigUpdate

	CreateProposals []Proposal
	CheckProposals  []string
	ProposalResults []ProposalResult
}

// NewDelta returns an empty delta.
func NewDelta() StateDelta {
	return StateDelta{}
}

// Empty reports whether applying the delta would be a no-op.
func (d StateDelta) Empty() bool {
	return len(d.AddMembers) == 0 && len(d.RemoveMembers) == 0 &&
		len(d.AddVouches) == 0 && len(d.RemoveVouches) == 0 &&
		len(d.AddFlags) == 0 && len(d.RemoveFlags) == 0 &&
		d.ConfigUpdate == nil &&
		len(d.CreateProposals) == 0 && len(d.CheckProposals) == 0 &&
		len(d.ProposalResults) == 0
}

func (d StateDelta) AddMember(m MemberHash) StateDelta {
	d.AddMembers = append(slices.Clone(d.AddMembers), m)
	return d
}

func (d StateDelta) RemoveMember(m MemberHash) StateDelta {
	d.RemoveMembers = append(slices.Clone(d.RemoveMembers), m)
	return d
}

func (d StateDelta) AddVouch(voucher, vouchee MemberHash) StateDelta {
	d.AddVouches = append(slices.Clone(d.AddVouches), VouchPair{Voucher: voucher, Vouchee: vouchee})
	return d
}

func (d StateDelta) RemoveVouch(voucher, vouchee MemberHash) StateDelta {
	d.RemoveVouches = append(slices.Clone(d.RemoveVouches), VouchPair{Voucher: voucher, Vouchee: vouchee})
	return d
}

func (d StateDelta) AddFlag(flagger, flagged MemberHash) StateDelta {
	d.AddFlags = append(slices.Clone(d.AddFlags), FlagPair{Flagger: flagger, Flagged: flagged})
	return d
}

func (d StateDelta) RemoveFlag(flagger, flagged MemberHash) StateDelta {
	d.RemoveFlags = append(slices.Clone(d.RemoveFlags), FlagPair{Flagger: flagger, Flagged: flagged})
	return d
}

func (d StateDelta) UpdateConfig(cfg GroupConfig, timestamp int64) StateDelta {
	d.ConfigUpdate = &ConfigUpdate{Config: cfg, Timestamp: timestamp}
	return d
}

func (d StateDelta) CreateProposal(p Proposal) StateDelta {
	d.CreateProposals = append(slices.Clone(d.CreateProposals), p)
	return d
}

func (d StateDelta) CheckProposal(id string) StateDelta {
	d.CheckProposals = append(slices.Clone(d.CheckProposals), id)
	return d
}

func (d StateDelta) RecordResult(id string, approved bool) StateDelta {
	d.ProposalResults = append(slices.Clone(d.ProposalResults), ProposalResult{ID: id, Approved: approved})
	return d
}

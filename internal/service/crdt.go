package service

import (
	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// ApplyDelta folds a delta into the state in place. It is total: any
// well-formed delta applies without error, and applying the same set of
// deltas in any order or repeatedly converges to identical member,
// ejected, vouch, and flag sets.
func ApplyDelta(state *domain.TrustNetworkState, delta domain.StateDelta) {
	for _, m := range delta.AddMembers {
		// Re-adding cancels a previous ejection.
		state.Ejected.Remove(m)
		state.Members.Add(m)
	}
	for _, m := range delta.RemoveMembers {
		state.Members.Remove(m)
		state.Ejected.Add(m)
	}

	for _, v := range delta.AddVouches {
		addEdge(state.Vouches, v.Vouchee, v.Voucher)
	}
	for _, v := range delta.RemoveVouches {
		removeEdge(state.Vouches, v.Vouchee, v.Voucher)
	}
	for _, f := range delta.AddFlags {
		addEdge(state.Flags, f.Flagged, f.Flagger)
	}
	for _, f := range delta.RemoveFlags {
		removeEdge(state.Flags, f.Flagged, f.Flagger)
	}

	if cu := delta.ConfigUpdate; cu != nil && cu.Timestamp > state.ConfigTimestamp {
		state.Config = cu.Config
		state.ConfigTimestamp = cu.Timestamp
	}

	for _, p := range delta.CreateProposals {
		if existing, ok := state.ActiveProposals[p.ID]; ok {
			state.ActiveProposals[p.ID] = preferProposal(existing, p)
		} else {
			state.ActiveProposals[p.ID] = p
		}
	}
	for _, id := range delta.CheckProposals {
		p := state.ActiveProposals[id]
		p.ID = id
		p.Checked = true
		state.ActiveProposals[id] = p
	}
	for _, r := range delta.ProposalResults {
		p := state.ActiveProposals[r.ID]
		p.ID = r.ID
		p.Checked = true
		approved := r.Approved
		p.Result = &approved
		state.ActiveProposals[r.ID] = p
	}
}

// Merge folds another replica's independently evolved state into this
// one. Commutative, associative, and idempotent over the set-valued
// fields: additive fields union, a member present on one side's ejected
// set stays ejected until a re-add delta clears it, config resolves
// last-write-wins, and the schema version takes the maximum.
func Merge(state *domain.TrustNetworkState, other *domain.TrustNetworkState) {
	for m := range other.Members {
		state.Members.Add(m)
	}
	for m := range other.Ejected {
		state.Ejected.Add(m)
	}
	// Restore the disjointness invariant: ejection wins a conflict, so a
	// re-add only sticks once every replica has applied the delta that
	// clears the tombstone.
	for m := range state.Ejected {
		state.Members.Remove(m)
	}

	for vouchee, vouchers := range other.Vouches {
		for voucher := range vouchers {
			addEdge(state.Vouches, vouchee, voucher)
		}
	}
	for flagged, flaggers := range other.Flags {
		for flagger := range flaggers {
			addEdge(state.Flags, flagged, flagger)
		}
	}

	// Ties keep the existing value. Not commutative when two replicas
	// write different configs at the same timestamp; replicas must share
	// this tie-break to stay convergent.
	if other.ConfigTimestamp > state.ConfigTimestamp {
		state.Config = other.Config
		state.ConfigTimestamp = other.ConfigTimestamp
	}

	if other.SchemaVersion > state.SchemaVersion {
		state.SchemaVersion = other.SchemaVersion
	}

	for contract := range other.FederationContracts {
		state.FederationContracts[contract] = struct{}{}
	}

	for id, theirs := range other.ActiveProposals {
		if ours, ok := state.ActiveProposals[id]; ok {
			state.ActiveProposals[id] = preferProposal(ours, theirs)
		} else {
			state.ActiveProposals[id] = theirs
		}
	}
}

// preferProposal resolves two records for the same proposal id: a side
// carrying a result wins, then a side already checked, then the existing
// record. A check or result can arrive before the create it refers to,
// leaving a placeholder with zero timestamps; the losing side's
// timestamps fill those in so replicas converge on full records.
func preferProposal(ours, theirs domain.Proposal) domain.Proposal {
	winner, loser := ours, theirs
	switch {
	case ours.Result == nil && theirs.Result != nil:
		winner, loser = theirs, ours
	case ours.Result != nil:
	case !ours.Checked && theirs.Checked:
		winner, loser = theirs, ours
	}
	if winner.CreatedAt == 0 {
		winner.CreatedAt = loser.CreatedAt
	}
	if winner.ExpiresAt == 0 {
		winner.ExpiresAt = loser.ExpiresAt
	}
	return winner
}

func addEdge(edges map[domain.MemberHash]domain.MemberSet, target, source domain.MemberHash) {
	set, ok := edges[target]
	if !ok {
		set = make(domain.MemberSet)
		edges[target] = set
	}
	set.Add(source)
}

// removeEdge deletes the pair and prunes the target's entry when its set
// empties; empty sets are never retained.
func removeEdge(edges map[domain.MemberHash]domain.MemberSet, target, source domain.MemberHash) {
	set, ok := edges[target]
	if !ok {
		return
	}
	set.Remove(source)
	if len(set) == 0 {
		delete(edges, target)
	}
}

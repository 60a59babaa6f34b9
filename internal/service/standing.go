package service

import (
	"fmt"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// Standing breaks down a member's trust score. A voucher-flagger (a
// member who both vouched for and flagged the same person) is read as a
// retracted endorsement: their vouch and flag cancel symmetrically, so a
// single defector costs the target at most one point, never two.
type Standing struct {
	EffectiveVouches int `json:"effective_vouches"`
	RegularFlags     int `json:"regular_flags"`
	Score            int `json:"score"`
}

// StandingOf computes the full breakdown for an active member. ok is
// false for any hash outside the member set; non-membership is an
// expected outcome, not an error.
func StandingOf(state *domain.TrustNetworkState, m domain.MemberHash) (Standing, bool) {
	if !state.IsMember(m) {
		return Standing{}, false
	}
	vouchers := state.Vouchers(m)
	flaggers := state.Flaggers(m)
	overlap := len(vouchers.Intersect(flaggers))

	s := Standing{
		EffectiveVouches: len(vouchers) - overlap,
		RegularFlags:     len(flaggers) - overlap,
	}
	s.Score = s.EffectiveVouches - s.RegularFlags
	return s, true
}

// CalculateStanding returns just the score. ok is false for non-members.
func CalculateStanding(state *domain.TrustNetworkState, m domain.MemberHash) (int, bool) {
	s, ok := StandingOf(state, m)
	return s.Score, ok
}

// ShouldEject reports whether either ejection trigger fires for an
// active member: effective vouches below the configured minimum, or
// negative standing. Both triggers are independent and evaluated on a
// single snapshot with no grace period. Pure decision only; removal and
// its side effects belong to the messaging collaborator.
func ShouldEject(state *domain.TrustNetworkState, m domain.MemberHash) bool {
	s, ok := StandingOf(state, m)
	if !ok {
		return false
	}
	return s.EffectiveVouches < state.Config.MinVouches || s.Score < 0
}

// EjectionReason names the trigger that fired, for audit logs and the
// ejector callback. ok is false when no trigger fires.
func EjectionReason(state *domain.TrustNetworkState, m domain.MemberHash) (string, bool) {
	s, ok := StandingOf(state, m)
	if !ok {
		return "", false
	}
	if s.EffectiveVouches < state.Config.MinVouches {
		return fmt.Sprintf("effective vouches %d below minimum %d", s.EffectiveVouches, state.Config.MinVouches), true
	}
	if s.Score < 0 {
		return fmt.Sprintf("standing %d is negative", s.Score), true
	}
	return "", false
}

package service

import (
	"sort"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// ValidatorVouchThreshold is the incoming-vouch count at which a member
// is trusted to anchor admissions.
const ValidatorVouchThreshold = 3

// Health tier boundaries, half-open on the low side: exactly 0.33 is
// developing, exactly 0.66 is healthy. Fixed by the trust model, not
// configurable.
const (
	dvrUnhealthyBelow = 0.33
	dvrHealthyFrom    = 0.66
)

// Validators lists members with at least ValidatorVouchThreshold
// incoming vouches, ordered by descending voucher count so the greedy
// packing considers well-connected validators first. Ties break on
// ascending hash order for determinism.
func Validators(state *domain.TrustNetworkState) []domain.MemberHash {
	var out []domain.MemberHash
	for _, m := range state.Members.Sorted() {
		if state.VoucherCount(m) >= ValidatorVouchThreshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := state.VoucherCount(out[i]), state.VoucherCount(out[j])
		if ci != cj {
			return ci > cj
		}
		return out[i].Less(out[j])
	})
	return out
}

// DistinctValidators greedily packs validators with mutually disjoint
// voucher sets: a validator is accepted iff none of its vouchers were
// already claimed by an earlier pick, and acceptance claims them. The
// returned used set accumulates every claimed voucher, so any two
// selected validators are disjoint by construction.
func DistinctValidators(state *domain.TrustNetworkState) ([]domain.MemberHash, domain.MemberSet) {
	used := make(domain.MemberSet)
	var distinct []domain.MemberHash
	for _, v := range Validators(state) {
		vouchers := state.Vouchers(v)
		if !vouchers.Disjoint(used) {
			continue
		}
		distinct = append(distinct, v)
		for voucher := range vouchers {
			used.Add(voucher)
		}
	}
	return distinct, used
}

// CountDistinctValidators returns how many mutually independent
// validators the network holds.
func CountDistinctValidators(state *domain.TrustNetworkState) int {
	distinct, _ := DistinctValidators(state)
	return len(distinct)
}

// CalculateDVR computes the Distinct-Validator-Ratio health score:
// distinct validators over the theoretical maximum floor(N/4). Networks
// too small to measure (under 4 members, or a zero maximum) are
// trivially healthy at ratio 1.0.
func CalculateDVR(state *domain.TrustNetworkState) domain.DVRReport {
	networkSize := len(state.Members)
	maxPossible := networkSize / 4

	if networkSize < 4 || maxPossible == 0 {
		return domain.DVRReport{
			Ratio:              1.0,
			DistinctValidators: CountDistinctValidators(state),
			MaxPossible:        maxPossible,
			NetworkSize:        networkSize,
			Status:             domain.HealthHealthy,
		}
	}

	distinct := CountDistinctValidators(state)
	ratio := float64(distinct) / float64(maxPossible)
	if ratio > 1.0 {
		ratio = 1.0
	}

	return domain.DVRReport{
		Ratio:              ratio,
		DistinctValidators: distinct,
		MaxPossible:        maxPossible,
		NetworkSize:        networkSize,
		Status:             healthTier(ratio),
	}
}

func healthTier(ratio float64) domain.HealthStatus {
	switch {
	case ratio < dvrUnhealthyBelow:
		return domain.HealthUnhealthy
	case ratio < dvrHealthyFrom:
		return domain.HealthDeveloping
	default:
		return domain.HealthHealthy
	}
}

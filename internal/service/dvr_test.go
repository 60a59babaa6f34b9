package service

import (
	"testing"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// vouchedMember adds target as a member with incoming vouches from each
// source, adding sources as members too.
func vouchedMember(state *domain.TrustNetworkState, target domain.MemberHash, sources ...domain.MemberHash) {
	delta := domain.NewDelta().AddMember(target)
	for _, s := range sources {
		delta = delta.AddMember(s).AddVouch(s, target)
	}
	ApplyDelta(state, delta)
}

func padMembers(state *domain.TrustNetworkState, from, to byte) {
	delta := domain.NewDelta()
	for i := from; i <= to; i++ {
		delta = delta.AddMember(h(i))
	}
	ApplyDelta(state, delta)
}

func TestValidators(t *testing.T) {
	state := domain.NewTrustNetworkState()
	vouchedMember(state, h(1), h(10), h(11), h(12))       // 3 vouches
	vouchedMember(state, h(2), h(10), h(11), h(12), h(13)) // 4 vouches
	vouchedMember(state, h(3), h(10), h(11))               // 2 vouches, not a validator

	got := Validators(state)
	if len(got) != 2 {
		t.Fatalf("validator count = %d, want 2", len(got))
	}
	// Ordered by descending voucher count.
	if got[0] != h(2) || got[1] != h(1) {
		t.Errorf("validator order = %v, want [2 1]", got)
	}
}

func TestDistinctValidators_SharedVouchersCollapse(t *testing.T) {
	// Two validators backed by the same three vouchers are one bloc.
	state := domain.NewTrustNetworkState()
	vouchedMember(state, h(1), h(10), h(11), h(12))
	vouchedMember(state, h(2), h(10), h(11), h(12))

	distinct, used := DistinctValidators(state)
	if len(distinct) != 1 {
		t.Errorf("distinct = %v, want exactly one of the overlapping pair", distinct)
	}
	if len(used) != 3 {
		t.Errorf("used voucher set = %v, want the 3 claimed vouchers", used)
	}
}

func TestDistinctValidators_DisjointnessInvariant(t *testing.T) {
	state := domain.NewTrustNetworkState()
	vouchedMember(state, h(1), h(10), h(11), h(12))
	vouchedMember(state, h(2), h(12), h(13), h(14)) // shares h(12) with h(1)
	vouchedMember(state, h(3), h(20), h(21), h(22))
	vouchedMember(state, h(4), h(22), h(23), h(24), h(25)) // shares h(22) with h(3)

	distinct, _ := DistinctValidators(state)
	for i, a := range distinct {
		for _, b := range distinct[i+1:] {
			if !state.Vouchers(a).Disjoint(state.Vouchers(b)) {
				t.Errorf("selected validators %s and %s share a voucher", a.Short(), b.Short())
			}
		}
	}
}

func TestCalculateDVR(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *domain.TrustNetworkState
		ratio    float64
		distinct int
		max      int
		status   domain.HealthStatus
	}{
		{
			// Twelve members, two disjoint validators, max floor(12/4)=3.
			// 2/3 ≈ 0.667 clears the healthy boundary.
			name: "two thirds is healthy",
			build: func() *domain.TrustNetworkState {
				state := domain.NewTrustNetworkState()
				vouchedMember(state, h(1), h(10), h(11), h(12))
				vouchedMember(state, h(2), h(13), h(14), h(15))
				padMembers(state, 20, 23)
				return state
			},
			ratio:    2.0 / 3.0,
			distinct: 2,
			max:      3,
			status:   domain.HealthHealthy,
		},
		{
			// Twenty members, one distinct validator, max 5: 0.2.
			name: "single bloc is unhealthy",
			build: func() *domain.TrustNetworkState {
				state := domain.NewTrustNetworkState()
				vouchedMember(state, h(1), h(10), h(11), h(12))
				vouchedMember(state, h(2), h(10), h(11), h(12))
				padMembers(state, 30, 44)
				return state
			},
			ratio:    0.2,
			distinct: 1,
			max:      5,
			status:   domain.HealthUnhealthy,
		},
		{
			name: "middle band is developing",
			build: func() *domain.TrustNetworkState {
				state := domain.NewTrustNetworkState()
				vouchedMember(state, h(1), h(10), h(11), h(12))
				padMembers(state, 20, 24) // 9 members total, max 2, ratio 0.5
				return state
			},
			ratio:    0.5,
			distinct: 1,
			max:      2,
			status:   domain.HealthDeveloping,
		},
		{
			name: "small network is trivially healthy",
			build: func() *domain.TrustNetworkState {
				state := domain.NewTrustNetworkState()
				padMembers(state, 1, 3)
				return state
			},
			ratio:    1.0,
			distinct: 0,
			max:      0,
			status:   domain.HealthHealthy,
		},
		{
			name: "empty network is trivially healthy",
			build: func() *domain.TrustNetworkState {
				return domain.NewTrustNetworkState()
			},
			ratio:    1.0,
			distinct: 0,
			max:      0,
			status:   domain.HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CalculateDVR(tt.build())
			if report.DistinctValidators != tt.distinct {
				t.Errorf("distinct = %d, want %d", report.DistinctValidators, tt.distinct)
			}
			if report.MaxPossible != tt.max {
				t.Errorf("max possible = %d, want %d", report.MaxPossible, tt.max)
			}
			if diff := report.Ratio - tt.ratio; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ratio = %v, want %v", report.Ratio, tt.ratio)
			}
			if report.Status != tt.status {
				t.Errorf("status = %s, want %s", report.Status, tt.status)
			}
		})
	}
}

func TestCalculateDVR_Bounded(t *testing.T) {
	// More distinct validators than floor(N/4) clamps the ratio to 1.0.
	state := domain.NewTrustNetworkState()
	vouchedMember(state, h(1), h(10), h(11), h(12))
	vouchedMember(state, h(2), h(13), h(14), h(15))
	// 8 members, max 2, distinct 2, plus any surplus cannot exceed 1.0.

	report := CalculateDVR(state)
	if report.Ratio < 0 || report.Ratio > 1 {
		t.Errorf("ratio %v out of [0, 1]", report.Ratio)
	}
	if report.Status != domain.HealthHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
}

func TestHealthTierBoundaries(t *testing.T) {
	tests := []struct {
		ratio float64
		want  domain.HealthStatus
	}{
		{0.0, domain.HealthUnhealthy},
		{0.32, domain.HealthUnhealthy},
		{0.33, domain.HealthDeveloping},
		{0.5, domain.HealthDeveloping},
		{0.65, domain.HealthDeveloping},
		{0.66, domain.HealthHealthy},
		{1.0, domain.HealthHealthy},
	}
	for _, tt := range tests {
		if got := healthTier(tt.ratio); got != tt.want {
			t.Errorf("healthTier(%v) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

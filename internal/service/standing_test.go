package service

import (
	"strings"
	"testing"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// standingFixture builds a member with the given vouchers and flaggers.
func standingFixture(vouchers, flaggers []domain.MemberHash) *domain.TrustNetworkState {
	state := domain.NewTrustNetworkState()
	target := h(100)
	state.Members.Add(target)
	for _, v := range vouchers {
		state.Members.Add(v)
		ApplyDelta(state, domain.NewDelta().AddVouch(v, target))
	}
	for _, f := range flaggers {
		state.Members.Add(f)
		ApplyDelta(state, domain.NewDelta().AddFlag(f, target))
	}
	return state
}

func TestStandingOf(t *testing.T) {
	tests := []struct {
		name     string
		vouchers []domain.MemberHash
		flaggers []domain.MemberHash
		want     Standing
	}{
		{
			name:     "no edges",
			vouchers: nil,
			flaggers: nil,
			want:     Standing{EffectiveVouches: 0, RegularFlags: 0, Score: 0},
		},
		{
			name:     "vouches only",
			vouchers: []domain.MemberHash{h(1), h(2), h(3)},
			flaggers: nil,
			want:     Standing{EffectiveVouches: 3, RegularFlags: 0, Score: 3},
		},
		{
			name:     "flags only",
			vouchers: nil,
			flaggers: []domain.MemberHash{h(1), h(2)},
			want:     Standing{EffectiveVouches: 0, RegularFlags: 2, Score: -2},
		},
		{
			// The defining case: A vouched and flagged, B only vouched.
			// A's retraction cancels one point, never two.
			name:     "voucher flagger overlap",
			vouchers: []domain.MemberHash{h(1), h(2)},
			flaggers: []domain.MemberHash{h(1)},
			want:     Standing{EffectiveVouches: 1, RegularFlags: 0, Score: 1},
		},
		{
			name:     "full overlap",
			vouchers: []domain.MemberHash{h(1), h(2)},
			flaggers: []domain.MemberHash{h(1), h(2)},
			want:     Standing{EffectiveVouches: 0, RegularFlags: 0, Score: 0},
		},
		{
			name:     "mixed",
			vouchers: []domain.MemberHash{h(1), h(2), h(3)},
			flaggers: []domain.MemberHash{h(3), h(4), h(5)},
			want:     Standing{EffectiveVouches: 2, RegularFlags: 2, Score: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := standingFixture(tt.vouchers, tt.flaggers)
			got, ok := StandingOf(state, h(100))
			if !ok {
				t.Fatal("target should be a member")
			}
			if got != tt.want {
				t.Errorf("standing = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// A single member turning on the target costs at most one point of
// standing relative to never having interacted at all.
func TestStanding_NoTwoPointSwing(t *testing.T) {
	base := standingFixture([]domain.MemberHash{h(1), h(2), h(3)}, nil)
	baseline, _ := CalculateStanding(base, h(100))

	defected := standingFixture([]domain.MemberHash{h(1), h(2), h(3)}, []domain.MemberHash{h(1)})
	after, _ := CalculateStanding(defected, h(100))

	if baseline-after != 1 {
		t.Errorf("defection swung standing by %d points, want exactly 1", baseline-after)
	}
}

func TestStandingOf_NonMember(t *testing.T) {
	state := domain.NewTrustNetworkState()
	if _, ok := StandingOf(state, h(1)); ok {
		t.Error("non-member should not have a standing")
	}

	state.Members.Add(h(1))
	ApplyDelta(state, domain.NewDelta().RemoveMember(h(1)))
	if _, ok := StandingOf(state, h(1)); ok {
		t.Error("ejected member should not have a standing")
	}
}

func TestShouldEject(t *testing.T) {
	tests := []struct {
		name       string
		minVouches int
		vouchers   []domain.MemberHash
		flaggers   []domain.MemberHash
		want       bool
	}{
		{
			name:       "healthy member",
			minVouches: 2,
			vouchers:   []domain.MemberHash{h(1), h(2)},
			want:       false,
		},
		{
			name:       "below vouch minimum",
			minVouches: 2,
			vouchers:   []domain.MemberHash{h(1)},
			want:       true,
		},
		{
			name:       "negative standing",
			minVouches: 0,
			vouchers:   []domain.MemberHash{h(1)},
			flaggers:   []domain.MemberHash{h(2), h(3)},
			want:       true,
		},
		{
			// Overlap erodes effective vouches below the minimum even
			// though the raw voucher count meets it.
			name:       "overlap drops below minimum",
			minVouches: 2,
			vouchers:   []domain.MemberHash{h(1), h(2)},
			flaggers:   []domain.MemberHash{h(1)},
			want:       true,
		},
		{
			name:       "zero standing survives",
			minVouches: 2,
			vouchers:   []domain.MemberHash{h(1), h(2)},
			flaggers:   []domain.MemberHash{h(3), h(4)},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := standingFixture(tt.vouchers, tt.flaggers)
			state.Config.MinVouches = tt.minVouches
			if got := ShouldEject(state, h(100)); got != tt.want {
				t.Errorf("ShouldEject = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEjectionReason(t *testing.T) {
	state := standingFixture([]domain.MemberHash{h(1)}, nil)
	state.Config.MinVouches = 2

	reason, ok := EjectionReason(state, h(100))
	if !ok {
		t.Fatal("expected an ejection reason")
	}
	if !strings.Contains(reason, "below minimum") {
		t.Errorf("reason should name the vouch trigger, got %q", reason)
	}

	state.Config.MinVouches = 0
	ApplyDelta(state, domain.NewDelta().AddFlag(h(2), h(100)).AddFlag(h(3), h(100)))
	state.Members.Add(h(2))
	state.Members.Add(h(3))
	reason, ok = EjectionReason(state, h(100))
	if !ok {
		t.Fatal("expected an ejection reason")
	}
	if !strings.Contains(reason, "negative") {
		t.Errorf("reason should name the standing trigger, got %q", reason)
	}

	healthy := standingFixture([]domain.MemberHash{h(1), h(2)}, nil)
	healthy.Config.MinVouches = 1
	if _, ok := EjectionReason(healthy, h(100)); ok {
		t.Error("healthy member should have no ejection reason")
	}
}

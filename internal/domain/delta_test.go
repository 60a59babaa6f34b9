package domain

import "testing"

func TestDeltaBuilder_ValueSemantics(t *testing.T) {
	base := NewDelta().AddMember(mh(1))

	// Each builder call returns a new value; branching off a shared
	// prefix must not alias the backing arrays.
	left := base.AddMember(mh(2))
	right := base.AddMember(mh(3))

	if len(base.AddMembers) != 1 {
		t.Errorf("base mutated: %v", base.AddMembers)
	}
	if len(left.AddMembers) != 2 || left.AddMembers[1] != mh(2) {
		t.Errorf("left branch = %v", left.AddMembers)
	}
	if len(right.AddMembers) != 2 || right.AddMembers[1] != mh(3) {
		t.Errorf("right branch = %v, aliased with left", right.AddMembers)
	}
}

func TestDeltaEmpty(t *testing.T) {
	if !NewDelta().Empty() {
		t.Error("fresh delta should be empty")
	}

	nonEmpty := []StateDelta{
		NewDelta().AddMember(mh(1)),
		NewDelta().RemoveMember(mh(1)),
		NewDelta().AddVouch(mh(1), mh(2)),
		NewDelta().RemoveVouch(mh(1), mh(2)),
		NewDelta().AddFlag(mh(1), mh(2)),
		NewDelta().RemoveFlag(mh(1), mh(2)),
		NewDelta().UpdateConfig(DefaultGroupConfig(), 1),
		NewDelta().CreateProposal(Proposal{ID: "p"}),
		NewDelta().CheckProposal("p"),
		NewDelta().RecordResult("p", true),
	}
	for i, d := range nonEmpty {
		if d.Empty() {
			t.Errorf("delta %d should not be empty", i)
		}
	}
}

package loom

import "testing"

func TestTrailExtendedDoesNotMutateReceiver(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode("a")
	b := reg.NewNode("b")
	c := reg.NewNode("c")

	ta := NewTrail(a)
	tab := ta.Extended(b)
	tac := ta.Extended(c)

	if ta.Len() != 1 {
		t.Fatalf("base trail len = %d, want 1", ta.Len())
	}
	if tab.Node() != b || tac.Node() != c {
		t.Error("extended trails do not end at the extended node")
	}
	if tab.Root() != a || tac.Root() != a {
		t.Error("extended trails lost the root")
	}
}

func TestTrailEquals(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode("a")
	b := reg.NewNode("b")

	t1 := NewTrail(a).Extended(b)
	t2 := NewTrail(a).Extended(b)
	t3 := NewTrail(a)

	if !t1.Equals(t2) {
		t.Error("identical paths should compare equal")
	}
	if t1.Equals(t3) {
		t.Error("trails of different length should not compare equal")
	}
}

func TestTrailString(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode("root")
	b := reg.NewNode("")
	tr := NewTrail(a).Extended(b)

	if got := tr.String(); got != "root/?" {
		t.Errorf("String() = %q, want %q", got, "root/?")
	}
}

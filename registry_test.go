package loom

import "testing"

func TestRegistryIDsAreSequentialFromOne(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewNode("a")
	b := reg.NewNode("b")
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("IDs = %d, %d, want 1, 2", a.ID, b.ID)
	}
}

func TestRegistryDisposeWithLiveDisplayPanics(t *testing.T) {
	reg := NewRegistry()
	root := reg.NewNode("root")
	NewDisplay(reg, root, DisplayOptions{Width: 8, Height: 8})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic disposing a registry with a live display")
		}
	}()
	reg.Dispose()
}

func TestRegistryDoubleDisposePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Dispose()

	defer expectPanic(t, "loom: registry disposed twice")
	reg.Dispose()
}

func TestMutationCounterCatchesHookMutation(t *testing.T) {
	reg := NewRegistry()
	reg.SetDebug(true)
	root := reg.NewNode("root")
	d := NewDisplay(reg, root, DisplayOptions{Width: 8, Height: 8})
	n := addRect(t, reg, root, "n")
	rogue := reg.NewNode("rogue")
	n.OnValidateBounds = func(*Node) {
		// Mutating the scene from a bounds hook is a contract violation.
		root.AddChild(rogue)
	}

	defer expectPanic(t, "loom debug: scene mutated during bounds validation")
	d.UpdateDisplay()
}

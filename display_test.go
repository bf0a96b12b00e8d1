package loom

import (
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

// newTestDisplay builds a small display for pipeline tests.
func newTestDisplay(t *testing.T) (*Registry, *Node, *Display) {
	t.Helper()
	reg := NewRegistry()
	root := reg.NewNode("root")
	d := NewDisplay(reg, root, DisplayOptions{Width: 64, Height: 64})
	return reg, root, d
}

// addRect attaches a solid-fill leaf and returns it.
func addRect(t *testing.T, reg *Registry, parent *Node, name string) *Node {
	t.Helper()
	n := reg.NewNode(name)
	n.SetSelfBounds(8, 8)
	parent.AddChild(n)
	return n
}

func assertQueuesEmpty(t *testing.T, d *Display) {
	t.Helper()
	if n := len(d.drawablesToUpdateLinks); n != 0 {
		t.Errorf("links-update queue has %d entries after update", n)
	}
	if n := len(d.changeIntervalsToDispose); n != 0 {
		t.Errorf("change-interval queue has %d entries after update", n)
	}
	if n := len(d.drawablesToChangeBlock); n != 0 {
		t.Errorf("change-block queue has %d entries after update", n)
	}
	if n := len(d.instanceRootsToDispose); n != 0 {
		t.Errorf("instance-disposal queue has %d entries after update", n)
	}
	if n := len(d.drawablesToDispose); n != 0 {
		t.Errorf("drawable-disposal queue has %d entries after update", n)
	}
	if n := len(d.transformRootsPass) + len(d.transformRootsPlain); n != 0 {
		t.Errorf("transform queues have %d entries after update", n)
	}
	if n := len(d.reduceReferenceInstances); n != 0 {
		t.Errorf("reduce-references queue has %d entries after update", n)
	}
}

func TestInitialBuild(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	addRect(t, reg, root, "b")
	addRect(t, reg, root, "c")

	d.UpdateDisplay()

	if got := d.liveInstanceCount(); got != 4 {
		t.Errorf("live instances = %d, want 4", got)
	}
	if got := d.liveDrawableCount(); got != 3 {
		t.Errorf("live drawables = %d, want 3", got)
	}
	if got := len(d.rootBackbone.Blocks()); got != 1 {
		t.Fatalf("blocks = %d, want 1", got)
	}
	if r := d.rootBackbone.Blocks()[0].Renderer(); r != RendererCanvas {
		t.Errorf("block renderer = %v, want canvas", r)
	}
	assertQueuesEmpty(t, d)
}

func TestUpdateDisplayIdempotent(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	addRect(t, reg, root, "b")

	d.UpdateDisplay()
	blocks := d.rootBackbone.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	id := blocks[0].id()
	frame := d.frameID

	d.UpdateDisplay()

	if d.frameID != frame+1 {
		t.Errorf("frameID = %d, want %d", d.frameID, frame+1)
	}
	if len(d.rootBackbone.Blocks()) != 1 || d.rootBackbone.Blocks()[0].id() != id {
		t.Error("a no-op update must not change block identities")
	}
	assertQueuesEmpty(t, d)
}

func TestRemoveChildDisposesInstanceAndDrawable(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	b := addRect(t, reg, root, "b")
	addRect(t, reg, root, "c")
	d.UpdateDisplay()

	bInst := d.rootInstance.children[1]
	bDraw := bInst.selfDrawable

	root.RemoveChild(b)
	d.UpdateDisplay()

	if !bInst.disposed {
		t.Error("removed child's instance not disposed")
	}
	if !bDraw.disposed {
		t.Error("removed child's drawable not disposed")
	}
	if got := d.liveInstanceCount(); got != 3 {
		t.Errorf("live instances = %d, want 3", got)
	}
	if got := len(d.rootBackbone.Blocks()); got != 1 {
		t.Errorf("blocks = %d, want 1 (run unchanged by interior removal)", got)
	}
	assertQueuesEmpty(t, d)
}

func TestSetSizeIsDeferred(t *testing.T) {
	_, _, d := newTestDisplay(t)
	d.UpdateDisplay()

	d.SetSize(128, 256)
	if w, h := d.Size(); w != 64 || h != 64 {
		t.Fatalf("Size() = %dx%d before update, want 64x64", w, h)
	}

	d.UpdateDisplay()
	if w, h := d.Size(); w != 128 || h != 256 {
		t.Fatalf("Size() = %dx%d after update, want 128x256", w, h)
	}
	sb := d.Surface().Bounds()
	if sb.Dx() != 128 || sb.Dy() != 256 {
		t.Errorf("surface = %dx%d, want 128x256", sb.Dx(), sb.Dy())
	}
}

func TestSetBackgroundColorIsDeferred(t *testing.T) {
	_, _, d := newTestDisplay(t)
	blue := Color{B: 1, A: 1}

	d.SetBackgroundColor(blue)
	if d.BackgroundColor() == blue {
		t.Fatal("background committed before update")
	}
	d.UpdateDisplay()
	if d.BackgroundColor() != blue {
		t.Fatal("background not committed by update")
	}
}

func TestReentrantUpdatePanicsAndPoisons(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	// Re-enter from inside the paint phase.
	n := addRect(t, reg, root, "n")
	n.PaintFn = func(dst *ebiten.Image, m [6]float64) { d.UpdateDisplay() }

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic from re-entrant UpdateDisplay")
			}
		}()
		d.UpdateDisplay()
	}()

	// The display stays poisoned after the panic.
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic from poisoned display")
		}
	}()
	d.UpdateDisplay()
}

func TestVisibilityPropagatesTopDown(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	group := reg.NewNode("group")
	root.AddChild(group)
	leaf := addRect(t, reg, group, "leaf")
	_ = leaf
	d.UpdateDisplay()

	leafInst := d.rootInstance.children[0].children[0]
	if !leafInst.visible {
		t.Fatal("leaf should start visible")
	}

	group.SetVisible(false)
	d.UpdateDisplay()
	if leafInst.visible {
		t.Error("hiding an ancestor must hide the instance")
	}

	group.SetVisible(true)
	d.UpdateDisplay()
	if !leafInst.visible {
		t.Error("showing the ancestor must restore visibility")
	}
}

func TestInvisibleSubtreeDefersSync(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	group := reg.NewNode("group")
	root.AddChild(group)
	addRect(t, reg, group, "a")
	d.UpdateDisplay()

	group.SetVisible(false)
	d.UpdateDisplay()

	// Edits under a hidden subtree are recorded but not synced.
	late := addRect(t, reg, group, "late")
	_ = late
	d.UpdateDisplay()

	groupInst := d.rootInstance.children[0]
	lateInst := groupInst.children[1]
	if !lateInst.stateless {
		t.Fatal("sync under a hidden subtree should be deferred")
	}

	group.SetVisible(true)
	d.UpdateDisplay()
	if lateInst.stateless {
		t.Fatal("showing the subtree must run the deferred sync")
	}
	if lateInst.selfDrawable == nil {
		t.Error("deferred child never got a drawable")
	}
}

func TestSharedCacheRefCounting(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	shared := reg.NewNode("shared")
	shared.Shared = true
	shared.SetSelfBounds(4, 4)
	a := reg.NewNode("a")
	b := reg.NewNode("b")
	root.AddChild(a)
	root.AddChild(b)
	a.AddChild(shared)
	b.AddChild(shared)

	d.UpdateDisplay()

	if len(d.sharedEntries) != 1 {
		t.Fatalf("shared entries = %d, want 1", len(d.sharedEntries))
	}
	entry := d.sharedEntries[shared]
	if entry.refCount != 2 {
		t.Fatalf("refCount = %d, want 2 (one per trail)", entry.refCount)
	}

	a.RemoveChild(shared)
	d.UpdateDisplay()
	if entry.refCount != 1 {
		t.Fatalf("refCount = %d after one removal, want 1", entry.refCount)
	}
	if entry.disposed {
		t.Fatal("entry disposed while still referenced")
	}

	b.RemoveChild(shared)
	d.UpdateDisplay()
	if !entry.disposed {
		t.Error("entry must dispose with the last reference")
	}
	if len(d.sharedEntries) != 0 {
		t.Errorf("shared entries = %d after all removals, want 0", len(d.sharedEntries))
	}
}

func TestDisplayDisposeReleasesEverything(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	addRect(t, reg, root, "b")
	d.UpdateDisplay()

	inst := d.rootInstance
	d.Dispose()

	if !d.IsDisposed() {
		t.Fatal("display not marked disposed")
	}
	if !inst.disposed {
		t.Error("instance tree not disposed")
	}
	if len(reg.displays) != 0 {
		t.Error("display still registered after dispose")
	}
	// Registry teardown must now succeed.
	reg.Dispose()
}

func TestUpdateAfterDisposePanics(t *testing.T) {
	_, _, d := newTestDisplay(t)
	d.Dispose()

	defer expectPanic(t, "loom: UpdateDisplay on disposed display")
	d.UpdateDisplay()
}

func TestDisposeDetachesInputAndAccess(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	input := NewInput(d)
	access := NewAccessTree(d)
	d.UpdateDisplay()
	access.Rebuild()

	d.Dispose()

	if d.input != nil {
		t.Error("input router still attached after dispose")
	}
	if !input.detached {
		t.Error("router not detached by display disposal")
	}
	if d.access != nil {
		t.Error("access tree still attached after dispose")
	}
	if len(access.Peers()) != 0 {
		t.Error("peers survive display disposal")
	}
}

func TestDoubleDisposeIsDebugAssertion(t *testing.T) {
	reg, _, d := newTestDisplay(t)
	reg.SetDebug(true)
	d.Dispose()

	defer expectPanic(t, "loom debug: display disposed twice")
	d.Dispose()
}

func TestRootInstanceCreatedLazily(t *testing.T) {
	_, root, d := newTestDisplay(t)
	if d.rootInstance != nil {
		t.Fatal("root instance exists before the first update")
	}
	if len(root.instances) != 0 {
		t.Fatal("root node gained an instance before the first update")
	}

	d.UpdateDisplay()
	if d.rootInstance == nil {
		t.Fatal("first update must create the root instance")
	}
	if d.rootInstance.stateless {
		t.Error("first update must promote the root instance")
	}
}

package loom

import (
	"math"
	"testing"
)

func TestStubCreatedAtMutationTime(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	d.UpdateDisplay()

	child := reg.NewNode("child")
	root.AddChild(child)

	// Before any update: the stub exists, unpromoted.
	if len(d.rootInstance.children) != 1 {
		t.Fatal("stub instance not created at mutation time")
	}
	stub := d.rootInstance.children[0]
	if !stub.stateless {
		t.Fatal("stub should stay stateless until the sync pass")
	}
	if stub.node != child {
		t.Error("stub mirrors the wrong node")
	}

	d.UpdateDisplay()
	if stub.stateless {
		t.Error("sync pass must promote the stub")
	}
}

func TestOneInstancePerTrail(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := reg.NewNode("a")
	root.AddChild(a)
	b := addRect(t, reg, a, "b")
	_ = b
	d.UpdateDisplay()

	aInst := d.rootInstance.children[0]
	bInst := aInst.children[0]
	if !bInst.trail.Equals(NewTrail(root).Extended(a).Extended(b)) {
		t.Error("instance trail does not match its path")
	}
	if len(b.instances) != 1 {
		t.Errorf("node has %d instances, want 1", len(b.instances))
	}
}

func TestWorldTransformComposition(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := reg.NewNode("a")
	a.SetPosition(10, 20)
	a.SetScale(2, 2)
	root.AddChild(a)
	b := addRect(t, reg, a, "b")
	b.SetPosition(1, 1)
	d.UpdateDisplay()

	bInst := d.rootInstance.children[0].children[0]
	want := [6]float64{2, 0, 0, 2, 12, 22}
	for i := range want {
		if math.Abs(bInst.worldTransform[i]-want[i]) > 1e-9 {
			t.Fatalf("worldTransform = %v, want %v", bInst.worldTransform, want)
		}
	}

	wx, wy := bInst.LocalToWorld(0, 0)
	if wx != 12 || wy != 22 {
		t.Errorf("LocalToWorld(0,0) = (%g, %g), want (12, 22)", wx, wy)
	}
	lx, ly := bInst.WorldToLocal(12, 22)
	if math.Abs(lx) > 1e-9 || math.Abs(ly) > 1e-9 {
		t.Errorf("WorldToLocal(12,22) = (%g, %g), want (0, 0)", lx, ly)
	}
}

func TestTransformChangePropagatesNextUpdate(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	d.UpdateDisplay()

	aInst := d.rootInstance.children[0]
	a.SetPosition(5, 7)
	if aInst.worldTransform[4] == 5 {
		t.Fatal("transform applied inline; must wait for the update pass")
	}

	d.UpdateDisplay()
	if aInst.worldTransform[4] != 5 || aInst.worldTransform[5] != 7 {
		t.Errorf("worldTransform translation = (%g, %g), want (5, 7)",
			aInst.worldTransform[4], aInst.worldTransform[5])
	}
}

func TestWorldOpacityAccumulates(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := reg.NewNode("a")
	root.AddChild(a)
	b := addRect(t, reg, a, "b")
	d.UpdateDisplay()

	a.SetOpacity(0.5)
	b.SetOpacity(0.5)
	d.UpdateDisplay()

	// a gained a backbone (translucent group); b hangs beneath it.
	bInst := d.rootInstance.children[0].children[0]
	if math.Abs(bInst.worldOpacity-0.25) > 1e-9 {
		t.Errorf("worldOpacity = %g, want 0.25", bInst.worldOpacity)
	}
}

func TestOpacityChangeOnLeafIsRepaintOnly(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	d.UpdateDisplay()

	aInst := d.rootInstance.children[0]
	dr := aInst.selfDrawable

	a.SetOpacity(0.3)
	d.UpdateDisplay()

	if aInst.selfDrawable != dr || dr.disposed {
		t.Error("leaf opacity must not recreate the drawable")
	}
	if aInst.isBackbone {
		t.Error("childless translucent node must not become a backbone")
	}
}

func TestRendererChangePropagatesToChildren(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	group := reg.NewNode("group")
	root.AddChild(group)
	addRect(t, reg, group, "g1")
	d.UpdateDisplay()

	g1Inst := d.rootInstance.children[0].children[0]
	if g1Inst.renderer != RendererCanvas {
		t.Fatalf("inherited renderer = %v, want canvas", g1Inst.renderer)
	}

	group.SetRenderer(RendererSVG)
	d.UpdateDisplay()

	if g1Inst.renderer != RendererSVG {
		t.Errorf("child renderer = %v after parent change, want svg", g1Inst.renderer)
	}
	if g1Inst.selfDrawable.renderer != RendererSVG {
		t.Error("child drawable not rebuilt for the inherited backend")
	}
}

func TestNodeDisposeTearsDownInstances(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	group := reg.NewNode("group")
	root.AddChild(group)
	addRect(t, reg, group, "g1")
	addRect(t, reg, group, "g2")
	d.UpdateDisplay()

	groupInst := d.rootInstance.children[0]
	group.Dispose()
	d.UpdateDisplay()

	if !groupInst.disposed {
		t.Error("instance of disposed node still live")
	}
	if got := d.liveInstanceCount(); got != 1 {
		t.Errorf("live instances = %d, want 1 (root only)", got)
	}
	if reg.debug {
		t.Fatal("debug off in this test")
	}
	d.auditDisposedReachability() // must not panic
}

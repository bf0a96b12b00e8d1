package loom

import (
	"strings"
	"testing"
)

func TestSurfacePoolRoundsUpAndReuses(t *testing.T) {
	var p surfacePool

	a := p.Acquire(100, 60)
	if b := a.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("acquired %dx%d, want 128x64 (next powers of two)", b.Dx(), b.Dy())
	}

	p.Release(a)
	b := p.Acquire(120, 50) // same buckets
	if a != b {
		t.Error("pool did not reuse the released surface")
	}
}

func TestSurfacePoolDistinctBuckets(t *testing.T) {
	var p surfacePool
	a := p.Acquire(10, 10)
	p.Release(a)

	c := p.Acquire(100, 100)
	if a == c {
		t.Error("pool returned a surface from the wrong bucket")
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 64: 64, 65: 128, 1000: 1024}
	for in, want := range cases {
		if got := nextPowerOfTwo(in); got != want {
			t.Errorf("nextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestWebGLContextLossSkipsPaint(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	a.SetRenderer(RendererWebGL)
	d.UpdateDisplay()

	wb, ok := d.rootBackbone.Blocks()[0].(*webglBlock)
	if !ok {
		t.Fatalf("block is %T, want *webglBlock", d.rootBackbone.Blocks()[0])
	}
	if wb.surface == nil {
		t.Fatal("block never painted")
	}

	wb.SimulateContextLoss()
	d.UpdateDisplay()
	if wb.surface != nil || !wb.contextLost {
		t.Fatal("lost context must skip painting, not recreate")
	}

	wb.ForceRecreate()
	d.UpdateDisplay()
	if wb.surface == nil || wb.contextLost {
		t.Error("explicit recreate must restore painting")
	}
}

func TestWebGLAggressiveRecreation(t *testing.T) {
	reg := NewRegistry()
	root := reg.NewNode("root")
	d := NewDisplay(reg, root, DisplayOptions{
		Width: 32, Height: 32,
		AggressiveContextRecreation: true,
	})
	a := addRect(t, reg, root, "a")
	a.SetRenderer(RendererWebGL)
	d.UpdateDisplay()

	wb := d.rootBackbone.Blocks()[0].(*webglBlock)
	wb.SimulateContextLoss()
	d.UpdateDisplay()

	if wb.contextLost || wb.surface == nil {
		t.Error("aggressive policy must recreate on the next paint")
	}
}

func TestSVGBlockRetainsMarkup(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	a.SetRenderer(RendererSVG)
	a.SetFill(Color{R: 1, A: 1})
	d.UpdateDisplay()

	sb, ok := d.rootBackbone.Blocks()[0].(*svgBlock)
	if !ok {
		t.Fatalf("block is %T, want *svgBlock", d.rootBackbone.Blocks()[0])
	}
	m := sb.Markup()
	if !strings.HasPrefix(m, "<g>") || !strings.Contains(m, "<rect") {
		t.Errorf("markup = %q, want a <g> wrapping a <rect>", m)
	}
	if !strings.Contains(m, "rgba(255,0,0") {
		t.Errorf("markup = %q, missing the fill color", m)
	}
}

func TestDOMBlockRetainsElements(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "widget")
	a.SetRenderer(RendererDOM)
	a.SetPosition(3, 4)
	d.UpdateDisplay()

	db, ok := d.rootBackbone.Blocks()[0].(*domBlock)
	if !ok {
		t.Fatalf("block is %T, want *domBlock", d.rootBackbone.Blocks()[0])
	}
	els := db.Elements()
	if len(els) != 1 {
		t.Fatalf("elements = %d, want 1", len(els))
	}
	if els[0].Name != "widget" || els[0].Transform[4] != 3 || els[0].Transform[5] != 4 {
		t.Errorf("element = %+v, want widget at (3,4)", els[0])
	}
}

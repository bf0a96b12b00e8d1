package loom

import (
	"encoding/json"
	"testing"
)

func TestDumpTreeShape(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	addRect(t, reg, a, "leaf")

	out, err := d.DumpTree()
	if err != nil {
		t.Fatalf("DumpTree: %v", err)
	}

	var got nodeDump
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}
	if got.Name != "root" || len(got.Children) != 1 {
		t.Fatalf("root dump = %+v, want root with one child", got)
	}
	if got.Children[0].Name != "a" || got.Children[0].Children[0].Name != "leaf" {
		t.Error("dump does not nest children in tree order")
	}
	if got.Children[0].W != 8 {
		t.Errorf("child W = %g, want 8", got.Children[0].W)
	}
}

func TestDumpTreeRecordsRendererHints(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	a := addRect(t, reg, root, "a")
	a.SetRenderer(RendererWebGL)

	out, err := d.DumpTree()
	if err != nil {
		t.Fatalf("DumpTree: %v", err)
	}
	var got nodeDump
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got.Children[0].Renderer != "webgl" {
		t.Errorf("renderer = %q, want %q", got.Children[0].Renderer, "webgl")
	}
	if got.Renderer != "" {
		t.Error("unhinted nodes must omit the renderer field")
	}
	if got.Backend != "" {
		t.Error("unsynced stubs must omit the backend field")
	}
}

func TestDumpTreeAnnotatesSyncedPipeline(t *testing.T) {
	reg, root, d := newTestDisplay(t)
	addRect(t, reg, root, "a")
	b := addRect(t, reg, root, "b")
	b.SetRenderer(RendererWebGL)
	d.UpdateDisplay()

	out, err := d.DumpTree()
	if err != nil {
		t.Fatalf("DumpTree: %v", err)
	}
	var got nodeDump
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	da, db := got.Children[0], got.Children[1]
	if da.Backend != "canvas" {
		t.Errorf("a backend = %q, want %q", da.Backend, "canvas")
	}
	if db.Backend != "webgl" {
		t.Errorf("b backend = %q, want %q", db.Backend, "webgl")
	}
	if da.Block == 0 || db.Block == 0 {
		t.Fatal("synced leaves must report the block that hosts them")
	}
	if da.Block == db.Block {
		t.Error("different backends cannot share a block")
	}
}

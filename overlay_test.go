package loom

import (
	"math"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

// tickOverlay records how the display drives the overlay hooks.
type tickOverlay struct {
	updates       int
	draws         int
	updatesAtDraw []int
	lastDt        float64
}

func (o *tickOverlay) Update(dt float64) {
	o.updates++
	o.lastDt = dt
}

func (o *tickOverlay) Draw(dst *ebiten.Image) {
	o.draws++
	o.updatesAtDraw = append(o.updatesAtDraw, o.updates)
}

func TestFadeOverlayProgressAndCompletion(t *testing.T) {
	completed := 0
	fade := NewFadeOverlay(Color{A: 1}, 0, 1, 1.0)
	fade.OnComplete = func() { completed++ }

	fade.Update(0.5)
	if math.Abs(fade.alpha-0.5) > 0.01 {
		t.Errorf("alpha = %g at midpoint, want ~0.5", fade.alpha)
	}
	if fade.Done() {
		t.Fatal("fade done at midpoint")
	}

	fade.Update(0.5)
	if !fade.Done() {
		t.Fatal("fade not done after full duration")
	}
	if completed != 1 {
		t.Fatalf("OnComplete fired %d times, want 1", completed)
	}

	// Further updates are inert.
	fade.Update(1)
	if completed != 1 {
		t.Error("OnComplete refired after completion")
	}
}

func TestOverlayOrderAndRemoval(t *testing.T) {
	_, _, d := newTestDisplay(t)
	fps := &FPSOverlay{}
	fade := NewFadeOverlay(ColorWhite, 1, 0, 0.5)

	d.AddOverlay(fps)
	d.AddOverlay(fade)
	if len(d.overlays) != 2 || d.overlays[0] != Overlay(fps) || d.overlays[1] != Overlay(fade) {
		t.Fatal("overlays must stack in add order")
	}

	d.RemoveOverlay(fps)
	if len(d.overlays) != 1 || d.overlays[0] != Overlay(fade) {
		t.Error("overlay removal broke the stack")
	}
}

func TestUpdateDisplayDrivesOverlays(t *testing.T) {
	_, _, d := newTestDisplay(t)
	ov := &tickOverlay{}
	d.AddOverlay(ov)

	d.UpdateDisplay()
	if ov.updates != 1 || ov.draws != 1 {
		t.Fatalf("updates = %d, draws = %d after one pass, want 1 and 1", ov.updates, ov.draws)
	}

	// Frame-stepping callers advance overlays without a run loop.
	d.UpdateDisplay()
	if ov.updates != 2 || ov.draws != 2 {
		t.Fatalf("updates = %d, draws = %d after two passes, want 2 and 2", ov.updates, ov.draws)
	}
	if ov.lastDt < 0 {
		t.Errorf("dt = %g, want >= 0", ov.lastDt)
	}
	// Each pass updates the overlay before drawing it.
	for i, u := range ov.updatesAtDraw {
		if u != i+1 {
			t.Fatalf("draw %d saw %d updates, want %d", i+1, u, i+1)
		}
	}
}

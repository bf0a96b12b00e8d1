package loom

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Overlay draws above the scene on the display surface. Overlays stack in
// the order they were added; UpdateDisplay drives Update once per pass,
// after the scene paints, with the wall time elapsed since the last pass.
type Overlay interface {
	Update(dt float64)
	Draw(dst *ebiten.Image)
}

// FPSOverlay prints the current FPS/TPS in the display corner.
type FPSOverlay struct{}

func (o *FPSOverlay) Update(dt float64) {}

func (o *FPSOverlay) Draw(dst *ebiten.Image) {
	ebitenutil.DebugPrint(dst, fmt.Sprintf("FPS: %0.1f  TPS: %0.1f", ebiten.ActualFPS(), ebiten.ActualTPS()))
}

// FadeOverlay tweens a full-surface color wash, for scene fade-in/out.
type FadeOverlay struct {
	Color Color

	tween *gween.Tween
	alpha float64
	done  bool

	// OnComplete fires once when the tween finishes.
	OnComplete func()
}

// NewFadeOverlay fades the wash alpha from one value to another over
// duration seconds.
func NewFadeOverlay(c Color, from, to, duration float64) *FadeOverlay {
	return &FadeOverlay{
		Color: c,
		tween: gween.New(float32(from), float32(to), float32(duration), ease.Linear),
		alpha: from,
	}
}

// Done reports whether the fade has finished.
func (o *FadeOverlay) Done() bool { return o.done }

func (o *FadeOverlay) Update(dt float64) {
	if o.done || o.tween == nil {
		return
	}
	v, finished := o.tween.Update(float32(dt))
	o.alpha = float64(v)
	if finished {
		o.done = true
		if o.OnComplete != nil {
			o.OnComplete()
		}
	}
}

func (o *FadeOverlay) Draw(dst *ebiten.Image) {
	if o.alpha <= 0 {
		return
	}
	b := dst.Bounds()
	m := [6]float64{float64(b.Dx()), 0, 0, float64(b.Dy()), 0, 0}
	drawImageWith(dst, WhitePixel, m, o.Color, clamp01(o.alpha))
}

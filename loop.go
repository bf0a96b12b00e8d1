package loom

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// RunConfig configures the window for Run.
type RunConfig struct {
	Title                     string
	WindowWidth, WindowHeight int

	// OnFrame runs before each UpdateDisplay with the elapsed wall time in
	// seconds. Returning an error stops the loop.
	OnFrame func(dt float64) error
}

type game struct {
	display *Display
	cfg     RunConfig
	last    time.Time
}

func (g *game) Update() error {
	now := time.Now()
	dt := now.Sub(g.last).Seconds()
	g.last = now
	if g.cfg.OnFrame != nil {
		if err := g.cfg.OnFrame(dt); err != nil {
			return err
		}
	}
	// Overlays advance inside UpdateDisplay, after the scene paints.
	g.display.UpdateDisplay()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.DrawImage(g.display.Surface(), nil)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.display.Size()
}

// Run opens a window and drives the display until the window closes or
// OnFrame returns an error. Blocks the calling goroutine.
func Run(d *Display, cfg RunConfig) error {
	w, h := cfg.WindowWidth, cfg.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = d.Size()
	}
	ebiten.SetWindowSize(w, h)
	if cfg.Title != "" {
		ebiten.SetWindowTitle(cfg.Title)
	}
	return ebiten.RunGame(&game{display: d, cfg: cfg, last: time.Now()})
}

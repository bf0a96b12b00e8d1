package loom

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
)

// Color represents an RGBA color with components in [0, 1]. Not premultiplied.
// Premultiplication occurs at paint submission time.
type Color struct {
	R, G, B, A float64
}

// ColorWhite is the default fill (no color modification).
var ColorWhite = Color{1, 1, 1, 1}

// ColorTransparent is the zero color, used as the default display background.
var ColorTransparent = Color{}

// WhitePixel is a 1x1 white image used for solid-color fills.
var WhitePixel *ebiten.Image

func init() {
	WhitePixel = ebiten.NewImage(1, 1)
	WhitePixel.Fill(ColorWhite.toRGBA())
}

// Rect is an axis-aligned rectangle. The coordinate system has its origin at
// the top-left, with Y increasing downward.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether the point (x, y) lies inside the rectangle.
// Points on the edge are considered inside.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width &&
		y >= r.Y && y <= r.Y+r.Height
}

// Union returns the smallest Rect containing both r and other.
// An empty rect (zero width and height) is treated as absent.
func (r Rect) Union(other Rect) Rect {
	if r.Width == 0 && r.Height == 0 {
		return other
	}
	if other.Width == 0 && other.Height == 0 {
		return r
	}
	minX := min(r.X, other.X)
	minY := min(r.Y, other.Y)
	maxX := max(r.X+r.Width, other.X+other.Width)
	maxY := max(r.Y+r.Height, other.Y+other.Height)
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Renderer identifies a paint backend. A Node's Renderer field is a hint;
// zero means "inherit from the parent".
type Renderer uint8

const (
	RendererCanvas Renderer = 1 << iota // immediate raster painting (ebiten image)
	RendererSVG                         // retained vector markup
	RendererDOM                         // retained element records
	RendererWebGL                       // GPU painting with recoverable context loss
)

// String returns the renderer's conventional lowercase name.
func (r Renderer) String() string {
	switch r {
	case RendererCanvas:
		return "canvas"
	case RendererSVG:
		return "svg"
	case RendererDOM:
		return "dom"
	case RendererWebGL:
		return "webgl"
	}
	return "none"
}

// Cursor is the pointer cursor the embedding application should show.
type Cursor uint8

const (
	CursorDefault Cursor = iota // arrow cursor
	CursorPointer               // hand cursor, shown over pickable nodes
)

// toRGBA converts to a premultiplied color.RGBA for ebiten fills.
func (c Color) toRGBA() color.RGBA {
	return color.RGBA{
		uint8(clamp01(c.R*c.A) * 255),
		uint8(clamp01(c.G*c.A) * 255),
		uint8(clamp01(c.B*c.A) * 255),
		uint8(clamp01(c.A) * 255),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

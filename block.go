package loom

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

// Block owns a contiguous run of same-backend Drawables and is the unit of
// physical painting. The variant set is closed: canvas, svg, dom, webgl, and
// the nested-block-hosting Backbone.
type Block interface {
	// Renderer returns the backend this block paints with (0 for a Backbone).
	Renderer() Renderer
	// AttachDrawable adds a drawable to this block. Called only from the
	// change-block phase, after the drawable left its previous block.
	AttachDrawable(d *Display, dr *Drawable)
	// DetachDrawable removes a drawable from this block.
	DetachDrawable(d *Display, dr *Drawable)
	// Paint repaints the block's content if dirty and composites it onto dst.
	Paint(dst *ebiten.Image)
	// MarkPaintDirty flags the block's retained output stale.
	MarkPaintDirty()
	// Dispose releases block resources. Deferred to its own queue so it runs
	// after drawables have migrated out.
	Dispose(d *Display)

	setBounds(first, last *Drawable)
	bounds() (first, last *Drawable)
	count() int
	host() *Backbone
	setHost(bb *Backbone)
	id() uint32
	markKept(frame uint64)
	keptAt() uint64
}

// blockCore carries the bookkeeping every variant shares: the first/last
// pointers into the shared drawable list, the drawable count, and the owning
// backbone.
type blockCore struct {
	blockID     uint32
	backbone    *Backbone
	first, last *Drawable
	n           int
	keepFrame   uint64 // frame the stitcher last kept this block on
	paintDirty  bool
	disposed    bool
}

func (b *blockCore) setBounds(first, last *Drawable) {
	b.first = first
	b.last = last
	b.paintDirty = true
}

func (b *blockCore) bounds() (*Drawable, *Drawable) { return b.first, b.last }
func (b *blockCore) count() int                     { return b.n }
func (b *blockCore) host() *Backbone                { return b.backbone }
func (b *blockCore) setHost(bb *Backbone)           { b.backbone = bb }
func (b *blockCore) id() uint32                     { return b.blockID }
func (b *blockCore) markKept(frame uint64)          { b.keepFrame = frame }
func (b *blockCore) keptAt() uint64                 { return b.keepFrame }

func (b *blockCore) MarkPaintDirty() {
	b.paintDirty = true
	if b.backbone != nil {
		b.backbone.MarkPaintDirty()
	}
}

func (b *blockCore) attach(d *Display, dr *Drawable, self Block) {
	if d.reg.debug && dr.parentBlock != nil {
		panic("loom debug: drawable attached while still in a block")
	}
	dr.parentBlock = self
	b.n++
	// Boundary growth: stitching already set first/last for repartitioned
	// runs; this handles drawables that migrate into an existing run edge.
	if b.first == nil {
		b.first = dr
		b.last = dr
	} else if dr.prev == b.last {
		b.last = dr
	} else if dr.next == b.first {
		b.first = dr
	}
	b.MarkPaintDirty()
}

func (b *blockCore) detach(d *Display, dr *Drawable, self Block) {
	if dr.parentBlock == nil {
		return
	}
	dr.parentBlock = nil
	b.n--
	if b.first == dr {
		if b.last == dr {
			b.first = nil
			b.last = nil
		} else {
			b.first = dr.next
		}
	} else if b.last == dr {
		b.last = dr.prev
	}
	b.MarkPaintDirty()
	if b.n == 0 && b.backbone != nil {
		b.backbone.blockEmptied(d, self)
	}
}

// Paint on the shared core is the unimplemented-backend guard: every variant
// must shadow it. Reaching it means an incomplete backend, not a runtime
// condition, so it throws in all build modes.
func (b *blockCore) Paint(dst *ebiten.Image) {
	panic("loom: Paint not implemented by block variant")
}

// forEachDrawable walks the block's run in current-list order.
func (b *blockCore) forEachDrawable(fn func(dr *Drawable)) {
	for dr := b.first; dr != nil; dr = dr.next {
		fn(dr)
		if dr == b.last {
			return
		}
	}
}

// --- Canvas ---

// canvasBlock rasterizes its run into a pooled offscreen image, repainting
// only when a contained drawable changed, and composites that image per frame.
type canvasBlock struct {
	blockCore
	display *Display
	surface *ebiten.Image
}

func (b *canvasBlock) Renderer() Renderer { return RendererCanvas }

func (b *canvasBlock) AttachDrawable(d *Display, dr *Drawable) { b.attach(d, dr, b) }
func (b *canvasBlock) DetachDrawable(d *Display, dr *Drawable) { b.detach(d, dr, b) }

func (b *canvasBlock) Paint(dst *ebiten.Image) {
	b.ensureSurface(dst.Bounds().Dx(), dst.Bounds().Dy())
	if b.paintDirty {
		b.surface.Clear()
		b.forEachDrawable(func(dr *Drawable) { dr.paintCanvas(b.surface) })
		b.paintDirty = false
	}
	dst.DrawImage(b.surface, nil)
}

func (b *canvasBlock) ensureSurface(w, h int) {
	if b.surface != nil {
		bounds := b.surface.Bounds()
		if bounds.Dx() >= w && bounds.Dy() >= h {
			return
		}
		b.display.pool.Release(b.surface)
	}
	b.surface = b.display.pool.Acquire(w, h)
	b.paintDirty = true
}

func (b *canvasBlock) Dispose(d *Display) {
	if b.disposed {
		return
	}
	if b.surface != nil {
		d.pool.Release(b.surface)
		b.surface = nil
	}
	b.first = nil
	b.last = nil
	b.disposed = true
}

// --- SVG ---

// svgBlock maintains retained vector markup for its run. The markup is
// composited by the embedding application (see Markup), not rasterized here,
// so Paint only refreshes the retained buffer.
type svgBlock struct {
	blockCore
	markup bytes.Buffer
}

func (b *svgBlock) Renderer() Renderer { return RendererSVG }

func (b *svgBlock) AttachDrawable(d *Display, dr *Drawable) { b.attach(d, dr, b) }
func (b *svgBlock) DetachDrawable(d *Display, dr *Drawable) { b.detach(d, dr, b) }

func (b *svgBlock) Paint(dst *ebiten.Image) {
	if !b.paintDirty {
		return
	}
	b.markup.Reset()
	b.markup.WriteString("<g>")
	b.forEachDrawable(func(dr *Drawable) {
		dr.paintDirty = false
		in := dr.instance
		if in == nil || !in.visible {
			return
		}
		n := in.node
		m := in.worldTransform
		fmt.Fprintf(&b.markup,
			`<rect width="%.4g" height="%.4g" fill="rgba(%d,%d,%d,%.4g)" transform="matrix(%.6g %.6g %.6g %.6g %.6g %.6g)"/>`,
			n.W, n.H,
			int(clamp01(n.Fill.R)*255), int(clamp01(n.Fill.G)*255), int(clamp01(n.Fill.B)*255),
			n.Fill.A*in.worldOpacity,
			m[0], m[1], m[2], m[3], m[4], m[5])
	})
	b.markup.WriteString("</g>")
	b.paintDirty = false
}

// Markup returns the block's retained SVG fragment as of the last frame.
func (b *svgBlock) Markup() string {
	return b.markup.String()
}

func (b *svgBlock) Dispose(d *Display) {
	if b.disposed {
		return
	}
	b.markup.Reset()
	b.first = nil
	b.last = nil
	b.disposed = true
}

// --- DOM ---

// DOMElement is one retained element record produced by a dom block.
type DOMElement struct {
	NodeID    uint32
	Name      string
	Transform [6]float64
	Opacity   float64
}

// domBlock maintains retained element records for its run; the embedding
// application owns their physical representation.
type domBlock struct {
	blockCore
	elements []DOMElement
}

func (b *domBlock) Renderer() Renderer { return RendererDOM }

func (b *domBlock) AttachDrawable(d *Display, dr *Drawable) { b.attach(d, dr, b) }
func (b *domBlock) DetachDrawable(d *Display, dr *Drawable) { b.detach(d, dr, b) }

func (b *domBlock) Paint(dst *ebiten.Image) {
	if !b.paintDirty {
		return
	}
	b.elements = b.elements[:0]
	b.forEachDrawable(func(dr *Drawable) {
		dr.paintDirty = false
		in := dr.instance
		if in == nil || !in.visible {
			return
		}
		b.elements = append(b.elements, DOMElement{
			NodeID:    in.node.ID,
			Name:      in.node.Name,
			Transform: in.worldTransform,
			Opacity:   in.worldOpacity,
		})
	})
	b.paintDirty = false
}

// Elements returns the block's retained element records as of the last frame.
// The returned slice MUST NOT be mutated by the caller.
func (b *domBlock) Elements() []DOMElement {
	return b.elements
}

func (b *domBlock) Dispose(d *Display) {
	if b.disposed {
		return
	}
	b.elements = nil
	b.first = nil
	b.last = nil
	b.disposed = true
}

// --- WebGL ---

// webglBlock paints like a canvas block but models a lossy GPU context:
// the surface can be invalidated externally and recreated on demand.
type webglBlock struct {
	blockCore
	display     *Display
	surface     *ebiten.Image
	contextLost bool
}

func (b *webglBlock) Renderer() Renderer { return RendererWebGL }

func (b *webglBlock) AttachDrawable(d *Display, dr *Drawable) { b.attach(d, dr, b) }
func (b *webglBlock) DetachDrawable(d *Display, dr *Drawable) { b.detach(d, dr, b) }

func (b *webglBlock) Paint(dst *ebiten.Image) {
	if b.contextLost {
		// Recoverable: skip the frame unless the eager-recreation policy is
		// on. No automatic retry loop beyond that.
		if !b.display.aggressiveContextRecreate {
			return
		}
		b.recreate()
	}
	b.ensureSurface(dst.Bounds().Dx(), dst.Bounds().Dy())
	if b.paintDirty {
		b.surface.Clear()
		b.forEachDrawable(func(dr *Drawable) { dr.paintCanvas(b.surface) })
		b.paintDirty = false
	}
	dst.DrawImage(b.surface, nil)
}

func (b *webglBlock) ensureSurface(w, h int) {
	if b.surface != nil {
		bounds := b.surface.Bounds()
		if bounds.Dx() >= w && bounds.Dy() >= h {
			return
		}
		b.display.pool.Release(b.surface)
	}
	b.surface = b.display.pool.Acquire(w, h)
	b.paintDirty = true
}

// SimulateContextLoss drops the block's GPU surface, as a lost WebGL context
// would. Painting resumes after ForceRecreate, or automatically when the
// display's aggressive-recreation policy is enabled.
func (b *webglBlock) SimulateContextLoss() {
	if b.surface != nil {
		b.display.pool.Release(b.surface)
		b.surface = nil
	}
	b.contextLost = true
}

// ForceRecreate explicitly recovers from a lost context.
func (b *webglBlock) ForceRecreate() {
	b.recreate()
}

func (b *webglBlock) recreate() {
	b.contextLost = false
	b.surface = nil
	b.paintDirty = true
}

func (b *webglBlock) Dispose(d *Display) {
	if b.disposed {
		return
	}
	if b.surface != nil {
		d.pool.Release(b.surface)
		b.surface = nil
	}
	b.first = nil
	b.last = nil
	b.disposed = true
}

// newBlockForRenderer constructs the variant for a renderer.
func newBlockForRenderer(d *Display, r Renderer) Block {
	core := blockCore{blockID: d.reg.blockID(), paintDirty: true}
	switch r {
	case RendererCanvas:
		return &canvasBlock{blockCore: core, display: d}
	case RendererSVG:
		return &svgBlock{blockCore: core}
	case RendererDOM:
		return &domBlock{blockCore: core}
	case RendererWebGL:
		return &webglBlock{blockCore: core, display: d}
	}
	panic(fmt.Sprintf("loom: no block variant for renderer %v", r))
}

// --- Surface pool ---

// surfacePool manages reusable offscreen ebiten.Images keyed by
// power-of-two dimensions. After warmup, Acquire/Release are zero-alloc.
type surfacePool struct {
	buckets map[uint64][]*ebiten.Image
}

// poolKey packs power-of-two width and height into a single uint64.
func poolKey(w, h int) uint64 {
	return uint64(w)<<32 | uint64(h)
}

// Acquire returns a cleared offscreen image with at least (w, h) pixels.
// Dimensions are rounded up to the next power of two.
func (p *surfacePool) Acquire(w, h int) *ebiten.Image {
	pw := nextPowerOfTwo(w)
	ph := nextPowerOfTwo(h)
	key := poolKey(pw, ph)

	if p.buckets != nil {
		if stack := p.buckets[key]; len(stack) > 0 {
			img := stack[len(stack)-1]
			p.buckets[key] = stack[:len(stack)-1]
			img.Clear()
			return img
		}
	}

	return ebiten.NewImageWithOptions(
		image.Rect(0, 0, pw, ph),
		&ebiten.NewImageOptions{Unmanaged: true},
	)
}

// Release returns an image to the pool for reuse. The image is cleared on
// next Acquire, not here (avoids redundant GPU work if released then
// immediately re-acquired).
func (p *surfacePool) Release(img *ebiten.Image) {
	if img == nil {
		return
	}
	b := img.Bounds()
	key := poolKey(b.Dx(), b.Dy())

	if p.buckets == nil {
		p.buckets = make(map[uint64][]*ebiten.Image)
	}
	p.buckets[key] = append(p.buckets[key], img)
}

// nextPowerOfTwo returns the smallest power of two >= n (minimum 1).
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

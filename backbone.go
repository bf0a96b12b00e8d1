package loom

import (
	"github.com/hajimehoshi/ebiten/v2"
)

// Backbone is the Block variant that recursively hosts nested Blocks: a
// composited layer boundary. Every Display has exactly one root Backbone;
// further Backbones appear wherever an Instance forces a layer split
// (renderer change, group opacity, clip area, or an explicit hint).
//
// The Backbone owns the doubly-linked list of Drawables beneath it (up to,
// but not into, nested Backbones) and the ordered Block list that partitions
// that list into contiguous same-backend runs.
type Backbone struct {
	blockCore
	display *Display
	// instance owns this backbone; nil for the root backbone.
	instance *Instance

	// Hosted drawable list (distinct from blockCore.first/last, which track
	// this backbone's own stand-in drawable run in the parent's list).
	firstDrawable, lastDrawable *Drawable

	blocks          []Block
	changeIntervals []*ChangeInterval
	needsRebuild    bool

	surface *ebiten.Image
}

func newBackbone(d *Display, in *Instance) *Backbone {
	return &Backbone{
		blockCore: blockCore{blockID: d.reg.blockID(), paintDirty: true},
		display:   d,
		instance:  in,
	}
}

// Renderer returns 0: a backbone hosts blocks of any backend.
func (bb *Backbone) Renderer() Renderer { return 0 }

func (bb *Backbone) AttachDrawable(d *Display, dr *Drawable) { bb.attach(d, dr, bb) }
func (bb *Backbone) DetachDrawable(d *Display, dr *Drawable) { bb.detach(d, dr, bb) }

// Blocks returns the backbone's ordered block list. The returned slice MUST
// NOT be mutated by the caller.
func (bb *Backbone) Blocks() []Block {
	return bb.blocks
}

// Paint composites the backbone's blocks in order. The root backbone paints
// directly onto the display surface; nested backbones paint into a pooled
// surface first so the layer composites as one unit.
func (bb *Backbone) Paint(dst *ebiten.Image) {
	if bb.instance != nil && !bb.instance.visible {
		return
	}
	if bb.instance == nil {
		// Root backbone: no extra compositing hop.
		for _, b := range bb.blocks {
			b.Paint(dst)
		}
		bb.paintDirty = false
		return
	}
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	if bb.surface != nil {
		sb := bb.surface.Bounds()
		if sb.Dx() < w || sb.Dy() < h {
			bb.display.pool.Release(bb.surface)
			bb.surface = nil
		}
	}
	if bb.surface == nil {
		bb.surface = bb.display.pool.Acquire(w, h)
		bb.paintDirty = true
	}
	if bb.paintDirty {
		bb.surface.Clear()
		for _, b := range bb.blocks {
			b.Paint(bb.surface)
		}
		bb.paintDirty = false
	}
	dst.DrawImage(bb.surface, nil)
}

// Dispose releases the backbone's surface and disposes its blocks. Hosted
// drawables are disposed by their owning instances, not here.
func (bb *Backbone) Dispose(d *Display) {
	bb.dispose(d)
}

func (bb *Backbone) dispose(d *Display) {
	if bb.disposed {
		return
	}
	for _, b := range bb.blocks {
		if nested, ok := b.(*Backbone); ok {
			// Nested backbones are owned by their stand-in drawable.
			_ = nested
			continue
		}
		d.markBlockForDisposal(b)
	}
	bb.blocks = nil
	for _, ci := range bb.changeIntervals {
		d.markChangeIntervalToDispose(ci)
	}
	bb.changeIntervals = nil
	if bb.surface != nil {
		d.pool.Release(bb.surface)
		bb.surface = nil
	}
	bb.firstDrawable = nil
	bb.lastDrawable = nil
	bb.first = nil
	bb.last = nil
	bb.disposed = true
}

// blockEmptied is called when the last drawable leaves a hosted block.
// Blocks the stitcher kept this frame are spared: their drawables migrate
// back in later in the same change-block drain.
func (bb *Backbone) blockEmptied(d *Display, b Block) {
	if b.keptAt() == d.frameID {
		return
	}
	for i, x := range bb.blocks {
		if x == b {
			copy(bb.blocks[i:], bb.blocks[i+1:])
			bb.blocks[len(bb.blocks)-1] = nil
			bb.blocks = bb.blocks[:len(bb.blocks)-1]
			break
		}
	}
	d.markBlockForDisposal(b)
	bb.MarkPaintDirty()
}

// recordChangeInterval notes a minimal changed sibling range in the hosted
// list: the first and last drawables whose links were rewired, in list order.
func (bb *Backbone) recordChangeInterval(d *Display, first, last *Drawable) {
	bb.changeIntervals = append(bb.changeIntervals, &ChangeInterval{
		backbone:     bb,
		firstChanged: first,
		lastChanged:  last,
	})
}

// markRebuild forces a full block repartition at the next stitch.
func (bb *Backbone) markRebuild() {
	bb.needsRebuild = true
}

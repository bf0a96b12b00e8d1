package loom

import (
	"github.com/hajimehoshi/ebiten/v2"
)

// drawableKind distinguishes what a Drawable represents.
type drawableKind uint8

const (
	drawableSelf     drawableKind = iota // paints one node occurrence's own content
	drawableBackbone                     // stands in for a nested Backbone in the parent list
	drawableShared                       // stamps a shared cache entry at one trail
)

// Drawable is a backend-specific renderable unit attached to one node
// occurrence. Drawables form a doubly-linked sibling list per Backbone in
// overall paint order, and each belongs to exactly one Block at a time.
//
// Two link generations are kept in parallel: the "current" links (next/prev)
// are authoritative and continuously rewired during the sync pass; the "old"
// links (oldNext/oldPrev) are the snapshot the stitcher diffs against. The
// current→old copy-forward happens only in the dedicated links-update phase,
// never inline, so the stitcher never observes a half-updated topology.
type Drawable struct {
	id       uint32
	kind     drawableKind
	renderer Renderer

	// instance owns this drawable exclusively until block reassignment.
	instance *Instance
	// backbone is non-nil for drawableBackbone: the nested block host this
	// drawable stands in for.
	backbone *Backbone
	// shared is non-nil for drawableShared: the refcounted cache entry.
	shared *sharedEntry

	// Current generation (authoritative).
	next, prev *Drawable
	// Old generation (stitcher snapshot).
	oldNext, oldPrev *Drawable
	linksDirty       bool // queued in the links-update phase

	parentBlock  Block
	pendingBlock Block
	blockDirty   bool   // queued in the change-block phase
	routedAt     uint64 // frame a stitch last decided this drawable's block

	paintDirty      bool
	pendingDisposal bool
	disposed        bool
}

func newDrawable(d *Display, in *Instance, kind drawableKind, renderer Renderer) *Drawable {
	return &Drawable{
		id:         d.reg.drawableID(),
		kind:       kind,
		renderer:   renderer,
		instance:   in,
		paintDirty: true,
	}
}

// markPaintDirty flags the drawable (and its containing block) for repaint.
func (dr *Drawable) markPaintDirty() {
	dr.paintDirty = true
	if dr.parentBlock != nil {
		dr.parentBlock.MarkPaintDirty()
	}
}

// setPendingBlock records the block this drawable should move to. The actual
// detach/attach runs exactly once, in the change-block phase — a drawable is
// never linked into two block lists at the same time.
func (dr *Drawable) setPendingBlock(d *Display, b Block) {
	dr.routedAt = d.frameID
	if dr.parentBlock == b {
		dr.pendingBlock = nil
		return
	}
	dr.pendingBlock = b
	if !dr.blockDirty {
		dr.blockDirty = true
		d.markDrawableChangedBlock(dr)
	}
}

// applyPendingBlock performs the deferred block reassignment. A nil pending
// block means the move was cancelled after queueing (the drawable was routed
// back to the block it already occupies), not a detach.
func (dr *Drawable) applyPendingBlock(d *Display) {
	dr.blockDirty = false
	target := dr.pendingBlock
	dr.pendingBlock = nil
	if dr.disposed || target == nil || target == dr.parentBlock {
		return
	}
	if dr.parentBlock != nil {
		dr.parentBlock.DetachDrawable(d, dr)
	}
	target.AttachDrawable(d, dr)
}

// updateLinks copies the current link generation into the old generation.
// Runs only in the links-update phase.
func (dr *Drawable) updateLinks() {
	dr.linksDirty = false
	dr.oldNext = dr.next
	dr.oldPrev = dr.prev
}

// markLinksDirty queues the drawable for the links-update phase.
func (dr *Drawable) markLinksDirty(d *Display) {
	if dr.linksDirty || dr.disposed {
		return
	}
	dr.linksDirty = true
	d.markDrawableForLinksUpdate(dr)
}

// unlink removes the drawable from the current sibling list, reconnecting
// its neighbors. Neighbors that a relink already rewired past this drawable
// are left alone. The old generation is left intact for the stitcher.
func (dr *Drawable) unlink(d *Display) {
	if dr.prev != nil && dr.prev.next == dr {
		dr.prev.next = dr.next
		dr.prev.markLinksDirty(d)
	}
	if dr.next != nil && dr.next.prev == dr {
		dr.next.prev = dr.prev
		dr.next.markLinksDirty(d)
	}
	dr.next = nil
	dr.prev = nil
	dr.markLinksDirty(d)
}

// dispose tears the drawable down. Runs only in the drawable-disposal phase;
// afterwards the drawable is unreachable from the current list and from any
// block.
func (dr *Drawable) dispose(d *Display) {
	if dr.disposed {
		return
	}
	// Disposal runs after the links-update drain; marking first keeps unlink
	// from re-queueing this drawable for a phase that already ran.
	dr.disposed = true
	dr.unlink(d)
	if dr.parentBlock != nil {
		dr.parentBlock.DetachDrawable(d, dr)
	}
	dr.pendingBlock = nil
	if dr.shared != nil {
		d.releaseShared(dr.shared)
		dr.shared = nil
	}
	if dr.backbone != nil {
		dr.backbone.dispose(d)
		dr.backbone = nil
	}
	dr.oldNext = nil
	dr.oldPrev = nil
	dr.instance = nil
}

// paintCanvas rasterizes this drawable onto dst. Shared by the canvas and
// webgl block variants.
func (dr *Drawable) paintCanvas(dst *ebiten.Image) {
	dr.paintDirty = false
	in := dr.instance
	if in == nil || !in.visible {
		return
	}
	switch dr.kind {
	case drawableBackbone:
		// Nested backbones composite themselves; they are painted as blocks,
		// not as list members.
		return
	case drawableShared:
		if dr.shared != nil && dr.shared.surface != nil {
			e := dr.shared
			m := multiplyAffine(in.worldTransform, [6]float64{1, 0, 0, 1, e.originX, e.originY})
			drawImageWith(dst, e.surface, m, ColorWhite, in.worldOpacity)
			return
		}
		// No cached surface yet: fall through to a direct self paint.
	}
	n := in.node
	m := in.worldTransform
	switch {
	case n.PaintFn != nil:
		n.PaintFn(dst, m)
	case n.CustomImage != nil:
		drawImageWith(dst, n.CustomImage, m, ColorWhite, in.worldOpacity)
	case n.W > 0 && n.H > 0:
		scaled := multiplyAffine(m, [6]float64{n.W, 0, 0, n.H, 0, 0})
		drawImageWith(dst, WhitePixel, scaled, n.Fill, in.worldOpacity)
	}
}

// drawImageWith draws src onto dst with an affine transform, tint, and opacity.
func drawImageWith(dst, src *ebiten.Image, m [6]float64, tint Color, opacity float64) {
	var op ebiten.DrawImageOptions
	op.GeoM.SetElement(0, 0, m[0])
	op.GeoM.SetElement(1, 0, m[1])
	op.GeoM.SetElement(0, 1, m[2])
	op.GeoM.SetElement(1, 1, m[3])
	op.GeoM.SetElement(0, 2, m[4])
	op.GeoM.SetElement(1, 2, m[5])
	op.ColorScale.Scale(float32(tint.R), float32(tint.G), float32(tint.B), float32(tint.A))
	op.ColorScale.ScaleAlpha(float32(opacity))
	dst.DrawImage(src, &op)
}

// sharedEntry is a display-level cache slot for a node stamped at multiple
// trails. The surface holds the node's subtree rendered in its own local
// frame, offset so negative-origin bounds fit; originX/Y restore that offset
// when stamping. Reference counts drop either directly at drawable disposal
// or via the reduce-references phase when an invisible-subtree shortcut
// skipped the owning instance.
type sharedEntry struct {
	node             *Node
	surface          *ebiten.Image
	originX, originY float64
	refCount         int
	disposed         bool
}

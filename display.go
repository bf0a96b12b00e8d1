package loom

import (
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// DisplayOptions configures a Display at creation. The zero value gives a
// 640x480 canvas-backed display with a transparent background.
type DisplayOptions struct {
	Width, Height   int
	BackgroundColor Color
	// DefaultRenderer is the backend nodes inherit when no ancestor sets a
	// hint. Zero means canvas.
	DefaultRenderer Renderer

	// AggressiveContextRecreation recreates lost webgl surfaces on the very
	// next paint instead of waiting for an explicit ForceRecreate.
	AggressiveContextRecreation bool
	// RendererRefreshWorkaround forces a full recomposite every frame, for
	// drivers that drop retained surfaces between frames.
	RendererRefreshWorkaround bool
}

// Display owns everything needed to render one scene root onto one surface:
// the Instance tree mirroring the scene, the root Backbone and its block
// partition, the deferred-work queues, and the offscreen surface pool.
//
// A Display is single-goroutine: all scene mutation and every UpdateDisplay
// call must happen on the same goroutine.
type Display struct {
	reg  *Registry
	root *Node

	rootInstance *Instance
	rootBackbone *Backbone

	surface       *ebiten.Image
	width, height int
	background    Color

	// Deferred setters: committed during UpdateDisplay, never inline.
	pendingWidth, pendingHeight int
	sizePending                 bool
	pendingBackground           Color
	backgroundPending           bool

	cursor   Cursor
	overlays []Overlay
	input    *Input
	access   *AccessTree

	pool surfacePool

	defaultRenderer           Renderer
	aggressiveContextRecreate bool
	rendererRefreshWorkaround bool

	// frameID increments once per UpdateDisplay and dedupes per-frame work
	// (transform recomputation, stitch keep-marks).
	frameID uint64

	isPainting bool

	// lastOverlayTick is when the previous pass advanced the overlays; the
	// elapsed wall time becomes the dt handed to Overlay.Update.
	lastOverlayTick time.Time

	// stats is the previous pass's phase work, for debug logging and tuning.
	stats frameStats

	sharedEntries map[*Node]*sharedEntry

	// Deferred-work queues. Each drains in its own UpdateDisplay phase; the
	// index-loop drains tolerate appends mid-drain.
	drawablesToUpdateLinks    []*Drawable
	changeIntervalsToDispose  []*ChangeInterval
	drawablesToChangeBlock    []*Drawable
	blocksToDispose           []Block
	transformRootsPass        []*Instance
	transformRootsPlain       []*Instance
	instanceRootsToDispose    []*Instance
	drawablesToDispose        []*Drawable
	reduceReferenceInstances  []*Instance

	disposed bool
}

// NewDisplay creates a display rendering root. The root node must not be
// disposed and must not already be the root of another display on the same
// registry (a node may still appear as a descendant in many displays).
func NewDisplay(reg *Registry, root *Node, opts DisplayOptions) *Display {
	if root == nil {
		panic("loom: NewDisplay with nil root")
	}
	if root.disposed {
		panic("loom: NewDisplay with disposed root")
	}
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	dr := opts.DefaultRenderer
	if dr == 0 {
		dr = RendererCanvas
	}
	d := &Display{
		reg:                       reg,
		root:                      root,
		width:                     w,
		height:                    h,
		background:                opts.BackgroundColor,
		defaultRenderer:           dr,
		aggressiveContextRecreate: opts.AggressiveContextRecreation,
		rendererRefreshWorkaround: opts.RendererRefreshWorkaround,
		frameID:                   1,
		cursor:                    CursorDefault,
		surface:                   ebiten.NewImage(w, h),
		sharedEntries:             make(map[*Node]*sharedEntry),
	}
	d.rootBackbone = newBackbone(d, nil)
	reg.addDisplay(d)
	return d
}

// Root returns the scene root this display renders.
func (d *Display) Root() *Node { return d.root }

// Surface returns the display's composited output image.
func (d *Display) Surface() *ebiten.Image { return d.surface }

// Size returns the committed display size. A pending SetSize does not show
// here until the next UpdateDisplay.
func (d *Display) Size() (w, h int) { return d.width, d.height }

// BackgroundColor returns the committed background color.
func (d *Display) BackgroundColor() Color { return d.background }

// Cursor returns the cursor the scene under the pointer requested last frame.
func (d *Display) Cursor() Cursor { return d.cursor }

// SetCursor overrides the display cursor until input hit-testing changes it.
func (d *Display) SetCursor(c Cursor) { d.cursor = c }

// SetSize requests a new display size. Deferred: the surface is recreated
// during the next UpdateDisplay, never inline.
func (d *Display) SetSize(w, h int) {
	if w <= 0 || h <= 0 {
		panic("loom: display size must be positive")
	}
	d.pendingWidth = w
	d.pendingHeight = h
	d.sizePending = true
}

// SetBackgroundColor requests a new background color, committed during the
// next UpdateDisplay.
func (d *Display) SetBackgroundColor(c Color) {
	d.pendingBackground = c
	d.backgroundPending = true
}

// AddOverlay stacks an overlay above the scene. Overlays draw in add order,
// so the last added is topmost.
func (d *Display) AddOverlay(ov Overlay) {
	d.overlays = append(d.overlays, ov)
}

// RemoveOverlay removes an overlay by identity.
func (d *Display) RemoveOverlay(ov Overlay) {
	for i, x := range d.overlays {
		if x == ov {
			copy(d.overlays[i:], d.overlays[i+1:])
			d.overlays[len(d.overlays)-1] = nil
			d.overlays = d.overlays[:len(d.overlays)-1]
			return
		}
	}
}

// frameStats counts the deferred work one UpdateDisplay pass drained.
type frameStats struct {
	linksUpdated      int
	intervalsDisposed int
	blockChanges      int
	blocksDisposed    int
	instancesDisposed int
	drawablesDisposed int
}

// UpdateDisplay runs one full synchronization-and-repaint pass. The phase
// order below is a total order; every deferred queue drains in exactly one
// phase and cross-phase work is queued, never run inline.
func (d *Display) UpdateDisplay() {
	if d.disposed {
		panic("loom: UpdateDisplay on disposed display")
	}
	if d.isPainting {
		// A panic during a previous paint leaves the display poisoned rather
		// than half-painted.
		panic("loom: UpdateDisplay reentered during paint")
	}

	// 1. Pointer validation flush.
	if d.input != nil {
		d.input.flushValidation()
	}

	// 2. Accessibility peer positions.
	if d.access != nil {
		d.access.updatePositions()
	}

	// 3. Bounds validation. OnValidateBounds hooks must not mutate the scene;
	// the registry mutation counter catches it in debug mode.
	preMutations := d.reg.mutations
	d.root.validateBounds()
	if d.reg.debug && d.reg.mutations != preMutations {
		panic("loom debug: scene mutated during bounds validation")
	}

	// 4. Tree sync: stub promotion, render-state updates, drawable relinking,
	// change-interval recording, and per-backbone stitching.
	d.baseSyncTree()

	// 5. Links update: copy the current link generation into the stitcher's
	// old-generation snapshot.
	d.stats = frameStats{}
	for i := 0; i < len(d.drawablesToUpdateLinks); i++ {
		d.drawablesToUpdateLinks[i].updateLinks()
	}
	d.stats.linksUpdated = len(d.drawablesToUpdateLinks)
	d.drawablesToUpdateLinks = d.drawablesToUpdateLinks[:0]

	// 6. Change-interval disposal. Intervals never outlive the pass that
	// consumed them.
	for i := 0; i < len(d.changeIntervalsToDispose); i++ {
		d.changeIntervalsToDispose[i].dispose()
	}
	d.stats.intervalsDisposed = len(d.changeIntervalsToDispose)
	d.changeIntervalsToDispose = d.changeIntervalsToDispose[:0]

	// 7. Root backbone resolve.
	if d.rootBackbone == nil || d.rootBackbone.disposed {
		panic("loom: display lost its root backbone")
	}

	// 8. Block changes, then block disposal. Two-phase reassignment: every
	// pending move applies here, so a drawable is never in two block lists.
	for i := 0; i < len(d.drawablesToChangeBlock); i++ {
		d.drawablesToChangeBlock[i].applyPendingBlock(d)
	}
	d.stats.blockChanges = len(d.drawablesToChangeBlock)
	d.drawablesToChangeBlock = d.drawablesToChangeBlock[:0]
	d.drainBlockDisposals()

	// 9. Transforms: pass-through roots first, then isolating roots. The
	// frame guard skips subtrees a prior root already covered.
	for i := 0; i < len(d.transformRootsPass); i++ {
		d.updateTransformRoot(d.transformRootsPass[i])
	}
	d.transformRootsPass = d.transformRootsPass[:0]
	for i := 0; i < len(d.transformRootsPlain); i++ {
		d.updateTransformRoot(d.transformRootsPlain[i])
	}
	d.transformRootsPlain = d.transformRootsPlain[:0]

	// 10. Visibility, top-down.
	d.rootInstance.updateVisibility(true, false)

	// 11. Instance disposal.
	for i := 0; i < len(d.instanceRootsToDispose); i++ {
		d.instanceRootsToDispose[i].dispose(d)
	}
	d.stats.instancesDisposed = len(d.instanceRootsToDispose)
	d.instanceRootsToDispose = d.instanceRootsToDispose[:0]

	// 12. Drawable disposal.
	for i := 0; i < len(d.drawablesToDispose); i++ {
		d.drawablesToDispose[i].dispose(d)
	}
	d.stats.drawablesDisposed = len(d.drawablesToDispose)
	d.drawablesToDispose = d.drawablesToDispose[:0]

	// 13. Paint.
	d.isPainting = true
	d.renderSharedEntries()
	d.surface.Fill(d.background.toRGBA())
	d.rootBackbone.Paint(d.surface)

	// 14. Size, background, overlays, cursor — the deferred outer-surface
	// state, committed only here. The cursor is already current from the
	// input flush; overlays advance and then stack above the scene in add
	// order, so frame-stepping callers drive them without a run loop.
	if d.backgroundPending {
		d.background = d.pendingBackground
		d.backgroundPending = false
		d.rootBackbone.MarkPaintDirty()
	}
	if d.sizePending {
		d.width = d.pendingWidth
		d.height = d.pendingHeight
		d.sizePending = false
		d.surface.Deallocate()
		d.surface = ebiten.NewImage(d.width, d.height)
		d.rootBackbone.MarkPaintDirty()
		d.surface.Fill(d.background.toRGBA())
		d.rootBackbone.Paint(d.surface)
	}
	now := time.Now()
	var overlayDt float64
	if !d.lastOverlayTick.IsZero() {
		overlayDt = now.Sub(d.lastOverlayTick).Seconds()
	}
	d.lastOverlayTick = now
	for i := 0; i < len(d.overlays); i++ {
		ov := d.overlays[i]
		ov.Update(overlayDt)
		if i >= len(d.overlays) || d.overlays[i] != ov {
			// The overlay removed itself during Update (a finished fade);
			// the slot now holds the next one.
			i--
			continue
		}
		ov.Draw(d.surface)
	}
	d.isPainting = false

	// 15. Reference reduction for subtrees the invisible shortcut skipped.
	for i := 0; i < len(d.reduceReferenceInstances); i++ {
		d.reduceReferenceInstances[i].reduceReferences(d)
	}
	d.reduceReferenceInstances = d.reduceReferenceInstances[:0]

	// 16. Frame counter.
	d.frameID++
	if d.reg.debug {
		d.reg.debugf("frame %d: links=%d intervals=%d blockChanges=%d blocksDisposed=%d instDisposed=%d drawDisposed=%d",
			d.frameID, d.stats.linksUpdated, d.stats.intervalsDisposed, d.stats.blockChanges,
			d.stats.blocksDisposed, d.stats.instancesDisposed, d.stats.drawablesDisposed)
	}

	// 17. Renderer refresh workaround.
	if d.rendererRefreshWorkaround {
		d.reg.debugf("display: renderer refresh workaround repaint (frame %d)", d.frameID)
		d.rootBackbone.MarkPaintDirty()
	}
}

// baseSyncTree runs the incremental sync from the root instance down, then
// resolves the root backbone's hosted span and stitches it.
func (d *Display) baseSyncTree() {
	if d.rootInstance == nil {
		// Created lazily on the first sync, not at construction.
		d.rootInstance = newInstance(d, nil, NewTrail(d.root))
	}
	d.rootInstance.syncTree(d)
	bb := d.rootBackbone
	if bb.firstDrawable != d.rootInstance.firstDrawable || bb.lastDrawable != d.rootInstance.lastDrawable {
		bb.firstDrawable = d.rootInstance.firstDrawable
		bb.lastDrawable = d.rootInstance.lastDrawable
		if len(bb.changeIntervals) == 0 {
			bb.markRebuild()
		}
	}
	bb.stitch(d)
}

func (d *Display) drainBlockDisposals() {
	for i := 0; i < len(d.blocksToDispose); i++ {
		b := d.blocksToDispose[i]
		if b.count() > 0 {
			// Refilled after being marked (kept by the stitcher); keep it.
			continue
		}
		b.Dispose(d)
		d.stats.blocksDisposed++
	}
	d.blocksToDispose = d.blocksToDispose[:0]
}

func (d *Display) updateTransformRoot(in *Instance) {
	in.pendingTransform = false
	if in.disposed || in.pendingDisposal {
		return
	}
	// Covered by an ancestor root earlier in this drain: its recursion
	// recomputed this subtree with fresh parent matrices already.
	if in.transformFrame == d.frameID {
		return
	}
	pt, po := in.parentWorldTransform()
	in.updateSubtreeTransforms(pt, po, d.frameID)
}

// --- Queue marking ---

func (d *Display) markDrawableForLinksUpdate(dr *Drawable) {
	d.drawablesToUpdateLinks = append(d.drawablesToUpdateLinks, dr)
}

func (d *Display) markChangeIntervalToDispose(ci *ChangeInterval) {
	d.changeIntervalsToDispose = append(d.changeIntervalsToDispose, ci)
}

func (d *Display) markDrawableChangedBlock(dr *Drawable) {
	d.drawablesToChangeBlock = append(d.drawablesToChangeBlock, dr)
}

func (d *Display) markBlockForDisposal(b Block) {
	d.blocksToDispose = append(d.blocksToDispose, b)
}

func (d *Display) markTransformRootDirty(in *Instance) {
	if in.pendingTransform || in.disposed {
		return
	}
	in.pendingTransform = true
	if in.passTransform {
		d.transformRootsPass = append(d.transformRootsPass, in)
	} else {
		d.transformRootsPlain = append(d.transformRootsPlain, in)
	}
}

func (d *Display) markInstanceRootForDisposal(in *Instance) {
	if in.pendingDisposal || in.disposed {
		return
	}
	in.pendingDisposal = true
	d.instanceRootsToDispose = append(d.instanceRootsToDispose, in)
}

func (d *Display) markDrawableForDisposal(dr *Drawable) {
	if dr.pendingDisposal || dr.disposed {
		return
	}
	dr.pendingDisposal = true
	d.drawablesToDispose = append(d.drawablesToDispose, dr)
}

func (d *Display) markForReducedReferences(in *Instance) {
	d.reduceReferenceInstances = append(d.reduceReferenceInstances, in)
}

// --- Shared cache ---

// acquireShared returns the cache entry for a shared node, creating it on
// first reference.
func (d *Display) acquireShared(n *Node) *sharedEntry {
	e := d.sharedEntries[n]
	if e == nil {
		e = &sharedEntry{node: n}
		d.sharedEntries[n] = e
	}
	e.refCount++
	return e
}

// releaseShared drops one reference; the entry and its surface go away with
// the last one.
func (d *Display) releaseShared(e *sharedEntry) {
	if e.disposed {
		return
	}
	e.refCount--
	if e.refCount > 0 {
		return
	}
	if e.surface != nil {
		d.pool.Release(e.surface)
		e.surface = nil
	}
	delete(d.sharedEntries, e.node)
	e.disposed = true
}

// renderSharedEntries rasterizes stale shared caches: each entry renders its
// node's subtree once, in the node's local frame, and every trail stamping
// it reuses that surface.
func (d *Display) renderSharedEntries() {
	for _, e := range d.sharedEntries {
		if e.surface != nil || e.node.disposed {
			continue
		}
		b := e.node.subtreeBounds
		w := int(math.Ceil(b.Width))
		h := int(math.Ceil(b.Height))
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		e.surface = d.pool.Acquire(w, h)
		e.originX = b.X
		e.originY = b.Y
		// The node's own transform and opacity are excluded here; the stamp
		// applies them per trail.
		renderNodeContent(e.surface, e.node, [6]float64{1, 0, 0, 1, -b.X, -b.Y}, 1)
	}
}

// renderNodeContent paints a node's self content and descendants with m as
// the node's frame. Used only for shared-cache rasterization; the normal
// paint path goes through blocks.
func renderNodeContent(dst *ebiten.Image, n *Node, m [6]float64, opacity float64) {
	switch {
	case n.PaintFn != nil:
		n.PaintFn(dst, m)
	case n.CustomImage != nil:
		drawImageWith(dst, n.CustomImage, m, ColorWhite, opacity)
	case n.W > 0 && n.H > 0:
		scaled := multiplyAffine(m, [6]float64{n.W, 0, 0, n.H, 0, 0})
		drawImageWith(dst, WhitePixel, scaled, n.Fill, opacity)
	}
	for _, c := range n.children {
		if !c.Visible {
			continue
		}
		renderNodeContent(dst, c, multiplyAffine(m, computeLocalTransform(c)), opacity*c.Opacity)
	}
}

// --- Disposal ---

// Dispose tears the display down synchronously: the instance tree, every
// queued resource, the root backbone, the shared caches, and any attached
// input router or accessibility tree. The display is unusable afterwards; a
// second Dispose is a debug-mode assertion failure and otherwise a no-op.
func (d *Display) Dispose() {
	if d.disposed {
		if d.reg.debug {
			panic("loom debug: display disposed twice")
		}
		return
	}
	if d.input != nil {
		d.input.Detach()
	}
	if d.access != nil {
		d.access.dispose()
		d.access = nil
	}
	if d.rootInstance != nil {
		d.rootInstance.dispose(d)
	}
	d.rootBackbone.dispose(d)
	// Disposal cascades enqueue more work; loop until the queues settle.
	for len(d.drawablesToDispose) > 0 || len(d.blocksToDispose) > 0 || len(d.changeIntervalsToDispose) > 0 {
		drs := d.drawablesToDispose
		d.drawablesToDispose = nil
		for _, dr := range drs {
			dr.dispose(d)
		}
		bs := d.blocksToDispose
		d.blocksToDispose = nil
		for _, b := range bs {
			b.Dispose(d)
		}
		cis := d.changeIntervalsToDispose
		d.changeIntervalsToDispose = nil
		for _, ci := range cis {
			ci.dispose()
		}
	}
	for _, e := range d.sharedEntries {
		if e.surface != nil {
			d.pool.Release(e.surface)
			e.surface = nil
		}
		e.disposed = true
	}
	d.sharedEntries = nil
	d.drawablesToUpdateLinks = nil
	d.drawablesToChangeBlock = nil
	d.transformRootsPass = nil
	d.transformRootsPlain = nil
	d.instanceRootsToDispose = nil
	d.reduceReferenceInstances = nil
	d.overlays = nil
	d.surface.Deallocate()
	d.reg.removeDisplay(d)
	d.disposed = true
}

// IsDisposed returns true once Dispose has run.
func (d *Display) IsDisposed() bool { return d.disposed }

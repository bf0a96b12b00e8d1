package loom

// Instance mirrors one Trail — one occurrence of a node in one Display. It
// owns the drawables that occurrence contributes: zero-or-one self drawable
// (paintable content), an optional stand-in drawable hosting a nested
// Backbone (layer boundary), or a shared-cache drawable (content stamped at
// multiple trails).
//
// Instances are created as stateless stubs the moment a scene node gains a
// child lacking one; the sync pass promotes stubs to full state. Disposal is
// always deferred through the display's queues so iteration stays stable and
// nothing is freed mid-phase.
type Instance struct {
	id      uint32
	display *Display
	trail   Trail
	node    *Node
	parent  *Instance

	// children mirrors node.Children() in order, one instance per child.
	children []*Instance

	stateless bool

	// Render state, computed at promotion and when selfDirty.
	renderer        Renderer
	isBackbone      bool
	isTransformRoot bool
	passTransform   bool

	selfDrawable   *Drawable
	groupDrawable  *Drawable // stand-in for backbone in the parent's list
	sharedDrawable *Drawable
	backbone       *Backbone

	// Exposed drawable span: what this instance contributes to its host
	// backbone's list. For a backbone instance this is just groupDrawable;
	// the hosted span lives on the backbone itself.
	firstDrawable, lastDrawable *Drawable

	// Dirty flags. subtreeDirty is upward-closed: set on every ancestor of a
	// dirty instance, so clean subtrees are skipped entirely.
	selfDirty       bool
	childrenChanged bool
	subtreeDirty    bool

	visible              bool
	selfVisible          bool
	visibilityDirty      bool
	childVisibilityDirty bool

	worldTransform   [6]float64
	worldOpacity     float64
	transformFrame   uint64 // last frame the transform was recomputed on
	pendingTransform bool   // queued in a dirty-transform-root queue

	pendingDisposal bool
	disposed        bool
}

// newInstance creates a stateless stub for a trail. Exactly one instance
// exists per (Display, Trail) pair; stubs for new children are created by
// node-mutation listeners and promoted by the next sync pass.
func newInstance(d *Display, parent *Instance, trail Trail) *Instance {
	in := &Instance{
		id:             d.reg.instanceID(),
		display:        d,
		trail:          trail,
		node:           trail.Node(),
		parent:         parent,
		stateless:      true,
		subtreeDirty:   true,
		visible:        true,
		selfVisible:    true,
		worldOpacity:   1,
		worldTransform: identityTransform,
	}
	in.node.attachInstance(in)
	return in
}

// Trail returns the trail this instance mirrors.
func (in *Instance) Trail() Trail { return in.trail }

// Node returns the trail's terminal node.
func (in *Instance) Node() *Node { return in.node }

// Children returns the ordered child-instance list. The returned slice MUST
// NOT be mutated by the caller.
func (in *Instance) Children() []*Instance { return in.children }

// --- Mutation listeners (called synchronously from node mutation) ---

// onChildInserted creates a stateless stub for the new child. The heavy
// lifting waits for the sync pass.
func (in *Instance) onChildInserted(child *Node, index int) {
	in.markSubtreeDirtyUp()
	in.childrenChanged = true
	if in.stateless || in.pendingDisposal || in.disposed {
		return
	}
	stub := newInstance(in.display, in, in.trail.Extended(child))
	if index < 0 || index > len(in.children) {
		index = len(in.children)
	}
	in.children = append(in.children, nil)
	copy(in.children[index+1:], in.children[index:])
	in.children[index] = stub
}

// onChildRemoved detaches the child's instance from the tree and marks its
// root for deferred disposal, keeping iteration elsewhere stable.
func (in *Instance) onChildRemoved(child *Node) {
	in.markSubtreeDirtyUp()
	in.childrenChanged = true
	if in.stateless {
		return
	}
	for i, c := range in.children {
		if c.node == child && !c.pendingDisposal {
			copy(in.children[i:], in.children[i+1:])
			in.children[len(in.children)-1] = nil
			in.children = in.children[:len(in.children)-1]
			in.display.markInstanceRootForDisposal(c)
			return
		}
	}
}

// onChildrenReordered defers the order fix to reconcileChildren.
func (in *Instance) onChildrenReordered() {
	in.markSubtreeDirtyUp()
	in.childrenChanged = true
}

// onNodeDisposed marks this instance for disposal. Nodes removed from a
// parent first (the normal path) were already marked by the parent listener;
// this covers detached roots and extra stamping parents.
func (in *Instance) onNodeDisposed() {
	if in.pendingDisposal || in.disposed {
		return
	}
	if p := in.parent; p != nil {
		p.childrenChanged = true
		p.markSubtreeDirtyUp()
	}
	in.display.markInstanceRootForDisposal(in)
}

// markSelfDirty flags the instance's render state stale (flags affecting
// drawable kinds, renderer, or layer structure changed).
func (in *Instance) markSelfDirty() {
	in.selfDirty = true
	in.markSubtreeDirtyUp()
}

// markSubtreeDirtyUp makes the dirty chain upward-closed so the sync pass
// can find this instance without walking clean siblings.
func (in *Instance) markSubtreeDirtyUp() {
	for p := in; p != nil && !p.subtreeDirty; p = p.parent {
		p.subtreeDirty = true
	}
}

// markVisibilityDirty queues a top-down visibility recompute for this
// subtree on the next update. The sync pass also revisits the subtree: a
// show after a hide has to run the syncs the invisible shortcut deferred.
func (in *Instance) markVisibilityDirty() {
	in.visibilityDirty = true
	for p := in.parent; p != nil && !p.childVisibilityDirty; p = p.parent {
		p.childVisibilityDirty = true
	}
	in.markSubtreeDirtyUp()
}

// markTransformDirty enqueues this instance's nearest transform root.
func (in *Instance) markTransformDirty() {
	root := in
	for root.parent != nil && !root.isTransformRoot {
		root = root.parent
	}
	in.display.markTransformRootDirty(root)
}

// markPaintDirty flags this occurrence's paint output stale. Repaint only —
// no structural work results.
func (in *Instance) markPaintDirty() {
	if in.selfDrawable != nil {
		in.selfDrawable.markPaintDirty()
	}
	if in.sharedDrawable != nil {
		in.sharedDrawable.markPaintDirty()
		if e := in.sharedDrawable.shared; e != nil && e.surface != nil {
			in.display.pool.Release(e.surface)
			e.surface = nil // re-rendered lazily
		}
	}
	if in.backbone != nil {
		in.backbone.MarkPaintDirty()
	}
}

// --- Sync ---

// syncTree incrementally reconciles this instance subtree against the scene
// tree: promoting stubs, updating render state, recursing only into dirty
// children, relinking the drawable list, and stitching backbones. Unchanged
// subtrees are skipped entirely.
func (in *Instance) syncTree(d *Display) {
	if in.disposed || in.pendingDisposal {
		return
	}
	if d.reg.debug && in.node.disposed {
		panic("loom debug: live instance mirrors a disposed node: " + in.trail.String())
	}
	wasStateless := in.stateless
	if in.stateless {
		in.stateless = false
		in.childrenChanged = true
		in.updateRenderState(d)
		in.selfDirty = false
		in.markTransformDirty()
		in.markVisibilityDirty()
	} else if !in.subtreeDirty {
		return
	}
	if in.selfDirty {
		in.updateRenderState(d)
		in.selfDirty = false
	}

	// Invisible-subtree shortcut: defer the subtree's sync until it shows
	// again, but queue reference reductions so shared caches don't pin.
	if !in.node.Visible && !wasStateless {
		d.markForReducedReferences(in)
		return
	}

	if in.sharedDrawable != nil {
		// Shared occurrences don't mirror their subtree per trail; any edit
		// under the node invalidates the cache surface instead.
		if e := in.sharedDrawable.shared; e != nil && e.surface != nil {
			d.pool.Release(e.surface)
			e.surface = nil
		}
		in.sharedDrawable.markPaintDirty()
		in.childrenChanged = false
	} else {
		if in.childrenChanged {
			in.reconcileChildren(d)
			in.childrenChanged = false
		}
		for _, c := range in.children {
			if c.stateless || c.subtreeDirty {
				c.syncTree(d)
			}
		}
	}
	in.relinkDrawables(d)
	if in.isBackbone {
		in.backbone.stitch(d)
	}
	in.subtreeDirty = false
}

// reconcileChildren makes in.children mirror node.Children() in order,
// reusing existing instances by node identity and creating stubs for the
// rest. Instances whose node is gone are marked for deferred disposal.
func (in *Instance) reconcileChildren(d *Display) {
	nodeKids := in.node.Children()
	old := in.children
	used := make([]bool, len(old))
	next := make([]*Instance, 0, len(nodeKids))
	for _, kn := range nodeKids {
		if kn.disposed {
			continue
		}
		var found *Instance
		for j, ex := range old {
			if !used[j] && ex.node == kn && !ex.pendingDisposal && !ex.disposed {
				found = ex
				used[j] = true
				break
			}
		}
		if found == nil {
			found = newInstance(d, in, in.trail.Extended(kn))
		}
		next = append(next, found)
	}
	for j, ex := range old {
		if !used[j] && !ex.pendingDisposal && !ex.disposed {
			d.markInstanceRootForDisposal(ex)
		}
	}
	in.children = next
}

// updateRenderState decides what this occurrence needs: a self drawable
// (paintable content), a backbone stand-in (layer boundary), or a shared
// cache drawable — and which backend and transform queue it belongs to.
// Computed once per instance and again only when flags change.
func (in *Instance) updateRenderState(d *Display) {
	n := in.node
	oldHost := in.hostBackbone()

	parentRenderer := d.defaultRenderer
	if in.parent != nil && in.parent.renderer != 0 {
		parentRenderer = in.parent.renderer
	}
	renderer := parentRenderer
	if n.Renderer != 0 {
		renderer = n.Renderer
	}
	rendererChanged := in.renderer != 0 && in.renderer != renderer
	in.renderer = renderer
	if rendererChanged {
		// Children inherit the effective backend; their drawables re-evaluate
		// on this same pass.
		for _, c := range in.children {
			c.markSelfDirty()
		}
	}

	isRoot := in.parent == nil
	shared := n.Shared && !isRoot
	// Renderer changes do NOT force a layer: same-backend runs split into
	// sibling blocks within the enclosing backbone instead.
	isBackbone := !isRoot && !shared &&
		(n.LayerSplit || n.ClipArea != nil ||
			(n.Opacity < 1 && n.NumChildren() > 0))
	needsSelf := !shared && (n.PaintFn != nil || n.CustomImage != nil || (n.W > 0 && n.H > 0))

	// Transform-root tie-break: the nearest ancestor requiring transform
	// isolation. Decides which of the two dirty-transform queues this
	// instance lands in.
	in.isTransformRoot = isRoot || isBackbone
	in.passTransform = isBackbone && !n.LayerSplit && n.ClipArea == nil

	backboneChanged := isBackbone != in.isBackbone

	// Self drawable.
	if needsSelf && in.selfDrawable == nil {
		in.selfDrawable = newDrawable(d, in, drawableSelf, renderer)
	} else if !needsSelf && in.selfDrawable != nil {
		d.markDrawableForDisposal(in.selfDrawable)
		in.selfDrawable = nil
	} else if in.selfDrawable != nil && rendererChanged {
		d.markDrawableForDisposal(in.selfDrawable)
		in.selfDrawable = newDrawable(d, in, drawableSelf, renderer)
	}

	// Backbone stand-in.
	if isBackbone && in.groupDrawable == nil {
		in.backbone = newBackbone(d, in)
		in.groupDrawable = newDrawable(d, in, drawableBackbone, 0)
		in.groupDrawable.backbone = in.backbone
	} else if !isBackbone && in.groupDrawable != nil {
		d.markDrawableForDisposal(in.groupDrawable) // disposes the backbone too
		in.groupDrawable = nil
		in.backbone = nil
	}
	in.isBackbone = isBackbone

	// Shared cache drawable.
	if shared && in.sharedDrawable == nil {
		dr := newDrawable(d, in, drawableShared, renderer)
		dr.shared = d.acquireShared(n)
		in.sharedDrawable = dr
	} else if !shared && in.sharedDrawable != nil {
		d.markDrawableForDisposal(in.sharedDrawable) // releases the cache ref
		in.sharedDrawable = nil
	}

	if backboneChanged {
		// Layer boundaries moved: the hosted lists on both sides of the
		// boundary repartition wholesale.
		oldHost.markRebuild()
		in.hostBackbone().markRebuild()
		if in.backbone != nil {
			in.backbone.setHost(oldHost)
			in.backbone.markRebuild()
		}
		in.childrenChanged = true
	}
}

// hostBackbone returns the backbone whose hosted drawable list this
// instance's relink mutates: its own backbone when it is one, otherwise the
// nearest ancestor backbone (the root backbone at the top).
func (in *Instance) hostBackbone() *Backbone {
	if in.isBackbone && in.backbone != nil {
		return in.backbone
	}
	for p := in.parent; p != nil; p = p.parent {
		if p.isBackbone && p.backbone != nil {
			return p.backbone
		}
	}
	return in.display.rootBackbone
}

// exposedSpan returns the drawable run this instance contributes to its
// parent's list.
func (in *Instance) exposedSpan() (first, last *Drawable) {
	return in.firstDrawable, in.lastDrawable
}

// relinkDrawables rewires the current-generation links for this instance's
// span: self (or shared) drawable first, then each child's exposed span in
// order. Only links that actually change are touched; every touched drawable
// is queued for the links-update phase, and the minimal changed range is
// recorded as a ChangeInterval on the host backbone.
func (in *Instance) relinkDrawables(d *Display) {
	bb := in.hostBackbone()

	var oldFirst, oldLast *Drawable
	if in.isBackbone {
		oldFirst, oldLast = in.backbone.firstDrawable, in.backbone.lastDrawable
	} else {
		oldFirst, oldLast = in.firstDrawable, in.lastDrawable
	}

	ownsList := in.isBackbone || in.parent == nil

	var first, last *Drawable
	var firstChanged, lastChanged *Drawable
	// noteChanged must be called in list order: the walk appends in order, and
	// the boundary checks run at the ends of the walk.
	noteChanged := func(dr *Drawable) {
		if dr == nil {
			return
		}
		if firstChanged == nil {
			firstChanged = dr
		}
		lastChanged = dr
	}
	appendDr := func(dr *Drawable) {
		if dr == nil {
			return
		}
		if first == nil {
			first = dr
			if dr != oldFirst {
				noteChanged(dr)
			}
		} else if last.next != dr || dr.prev != last {
			last.next = dr
			dr.prev = last
			last.markLinksDirty(d)
			dr.markLinksDirty(d)
			noteChanged(last)
			noteChanged(dr)
		}
		last = dr
	}

	if in.sharedDrawable != nil {
		appendDr(in.sharedDrawable)
	} else {
		appendDr(in.selfDrawable)
		for _, c := range in.children {
			cf, cl := c.exposedSpan()
			if cf == nil {
				continue
			}
			appendDr(cf)
			last = cl
		}
	}

	if last != nil && last != oldLast && lastChanged != last {
		noteChanged(last)
	}

	// An instance that owns its hosted list (backbone or display root) must
	// terminate it: a shrink can leave the boundary links pointing at departed
	// drawables. Interior spans leave boundary fixes to the parent's relink.
	if ownsList {
		if first != nil && first.prev != nil {
			first.prev = nil
			first.markLinksDirty(d)
		}
		if last != nil && last.next != nil {
			last.next = nil
			last.markLinksDirty(d)
		}
	}

	if in.isBackbone {
		in.backbone.firstDrawable = first
		in.backbone.lastDrawable = last
		in.firstDrawable = in.groupDrawable
		in.lastDrawable = in.groupDrawable
	} else {
		in.firstDrawable = first
		in.lastDrawable = last
	}

	if firstChanged != nil {
		bb.recordChangeInterval(d, firstChanged, lastChanged)
	} else if ownsList && first == nil && oldFirst != nil {
		// The owned list emptied outright; there is no changed drawable left
		// to anchor an interval on.
		bb.markRebuild()
	}
	// An interior span that emptied needs no interval of its own: the parent's
	// relink rewires the junction and records the change there.
}

// --- Transforms and visibility ---

// updateSubtreeTransforms recomputes world transforms below a transform
// root. Recursion never skips: a descendant root drained earlier this frame
// may have composed against this ancestor's stale matrix, and this walk is
// what corrects it. The per-frame dedupe happens at queue-drain entry.
func (in *Instance) updateSubtreeTransforms(parentTransform [6]float64, parentOpacity float64, frame uint64) {
	in.transformFrame = frame
	local := computeLocalTransform(in.node)
	in.worldTransform = multiplyAffine(parentTransform, local)
	in.worldOpacity = parentOpacity * in.node.Opacity
	if in.selfDrawable != nil {
		in.selfDrawable.markPaintDirty()
	}
	if in.sharedDrawable != nil {
		in.sharedDrawable.markPaintDirty()
	}
	if in.backbone != nil {
		in.backbone.MarkPaintDirty()
	}
	for _, c := range in.children {
		c.updateSubtreeTransforms(in.worldTransform, in.worldOpacity, frame)
	}
}

// parentWorldTransform returns the transform this instance composes under.
func (in *Instance) parentWorldTransform() ([6]float64, float64) {
	if in.parent == nil {
		return identityTransform, 1
	}
	return in.parent.worldTransform, in.parent.worldOpacity
}

// updateVisibility propagates visibility top-down, pruning subtrees with no
// pending visibility changes.
func (in *Instance) updateVisibility(parentVisible, force bool) {
	if in.disposed {
		return
	}
	if !force && !in.visibilityDirty && !in.childVisibilityDirty {
		return
	}
	selfVisible := in.node.Visible
	visible := parentVisible && selfVisible
	changed := in.visibilityDirty || visible != in.visible
	in.visible = visible
	in.selfVisible = selfVisible
	in.visibilityDirty = false
	in.childVisibilityDirty = false
	if changed {
		in.markPaintDirty()
		if selfVisible && in.subtreeDirty {
			// The subtree skipped syncs while hidden; make sure the next
			// frame picks it up.
			in.markSubtreeDirtyUp()
		}
	}
	for _, c := range in.children {
		c.updateVisibility(visible, changed)
	}
}

// --- Reference reduction ---

// reduceReferences drops shared-cache references that an invisible-subtree
// shortcut skipped: entries whose node no longer stamps shared content.
func (in *Instance) reduceReferences(d *Display) {
	if in.disposed {
		return
	}
	if in.sharedDrawable != nil && (!in.node.Shared || in.node.disposed) {
		d.markDrawableForDisposal(in.sharedDrawable)
		in.sharedDrawable = nil
		in.markSubtreeDirtyUp()
	}
	for _, c := range in.children {
		c.reduceReferences(d)
	}
}

// --- Disposal ---

// dispose cascades through the subtree, queueing owned drawables for the
// drawable-disposal phase and detaching node backpointers. Runs only from
// the instance-disposal phase.
func (in *Instance) dispose(d *Display) {
	if in.disposed {
		return
	}
	in.disposed = true
	for _, c := range in.children {
		c.dispose(d)
	}
	in.children = nil
	if in.selfDrawable != nil {
		d.markDrawableForDisposal(in.selfDrawable)
		in.selfDrawable = nil
	}
	if in.groupDrawable != nil {
		d.markDrawableForDisposal(in.groupDrawable)
		in.groupDrawable = nil
		in.backbone = nil
	}
	if in.sharedDrawable != nil {
		d.markDrawableForDisposal(in.sharedDrawable)
		in.sharedDrawable = nil
	}
	in.firstDrawable = nil
	in.lastDrawable = nil
	in.node.detachInstance(in)
	in.parent = nil
}

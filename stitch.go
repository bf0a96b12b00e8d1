package loom

// ChangeInterval is a transient record of a minimal changed sibling range in
// a backbone's hosted drawable list: the first and last drawables whose
// links the sync pass rewired. The stable anchors bracketing the range are
// read off the changed drawables at stitch time, when the current links are
// final — never at record time, when neighbors may still be mid-rewire. The
// stitcher diffs each candidate anchor's old link generation against its
// current links and widens the range over neighbors another relink in the
// same pass rewired, so an anchor is always a drawable the pass left alone.
// Intervals let the stitcher skip the untouched prefix and suffix entirely,
// so stitch cost tracks the size of the edit, not the sibling list.
//
// Intervals are consumed by the stitch that runs inside the same sync pass
// that created them, then queued for disposal so no drawable references leak
// past the frame.
type ChangeInterval struct {
	backbone                  *Backbone
	firstChanged, lastChanged *Drawable
	disposed                  bool
}

// dispose clears the interval's drawable references. Runs only in the
// change-interval disposal phase.
func (ci *ChangeInterval) dispose() {
	ci.backbone = nil
	ci.firstChanged = nil
	ci.lastChanged = nil
	ci.disposed = true
}

// stitch reconciles the backbone's block partition with its current drawable
// list. Interior edits take the interval-bounded fast path; edits that would
// split or merge runs across an interval edge, or that touch nested
// backbones, fall back to a full repartition (which still reuses compatible
// blocks in order, so steady-state block identity is stable).
func (bb *Backbone) stitch(d *Display) {
	if !bb.needsRebuild && len(bb.changeIntervals) == 0 {
		return
	}
	rebuild := bb.needsRebuild
	if !rebuild {
		for _, ci := range bb.changeIntervals {
			if !bb.stitchInterval(d, ci) {
				rebuild = true
				break
			}
		}
	}
	if rebuild {
		bb.rebuildBlocks(d)
	}
	for _, ci := range bb.changeIntervals {
		d.markChangeIntervalToDispose(ci)
	}
	bb.changeIntervals = bb.changeIntervals[:0]
	bb.needsRebuild = false
	bb.MarkPaintDirty()
}

// targetBlockOf returns the block a drawable is headed for: its pending
// block when a reassignment is queued, otherwise its current block.
func targetBlockOf(dr *Drawable) Block {
	if dr.blockDirty && dr.pendingBlock != nil {
		return dr.pendingBlock
	}
	return dr.parentBlock
}

// stitchInterval handles one changed range. Returns false when the change
// cannot be resolved locally and the caller must rebuild; blocks created by
// a failed attempt are removed again on the way out, so the rebuild's
// in-order reuse scan never latches onto an empty leftover block and churns
// an existing run's identity.
func (bb *Backbone) stitchInterval(d *Display, ci *ChangeInterval) bool {
	// An earlier interval's widened walk may have routed this whole range
	// already; overlapping intervals are common when several relinks touch
	// adjacent spans in one pass.
	covered := true
	for dr := ci.firstChanged; ; dr = dr.next {
		if dr == nil || dr.routedAt != d.frameID {
			covered = false
			break
		}
		if dr == ci.lastChanged {
			break
		}
	}
	if covered {
		return true
	}

	// The interval records what one relink touched; other relinks in the same
	// pass may have rewired its neighbors too. Diff the old link snapshot
	// against the current links and widen until both anchors are drawables
	// the pass left alone — a rewired neighbor may carry a block from a run
	// it no longer sits in.
	fc, lc := ci.firstChanged, ci.lastChanged
	for fc.prev != nil && (fc.prev.oldNext != fc.prev.next || fc.prev.oldPrev != fc.prev.prev) {
		fc = fc.prev
	}
	for lc.next != nil && (lc.next.oldNext != lc.next.next || lc.next.oldPrev != lc.next.prev) {
		lc = lc.next
	}
	left := fc.prev
	right := lc.next

	first := bb.firstDrawable
	if left != nil {
		first = left.next
	}
	if first == nil {
		// The whole hosted list emptied; nothing to partition.
		return len(bb.blocks) == 0
	}

	var leftBlock, rightBlock Block
	if left != nil {
		leftBlock = targetBlockOf(left)
	}
	if right != nil {
		rightBlock = targetBlockOf(right)
	}

	cur := leftBlock
	var created []Block
	bail := func() bool {
		for _, b := range created {
			for i, x := range bb.blocks {
				if x == b {
					copy(bb.blocks[i:], bb.blocks[i+1:])
					bb.blocks[len(bb.blocks)-1] = nil
					bb.blocks = bb.blocks[:len(bb.blocks)-1]
					break
				}
			}
			d.markBlockForDisposal(b)
		}
		return false
	}
	for dr := first; dr != nil && dr != right; dr = dr.next {
		if dr.kind == drawableBackbone {
			// Nested backbone placement changes the block list structurally.
			return bail()
		}
		if cur == nil || cur.Renderer() != dr.renderer {
			// Prefer the drawable's own block when the backend matches: a
			// changed drawable that stayed in its run keeps its block, and
			// run-interior edits don't churn block identities.
			own := targetBlockOf(dr)
			if own != nil && own != cur && own != leftBlock && own.Renderer() == dr.renderer {
				cur = own
				if !blockListContains(bb.blocks, own) {
					bb.insertBlockAfter(leftBlock, own)
				}
			} else {
				nb := newBlockForRenderer(d, dr.renderer)
				nb.setHost(bb)
				nb.markKept(d.frameID)
				bb.insertBlockAfter(cur, nb)
				cur = nb
				created = append(created, nb)
			}
		}
		cur.markKept(d.frameID)
		dr.setPendingBlock(d, cur)
	}

	if rightBlock != nil {
		if rightBlock == leftBlock && len(created) > 0 {
			// The edit splits the anchor block's run in two; the suffix would
			// need to move to a fresh block.
			return bail()
		}
		if cur != nil && cur != rightBlock && cur.Renderer() == rightBlock.Renderer() {
			// The edit's tail run would fuse with the right anchor's block.
			return bail()
		}
	}
	return true
}

func blockListContains(blocks []Block, b Block) bool {
	for _, x := range blocks {
		if x == b {
			return true
		}
	}
	return false
}

// insertBlockAfter places nb directly after prev in the block list (at the
// front when prev is nil).
func (bb *Backbone) insertBlockAfter(prev Block, nb Block) {
	at := 0
	if prev != nil {
		for i, b := range bb.blocks {
			if b == prev {
				at = i + 1
				break
			}
		}
	}
	bb.blocks = append(bb.blocks, nil)
	copy(bb.blocks[at+1:], bb.blocks[at:])
	bb.blocks[at] = nb
}

// rebuildBlocks repartitions the entire hosted list into contiguous
// same-backend runs. Existing blocks are reused in order when their backend
// matches, so an unchanged prefix keeps its block identities and retained
// surfaces.
func (bb *Backbone) rebuildBlocks(d *Display) {
	oldBlocks := bb.blocks
	used := make([]bool, len(oldBlocks))
	scan := 0

	var blocks []Block
	var cur Block
	var runFirst *Drawable

	for dr := bb.firstDrawable; dr != nil; dr = dr.next {
		if dr.kind == drawableBackbone {
			nested := dr.backbone
			nested.markKept(d.frameID)
			for j := scan; j < len(oldBlocks); j++ {
				if oldBlocks[j] == Block(nested) {
					used[j] = true
					break
				}
			}
			blocks = append(blocks, nested)
			dr.setPendingBlock(d, nested)
			nested.setBounds(dr, dr)
			cur = nil
			continue
		}
		if cur == nil || cur.Renderer() != dr.renderer {
			cur = nil
			for j := scan; j < len(oldBlocks); j++ {
				b := oldBlocks[j]
				if used[j] {
					continue
				}
				if _, isBackbone := b.(*Backbone); isBackbone {
					continue
				}
				if b.Renderer() == dr.renderer {
					cur = b
					used[j] = true
					scan = j + 1
					break
				}
			}
			if cur == nil {
				cur = newBlockForRenderer(d, dr.renderer)
				cur.setHost(bb)
			}
			cur.markKept(d.frameID)
			runFirst = dr
			blocks = append(blocks, cur)
		}
		cur.setBounds(runFirst, dr)
		dr.setPendingBlock(d, cur)
	}

	// Old blocks with no run left drain out via detach; ones already empty
	// (they only held drawables that are gone) are disposed now.
	for j, b := range oldBlocks {
		if used[j] {
			continue
		}
		if _, isBackbone := b.(*Backbone); isBackbone {
			continue
		}
		if b.count() == 0 {
			d.markBlockForDisposal(b)
		}
	}
	bb.blocks = blocks
}

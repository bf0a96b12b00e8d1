package loom

import (
	"github.com/hajimehoshi/ebiten/v2"
)

// PaintFunc paints a node's self content onto dst with the node's world
// transform already composed into m. Assigned to Node.PaintFn for content
// that a solid fill or custom image cannot express.
type PaintFunc func(dst *ebiten.Image, m [6]float64)

// Node is a scene-description element: the external structure the display
// pipeline mirrors. A single flat struct is used for all node kinds to avoid
// interface dispatch on the hot path.
//
// Nodes carry no per-display render state. All of that lives in the Instance
// tree, which UpdateDisplay keeps in sync. Mutating a node never touches
// Drawables or Blocks directly — mutations are recorded (stub Instances,
// dirty flags) and applied by the next UpdateDisplay pass.
type Node struct {
	// Identity
	ID   uint32
	Name string
	reg  *Registry

	// Hierarchy
	Parent   *Node
	children []*Node

	// Transform (local)
	X, Y     float64
	ScaleX   float64
	ScaleY   float64
	Rotation float64

	// Flags consumed by the pipeline
	Visible    bool
	Pickable   bool
	Opacity    float64
	Renderer   Renderer // paint backend hint; 0 inherits from the parent
	LayerSplit bool     // forces a composited layer (Backbone) boundary
	Shared     bool     // content stamped at multiple Trails shares one cache
	ClipArea   *Rect    // optional local-space clip; implies a layer boundary

	// Self bounds and paint description
	W, H        float64
	Fill        Color
	CustomImage *ebiten.Image
	PaintFn     PaintFunc

	// OnValidateBounds is invoked during the bounds-validation flush, after
	// this node's subtree bounds are recomputed. It must not mutate the tree;
	// in debug mode a mutation here is a fatal assertion.
	OnValidateBounds func(n *Node)

	// Computed
	subtreeBounds Rect
	boundsDirty   bool

	// instances mirrors this node's occurrences across displays: one entry
	// per (Display, Trail) pair whose trail ends at this node.
	instances []*Instance

	disposed bool
}

// NewNode creates a node with default flags: visible, pickable, opaque.
func (r *Registry) NewNode(name string) *Node {
	if r.disposed {
		panic("loom: NewNode on disposed registry")
	}
	n := &Node{
		ID:          r.nodeID(),
		Name:        name,
		reg:         r,
		ScaleX:      1,
		ScaleY:      1,
		Visible:     true,
		Pickable:    true,
		Opacity:     1,
		Fill:        ColorWhite,
		boundsDirty: true,
	}
	return n
}

// --- Tree manipulation ---

// AddChild appends child to this node's children.
// If child already has a parent, it is removed from that parent first.
// Panics if child is nil or child is an ancestor of this node (cycle).
func (n *Node) AddChild(child *Node) {
	n.AddChildAt(child, len(n.children))
}

// AddChildAt inserts child at the given index.
// Same reparenting and cycle-check behavior as AddChild.
func (n *Node) AddChildAt(child *Node, index int) {
	if child == nil {
		panic("loom: cannot add nil child")
	}
	if n.reg.debug {
		debugCheckDisposed(n, "AddChildAt (parent)")
		debugCheckDisposed(child, "AddChildAt (child)")
	}
	if isAncestor(child, n) {
		panic("loom: adding child would create a cycle")
	}
	if index < 0 || index > len(n.children) {
		panic("loom: child index out of range")
	}
	if child.Parent != nil && !child.Shared {
		child.Parent.RemoveChild(child)
		if index > len(n.children) {
			index = len(n.children)
		}
	}
	// Shared nodes may be stamped under multiple parents; Parent tracks the
	// first attachment and each occurrence is identified by its Trail.
	if child.Parent == nil {
		child.Parent = n
	}
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	n.reg.mutations++
	n.invalidateBounds()
	// Stub instances come into existence the moment a node gains a child
	// that lacks one; promotion to full state waits for the sync pass.
	for _, in := range n.instances {
		in.onChildInserted(child, index)
	}
}

// RemoveChild detaches child from this node.
// Panics if child is not in this node's child list.
func (n *Node) RemoveChild(child *Node) {
	if n.reg.debug {
		debugCheckDisposed(n, "RemoveChild (parent)")
	}
	if child != nil {
		for i, c := range n.children {
			if c == child {
				n.RemoveChildAt(i)
				return
			}
		}
	}
	panic("loom: node is not a child of this node")
}

// RemoveChildAt removes and returns the child at the given index.
func (n *Node) RemoveChildAt(index int) *Node {
	if index < 0 || index >= len(n.children) {
		panic("loom: child index out of range")
	}
	child := n.children[index]
	copy(n.children[index:], n.children[index+1:])
	n.children[len(n.children)-1] = nil
	n.children = n.children[:len(n.children)-1]
	if child.Parent == n {
		child.Parent = nil
	}
	n.reg.mutations++
	n.invalidateBounds()
	for _, in := range n.instances {
		in.onChildRemoved(child)
	}
	return child
}

// MoveChild moves child to a new index among its siblings.
func (n *Node) MoveChild(child *Node, index int) {
	if index < 0 || index >= len(n.children) {
		panic("loom: child index out of range")
	}
	oldIndex := -1
	for i, c := range n.children {
		if c == child {
			oldIndex = i
			break
		}
	}
	if oldIndex == -1 {
		panic("loom: node is not a child of this node")
	}
	if oldIndex == index {
		return
	}
	if oldIndex < index {
		copy(n.children[oldIndex:], n.children[oldIndex+1:index+1])
	} else {
		copy(n.children[index+1:], n.children[index:oldIndex])
	}
	n.children[index] = child
	n.reg.mutations++
	for _, in := range n.instances {
		in.onChildrenReordered()
	}
}

// Children returns the child list. The returned slice MUST NOT be mutated by
// the caller.
func (n *Node) Children() []*Node {
	return n.children
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// ChildAt returns the child at the given index.
func (n *Node) ChildAt(index int) *Node {
	return n.children[index]
}

// --- Flag and property setters ---

// SetVisible sets the node's visibility. Visibility changes propagate
// top-down through the instance tree on the next UpdateDisplay.
func (n *Node) SetVisible(visible bool) {
	if n.Visible == visible {
		return
	}
	n.Visible = visible
	n.reg.mutations++
	for _, in := range n.instances {
		in.markVisibilityDirty()
	}
}

// SetOpacity sets the node's opacity in [0, 1]. Panics on out-of-range
// values at the call boundary. An opacity below 1 on a node with children
// forces a layer boundary so the group composites as one unit.
func (n *Node) SetOpacity(opacity float64) {
	if opacity < 0 || opacity > 1 {
		panic("loom: opacity out of range")
	}
	if n.Opacity == opacity {
		return
	}
	n.Opacity = opacity
	n.reg.mutations++
	for _, in := range n.instances {
		in.markSelfDirty()
		// World opacity rides along with the transform pass.
		in.markTransformDirty()
	}
}

// SetRenderer sets the paint backend hint. Zero inherits from the parent.
func (n *Node) SetRenderer(r Renderer) {
	if n.Renderer == r {
		return
	}
	n.Renderer = r
	n.reg.mutations++
	for _, in := range n.instances {
		in.markSelfDirty()
	}
}

// SetLayerSplit forces (or releases) a composited layer boundary at this node.
func (n *Node) SetLayerSplit(split bool) {
	if n.LayerSplit == split {
		return
	}
	n.LayerSplit = split
	n.reg.mutations++
	for _, in := range n.instances {
		in.markSelfDirty()
	}
}

// SetSelfBounds sets the node's paintable self size and invalidates bounds.
func (n *Node) SetSelfBounds(w, h float64) {
	if n.W == w && n.H == h {
		return
	}
	n.W = w
	n.H = h
	n.reg.mutations++
	n.invalidateBounds()
	for _, in := range n.instances {
		in.markSelfDirty()
	}
}

// SetFill sets the node's fill color and marks its paint output dirty.
// This never restructures Instances or Blocks — only a repaint results.
func (n *Node) SetFill(c Color) {
	if n.Fill == c {
		return
	}
	n.Fill = c
	n.reg.mutations++
	n.InvalidatePaint()
}

// InvalidatePaint marks the node's self content as needing a repaint.
// Call after mutating a CustomImage or state read by PaintFn.
func (n *Node) InvalidatePaint() {
	for _, in := range n.instances {
		in.markPaintDirty()
	}
}

// --- Bounds validation ---

// invalidateBounds marks this node and its ancestor chain bounds-dirty.
// Dirtiness is upward-closed, so the walk stops at the first dirty ancestor.
func (n *Node) invalidateBounds() {
	for p := n; p != nil && !p.boundsDirty; p = p.Parent {
		p.boundsDirty = true
	}
}

// validateBounds recomputes cached subtree bounds bottom-up and fires
// OnValidateBounds hooks. Hooks must not mutate the tree.
func (n *Node) validateBounds() {
	if !n.boundsDirty {
		return
	}
	var b Rect
	if n.W > 0 && n.H > 0 {
		b = Rect{Width: n.W, Height: n.H}
	}
	for _, child := range n.children {
		child.validateBounds()
		cb := child.subtreeBounds
		if cb.Width == 0 && cb.Height == 0 {
			continue
		}
		b = b.Union(transformRectAABB(computeLocalTransform(child), cb))
	}
	if n.ClipArea != nil {
		b = intersectRect(b, *n.ClipArea)
	}
	n.subtreeBounds = b
	n.boundsDirty = false
	if n.OnValidateBounds != nil {
		n.OnValidateBounds(n)
	}
}

// SubtreeBounds returns the node's cached local-space subtree bounds.
// Only valid after the display's bounds-validation flush.
func (n *Node) SubtreeBounds() Rect {
	return n.subtreeBounds
}

// --- Disposal ---

// Dispose removes this node from its parent, marks it as disposed, and
// recursively disposes all descendants. Instances mirroring the node are
// marked for deferred disposal and torn down by the next UpdateDisplay.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	n.dispose()
}

func (n *Node) dispose() {
	if n.disposed {
		return
	}
	n.disposed = true
	n.ID = 0
	n.reg.mutations++
	for _, in := range n.instances {
		in.onNodeDisposed()
	}
	n.instances = nil
	for _, child := range n.children {
		child.Parent = nil
		child.dispose()
	}
	n.children = nil
	n.Parent = nil
	n.CustomImage = nil
	n.PaintFn = nil
	n.OnValidateBounds = nil
	n.ClipArea = nil
}

// IsDisposed returns true if this node has been disposed.
func (n *Node) IsDisposed() bool {
	return n.disposed
}

// --- Helpers ---

// isAncestor reports whether candidate is an ancestor of node.
func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// attachInstance registers an instance mirroring this node.
func (n *Node) attachInstance(in *Instance) {
	n.instances = append(n.instances, in)
}

// detachInstance unregisters an instance. Uses copy+nil to avoid retaining a
// dangling pointer in the backing array.
func (n *Node) detachInstance(in *Instance) {
	for i, x := range n.instances {
		if x == in {
			copy(n.instances[i:], n.instances[i+1:])
			n.instances[len(n.instances)-1] = nil
			n.instances = n.instances[:len(n.instances)-1]
			return
		}
	}
}

// intersectRect returns the intersection of a and b (empty if disjoint).
func intersectRect(a, b Rect) Rect {
	x0 := max(a.X, b.X)
	y0 := max(a.Y, b.Y)
	x1 := min(a.X+a.Width, b.X+b.Width)
	y1 := min(a.Y+a.Height, b.Y+b.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

package loom

import (
	"sync"
)

// AccessPeer is the accessibility mirror of one named node occurrence:
// stable identity, display-space bounds, and effective visibility. Peers are
// what a platform accessibility bridge consumes.
type AccessPeer struct {
	NodeID  uint32
	Name    string
	Bounds  Rect
	Visible bool

	instance *Instance
}

// AccessTree maintains the peer list for a display. Peer structs are pooled;
// a rebuild after heavy churn reuses them instead of reallocating.
type AccessTree struct {
	display *Display
	peers   []*AccessPeer
	pool    sync.Pool
}

// NewAccessTree attaches an accessibility tree to the display.
// Panics if the display already has one.
func NewAccessTree(d *Display) *AccessTree {
	if d.access != nil {
		panic("loom: display already has an access tree attached")
	}
	at := &AccessTree{
		display: d,
		pool:    sync.Pool{New: func() any { return new(AccessPeer) }},
	}
	d.access = at
	return at
}

// Peers returns the current peer list in scene order. The returned slice
// MUST NOT be mutated by the caller.
func (at *AccessTree) Peers() []*AccessPeer { return at.peers }

// Rebuild regenerates the peer list from the instance tree: one peer per
// named, live occurrence. Positions refresh in the per-frame flush.
func (at *AccessTree) Rebuild() {
	for _, p := range at.peers {
		p.instance = nil
		at.pool.Put(p)
	}
	at.peers = at.peers[:0]
	if root := at.display.rootInstance; root != nil {
		at.collect(root)
	}
}

// dispose releases every peer. Runs from Display.Dispose; the tree must not
// be used afterwards.
func (at *AccessTree) dispose() {
	for _, p := range at.peers {
		p.instance = nil
		at.pool.Put(p)
	}
	at.peers = nil
}

func (at *AccessTree) collect(in *Instance) {
	if in.disposed || in.pendingDisposal {
		return
	}
	if in.node.Name != "" {
		p := at.pool.Get().(*AccessPeer)
		p.NodeID = in.node.ID
		p.Name = in.node.Name
		p.Visible = in.visible
		p.instance = in
		at.peers = append(at.peers, p)
	}
	for _, c := range in.children {
		at.collect(c)
	}
}

// updatePositions refreshes peer bounds and visibility from the instance
// tree. Runs in the accessibility phase of UpdateDisplay; peers whose
// instance died since the last Rebuild go stale until the next Rebuild.
func (at *AccessTree) updatePositions() {
	for _, p := range at.peers {
		in := p.instance
		if in == nil || in.disposed {
			p.Visible = false
			continue
		}
		p.Visible = in.visible
		n := in.node
		if n.W > 0 && n.H > 0 {
			p.Bounds = transformRectAABB(in.worldTransform, Rect{Width: n.W, Height: n.H})
		} else {
			p.Bounds = transformRectAABB(in.worldTransform, n.subtreeBounds)
		}
	}
}

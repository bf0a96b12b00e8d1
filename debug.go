package loom

import (
	"fmt"
	"os"
)

// debugf writes a debug line to stderr when the registry's debug flag is on.
func (r *Registry) debugf(format string, args ...any) {
	if !r.debug {
		return
	}
	fmt.Fprintf(os.Stderr, "[loom] "+format+"\n", args...)
}

// debugCheckDisposed is the fatal use-after-dispose assertion for nodes.
// Only called on debug-enabled registries.
func debugCheckDisposed(n *Node, op string) {
	if n.disposed {
		panic("loom debug: " + op + " called on disposed node " + n.Name)
	}
}

// liveInstanceCount walks the instance tree counting undisposed instances.
func (d *Display) liveInstanceCount() int {
	var count func(in *Instance) int
	count = func(in *Instance) int {
		if in.disposed {
			return 0
		}
		n := 1
		for _, c := range in.children {
			n += count(c)
		}
		return n
	}
	if d.rootInstance == nil {
		return 0
	}
	return count(d.rootInstance)
}

// liveDrawableCount counts undisposed drawables owned by live instances.
func (d *Display) liveDrawableCount() int {
	var count func(in *Instance) int
	count = func(in *Instance) int {
		if in.disposed {
			return 0
		}
		n := 0
		for _, dr := range []*Drawable{in.selfDrawable, in.groupDrawable, in.sharedDrawable} {
			if dr != nil && !dr.disposed {
				n++
			}
		}
		for _, c := range in.children {
			n += count(c)
		}
		return n
	}
	if d.rootInstance == nil {
		return 0
	}
	return count(d.rootInstance)
}

// auditDisposedReachability panics if any live instance still mirrors a
// disposed node. Debug-only invariant check; cheap enough to run per frame
// in tests but not wired into the frame loop.
func (d *Display) auditDisposedReachability() {
	var walk func(in *Instance)
	walk = func(in *Instance) {
		if in.disposed {
			return
		}
		if in.node.disposed && !in.pendingDisposal {
			panic("loom debug: live instance reaches disposed node: " + in.trail.String())
		}
		for _, c := range in.children {
			walk(c)
		}
	}
	if d.rootInstance == nil {
		return
	}
	walk(d.rootInstance)
}

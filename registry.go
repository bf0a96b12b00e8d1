package loom

import "fmt"

// Registry is the explicit process-wide state shared by every Display:
// ID counters, the debug flag, the tree-mutation counter, and the list of
// live displays. There are no package-level singletons — construct one
// Registry at startup, pass it to NewNode/NewDisplay, and Dispose it at
// teardown.
//
// A Registry is single-threaded, like everything else in loom: all nodes and
// displays created from one Registry must be used from the same goroutine.
type Registry struct {
	debug bool

	nextNodeID     uint32
	nextInstanceID uint32
	nextDrawableID uint32
	nextBlockID    uint32

	// mutations counts every structural or property mutation applied to any
	// node created from this registry. Used to assert that bounds-validation
	// hooks do not mutate the tree.
	mutations uint64

	displays []*Display
	disposed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetDebug enables or disables debug mode. When enabled, disposed-node
// access panics, reachability audits run each frame, and per-frame phase
// stats are logged to stderr. Debug checks are skipped entirely when off.
func (r *Registry) SetDebug(enabled bool) {
	r.debug = enabled
}

// Debug reports whether debug mode is enabled.
func (r *Registry) Debug() bool {
	return r.debug
}

// Dispose tears the registry down. Panics if any display created from it is
// still live, or if the registry was already disposed.
func (r *Registry) Dispose() {
	if r.disposed {
		panic("loom: registry disposed twice")
	}
	for _, d := range r.displays {
		if !d.disposed {
			panic(fmt.Sprintf("loom: registry disposed with live display (root %q)", d.root.Name))
		}
	}
	r.displays = nil
	r.disposed = true
}

// nodeID returns the next node ID. IDs start at 1; 0 marks a disposed node.
func (r *Registry) nodeID() uint32 {
	r.nextNodeID++
	return r.nextNodeID
}

func (r *Registry) instanceID() uint32 {
	r.nextInstanceID++
	return r.nextInstanceID
}

func (r *Registry) drawableID() uint32 {
	r.nextDrawableID++
	return r.nextDrawableID
}

func (r *Registry) blockID() uint32 {
	r.nextBlockID++
	return r.nextBlockID
}

// addDisplay registers a newly constructed display.
func (r *Registry) addDisplay(d *Display) {
	if r.disposed {
		panic("loom: NewDisplay on disposed registry")
	}
	r.displays = append(r.displays, d)
}

// removeDisplay unregisters a disposed display.
func (r *Registry) removeDisplay(d *Display) {
	for i, x := range r.displays {
		if x == d {
			copy(r.displays[i:], r.displays[i+1:])
			r.displays[len(r.displays)-1] = nil
			r.displays = r.displays[:len(r.displays)-1]
			return
		}
	}
}

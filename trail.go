package loom

import "strings"

// Trail is the ordered root-to-node path identifying one occurrence of a
// node in the scene. Because nodes can be shared (stamped under multiple
// parents), the node pointer alone is ambiguous; the trail is not.
//
// Trails are immutable: deriving a longer or shorter trail always allocates
// a copy rather than mutating in place, so held trails stay valid across
// scene mutation.
type Trail struct {
	nodes []*Node
}

// NewTrail creates a single-node trail rooted at root.
func NewTrail(root *Node) Trail {
	return Trail{nodes: []*Node{root}}
}

// Extended returns a new trail with child appended. The receiver is unchanged.
func (t Trail) Extended(child *Node) Trail {
	nodes := make([]*Node, len(t.nodes)+1)
	copy(nodes, t.nodes)
	nodes[len(t.nodes)] = child
	return Trail{nodes: nodes}
}

// Node returns the trail's terminal node — the occurrence it identifies.
// Panics on an empty trail.
func (t Trail) Node() *Node {
	return t.nodes[len(t.nodes)-1]
}

// Root returns the trail's first node.
func (t Trail) Root() *Node {
	return t.nodes[0]
}

// Len returns the number of nodes in the trail.
func (t Trail) Len() int {
	return len(t.nodes)
}

// At returns the node at the given depth (0 = root).
func (t Trail) At(i int) *Node {
	return t.nodes[i]
}

// Equals reports whether two trails identify the same occurrence.
func (t Trail) Equals(other Trail) bool {
	if len(t.nodes) != len(other.nodes) {
		return false
	}
	for i, n := range t.nodes {
		if n != other.nodes[i] {
			return false
		}
	}
	return true
}

// String renders the trail as a slash-separated path of node names, for
// debug output only.
func (t Trail) String() string {
	var b strings.Builder
	for i, n := range t.nodes {
		if i > 0 {
			b.WriteByte('/')
		}
		if n.Name == "" {
			b.WriteByte('?')
		} else {
			b.WriteString(n.Name)
		}
	}
	return b.String()
}

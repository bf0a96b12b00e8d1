package loom

// Input routes pointer events into a display's scene. Events are queued and
// validated in the pointer flush at the start of UpdateDisplay, never
// against a half-synced tree. At most one Input attaches to a display.
type Input struct {
	display *Display

	// Hover/press state, revalidated each flush against the current scene.
	lastX, lastY float64
	hasPointer   bool
	hover        *Node

	queue []pointerEvent

	// Handlers fire during the flush, after hit testing.
	OnPointerDown func(target *Node, x, y float64)
	OnPointerUp   func(target *Node, x, y float64)
	OnHoverChange func(old, new *Node)

	detached bool
}

type pointerEventKind uint8

const (
	pointerMove pointerEventKind = iota
	pointerDown
	pointerUp
)

type pointerEvent struct {
	kind pointerEventKind
	x, y float64
}

// NewInput attaches an input router to the display.
// Panics if the display already has one.
func NewInput(d *Display) *Input {
	if d.input != nil {
		panic("loom: display already has an input attached")
	}
	in := &Input{display: d}
	d.input = in
	return in
}

// Detach removes the router from its display. Panics on double detach.
func (ip *Input) Detach() {
	if ip.detached {
		panic("loom: input detached twice")
	}
	ip.detached = true
	ip.display.input = nil
	ip.queue = nil
	ip.hover = nil
}

// PointerMove queues a pointer position in display coordinates.
func (ip *Input) PointerMove(x, y float64) {
	ip.queue = append(ip.queue, pointerEvent{pointerMove, x, y})
}

// PointerDown queues a press at the given position.
func (ip *Input) PointerDown(x, y float64) {
	ip.queue = append(ip.queue, pointerEvent{pointerDown, x, y})
}

// PointerUp queues a release at the given position.
func (ip *Input) PointerUp(x, y float64) {
	ip.queue = append(ip.queue, pointerEvent{pointerUp, x, y})
}

// Hover returns the node under the pointer as of the last flush.
func (ip *Input) Hover() *Node { return ip.hover }

// flushValidation drains the event queue and revalidates the hover target
// against the current scene — nodes may have moved or been disposed since
// the events were queued.
func (ip *Input) flushValidation() {
	for _, ev := range ip.queue {
		ip.lastX, ip.lastY = ev.x, ev.y
		ip.hasPointer = true
		target := ip.display.HitTest(ev.x, ev.y)
		switch ev.kind {
		case pointerDown:
			if ip.OnPointerDown != nil && target != nil {
				ip.OnPointerDown(target, ev.x, ev.y)
			}
		case pointerUp:
			if ip.OnPointerUp != nil && target != nil {
				ip.OnPointerUp(target, ev.x, ev.y)
			}
		}
	}
	ip.queue = ip.queue[:0]

	if !ip.hasPointer {
		return
	}
	target := ip.display.HitTest(ip.lastX, ip.lastY)
	if target != ip.hover {
		if ip.OnHoverChange != nil {
			ip.OnHoverChange(ip.hover, target)
		}
		ip.hover = target
	}
	if target != nil {
		ip.display.cursor = CursorPointer
	} else {
		ip.display.cursor = CursorDefault
	}
}

// HitTest returns the topmost visible, pickable node whose self content
// contains the display-space point, or nil. Subtree bounds prune the
// descent, so cost tracks tree depth, not tree size.
func (d *Display) HitTest(x, y float64) *Node {
	d.root.validateBounds()
	lx, ly := transformPoint(invertAffine(computeLocalTransform(d.root)), x, y)
	return hitTestNode(d.root, lx, ly)
}

func hitTestNode(n *Node, x, y float64) *Node {
	if !n.Visible || !n.Pickable || n.disposed {
		return nil
	}
	if n.ClipArea != nil && !n.ClipArea.Contains(x, y) {
		return nil
	}
	b := n.subtreeBounds
	if (b.Width > 0 || b.Height > 0) && !b.Contains(x, y) {
		return nil
	}
	// Topmost child wins: walk back-to-front in reverse.
	for i := len(n.children) - 1; i >= 0; i-- {
		c := n.children[i]
		inv := invertAffine(computeLocalTransform(c))
		cx, cy := transformPoint(inv, x, y)
		if hit := hitTestNode(c, cx, cy); hit != nil {
			return hit
		}
	}
	if n.W > 0 && n.H > 0 && x >= 0 && y >= 0 && x <= n.W && y <= n.H {
		return n
	}
	return nil
}

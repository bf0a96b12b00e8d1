package loom

import "math"

// identityTransform is the identity affine matrix.
var identityTransform = [6]float64{1, 0, 0, 1, 0, 0}

// computeLocalTransform computes the local affine matrix from the node's
// transform properties. Returns [a, b, c, d, tx, ty].
//
// Composition order: Scale -> Rotate -> Translate(X, Y)
func computeLocalTransform(n *Node) [6]float64 {
	sx := n.ScaleX
	sy := n.ScaleY
	if n.Rotation == 0 {
		return [6]float64{sx, 0, 0, sy, n.X, n.Y}
	}
	sin, cos := math.Sincos(n.Rotation)
	return [6]float64{cos * sx, sin * sx, -sin * sy, cos * sy, n.X, n.Y}
}

// multiplyAffine multiplies two 2D affine matrices: result = parent * child.
//
//	Matrix layout: [a, b, c, d, tx, ty]
//	| a  c  tx |
//	| b  d  ty |
//	| 0  0   1 |
func multiplyAffine(p, c [6]float64) [6]float64 {
	return [6]float64{
		p[0]*c[0] + p[2]*c[1],
		p[1]*c[0] + p[3]*c[1],
		p[0]*c[2] + p[2]*c[3],
		p[1]*c[2] + p[3]*c[3],
		p[0]*c[4] + p[2]*c[5] + p[4],
		p[1]*c[4] + p[3]*c[5] + p[5],
	}
}

// invertAffine computes the inverse of a 2D affine matrix.
// Returns the identity matrix if the matrix is singular (determinant ≈ 0).
func invertAffine(m [6]float64) [6]float64 {
	det := m[0]*m[3] - m[2]*m[1]
	if det > -1e-12 && det < 1e-12 {
		return identityTransform
	}
	invDet := 1.0 / det
	a := m[3] * invDet
	b := -m[1] * invDet
	c := -m[2] * invDet
	d := m[0] * invDet
	return [6]float64{
		a, b, c, d,
		-(a*m[4] + c*m[5]),
		-(b*m[4] + d*m[5]),
	}
}

// transformPoint applies an affine matrix to a point.
func transformPoint(m [6]float64, x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// transformRectAABB returns the axis-aligned bounding box of r mapped
// through m.
func transformRectAABB(m [6]float64, r Rect) Rect {
	x0, y0 := transformPoint(m, r.X, r.Y)
	x1, y1 := transformPoint(m, r.X+r.Width, r.Y)
	x2, y2 := transformPoint(m, r.X, r.Y+r.Height)
	x3, y3 := transformPoint(m, r.X+r.Width, r.Y+r.Height)
	minX := min(min(x0, x1), min(x2, x3))
	minY := min(min(y0, y1), min(y2, y3))
	maxX := max(max(x0, x1), max(x2, x3))
	maxY := max(max(y0, y1), max(y2, y3))
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// --- Transform property setters ---

// SetPosition sets the node's local X and Y and marks its transform dirty.
func (n *Node) SetPosition(x, y float64) {
	if n.X == x && n.Y == y {
		return
	}
	n.X = x
	n.Y = y
	n.markTransformChanged()
}

// SetScale sets the node's ScaleX and ScaleY and marks its transform dirty.
func (n *Node) SetScale(sx, sy float64) {
	if n.ScaleX == sx && n.ScaleY == sy {
		return
	}
	n.ScaleX = sx
	n.ScaleY = sy
	n.markTransformChanged()
}

// SetRotation sets the node's rotation (in radians) and marks its transform dirty.
func (n *Node) SetRotation(r float64) {
	if n.Rotation == r {
		return
	}
	n.Rotation = r
	n.markTransformChanged()
}

// markTransformChanged records the mutation and enqueues each mirroring
// instance's nearest transform root for recomputation next frame.
func (n *Node) markTransformChanged() {
	n.reg.mutations++
	n.invalidateBounds()
	for _, in := range n.instances {
		in.markTransformDirty()
	}
}

// WorldToLocal converts a world-space point to the local coordinate space of
// this node's occurrence along the given trail's instance. Valid after the
// transform phase of UpdateDisplay.
func (in *Instance) WorldToLocal(wx, wy float64) (lx, ly float64) {
	inv := invertAffine(in.worldTransform)
	return transformPoint(inv, wx, wy)
}

// LocalToWorld converts a local-space point to world space.
func (in *Instance) LocalToWorld(lx, ly float64) (wx, wy float64) {
	return transformPoint(in.worldTransform, lx, ly)
}

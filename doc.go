// Package loom is a retained-mode 2D scene-graph display pipeline for
// [Ebitengine].
//
// Loom keeps a persistent mirror of a scene-description tree and repaints it
// incrementally: every frame, [Display.UpdateDisplay] diffs the tree against
// the mirror, creating and destroying per-path [Instance] state and the
// backend [Drawable] units it owns, restitches the contiguous same-backend
// [Block] runs that do the physical painting, and repaints only what changed.
// The cost of a frame is proportional to the size of the change, not the size
// of the scene.
//
// # Quick start
//
// The simplest way to get started is [Run], which creates a window and a
// self-driving frame loop:
//
//	reg := loom.NewRegistry()
//	root := reg.NewNode("root")
//	display := loom.NewDisplay(reg, root, loom.DisplayOptions{Width: 640, Height: 480})
//	// ... add nodes under root ...
//	loom.Run(display, loom.RunConfig{Title: "My App"})
//
// For full control, implement [ebiten.Game] yourself and call
// [Display.UpdateDisplay] once per frame, then composite [Display.Surface]
// wherever you like.
//
// # Scene graph
//
// Every visual element is a [Node]. Nodes form a tree rooted at the node the
// Display was constructed with. A node occurrence is identified by its
// [Trail] — the unique root-to-node path — and each (Display, Trail) pair is
// mirrored by exactly one Instance. External code mutates nodes only; all
// Instance, Drawable, and Block bookkeeping is deferred to the next
// UpdateDisplay pass.
//
//	box := reg.NewNode("box")
//	box.W, box.H = 80, 40
//	box.Fill = loom.Color{R: 0.3, G: 0.7, B: 1, A: 1}
//	root.AddChild(box)
//
// # Backends
//
// Drawables are partitioned into Blocks by renderer: Canvas and WebGL blocks
// paint into pooled offscreen images and composite each frame, while SVG and
// DOM blocks maintain retained markup/element state for the embedding
// application to composite itself. A [Backbone] block hosts nested blocks,
// so mixed-backend subtrees stitch together into one paint order.
//
// [Ebitengine]: https://ebitengine.org
package loom

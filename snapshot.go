package loom

import (
	"encoding/json"
	"image"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"
)

// nodeDump is the JSON shape emitted by DumpTree, one entry per scene node.
// Backend and Block reflect the mirroring instance's synced pipeline state
// and are absent for stubs that have not been through an update yet.
type nodeDump struct {
	ID       uint32     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Visible  bool       `json:"visible"`
	Opacity  float64    `json:"opacity"`
	Renderer string     `json:"renderer,omitempty"`
	Backend  string     `json:"backend,omitempty"`
	Block    uint32     `json:"block,omitempty"`
	X        float64    `json:"x,omitempty"`
	Y        float64    `json:"y,omitempty"`
	W        float64    `json:"w,omitempty"`
	H        float64    `json:"h,omitempty"`
	Shared   bool       `json:"shared,omitempty"`
	Split    bool       `json:"layerSplit,omitempty"`
	Children []nodeDump `json:"children,omitempty"`
}

func (d *Display) dumpNode(n *Node) nodeDump {
	out := nodeDump{
		ID:      n.ID,
		Name:    n.Name,
		Visible: n.Visible,
		Opacity: n.Opacity,
		X:       n.X,
		Y:       n.Y,
		W:       n.W,
		H:       n.H,
		Shared:  n.Shared,
		Split:   n.LayerSplit,
	}
	if n.Renderer != 0 {
		out.Renderer = n.Renderer.String()
	}
	for _, in := range n.instances {
		if in.display != d || in.disposed || in.stateless {
			continue
		}
		out.Backend = in.renderer.String()
		if in.selfDrawable != nil && in.selfDrawable.parentBlock != nil {
			out.Block = in.selfDrawable.parentBlock.id()
		}
		break
	}
	for _, c := range n.children {
		out.Children = append(out.Children, d.dumpNode(c))
	}
	return out
}

// DumpTree serializes the display's scene tree as indented JSON, annotated
// with each occurrence's synced backend and block, for test fixtures and bug
// reports.
func (d *Display) DumpTree() ([]byte, error) {
	return json.MarshalIndent(d.dumpNode(d.root), "", "  ")
}

// Snapshot copies the composited surface into a straight-alpha image.
// Call after UpdateDisplay; the surface holds the last finished frame.
func (d *Display) Snapshot() *image.NRGBA {
	w, h := d.width, d.height
	pix := make([]byte, 4*w*h)
	d.surface.ReadPixels(pix)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	// ReadPixels returns premultiplied alpha; un-premultiply per pixel.
	for i := 0; i < len(pix); i += 4 {
		a := pix[i+3]
		if a == 0 || a == 0xff {
			copy(img.Pix[i:i+4], pix[i:i+4])
			continue
		}
		img.Pix[i+0] = uint8(int(pix[i+0]) * 0xff / int(a))
		img.Pix[i+1] = uint8(int(pix[i+1]) * 0xff / int(a))
		img.Pix[i+2] = uint8(int(pix[i+2]) * 0xff / int(a))
		img.Pix[i+3] = a
	}
	return img
}

// SnapshotScaled snapshots the surface resampled to (w, h).
func (d *Display) SnapshotScaled(w, h int) *image.NRGBA {
	src := d.Snapshot()
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// SavePNG writes the current frame to a PNG file.
func (d *Display) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, d.Snapshot()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

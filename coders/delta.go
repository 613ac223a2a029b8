// Package coders - coordinate coders translating between geometry and
// the regression targets the head is trained on.
package coders

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// maxDeltaRatio bounds decoded width/height growth, matching the usual
// delta coder clip of 16/1000.
var maxDeltaRatio = math32.Abs(math32.Log(16.0 / 1000.0))

// DeltaXYWH encodes a target hbb as the normalized (dx, dy, dw, dh)
// delta from an anchor hbb and decodes it back.
type DeltaXYWH struct {
	Means [4]float32
	Stds  [4]float32
}

// NewDeltaXYWH returns a coder with zero means and the standard
// (0.1, 0.1, 0.2, 0.2) deviations.
func NewDeltaXYWH() DeltaXYWH {
	return DeltaXYWH{
		Means: [4]float32{0, 0, 0, 0},
		Stds:  [4]float32{0.1, 0.1, 0.2, 0.2},
	}
}

// Encode computes normalized deltas turning rois (n, 4) into gts (n, 4).
func (c DeltaXYWH) Encode(rois, gts *tensor.Dense) (*tensor.Dense, error) {
	if tensorutil.Cols(rois) != 4 || tensorutil.Cols(gts) != 4 {
		return nil, errors.Errorf("coders: delta encode expects 4 columns, got %d and %d",
			tensorutil.Cols(rois), tensorutil.Cols(gts))
	}
	n := tensorutil.Rows(rois)
	if tensorutil.Rows(gts) != n {
		return nil, errors.Errorf("coders: delta encode row mismatch %d vs %d",
			n, tensorutil.Rows(gts))
	}
	out := tensorutil.Zeros(n, 4)
	rs := tensorutil.Data(rois)
	gs := tensorutil.Data(gts)
	ds := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		px, py, pw, ph := center(rs[i*4 : i*4+4])
		gx, gy, gw, gh := center(gs[i*4 : i*4+4])
		dx := (gx - px) / pw
		dy := (gy - py) / ph
		dw := math32.Log(gw / pw)
		dh := math32.Log(gh / ph)
		ds[i*4] = (dx - c.Means[0]) / c.Stds[0]
		ds[i*4+1] = (dy - c.Means[1]) / c.Stds[1]
		ds[i*4+2] = (dw - c.Means[2]) / c.Stds[2]
		ds[i*4+3] = (dh - c.Means[3]) / c.Stds[3]
	}
	return out, nil
}

// Decode applies deltas to rois. deltas may have 4 columns or 4*k
// columns (one delta group per class), in which case each group is
// decoded against the same roi and the output keeps the (n, 4*k)
// layout. When maxShape is non-zero the decoded coordinates are clamped
// to (h, w) image bounds.
func (c DeltaXYWH) Decode(rois, deltas *tensor.Dense, maxShape [2]int) (*tensor.Dense, error) {
	if tensorutil.Cols(rois) != 4 {
		return nil, errors.Errorf("coders: delta decode expects roi with 4 columns, got %d",
			tensorutil.Cols(rois))
	}
	cols := tensorutil.Cols(deltas)
	if cols%4 != 0 {
		return nil, errors.Errorf("coders: delta columns %d not a multiple of 4", cols)
	}
	n := tensorutil.Rows(rois)
	if tensorutil.Rows(deltas) != n {
		return nil, errors.Errorf("coders: delta decode row mismatch %d vs %d",
			n, tensorutil.Rows(deltas))
	}
	out := tensorutil.Zeros(n, cols)
	rs := tensorutil.Data(rois)
	ds := tensorutil.Data(deltas)
	bs := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		px, py, pw, ph := center(rs[i*4 : i*4+4])
		for g := 0; g < cols/4; g++ {
			at := i*cols + g*4
			dx := ds[at]*c.Stds[0] + c.Means[0]
			dy := ds[at+1]*c.Stds[1] + c.Means[1]
			dw := clamp(ds[at+2]*c.Stds[2]+c.Means[2], -maxDeltaRatio, maxDeltaRatio)
			dh := clamp(ds[at+3]*c.Stds[3]+c.Means[3], -maxDeltaRatio, maxDeltaRatio)
			gx := px + pw*dx
			gy := py + ph*dy
			gw := pw * math32.Exp(dw)
			gh := ph * math32.Exp(dh)
			x1 := gx - gw/2
			y1 := gy - gh/2
			x2 := gx + gw/2
			y2 := gy + gh/2
			if maxShape[0] > 0 && maxShape[1] > 0 {
				w := float32(maxShape[1])
				h := float32(maxShape[0])
				x1 = clamp(x1, 0, w)
				x2 = clamp(x2, 0, w)
				y1 = clamp(y1, 0, h)
				y2 = clamp(y2, 0, h)
			}
			bs[at], bs[at+1], bs[at+2], bs[at+3] = x1, y1, x2, y2
		}
	}
	return out, nil
}

func center(b []float32) (cx, cy, w, h float32) {
	w = b[2] - b[0]
	h = b[3] - b[1]
	cx = b[0] + w/2
	cy = b[1] + h/2
	return cx, cy, w, h
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

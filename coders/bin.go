package coders

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

const degenerateEps = 1e-4

// Bin encodes the 4 corners of a quadrilateral as positions along the
// edges of its minimum bounding hbb. Each corner is assigned to one
// edge (corner 0 the top edge, 1 the right, 2 the bottom, 3 the left),
// its normalized position along that edge is discretized into NumBins
// bins, and the residual within the bin is kept as a continuous offset
// centered in [-0.5, 0.5).
type Bin struct {
	NumBins int
}

// NewBin returns a bin coder with the given bin count per corner.
func NewBin(numBins int) Bin {
	return Bin{NumBins: numBins}
}

// Encode turns gt polygons (n, 8) into bin classification targets
// (n, 4*NumBins), bin offset targets (n, 4), and matching weights. A
// corner that cannot be placed on an edge (zero-width or zero-height
// bounding box) gets zero weight on its bin group and offset instead of
// failing.
func (c Bin) Encode(polys *tensor.Dense) (clsTargets, clsWeights, offTargets, offWeights *tensor.Dense, err error) {
	if tensorutil.Cols(polys) != 8 {
		return nil, nil, nil, nil, errors.Errorf(
			"coders: bin encode expects 8 columns, got %d", tensorutil.Cols(polys))
	}
	n := tensorutil.Rows(polys)
	clsTargets = tensorutil.Zeros(n, 4*c.NumBins)
	clsWeights = tensorutil.Zeros(n, 4*c.NumBins)
	offTargets = tensorutil.Zeros(n, 4)
	offWeights = tensorutil.Zeros(n, 4)

	ps := tensorutil.Data(polys)
	ct := tensorutil.Data(clsTargets)
	cw := tensorutil.Data(clsWeights)
	ot := tensorutil.Data(offTargets)
	ow := tensorutil.Data(offWeights)

	for i := 0; i < n; i++ {
		p := ps[i*8 : (i+1)*8]
		x1, y1, x2, y2 := polyBounds(p)
		w := x2 - x1
		h := y2 - y1
		for corner := 0; corner < 4; corner++ {
			t, ok := cornerPosition(p, corner, x1, y1, x2, y2, w, h)
			if !ok {
				continue
			}
			bin, off := c.discretize(t)
			ct[i*4*c.NumBins+corner*c.NumBins+bin] = 1
			for b := 0; b < c.NumBins; b++ {
				cw[i*4*c.NumBins+corner*c.NumBins+b] = 1
			}
			ot[i*4+corner] = off
			ow[i*4+corner] = 1
		}
	}
	return clsTargets, clsWeights, offTargets, offWeights, nil
}

// Decode rebuilds polygons (n, 8) from hbbs (n, 4), bin classification
// logits (n, 4*NumBins) and bin offsets (n, 4). Per corner the highest
// scoring bin wins and the offset places the corner within it.
func (c Bin) Decode(boxes, binCls, binOffset *tensor.Dense) (*tensor.Dense, error) {
	if tensorutil.Cols(boxes) != 4 {
		return nil, errors.Errorf("coders: bin decode expects boxes with 4 columns, got %d",
			tensorutil.Cols(boxes))
	}
	if tensorutil.Cols(binCls) != 4*c.NumBins {
		return nil, errors.Errorf("coders: bin decode expects %d bin logits, got %d",
			4*c.NumBins, tensorutil.Cols(binCls))
	}
	if tensorutil.Cols(binOffset) != 4 {
		return nil, errors.Errorf("coders: bin decode expects 4 offsets, got %d",
			tensorutil.Cols(binOffset))
	}
	n := tensorutil.Rows(boxes)
	if tensorutil.Rows(binCls) != n || tensorutil.Rows(binOffset) != n {
		return nil, errors.Errorf("coders: bin decode row mismatch %d / %d / %d",
			n, tensorutil.Rows(binCls), tensorutil.Rows(binOffset))
	}

	out := tensorutil.Zeros(n, 8)
	bs := tensorutil.Data(boxes)
	cs := tensorutil.Data(binCls)
	os := tensorutil.Data(binOffset)
	ps := tensorutil.Data(out)

	for i := 0; i < n; i++ {
		x1, y1, x2, y2 := bs[i*4], bs[i*4+1], bs[i*4+2], bs[i*4+3]
		w := x2 - x1
		h := y2 - y1
		for corner := 0; corner < 4; corner++ {
			group := cs[i*4*c.NumBins+corner*c.NumBins : i*4*c.NumBins+(corner+1)*c.NumBins]
			bin := argmax(group)
			t := (float32(bin) + 0.5 + os[i*4+corner]) / float32(c.NumBins)
			t = clamp(t, 0, 1)
			var px, py float32
			switch corner {
			case 0: // top edge, left to right
				px, py = x1+t*w, y1
			case 1: // right edge, top to bottom
				px, py = x2, y1+t*h
			case 2: // bottom edge, right to left
				px, py = x2-t*w, y2
			case 3: // left edge, bottom to top
				px, py = x1, y2-t*h
			}
			ps[i*8+corner*2] = px
			ps[i*8+corner*2+1] = py
		}
	}
	return out, nil
}

// discretize maps a normalized edge position t in [0, 1] to a bin index
// and a centered residual.
func (c Bin) discretize(t float32) (int, float32) {
	t = clamp(t, 0, 1)
	bin := int(t * float32(c.NumBins))
	if bin > c.NumBins-1 {
		bin = c.NumBins - 1
	}
	off := t*float32(c.NumBins) - float32(bin) - 0.5
	return bin, clamp(off, -0.5, 0.5)
}

// cornerPosition finds the polygon vertex owning the given hbb edge and
// returns its normalized position along that edge. Degenerate boxes
// report ok = false.
func cornerPosition(p []float32, corner int, x1, y1, x2, y2, w, h float32) (float32, bool) {
	switch corner {
	case 0: // vertex with the smallest y sits on the top edge
		if w <= degenerateEps {
			return 0, false
		}
		v := extremeVertex(p, 1, false)
		return clamp((p[v*2]-x1)/w, 0, 1), true
	case 1: // vertex with the largest x sits on the right edge
		if h <= degenerateEps {
			return 0, false
		}
		v := extremeVertex(p, 0, true)
		return clamp((p[v*2+1]-y1)/h, 0, 1), true
	case 2: // vertex with the largest y sits on the bottom edge
		if w <= degenerateEps {
			return 0, false
		}
		v := extremeVertex(p, 1, true)
		return clamp((x2-p[v*2])/w, 0, 1), true
	default: // vertex with the smallest x sits on the left edge
		if h <= degenerateEps {
			return 0, false
		}
		v := extremeVertex(p, 0, false)
		return clamp((y2-p[v*2+1])/h, 0, 1), true
	}
}

// extremeVertex returns the vertex index with the min (or max) value of
// the given axis (0 = x, 1 = y).
func extremeVertex(p []float32, axis int, wantMax bool) int {
	best := 0
	for v := 1; v < 4; v++ {
		cur := p[v*2+axis]
		ref := p[best*2+axis]
		if (wantMax && cur > ref) || (!wantMax && cur < ref) {
			best = v
		}
	}
	return best
}

func polyBounds(p []float32) (x1, y1, x2, y2 float32) {
	x1, y1 = p[0], p[1]
	x2, y2 = p[0], p[1]
	for v := 1; v < 4; v++ {
		x1 = math32.Min(x1, p[v*2])
		x2 = math32.Max(x2, p[v*2])
		y1 = math32.Min(y1, p[v*2+1])
		y2 = math32.Max(y2, p[v*2+1])
	}
	return x1, y1, x2, y2
}

func argmax(vals []float32) int {
	best := 0
	for i := 1; i < len(vals); i++ {
		if vals[i] > vals[best] {
			best = i
		}
	}
	return best
}

package coders

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/geometry"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// Ratio encodes how rectangular a polygon is: the polygon area divided
// by the area of its minimum bounding hbb. A value near 1 means the
// shape is well approximated by its hbb.
type Ratio struct{}

// NewRatio returns a ratio coder.
func NewRatio() Ratio {
	return Ratio{}
}

// Encode maps polygons (n, 8) to ratio targets (n, 1) in [0, 1]. A
// polygon with a degenerate bounding box encodes as 1 so the decode
// path treats it as rectangular.
func (Ratio) Encode(polys *tensor.Dense) (*tensor.Dense, error) {
	if tensorutil.Cols(polys) != 8 {
		return nil, errors.Errorf("coders: ratio encode expects 8 columns, got %d",
			tensorutil.Cols(polys))
	}
	n := tensorutil.Rows(polys)
	out := tensorutil.Zeros(n, 1)
	ps := tensorutil.Data(polys)
	rs := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		p := ps[i*8 : (i+1)*8]
		x1, y1, x2, y2 := polyBounds(p)
		boxArea := (x2 - x1) * (y2 - y1)
		if boxArea <= degenerateEps {
			rs[i] = 1
			continue
		}
		rs[i] = clamp(geometry.PolyArea(p)/boxArea, 0, 1)
	}
	return out, nil
}

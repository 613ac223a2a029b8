package head

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// affineTheta regresses one 2x3 affine matrix per sample from the
// flattened RoI features. Row layout: (t00, t01, t02, t10, t11, t12)
// mapping normalized output coordinates (xn, yn, 1) to normalized
// source coordinates. At initialization this is the identity, so the
// warp is a no-op until the regressor learns a re-weighting.
func (h *Head) affineTheta(flat *tensor.Dense) *mat.Dense {
	n := tensorutil.Rows(flat)
	d := tensorutil.Cols(flat)

	x := mat.NewDense(n, d, toFloat64(tensorutil.Data(flat)))
	w := mat.NewDense(d, 6, toFloat64(tensorutil.Data(h.params.theta.w)))
	bias := tensorutil.Data(h.params.theta.b)

	theta := mat.NewDense(n, 6, nil)
	theta.Mul(x, w)
	for i := 0; i < n; i++ {
		for j := 0; j < 6; j++ {
			theta.Set(i, j, theta.At(i, j)+float64(bias[j]))
		}
	}
	return theta
}

// warpFeatures applies the per-sample affine transforms to the
// (n, c, s, s) feature maps with bilinear sampling and zero padding,
// producing the classification-aligned feature maps.
func (h *Head) warpFeatures(features *tensor.Dense, theta *mat.Dense) *tensor.Dense {
	shape := features.Shape()
	n, c, hgt, wid := shape[0], shape[1], shape[2], shape[3]

	// Normalized output pixel grid with a homogeneous column, shared by
	// every sample.
	grid := mat.NewDense(hgt*wid, 3, nil)
	for i := 0; i < hgt; i++ {
		for j := 0; j < wid; j++ {
			grid.Set(i*wid+j, 0, normCoord(j, wid))
			grid.Set(i*wid+j, 1, normCoord(i, hgt))
			grid.Set(i*wid+j, 2, 1)
		}
	}

	src := tensorutil.Data(features)
	out := tensor.New(
		tensor.WithShape(n, c, hgt, wid),
		tensor.WithBacking(make([]float32, n*c*hgt*wid)),
	)
	dst := tensorutil.Data(out)

	planeSize := hgt * wid
	sampleSize := c * planeSize
	coords := mat.NewDense(hgt*wid, 2, nil)
	for s := 0; s < n; s++ {
		// Column k of trans is row k of the sample's 2x3 matrix.
		trans := mat.NewDense(3, 2, []float64{
			theta.At(s, 0), theta.At(s, 3),
			theta.At(s, 1), theta.At(s, 4),
			theta.At(s, 2), theta.At(s, 5),
		})
		coords.Mul(grid, trans)

		for pix := 0; pix < planeSize; pix++ {
			px := denormCoord(coords.At(pix, 0), wid)
			py := denormCoord(coords.At(pix, 1), hgt)
			for ch := 0; ch < c; ch++ {
				plane := src[s*sampleSize+ch*planeSize : s*sampleSize+(ch+1)*planeSize]
				dst[s*sampleSize+ch*planeSize+pix] = bilinear(plane, hgt, wid, px, py)
			}
		}
	}
	return out
}

// normCoord maps pixel index i of an axis of size n to [-1, 1].
func normCoord(i, n int) float64 {
	if n == 1 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}

// denormCoord maps a normalized coordinate back to pixel space.
func denormCoord(v float64, n int) float32 {
	return float32((v + 1) / 2 * float64(n-1))
}

// bilinear samples one channel plane at a fractional pixel position
// with zero padding outside the plane.
func bilinear(plane []float32, hgt, wid int, px, py float32) float32 {
	x0 := int(math32.Floor(px))
	y0 := int(math32.Floor(py))
	fx := px - float32(x0)
	fy := py - float32(y0)

	var acc float32
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			x := x0 + dx
			y := y0 + dy
			if x < 0 || x >= wid || y < 0 || y >= hgt {
				continue
			}
			wx := fx
			if dx == 0 {
				wx = 1 - fx
			}
			wy := fy
			if dy == 0 {
				wy = 1 - fy
			}
			acc += plane[y*wid+x] * wx * wy
		}
	}
	return acc
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}

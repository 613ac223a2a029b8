package head

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/geometry"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// selectForClass picks each row's class-specific column group from a
// (n, numClasses*groupSize) matrix: row i of the result is the
// labels[i]-th contiguous group of groupSize values. This is the single
// gather used by both the loss composer and cascade refinement.
func selectForClass(t *tensor.Dense, labels []int, groupSize int) (*tensor.Dense, error) {
	n := tensorutil.Rows(t)
	cols := tensorutil.Cols(t)
	if len(labels) != n {
		return nil, errors.Errorf("head: %d labels for %d rows", len(labels), n)
	}
	if groupSize <= 0 || cols%groupSize != 0 {
		return nil, errors.Errorf("head: columns %d not divisible by group size %d", cols, groupSize)
	}
	numClasses := cols / groupSize

	out := tensorutil.Zeros(n, groupSize)
	src := tensorutil.Data(t)
	dst := tensorutil.Data(out)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, errors.Errorf("head: label %d out of range [0, %d)", label, numClasses)
		}
		copy(dst[i*groupSize:(i+1)*groupSize],
			src[i*cols+label*groupSize:i*cols+(label+1)*groupSize])
	}
	return out, nil
}

// chooseGeometry fuses the ratio-threshold selection: rows whose
// predicted ratio exceeds the threshold are treated as rectangular and
// replaced by the hbb's own corners; the rest keep the bin-decoded
// polygon. boxes is (n, 4), polys is (n, 8), ratios has length n.
func chooseGeometry(boxes, polys *tensor.Dense, ratios []float32, threshold float32) (*tensor.Dense, error) {
	n := tensorutil.Rows(boxes)
	if tensorutil.Rows(polys) != n || len(ratios) != n {
		return nil, errors.Errorf("head: geometry selection size mismatch %d / %d / %d",
			n, tensorutil.Rows(polys), len(ratios))
	}
	if tensorutil.Cols(boxes) != 4 || tensorutil.Cols(polys) != 8 {
		return nil, errors.Errorf("head: geometry selection expects (n,4) boxes and (n,8) polys, got %d and %d",
			tensorutil.Cols(boxes), tensorutil.Cols(polys))
	}
	out := tensorutil.Clone(polys)
	bs := tensorutil.Data(boxes)
	ps := tensorutil.Data(out)
	for i, r := range ratios {
		if r > threshold {
			geometry.CornersToPoly(bs[i*4:(i+1)*4], ps[i*8:(i+1)*8])
		}
	}
	return out, nil
}

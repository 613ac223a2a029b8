// Package sampling - per-image RoI sampling results consumed by the
// detection head when building training targets.
package sampling

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// Result holds one image's sampled RoIs. Positive RoIs are matched to a
// ground-truth instance; negative RoIs are background. Row i of
// PosGTPolys and entry i of PosGTLabels describe the instance matched
// to row i of PosBoxes.
type Result struct {
	// PosBoxes are positive RoIs, shape (numPos, 4).
	PosBoxes *tensor.Dense
	// NegBoxes are negative RoIs, shape (numNeg, 4).
	NegBoxes *tensor.Dense
	// PosGTPolys are matched ground-truth polygons, shape (numPos, 8).
	PosGTPolys *tensor.Dense
	// PosGTLabels are matched ground-truth class ids, length numPos.
	PosGTLabels []int
	// PosIsGT flags positives that were injected from ground truth
	// rather than proposals; cascade refinement drops them.
	PosIsGT []bool
}

// NumPos returns the positive sample count.
func (r *Result) NumPos() int {
	if r.PosBoxes == nil {
		return 0
	}
	return tensorutil.Rows(r.PosBoxes)
}

// NumNeg returns the negative sample count.
func (r *Result) NumNeg() int {
	if r.NegBoxes == nil {
		return 0
	}
	return tensorutil.Rows(r.NegBoxes)
}

// Validate checks internal consistency of the sampling result.
func (r *Result) Validate() error {
	numPos := r.NumPos()
	if numPos > 0 {
		if r.PosGTPolys == nil || tensorutil.Rows(r.PosGTPolys) != numPos {
			return errors.Errorf("sampling: %d positives but %d matched polygons",
				numPos, rowsOrZero(r.PosGTPolys))
		}
		if len(r.PosGTLabels) != numPos {
			return errors.Errorf("sampling: %d positives but %d matched labels",
				numPos, len(r.PosGTLabels))
		}
		if tensorutil.Cols(r.PosBoxes) != 4 {
			return errors.Errorf("sampling: positive RoIs must have 4 columns, got %d",
				tensorutil.Cols(r.PosBoxes))
		}
		if tensorutil.Cols(r.PosGTPolys) != 8 {
			return errors.Errorf("sampling: matched polygons must have 8 columns, got %d",
				tensorutil.Cols(r.PosGTPolys))
		}
	}
	if r.NumNeg() > 0 && tensorutil.Cols(r.NegBoxes) != 4 {
		return errors.Errorf("sampling: negative RoIs must have 4 columns, got %d",
			tensorutil.Cols(r.NegBoxes))
	}
	return nil
}

func rowsOrZero(t *tensor.Dense) int {
	if t == nil {
		return 0
	}
	return tensorutil.Rows(t)
}

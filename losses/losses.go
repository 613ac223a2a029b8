// Package losses - weighted, averaged loss terms for detection-head
// training. Every loss takes an element (or sample) weight tensor and a
// normalization factor so callers can zero out invalid targets instead
// of filtering them.
package losses

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// Reduction selects how per-element losses collapse to a scalar.
type Reduction string

const (
	// ReductionMean divides the weighted sum by the average factor.
	ReductionMean Reduction = "mean"
	// ReductionSum returns the weighted sum as is.
	ReductionSum Reduction = "sum"
	// ReductionDefault leaves the choice to the loss (mean).
	ReductionDefault Reduction = ""
)

func reduce(sum, avgFactor float32, r Reduction) (float32, error) {
	switch r {
	case ReductionSum:
		return sum, nil
	case ReductionMean, ReductionDefault:
		if avgFactor <= 0 {
			avgFactor = 1
		}
		return sum / avgFactor, nil
	default:
		return 0, errors.Errorf("losses: unknown reduction %q", r)
	}
}

// CrossEntropy is a softmax cross entropy over integer labels with
// per-sample weights.
type CrossEntropy struct {
	// Weight scales the reduced loss.
	Weight float32
}

// Loss computes the weighted cross entropy of logits (n, k) against
// labels (n). weight is a per-sample vector; nil means all ones.
func (l CrossEntropy) Loss(logits *tensor.Dense, labels []int, weight *tensor.Dense,
	avgFactor float32, override Reduction) (float32, error) {

	n := tensorutil.Rows(logits)
	k := tensorutil.Cols(logits)
	if len(labels) != n {
		return 0, errors.Errorf("losses: %d labels for %d rows", len(labels), n)
	}
	var ws []float32
	if weight != nil {
		ws = tensorutil.Data(weight)
		if len(ws) != n {
			return 0, errors.Errorf("losses: %d weights for %d rows", len(ws), n)
		}
	}
	data := tensorutil.Data(logits)
	var sum float32
	for i := 0; i < n; i++ {
		row := data[i*k : (i+1)*k]
		if labels[i] < 0 || labels[i] >= k {
			return 0, errors.Errorf("losses: label %d out of range [0, %d)", labels[i], k)
		}
		ll := logSumExp(row) - row[labels[i]]
		if ws != nil {
			ll *= ws[i]
		}
		sum += ll
	}
	out, err := reduce(sum, avgFactor, override)
	return l.Weight * out, err
}

// BinaryCrossEntropy is a sigmoid cross entropy applied independently
// to every logit, with element-wise weights.
type BinaryCrossEntropy struct {
	Weight float32
}

// Loss computes the weighted binary cross entropy of logits against
// targets of the same shape. weight is element-wise; nil means all
// ones.
func (l BinaryCrossEntropy) Loss(logits, target, weight *tensor.Dense,
	avgFactor float32, override Reduction) (float32, error) {

	xs := tensorutil.Data(logits)
	ts := tensorutil.Data(target)
	if len(xs) != len(ts) {
		return 0, errors.Errorf("losses: logit/target size mismatch %d vs %d", len(xs), len(ts))
	}
	var ws []float32
	if weight != nil {
		ws = tensorutil.Data(weight)
		if len(ws) != len(xs) {
			return 0, errors.Errorf("losses: weight size mismatch %d vs %d", len(ws), len(xs))
		}
	}
	var sum float32
	for i, x := range xs {
		// stable formulation: max(x, 0) - x*t + log(1 + exp(-|x|))
		v := math32.Max(x, 0) - x*ts[i] + math32.Log1p(math32.Exp(-math32.Abs(x)))
		if ws != nil {
			v *= ws[i]
		}
		sum += v
	}
	out, err := reduce(sum, avgFactor, override)
	return l.Weight * out, err
}

// SmoothL1 is the Huber-style robust regression loss with transition
// width Beta.
type SmoothL1 struct {
	Beta   float32
	Weight float32
}

// Loss computes the weighted smooth L1 distance between pred and target
// of the same shape. weight is element-wise; nil means all ones.
func (l SmoothL1) Loss(pred, target, weight *tensor.Dense,
	avgFactor float32, override Reduction) (float32, error) {

	ps := tensorutil.Data(pred)
	ts := tensorutil.Data(target)
	if len(ps) != len(ts) {
		return 0, errors.Errorf("losses: pred/target size mismatch %d vs %d", len(ps), len(ts))
	}
	var ws []float32
	if weight != nil {
		ws = tensorutil.Data(weight)
		if len(ws) != len(ps) {
			return 0, errors.Errorf("losses: weight size mismatch %d vs %d", len(ws), len(ps))
		}
	}
	beta := l.Beta
	if beta <= 0 {
		beta = 1
	}
	var sum float32
	for i, p := range ps {
		d := math32.Abs(p - ts[i])
		var v float32
		if d < beta {
			v = 0.5 * d * d / beta
		} else {
			v = d - 0.5*beta
		}
		if ws != nil {
			v *= ws[i]
		}
		sum += v
	}
	out, err := reduce(sum, avgFactor, override)
	return l.Weight * out, err
}

// Accuracy returns the top-1 accuracy of logits (n, k) against labels,
// as a percentage. An empty batch reports 100.
func Accuracy(logits *tensor.Dense, labels []int) float32 {
	n := tensorutil.Rows(logits)
	if n == 0 {
		return 100
	}
	k := tensorutil.Cols(logits)
	data := tensorutil.Data(logits)
	correct := 0
	for i := 0; i < n; i++ {
		row := data[i*k : (i+1)*k]
		best := 0
		for j := 1; j < k; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		if best == labels[i] {
			correct++
		}
	}
	return 100 * float32(correct) / float32(n)
}

func logSumExp(row []float32) float32 {
	m := row[0]
	for _, v := range row[1:] {
		m = math32.Max(m, v)
	}
	var s float32
	for _, v := range row {
		s += math32.Exp(v - m)
	}
	return m + math32.Log(s)
}

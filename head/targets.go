package head

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/geometry"
	"github.com/nvr-ai/go-quadhead/sampling"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// TrainConfig carries the per-stage training knobs consumed by target
// assignment.
type TrainConfig struct {
	// PosWeight is the label weight given to positive samples; values
	// <= 0 mean 1.
	PosWeight float32
}

// Targets is the supervision bundle for one training batch. Rows are
// ordered image by image, positives before negatives within an image.
// Weights are 1 on valid targets and 0 everywhere else; negatives only
// carry a label weight.
type Targets struct {
	Labels           []int
	LabelWeights     *tensor.Dense // (n)
	BoxTargets       *tensor.Dense // (n, 4)
	BoxWeights       *tensor.Dense // (n, 4)
	BinClsTargets    *tensor.Dense // (n, 4*numBins)
	BinClsWeights    *tensor.Dense // (n, 4*numBins)
	BinOffsetTargets *tensor.Dense // (n, 4)
	BinOffsetWeights *tensor.Dense // (n, 4)
	RatioTargets     *tensor.Dense // (n, 1)
	RatioWeights     *tensor.Dense // (n, 1)
}

func newTargets(n, numBins, background int) *Targets {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = background
	}
	return &Targets{
		Labels:           labels,
		LabelWeights:     tensorutil.ZerosVec(n),
		BoxTargets:       tensorutil.Zeros(n, 4),
		BoxWeights:       tensorutil.Zeros(n, 4),
		BinClsTargets:    tensorutil.Zeros(n, 4*numBins),
		BinClsWeights:    tensorutil.Zeros(n, 4*numBins),
		BinOffsetTargets: tensorutil.Zeros(n, 4),
		BinOffsetWeights: tensorutil.Zeros(n, 4),
		RatioTargets:     tensorutil.Zeros(n, 1),
		RatioWeights:     tensorutil.Zeros(n, 1),
	}
}

// GetTargets assigns supervision targets for a batch of per-image
// sampling results. The per-image bundles are concatenated in image
// order. Empty images (no positives, no negatives) contribute zero
// rows and are not an error.
func (h *Head) GetTargets(results []sampling.Result, cfg TrainConfig) (*Targets, error) {
	if len(results) == 0 {
		return newTargets(0, h.cfg.NumBins, h.BackgroundClass()), nil
	}
	parts := make([]*Targets, len(results))
	for i := range results {
		t, err := h.targetsSingle(&results[i], cfg)
		if err != nil {
			return nil, err
		}
		parts[i] = t
	}
	return concatTargets(parts)
}

// targetsSingle assigns targets for one image.
func (h *Head) targetsSingle(res *sampling.Result, cfg TrainConfig) (*Targets, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	numPos := res.NumPos()
	numNeg := res.NumNeg()
	t := newTargets(numPos+numNeg, h.cfg.NumBins, h.BackgroundClass())

	if numPos > 0 {
		copy(t.Labels, res.PosGTLabels)
		posWeight := float32(1)
		if cfg.PosWeight > 0 {
			posWeight = cfg.PosWeight
		}
		labelWeights := tensorutil.Data(t.LabelWeights)
		for i := 0; i < numPos; i++ {
			labelWeights[i] = posWeight
		}

		gtBoxes, err := geometry.PolyToHBB(res.PosGTPolys)
		if err != nil {
			return nil, err
		}
		boxTargets, err := h.boxCoder.Encode(res.PosBoxes, gtBoxes)
		if err != nil {
			return nil, err
		}
		copy(tensorutil.Data(t.BoxTargets), tensorutil.Data(boxTargets))
		fillOnes(tensorutil.Data(t.BoxWeights)[:numPos*4])

		binClsT, binClsW, binOffT, binOffW, err := h.binCoder.Encode(res.PosGTPolys)
		if err != nil {
			return nil, err
		}
		copy(tensorutil.Data(t.BinClsTargets), tensorutil.Data(binClsT))
		copy(tensorutil.Data(t.BinClsWeights), tensorutil.Data(binClsW))
		copy(tensorutil.Data(t.BinOffsetTargets), tensorutil.Data(binOffT))
		copy(tensorutil.Data(t.BinOffsetWeights), tensorutil.Data(binOffW))

		ratioTargets, err := h.ratioCoder.Encode(res.PosGTPolys)
		if err != nil {
			return nil, err
		}
		copy(tensorutil.Data(t.RatioTargets), tensorutil.Data(ratioTargets))
		fillOnes(tensorutil.Data(t.RatioWeights)[:numPos])
	}

	if numNeg > 0 {
		labelWeights := tensorutil.Data(t.LabelWeights)
		for i := numPos; i < numPos+numNeg; i++ {
			labelWeights[i] = 1
		}
	}
	return t, nil
}

func concatTargets(parts []*Targets) (*Targets, error) {
	out := &Targets{}
	for _, p := range parts {
		out.Labels = append(out.Labels, p.Labels...)
	}

	var err error
	collect := func(pick func(*Targets) *tensor.Dense) []*tensor.Dense {
		ts := make([]*tensor.Dense, len(parts))
		for i, p := range parts {
			ts[i] = pick(p)
		}
		return ts
	}
	if out.LabelWeights, err = tensorutil.ConcatVecs(collect(func(t *Targets) *tensor.Dense { return t.LabelWeights })...); err != nil {
		return nil, err
	}
	if out.BoxTargets, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BoxTargets })...); err != nil {
		return nil, err
	}
	if out.BoxWeights, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BoxWeights })...); err != nil {
		return nil, err
	}
	if out.BinClsTargets, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BinClsTargets })...); err != nil {
		return nil, err
	}
	if out.BinClsWeights, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BinClsWeights })...); err != nil {
		return nil, err
	}
	if out.BinOffsetTargets, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BinOffsetTargets })...); err != nil {
		return nil, err
	}
	if out.BinOffsetWeights, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.BinOffsetWeights })...); err != nil {
		return nil, err
	}
	if out.RatioTargets, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.RatioTargets })...); err != nil {
		return nil, err
	}
	if out.RatioWeights, err = tensorutil.ConcatRows(collect(func(t *Targets) *tensor.Dense { return t.RatioWeights })...); err != nil {
		return nil, err
	}
	return out, nil
}

func fillOnes(xs []float32) {
	for i := range xs {
		xs[i] = 1
	}
}

package head

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/precision"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// Predictions is the output bundle of one forward pass.
type Predictions struct {
	// ClsScore holds raw classification logits, shape (n, numClasses+1).
	ClsScore *tensor.Dense
	// BoxPred holds raw box deltas, shape (n, 4) or (n, 4*numClasses).
	BoxPred *tensor.Dense
	// BinClsPred holds raw bin logits, shape (n, 4*numBins) or
	// (n, 4*numBins*numClasses).
	BinClsPred *tensor.Dense
	// BinOffsetPred holds bin offsets squashed to [-0.5, 0.5], shape
	// (n, 4) or (n, 4*numClasses).
	BinOffsetPred *tensor.Dense
	// RatioPred holds rectangularness in [0, 1], shape (n, 1) or
	// (n, numClasses).
	RatioPred *tensor.Dense
}

// Rows returns the sample count of the bundle.
func (p *Predictions) Rows() int {
	return tensorutil.Rows(p.ClsScore)
}

// Forward maps pooled RoI features of shape (n, channels, s, s) to the
// five prediction tensors. The features are warped by a learned affine
// alignment for the classification tower only; the regression tower
// sees the raw features. Pure given the learned parameters.
func (h *Head) Forward(features *tensor.Dense) (*Predictions, error) {
	shape := features.Shape()
	if len(shape) != 4 {
		return nil, errors.Errorf("head: features must be 4-D, got shape %v", shape)
	}
	if shape[1] != h.cfg.InChannels || shape[2] != h.cfg.RoIFeatSize || shape[3] != h.cfg.RoIFeatSize {
		return nil, errors.Errorf("head: features must be (n, %d, %d, %d), got %v",
			h.cfg.InChannels, h.cfg.RoIFeatSize, h.cfg.RoIFeatSize, shape)
	}
	n := shape[0]
	groups := h.regGroups()
	if n == 0 {
		return &Predictions{
			ClsScore:      tensorutil.Zeros(0, h.cfg.NumClasses+1),
			BoxPred:       tensorutil.Zeros(0, 4*groups),
			BinClsPred:    tensorutil.Zeros(0, 4*h.cfg.NumBins*groups),
			BinOffsetPred: tensorutil.Zeros(0, 4*groups),
			RatioPred:     tensorutil.Zeros(0, groups),
		}, nil
	}

	regFlat, err := tensorutil.New(n, h.featDim(), tensorutil.Data(features))
	if err != nil {
		return nil, err
	}
	theta := h.affineTheta(regFlat)
	warped := h.warpFeatures(features, theta)
	clsFlat, err := tensorutil.New(n, h.featDim(), tensorutil.Data(warped))
	if err != nil {
		return nil, err
	}

	preds, err := h.runTowers(clsFlat, regFlat)
	if err != nil {
		return nil, err
	}
	if h.cfg.Precision == precision.FP16 {
		precision.Quantize(preds.ClsScore, precision.FP16)
		precision.Quantize(preds.BoxPred, precision.FP16)
		precision.Quantize(preds.BinClsPred, precision.FP16)
		precision.Quantize(preds.BinOffsetPred, precision.FP16)
		precision.Quantize(preds.RatioPred, precision.FP16)
	}
	return preds, nil
}

// runTowers evaluates the FC towers and the five heads as one
// expression graph on a tape machine.
func (h *Head) runTowers(clsFlat, regFlat *tensor.Dense) (*Predictions, error) {
	g := gorgonia.NewGraph()

	clsH := gorgonia.NodeFromAny(g, clsFlat, gorgonia.WithName("cls_in"))
	regH := gorgonia.NodeFromAny(g, regFlat, gorgonia.WithName("reg_in"))

	var err error
	for i, fc := range h.params.clsFCs {
		if clsH, err = fullyConnected(g, clsH, fc, true, fmt.Sprintf("cls_fc%d", i)); err != nil {
			return nil, err
		}
	}
	for i, fc := range h.params.regFCs {
		if regH, err = fullyConnected(g, regH, fc, true, fmt.Sprintf("reg_fc%d", i)); err != nil {
			return nil, err
		}
	}

	clsScore, err := fullyConnected(g, clsH, h.params.fcCls, false, "fc_cls")
	if err != nil {
		return nil, err
	}
	boxPred, err := fullyConnected(g, regH, h.params.fcReg, false, "fc_reg")
	if err != nil {
		return nil, err
	}
	binClsPred, err := fullyConnected(g, regH, h.params.fcBinCls, false, "fc_bin_cls")
	if err != nil {
		return nil, err
	}
	binOffsetLin, err := fullyConnected(g, regH, h.params.fcBinOffset, false, "fc_bin_offset")
	if err != nil {
		return nil, err
	}
	ratioLin, err := fullyConnected(g, regH, h.params.fcRatio, false, "fc_ratio")
	if err != nil {
		return nil, err
	}

	// Squash: bin offsets to [-0.5, 0.5], ratio to [0, 1].
	binOffsetSig, err := gorgonia.Sigmoid(binOffsetLin)
	if err != nil {
		return nil, errors.Wrap(err, "head: bin offset sigmoid")
	}
	binOffsetPred, err := gorgonia.Sub(binOffsetSig, gorgonia.NewConstant(float32(0.5)))
	if err != nil {
		return nil, errors.Wrap(err, "head: bin offset shift")
	}
	ratioPred, err := gorgonia.Sigmoid(ratioLin)
	if err != nil {
		return nil, errors.Wrap(err, "head: ratio sigmoid")
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "head: forward graph")
	}

	return &Predictions{
		ClsScore:      denseValue(clsScore),
		BoxPred:       denseValue(boxPred),
		BinClsPred:    denseValue(binClsPred),
		BinOffsetPred: denseValue(binOffsetPred),
		RatioPred:     denseValue(ratioPred),
	}, nil
}

// fullyConnected adds x*W + b (and optionally a ReLU) to the graph.
func fullyConnected(g *gorgonia.ExprGraph, x *gorgonia.Node, l linear, relu bool, name string) (*gorgonia.Node, error) {
	w := gorgonia.NodeFromAny(g, l.w, gorgonia.WithName(name+"_w"))
	b := gorgonia.NodeFromAny(g, l.b, gorgonia.WithName(name+"_b"))
	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "head: %s matmul", name)
	}
	out, err := gorgonia.BroadcastAdd(xw, b, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "head: %s bias", name)
	}
	if relu {
		if out, err = gorgonia.Rectify(out); err != nil {
			return nil, errors.Wrapf(err, "head: %s relu", name)
		}
	}
	return out, nil
}

// denseValue detaches a node's value from the graph.
func denseValue(n *gorgonia.Node) *tensor.Dense {
	return n.Value().(*tensor.Dense).Clone().(*tensor.Dense)
}

package head

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/losses"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// Loss map keys.
const (
	LossCls        = "loss_cls"
	LossBox        = "loss_bbox"
	LossBinCls     = "loss_bin_cls"
	LossBinOffset  = "loss_bin_offset"
	LossRatio      = "loss_ratio"
	MetricAccuracy = "acc"
)

// Loss composes the five training losses plus classification accuracy.
//
// Classification runs over all samples weighted by label weight.
// Regression losses only see positive samples; in class-aware mode each
// positive contributes the prediction group of its own ground-truth
// class. With no positives the regression losses are the prediction
// reductions scaled by zero, so they stay tied to the prediction
// tensors (a NaN prediction still surfaces) while contributing nothing.
func (h *Head) Loss(preds *Predictions, rois *tensor.Dense, targets *Targets) (map[string]float32, error) {
	n := len(targets.Labels)
	if preds.Rows() != n {
		return nil, errors.Errorf("head: %d predictions for %d targets", preds.Rows(), n)
	}
	if rois != nil {
		if c := tensorutil.Cols(rois); c != 4 && c != 5 {
			return nil, errors.Errorf("head: RoIs must have 4 or 5 columns, got %d", c)
		}
		if tensorutil.Rows(rois) != n {
			return nil, errors.Errorf("head: %d RoIs for %d targets", tensorutil.Rows(rois), n)
		}
	}

	out := make(map[string]float32, 6)

	if n > 0 {
		avgFactor := float32(0)
		for _, w := range tensorutil.Data(targets.LabelWeights) {
			if w > 0 {
				avgFactor++
			}
		}
		if avgFactor < 1 {
			avgFactor = 1
		}
		clsLoss, err := h.lossCls.Loss(preds.ClsScore, targets.Labels, targets.LabelWeights,
			avgFactor, losses.ReductionDefault)
		if err != nil {
			return nil, err
		}
		out[LossCls] = clsLoss
		out[MetricAccuracy] = losses.Accuracy(preds.ClsScore, targets.Labels)
	}

	// Foreground labels are [0, numClasses); numClasses is background.
	var posInds []int
	var posLabels []int
	for i, label := range targets.Labels {
		if label >= 0 && label < h.cfg.NumClasses {
			posInds = append(posInds, i)
			posLabels = append(posLabels, label)
		}
	}

	if len(posInds) == 0 {
		out[LossBox] = sumTimesZero(preds.BoxPred)
		out[LossBinCls] = sumTimesZero(preds.BinClsPred)
		out[LossBinOffset] = sumTimesZero(preds.BinOffsetPred)
		out[LossRatio] = sumTimesZero(preds.RatioPred)
		return out, nil
	}

	posBox := tensorutil.SelectRows(preds.BoxPred, posInds)
	posBinCls := tensorutil.SelectRows(preds.BinClsPred, posInds)
	posBinOffset := tensorutil.SelectRows(preds.BinOffsetPred, posInds)
	posRatio := tensorutil.SelectRows(preds.RatioPred, posInds)

	if !h.cfg.RegClassAgnostic {
		var err error
		if posBox, err = selectForClass(posBox, posLabels, 4); err != nil {
			return nil, err
		}
		if posBinCls, err = selectForClass(posBinCls, posLabels, 4*h.cfg.NumBins); err != nil {
			return nil, err
		}
		if posBinOffset, err = selectForClass(posBinOffset, posLabels, 4); err != nil {
			return nil, err
		}
		if posRatio, err = selectForClass(posRatio, posLabels, 1); err != nil {
			return nil, err
		}
	}

	boxLoss, err := h.lossBox.Loss(posBox,
		tensorutil.SelectRows(targets.BoxTargets, posInds),
		tensorutil.SelectRows(targets.BoxWeights, posInds),
		float32(n), losses.ReductionDefault)
	if err != nil {
		return nil, err
	}
	out[LossBox] = boxLoss

	binClsLoss, err := h.lossBinCls.Loss(posBinCls,
		tensorutil.SelectRows(targets.BinClsTargets, posInds),
		tensorutil.SelectRows(targets.BinClsWeights, posInds),
		float32(n*h.cfg.NumBins), losses.ReductionDefault)
	if err != nil {
		return nil, err
	}
	out[LossBinCls] = binClsLoss

	binOffsetLoss, err := h.lossBinOffset.Loss(posBinOffset,
		tensorutil.SelectRows(targets.BinOffsetTargets, posInds),
		tensorutil.SelectRows(targets.BinOffsetWeights, posInds),
		float32(n), losses.ReductionDefault)
	if err != nil {
		return nil, err
	}
	out[LossBinOffset] = binOffsetLoss

	ratioLoss, err := h.lossRatio.Loss(posRatio,
		tensorutil.SelectRows(targets.RatioTargets, posInds),
		tensorutil.SelectRows(targets.RatioWeights, posInds),
		float32(n), losses.ReductionDefault)
	if err != nil {
		return nil, err
	}
	out[LossRatio] = ratioLoss

	return out, nil
}

// sumTimesZero reduces a prediction tensor and scales it to zero,
// keeping the loss numerically tied to the predictions instead of being
// a disconnected literal.
func sumTimesZero(t *tensor.Dense) float32 {
	var sum float32
	for _, v := range tensorutil.Data(t) {
		sum += v
	}
	return sum * 0
}

package head

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// RefineBBoxes regresses a training batch of RoIs into per-image
// polygon sets that seed the next cascade stage.
//
// rois has shape (N, 5); column 0 is the image id, matching indices
// into imgShapes. labels are the assigned classes from target
// assignment. posIsGT flags, per image, which leading positive samples
// were injected from ground truth; those rows are dropped from the
// refined output. The result has one (m_i, 9) tensor per image: the
// image id column carried through plus the refined polygon.
func (h *Head) RefineBBoxes(rois *tensor.Dense, labels []int, preds *Predictions,
	posIsGT [][]bool, imgShapes [][2]int) ([]*tensor.Dense, error) {

	if tensorutil.Cols(rois) != 5 {
		return nil, errors.Errorf("head: refine expects RoIs with 5 columns, got %d",
			tensorutil.Cols(rois))
	}
	total := tensorutil.Rows(rois)
	if len(labels) != total {
		return nil, errors.Errorf("head: %d labels for %d RoIs", len(labels), total)
	}
	if preds.Rows() != total {
		return nil, errors.Errorf("head: %d predictions for %d RoIs", preds.Rows(), total)
	}
	if len(posIsGT) != len(imgShapes) {
		return nil, errors.Errorf("head: %d gt-flag groups for %d images",
			len(posIsGT), len(imgShapes))
	}

	roiData := tensorutil.Data(rois)
	out := make([]*tensor.Dense, len(imgShapes))
	for img := range imgShapes {
		var inds []int
		for r := 0; r < total; r++ {
			if int(roiData[r*5]) == img {
				inds = append(inds, r)
			}
		}

		subLabels := make([]int, len(inds))
		for k, r := range inds {
			subLabels[k] = labels[r]
		}
		refined, err := h.RegressByClass(
			tensorutil.SelectRows(rois, inds),
			subLabels,
			preds.subset(inds),
			imgShapes[img])
		if err != nil {
			return nil, err
		}

		// Ground-truth-origin positives stabilized this stage only; they
		// do not seed the next one.
		if len(posIsGT[img]) > len(inds) {
			return nil, errors.Errorf("head: %d gt flags for %d RoIs of image %d",
				len(posIsGT[img]), len(inds), img)
		}
		var keep []int
		for j := 0; j < len(inds); j++ {
			if j < len(posIsGT[img]) && posIsGT[img][j] {
				continue
			}
			keep = append(keep, j)
		}
		out[img] = tensorutil.SelectRows(refined, keep)
	}
	return out, nil
}

// RegressByClass regresses each RoI using the prediction group of its
// assigned class (all groups are shared in class-agnostic mode). rois
// may be plain boxes (n, 4) or image-id-prefixed rows (n, 5); the id
// column is carried through unchanged. The output rows are polygons:
// (n, 8) for plain input, (n, 9) for prefixed input.
func (h *Head) RegressByClass(rois *tensor.Dense, labels []int, preds *Predictions,
	imgShape [2]int) (*tensor.Dense, error) {

	boxesIn, ids, err := splitRoIs(rois)
	if err != nil {
		return nil, err
	}
	n := tensorutil.Rows(boxesIn)
	if len(labels) != n {
		return nil, errors.Errorf("head: %d labels for %d RoIs", len(labels), n)
	}

	boxPred := preds.BoxPred
	binClsPred := preds.BinClsPred
	binOffsetPred := preds.BinOffsetPred
	ratioPred := preds.RatioPred
	if !h.cfg.RegClassAgnostic {
		if boxPred, err = selectForClass(boxPred, labels, 4); err != nil {
			return nil, err
		}
		if binClsPred, err = selectForClass(binClsPred, labels, 4*h.cfg.NumBins); err != nil {
			return nil, err
		}
		if binOffsetPred, err = selectForClass(binOffsetPred, labels, 4); err != nil {
			return nil, err
		}
		if ratioPred, err = selectForClass(ratioPred, labels, 1); err != nil {
			return nil, err
		}
	}
	if tensorutil.Cols(boxPred) != 4 {
		return nil, errors.Errorf("head: expected 4 box deltas per RoI, got %d", tensorutil.Cols(boxPred))
	}
	if tensorutil.Cols(binClsPred) != 4*h.cfg.NumBins {
		return nil, errors.Errorf("head: expected %d bin logits per RoI, got %d",
			4*h.cfg.NumBins, tensorutil.Cols(binClsPred))
	}
	if tensorutil.Cols(binOffsetPred) != 4 {
		return nil, errors.Errorf("head: expected 4 bin offsets per RoI, got %d",
			tensorutil.Cols(binOffsetPred))
	}

	boxes, err := h.boxCoder.Decode(boxesIn, boxPred, imgShape)
	if err != nil {
		return nil, err
	}
	polys, err := h.binCoder.Decode(boxes, binClsPred, binOffsetPred)
	if err != nil {
		return nil, err
	}
	polys, err = chooseGeometry(boxes, polys, tensorutil.Data(ratioPred), h.cfg.RatioThreshold)
	if err != nil {
		return nil, err
	}

	if ids == nil {
		return polys, nil
	}
	out := tensorutil.Zeros(n, 9)
	dst := tensorutil.Data(out)
	src := tensorutil.Data(polys)
	for i := 0; i < n; i++ {
		dst[i*9] = ids[i]
		copy(dst[i*9+1:(i+1)*9], src[i*8:(i+1)*8])
	}
	return out, nil
}

// subset copies the prediction rows named by inds into a fresh bundle.
func (p *Predictions) subset(inds []int) *Predictions {
	return &Predictions{
		ClsScore:      tensorutil.SelectRows(p.ClsScore, inds),
		BoxPred:       tensorutil.SelectRows(p.BoxPred, inds),
		BinClsPred:    tensorutil.SelectRows(p.BinClsPred, inds),
		BinOffsetPred: tensorutil.SelectRows(p.BinOffsetPred, inds),
		RatioPred:     tensorutil.SelectRows(p.RatioPred, inds),
	}
}

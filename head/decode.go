package head

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/geometry"
	"github.com/nvr-ai/go-quadhead/postprocess"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// DecodeOptions controls GetBBoxes.
type DecodeOptions struct {
	// ImgShape is the (height, width) the RoIs live in; decoded boxes
	// are clamped to it.
	ImgShape [2]int
	// ScaleFactor holds the per-axis factors the image was resized by
	// (1 or 4 entries); used when Rescale is set.
	ScaleFactor []float32
	// Rescale divides output coordinates back to the original image
	// scale.
	Rescale bool
	// NMS enables multiclass suppression. Nil returns the raw decoded
	// polygons and scores, which cascade stages consume directly.
	NMS *postprocess.NMSConfig
}

// DecodeResult is the output of GetBBoxes.
type DecodeResult struct {
	// Polys holds decoded polygons, shape (n, 8) in class-agnostic mode
	// or (n, 8*numClasses) otherwise.
	Polys *tensor.Dense
	// Scores holds softmax class probabilities, shape (n, numClasses+1);
	// the last column is background.
	Scores *tensor.Dense
	// Detections holds the suppressed results; nil when opts.NMS is nil.
	Detections []postprocess.Detection
}

// EnsembleScores averages classification logits across cascade stages
// before decoding.
func EnsembleScores(scores ...*tensor.Dense) (*tensor.Dense, error) {
	if len(scores) == 0 {
		return nil, errors.New("head: no scores to ensemble")
	}
	out := tensorutil.Clone(scores[0])
	dst := tensorutil.Data(out)
	for _, s := range scores[1:] {
		src := tensorutil.Data(s)
		if len(src) != len(dst) {
			return nil, errors.Errorf("head: ensemble size mismatch %d vs %d", len(src), len(dst))
		}
		for i, v := range src {
			dst[i] += v
		}
	}
	inv := 1 / float32(len(scores))
	for i := range dst {
		dst[i] *= inv
	}
	return out, nil
}

// GetBBoxes decodes predictions against their RoIs into polygons and
// class scores, optionally rescaled to the original image and filtered
// by multiclass NMS. rois may carry an image-id first column (5
// columns) or be plain boxes (4 columns).
func (h *Head) GetBBoxes(rois *tensor.Dense, preds *Predictions, opts DecodeOptions) (*DecodeResult, error) {
	boxesIn, _, err := splitRoIs(rois)
	if err != nil {
		return nil, err
	}
	n := tensorutil.Rows(boxesIn)
	if preds.Rows() != n {
		return nil, errors.Errorf("head: %d predictions for %d RoIs", preds.Rows(), n)
	}
	groups := h.regGroups()

	scores := softmaxRows(preds.ClsScore)

	boxes, err := h.boxCoder.Decode(boxesIn, preds.BoxPred, opts.ImgShape)
	if err != nil {
		return nil, err
	}

	// Flatten the class-group axis so the bin coder and the geometry
	// selection see plain (n*groups, ...) rows.
	boxFlat, err := tensorutil.New(n*groups, 4, tensorutil.Data(boxes))
	if err != nil {
		return nil, err
	}
	binClsFlat, err := tensorutil.New(n*groups, 4*h.cfg.NumBins, tensorutil.Data(preds.BinClsPred))
	if err != nil {
		return nil, err
	}
	binOffsetFlat, err := tensorutil.New(n*groups, 4, tensorutil.Data(preds.BinOffsetPred))
	if err != nil {
		return nil, err
	}

	polysFlat, err := h.binCoder.Decode(boxFlat, binClsFlat, binOffsetFlat)
	if err != nil {
		return nil, err
	}
	polysFlat, err = chooseGeometry(boxFlat, polysFlat, tensorutil.Data(preds.RatioPred), h.cfg.RatioThreshold)
	if err != nil {
		return nil, err
	}

	if opts.Rescale {
		if err := geometry.RescalePolys(polysFlat, opts.ScaleFactor); err != nil {
			return nil, err
		}
	}

	polys, err := tensorutil.New(n, 8*groups, tensorutil.Data(polysFlat))
	if err != nil {
		return nil, err
	}

	result := &DecodeResult{Polys: polys, Scores: scores}
	if opts.NMS == nil {
		return result, nil
	}
	dets, err := postprocess.MulticlassNMS(polys, scores, *opts.NMS)
	if err != nil {
		return nil, err
	}
	result.Detections = dets
	return result, nil
}

// splitRoIs strips the optional image-id column, returning the box part
// and the ids (nil for 4-column input).
func splitRoIs(rois *tensor.Dense) (*tensor.Dense, []float32, error) {
	cols := tensorutil.Cols(rois)
	if cols != 4 && cols != 5 {
		return nil, nil, errors.Errorf("head: RoIs must have 4 or 5 columns, got %d", cols)
	}
	if cols == 4 {
		return rois, nil, nil
	}
	n := tensorutil.Rows(rois)
	boxes := tensorutil.Zeros(n, 4)
	ids := make([]float32, n)
	src := tensorutil.Data(rois)
	dst := tensorutil.Data(boxes)
	for i := 0; i < n; i++ {
		ids[i] = src[i*5]
		copy(dst[i*4:(i+1)*4], src[i*5+1:(i+1)*5])
	}
	return boxes, ids, nil
}

// softmaxRows turns logits into probabilities row by row.
func softmaxRows(logits *tensor.Dense) *tensor.Dense {
	n := tensorutil.Rows(logits)
	k := tensorutil.Cols(logits)
	out := tensorutil.Clone(logits)
	data := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		row := data[i*k : (i+1)*k]
		m := row[0]
		for _, v := range row[1:] {
			m = math32.Max(m, v)
		}
		var sum float32
		for j, v := range row {
			row[j] = math32.Exp(v - m)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
	return out
}

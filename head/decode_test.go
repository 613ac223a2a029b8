package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-quadhead/postprocess"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// agnosticHead builds a class-agnostic head so each prediction tensor
// carries a single regression group.
func agnosticHead(t *testing.T) *Head {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RegClassAgnostic = true
	h, err := New(cfg)
	require.NoError(t, err)
	return h
}

// rectPredictions builds a one-sample bundle with zero deltas, zero bin
// activity and the given rectangularness ratio, scoring class 0.
func rectPredictions(t *testing.T, h *Head, ratio float32) *Predictions {
	t.Helper()
	preds := zeroPredictions(h, 1)
	tensorutil.Data(preds.ClsScore)[0] = 5
	tensorutil.Data(preds.RatioPred)[0] = ratio
	return preds
}

// TestGetBBoxesRectangular checks that a ratio above the threshold
// decodes to the horizontal box's own corners.
func TestGetBBoxesRectangular(t *testing.T) {
	h := agnosticHead(t)
	rois := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})
	preds := rectPredictions(t, h, 0.9)

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{ImgShape: [2]int{20, 20}})
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 10, 0, 10, 10, 0, 10}, tensorutil.Row(res.Polys, 0))
	assert.Nil(t, res.Detections)

	// Softmax probabilities: rows sum to 1 and class 0 dominates.
	scores := tensorutil.Row(res.Scores, 0)
	require.Len(t, scores, h.Config().NumClasses+1)
	var sum float32
	for _, v := range scores {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-5)
	for _, v := range scores[1:] {
		assert.Less(t, v, scores[0])
	}
}

// TestGetBBoxesPolygonal checks that a ratio at or below the threshold
// keeps the bin-decoded polygon.
func TestGetBBoxesPolygonal(t *testing.T) {
	h := agnosticHead(t)
	rois := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})
	preds := rectPredictions(t, h, 0.5)

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{ImgShape: [2]int{20, 20}})
	require.NoError(t, err)

	poly := tensorutil.Row(res.Polys, 0)
	assert.NotEqual(t, []float32{0, 0, 10, 0, 10, 10, 0, 10}, poly)
	// Bin-decoded corners stay on the box boundary.
	for i := 0; i < 8; i += 2 {
		assert.GreaterOrEqual(t, poly[i], float32(0))
		assert.LessOrEqual(t, poly[i], float32(10))
		assert.GreaterOrEqual(t, poly[i+1], float32(0))
		assert.LessOrEqual(t, poly[i+1], float32(10))
	}
}

// TestGetBBoxesRescale checks division by the image scale factor.
func TestGetBBoxesRescale(t *testing.T) {
	h := agnosticHead(t)
	rois := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})
	preds := rectPredictions(t, h, 0.9)

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{
		ImgShape:    [2]int{20, 20},
		ScaleFactor: []float32{2},
		Rescale:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 5, 0, 5, 5, 0, 5}, tensorutil.Row(res.Polys, 0))
}

// TestGetBBoxesWithNMS checks the suppressed-detection path.
func TestGetBBoxesWithNMS(t *testing.T) {
	h := agnosticHead(t)
	rois := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})
	preds := rectPredictions(t, h, 0.9)

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{
		ImgShape: [2]int{20, 20},
		NMS:      &postprocess.NMSConfig{ScoreThreshold: 0.05, IoUThreshold: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 0, res.Detections[0].Class)
	assert.Equal(t, [8]float32{0, 0, 10, 0, 10, 10, 0, 10}, res.Detections[0].Poly)
}

// TestGetBBoxesImageIDColumn checks that 5-column RoIs are accepted.
func TestGetBBoxesImageIDColumn(t *testing.T) {
	h := agnosticHead(t)
	rois := mustMatrix(t, 1, 5, []float32{0, 0, 0, 10, 10})
	preds := rectPredictions(t, h, 0.9)

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{ImgShape: [2]int{20, 20}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 10, 0, 10, 10, 0, 10}, tensorutil.Row(res.Polys, 0))
}

// TestGetBBoxesClassAware checks the per-class polygon layout: one
// 8-wide group per foreground class.
func TestGetBBoxesClassAware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumClasses = 2
	h, err := New(cfg)
	require.NoError(t, err)

	preds := zeroPredictions(h, 1)
	for i := range tensorutil.Data(preds.RatioPred) {
		tensorutil.Data(preds.RatioPred)[i] = 0.9
	}
	rois := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})

	res, err := h.GetBBoxes(rois, preds, DecodeOptions{ImgShape: [2]int{20, 20}})
	require.NoError(t, err)
	require.Equal(t, 16, tensorutil.Cols(res.Polys))

	want := []float32{0, 0, 10, 0, 10, 10, 0, 10}
	poly := tensorutil.Row(res.Polys, 0)
	assert.Equal(t, want, poly[:8])
	assert.Equal(t, want, poly[8:])
}

// TestGetBBoxesShapeErrors checks RoI width and row-count validation.
func TestGetBBoxesShapeErrors(t *testing.T) {
	h := agnosticHead(t)

	_, err := h.GetBBoxes(tensorutil.Zeros(1, 3), zeroPredictions(h, 1), DecodeOptions{})
	assert.Error(t, err)

	_, err = h.GetBBoxes(tensorutil.Zeros(2, 4), zeroPredictions(h, 1), DecodeOptions{})
	assert.Error(t, err)
}

// TestEnsembleScores checks stage averaging and the size mismatch
// error.
func TestEnsembleScores(t *testing.T) {
	a := mustMatrix(t, 1, 2, []float32{1, 3})
	b := mustMatrix(t, 1, 2, []float32{3, 5})

	out, err := EnsembleScores(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, tensorutil.Data(out))
	// Inputs are untouched.
	assert.Equal(t, []float32{1, 3}, tensorutil.Data(a))

	_, err = EnsembleScores(a, tensorutil.Zeros(1, 3))
	assert.Error(t, err)

	_, err = EnsembleScores()
	assert.Error(t, err)
}

package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/sampling"
	"github.com/nvr-ai/go-quadhead/tensorutil"
)

func mustMatrix(t *testing.T, rows, cols int, backing []float32) *tensor.Dense {
	t.Helper()
	m, err := tensorutil.New(rows, cols, backing)
	require.NoError(t, err)
	return m
}

// diamondIn returns the diamond inscribed in the box (x1,y1,x2,y2): one
// vertex at the middle of each edge, covering half the box area.
func diamondIn(x1, y1, x2, y2 float32) []float32 {
	cx := (x1 + x2) / 2
	cy := (y1 + y2) / 2
	return []float32{cx, y1, x2, cy, cx, y2, x1, cy}
}

// TestGetTargetsSingleImage checks label assignment, weights and the
// encoded regression targets for a mixed positive/negative image.
func TestGetTargetsSingleImage(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	res := sampling.Result{
		PosBoxes: mustMatrix(t, 2, 4, []float32{
			0, 0, 10, 10,
			20, 20, 30, 30,
		}),
		NegBoxes: mustMatrix(t, 1, 4, []float32{40, 40, 50, 50}),
		PosGTPolys: mustMatrix(t, 2, 8, append(
			diamondIn(0, 0, 10, 10), diamondIn(20, 20, 30, 30)...)),
		PosGTLabels: []int{0, 2},
	}

	targets, err := h.GetTargets([]sampling.Result{res}, TrainConfig{})
	require.NoError(t, err)

	// Positives first, then negatives labeled background.
	assert.Equal(t, []int{0, 2, h.BackgroundClass()}, targets.Labels)
	assert.Equal(t, []float32{1, 1, 1}, tensorutil.Data(targets.LabelWeights))

	// The proposals equal the ground-truth bounding boxes, so the box
	// targets are zero deltas with unit weights on the positives only.
	assert.Equal(t, 3, tensorutil.Rows(targets.BoxTargets))
	for _, v := range tensorutil.Data(targets.BoxTargets) {
		assert.InDelta(t, 0, v, 1e-5)
	}
	assert.Equal(t, []float32{1, 1, 1, 1}, tensorutil.Row(targets.BoxWeights, 0))
	assert.Equal(t, []float32{1, 1, 1, 1}, tensorutil.Row(targets.BoxWeights, 1))
	assert.Equal(t, []float32{0, 0, 0, 0}, tensorutil.Row(targets.BoxWeights, 2))

	// A diamond covers half its bounding box.
	assert.InDelta(t, 0.5, tensorutil.Row(targets.RatioTargets, 0)[0], 1e-5)
	assert.InDelta(t, 0.5, tensorutil.Row(targets.RatioTargets, 1)[0], 1e-5)
	assert.Equal(t, []float32{1}, tensorutil.Row(targets.RatioWeights, 0))
	assert.Equal(t, []float32{0}, tensorutil.Row(targets.RatioWeights, 2))

	// Bin targets are active on the positive rows only.
	assert.Equal(t, 4*h.Config().NumBins, tensorutil.Cols(targets.BinClsTargets))
	for _, v := range tensorutil.Row(targets.BinClsWeights, 2) {
		assert.Equal(t, float32(0), v)
	}
	for _, v := range tensorutil.Row(targets.BinOffsetWeights, 0) {
		assert.Equal(t, float32(1), v)
	}
}

// TestGetTargetsNegativeOnly checks that an image without positives
// still supervises classification.
func TestGetTargetsNegativeOnly(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	res := sampling.Result{
		NegBoxes: mustMatrix(t, 2, 4, []float32{
			0, 0, 5, 5,
			5, 5, 10, 10,
		}),
	}
	targets, err := h.GetTargets([]sampling.Result{res}, TrainConfig{})
	require.NoError(t, err)

	assert.Equal(t, []int{15, 15}, targets.Labels)
	assert.Equal(t, []float32{1, 1}, tensorutil.Data(targets.LabelWeights))
	for _, v := range tensorutil.Data(targets.BoxWeights) {
		assert.Equal(t, float32(0), v)
	}
	for _, v := range tensorutil.Data(targets.RatioWeights) {
		assert.Equal(t, float32(0), v)
	}
}

// TestGetTargetsPosWeight checks the positive label weight override.
func TestGetTargetsPosWeight(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	res := sampling.Result{
		PosBoxes:    mustMatrix(t, 1, 4, []float32{0, 0, 10, 10}),
		NegBoxes:    mustMatrix(t, 1, 4, []float32{20, 20, 30, 30}),
		PosGTPolys:  mustMatrix(t, 1, 8, diamondIn(0, 0, 10, 10)),
		PosGTLabels: []int{4},
	}
	targets, err := h.GetTargets([]sampling.Result{res}, TrainConfig{PosWeight: 2})
	require.NoError(t, err)

	assert.Equal(t, []float32{2, 1}, tensorutil.Data(targets.LabelWeights))
}

// TestGetTargetsConcatOrder checks that per-image bundles are stacked
// in image order.
func TestGetTargetsConcatOrder(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	first := sampling.Result{
		PosBoxes:    mustMatrix(t, 1, 4, []float32{0, 0, 10, 10}),
		PosGTPolys:  mustMatrix(t, 1, 8, diamondIn(0, 0, 10, 10)),
		PosGTLabels: []int{7},
	}
	second := sampling.Result{
		NegBoxes: mustMatrix(t, 1, 4, []float32{1, 1, 2, 2}),
	}

	targets, err := h.GetTargets([]sampling.Result{first, second}, TrainConfig{})
	require.NoError(t, err)

	assert.Equal(t, []int{7, 15}, targets.Labels)
	assert.Equal(t, []float32{1}, tensorutil.Row(targets.RatioWeights, 0))
	assert.Equal(t, []float32{0}, tensorutil.Row(targets.RatioWeights, 1))
}

// TestGetTargetsEmptyBatch checks the zero-image and zero-sample paths.
func TestGetTargetsEmptyBatch(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	targets, err := h.GetTargets(nil, TrainConfig{})
	require.NoError(t, err)
	assert.Empty(t, targets.Labels)
	assert.Equal(t, 0, tensorutil.Rows(targets.BoxTargets))

	targets, err = h.GetTargets([]sampling.Result{{}}, TrainConfig{})
	require.NoError(t, err)
	assert.Empty(t, targets.Labels)
}

// TestGetTargetsInvalidSampling checks that inconsistent sampling
// results are rejected.
func TestGetTargetsInvalidSampling(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	res := sampling.Result{
		PosBoxes:    mustMatrix(t, 1, 4, []float32{0, 0, 10, 10}),
		PosGTPolys:  mustMatrix(t, 1, 8, diamondIn(0, 0, 10, 10)),
		PosGTLabels: []int{1, 2}, // one box, two labels
	}
	_, err = h.GetTargets([]sampling.Result{res}, TrainConfig{})
	assert.Error(t, err)
}

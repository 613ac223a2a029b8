package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// TestSelectForClass checks the per-row class group gather.
func TestSelectForClass(t *testing.T) {
	// Two rows, three classes, group size two.
	m := mustMatrix(t, 2, 6, []float32{
		0, 1, 2, 3, 4, 5,
		10, 11, 12, 13, 14, 15,
	})

	out, err := selectForClass(m, []int{2, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 10, 11}, tensorutil.Data(out))
}

// TestSelectForClassErrors checks label range, label count and group
// divisibility validation.
func TestSelectForClassErrors(t *testing.T) {
	m := mustMatrix(t, 1, 6, make([]float32, 6))

	_, err := selectForClass(m, []int{3}, 2)
	assert.Error(t, err)

	_, err = selectForClass(m, []int{0, 0}, 2)
	assert.Error(t, err)

	_, err = selectForClass(m, []int{0}, 4)
	assert.Error(t, err)
}

// TestChooseGeometry checks per-row selection between the bin-decoded
// polygon and the box's own corners.
func TestChooseGeometry(t *testing.T) {
	boxes := mustMatrix(t, 2, 4, []float32{
		0, 0, 10, 10,
		0, 0, 10, 10,
	})
	decoded := diamondIn(0, 0, 10, 10)
	polys := mustMatrix(t, 2, 8, append(append([]float32{}, decoded...), decoded...))

	// Row 0 rectangular (ratio above threshold), row 1 keeps its polygon.
	out, err := chooseGeometry(boxes, polys, []float32{0.9, 0.5}, 0.8)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 10, 0, 10, 10, 0, 10}, tensorutil.Row(out, 0))
	assert.Equal(t, decoded, tensorutil.Row(out, 1))

	// The input polygons are untouched.
	assert.Equal(t, decoded, tensorutil.Row(polys, 0))
}

// TestChooseGeometryThresholdIsExclusive checks that a ratio exactly at
// the threshold keeps the polygon.
func TestChooseGeometryThresholdIsExclusive(t *testing.T) {
	boxes := mustMatrix(t, 1, 4, []float32{0, 0, 10, 10})
	decoded := diamondIn(0, 0, 10, 10)
	polys := mustMatrix(t, 1, 8, append([]float32{}, decoded...))

	out, err := chooseGeometry(boxes, polys, []float32{0.8}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, decoded, tensorutil.Row(out, 0))
}

// TestChooseGeometrySizeMismatch checks eager validation.
func TestChooseGeometrySizeMismatch(t *testing.T) {
	boxes := tensorutil.Zeros(2, 4)
	polys := tensorutil.Zeros(1, 8)
	_, err := chooseGeometry(boxes, polys, []float32{0, 0}, 0.8)
	assert.Error(t, err)

	_, err = chooseGeometry(tensorutil.Zeros(1, 4), tensorutil.Zeros(1, 8), []float32{}, 0.8)
	assert.Error(t, err)
}

package coders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// TestDeltaRoundTrip verifies that encoding a ground-truth box against
// an RoI and decoding the result reproduces the ground truth.
func TestDeltaRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		roi  []float32
		gt   []float32
	}{
		{
			name: "identical boxes",
			roi:  []float32{10, 10, 50, 50},
			gt:   []float32{10, 10, 50, 50},
		},
		{
			name: "shifted box",
			roi:  []float32{10, 10, 50, 50},
			gt:   []float32{14, 6, 54, 46},
		},
		{
			name: "scaled box",
			roi:  []float32{0, 0, 40, 20},
			gt:   []float32{5, 2, 35, 30},
		},
	}

	coder := NewDeltaXYWH()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rois, err := tensorutil.New(1, 4, tt.roi)
			require.NoError(t, err)
			gts, err := tensorutil.New(1, 4, tt.gt)
			require.NoError(t, err)

			deltas, err := coder.Encode(rois, gts)
			require.NoError(t, err)

			decoded, err := coder.Decode(rois, deltas, [2]int{})
			require.NoError(t, err)
			for i, want := range tt.gt {
				assert.InDelta(t, want, tensorutil.Data(decoded)[i], 1e-3)
			}
		})
	}
}

// TestDeltaEncodeIdenticalIsZero checks that a perfectly matched RoI
// encodes to zero deltas.
func TestDeltaEncodeIdenticalIsZero(t *testing.T) {
	coder := NewDeltaXYWH()
	rois, err := tensorutil.New(1, 4, []float32{0, 0, 10, 10})
	require.NoError(t, err)

	deltas, err := coder.Encode(rois, rois)
	require.NoError(t, err)
	for _, d := range tensorutil.Data(deltas) {
		assert.InDelta(t, 0, d, 1e-6)
	}
}

// TestDeltaDecodeClampsToImage checks that decoded coordinates respect
// the image bounds.
func TestDeltaDecodeClampsToImage(t *testing.T) {
	coder := NewDeltaXYWH()
	rois, err := tensorutil.New(1, 4, []float32{90, 90, 110, 110})
	require.NoError(t, err)
	// Large positive shift pushes the box past the right/bottom edge.
	deltas, err := tensorutil.New(1, 4, []float32{5, 5, 2, 2})
	require.NoError(t, err)

	decoded, err := coder.Decode(rois, deltas, [2]int{100, 100})
	require.NoError(t, err)
	for _, v := range tensorutil.Data(decoded) {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(100))
	}
}

// TestDeltaDecodePerClassGroups checks that a (n, 4*k) delta tensor is
// decoded group by group against the same RoI.
func TestDeltaDecodePerClassGroups(t *testing.T) {
	coder := NewDeltaXYWH()
	rois, err := tensorutil.New(1, 4, []float32{0, 0, 20, 20})
	require.NoError(t, err)
	deltas, err := tensorutil.New(1, 8, []float32{0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	decoded, err := coder.Decode(rois, deltas, [2]int{})
	require.NoError(t, err)
	require.Equal(t, 8, tensorutil.Cols(decoded))

	data := tensorutil.Data(decoded)
	// Zero deltas must reproduce the RoI in both groups.
	want := []float32{0, 0, 20, 20, 0, 0, 20, 20}
	for i := range want {
		assert.InDelta(t, want[i], data[i], 1e-4)
	}
}

// TestDeltaShapeErrors verifies eager precondition checks.
func TestDeltaShapeErrors(t *testing.T) {
	coder := NewDeltaXYWH()
	bad, err := tensorutil.New(1, 3, []float32{1, 2, 3})
	require.NoError(t, err)
	good, err := tensorutil.New(1, 4, []float32{0, 0, 1, 1})
	require.NoError(t, err)

	_, err = coder.Encode(bad, good)
	assert.Error(t, err)
	_, err = coder.Decode(good, bad, [2]int{})
	assert.Error(t, err)
}

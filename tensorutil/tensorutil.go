// Package tensorutil - small constructors and accessors for float32 matrices.
package tensorutil

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Zeros returns a zero-filled float32 matrix of shape (rows, cols).
func Zeros(rows, cols int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(make([]float32, rows*cols)),
	)
}

// ZerosVec returns a zero-filled float32 vector of length n.
func ZerosVec(n int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(n),
		tensor.WithBacking(make([]float32, n)),
	)
}

// New wraps an existing float32 backing slice as a (rows, cols) matrix.
// The tensor shares the backing with the caller.
func New(rows, cols int, backing []float32) (*tensor.Dense, error) {
	if len(backing) != rows*cols {
		return nil, errors.Errorf(
			"tensorutil: backing length %d does not match shape (%d, %d)",
			len(backing), rows, cols)
	}
	return tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(backing),
	), nil
}

// Data returns the raw float32 backing of t.
func Data(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

// Row returns the i-th row of a (rows, cols) matrix as a slice view.
func Row(t *tensor.Dense, i int) []float32 {
	cols := t.Shape()[1]
	return Data(t)[i*cols : (i+1)*cols]
}

// Rows returns the leading dimension of t.
func Rows(t *tensor.Dense) int {
	return t.Shape()[0]
}

// Cols returns the trailing dimension of a matrix.
func Cols(t *tensor.Dense) int {
	return t.Shape()[1]
}

// SelectRows copies the rows of t named by inds into a fresh matrix,
// preserving order.
func SelectRows(t *tensor.Dense, inds []int) *tensor.Dense {
	cols := Cols(t)
	out := Zeros(len(inds), cols)
	src := Data(t)
	dst := Data(out)
	for k, i := range inds {
		copy(dst[k*cols:(k+1)*cols], src[i*cols:(i+1)*cols])
	}
	return out
}

// ConcatRows stacks matrices with identical column counts along the row
// axis, preserving input order. Zero-row inputs are legal.
func ConcatRows(parts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensorutil: nothing to concatenate")
	}
	cols := Cols(parts[0])
	rows := 0
	for _, p := range parts {
		if Cols(p) != cols {
			return nil, errors.Errorf(
				"tensorutil: column mismatch %d vs %d", Cols(p), cols)
		}
		rows += Rows(p)
	}
	out := Zeros(rows, cols)
	dst := Data(out)
	at := 0
	for _, p := range parts {
		n := copy(dst[at:], Data(p))
		at += n
	}
	return out, nil
}

// ConcatVecs stacks vectors end to end, preserving input order.
func ConcatVecs(parts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensorutil: nothing to concatenate")
	}
	n := 0
	for _, p := range parts {
		n += len(Data(p))
	}
	out := ZerosVec(n)
	dst := Data(out)
	at := 0
	for _, p := range parts {
		at += copy(dst[at:], Data(p))
	}
	return out, nil
}

// Clone returns a deep copy of t.
func Clone(t *tensor.Dense) *tensor.Dense {
	return t.Clone().(*tensor.Dense)
}

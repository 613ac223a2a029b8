// Package precision - numeric precision policy for the head's forward
// pass. The forward pass may run reduced precision; losses and
// decode/refine always consume full-precision float32, so FP16 output
// is modeled by rounding every value through half precision before it
// leaves the forward pass.
package precision

import (
	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

// Precision names a supported numeric precision.
type Precision string

const (
	// FP16 rounds forward outputs through IEEE half precision.
	FP16 Precision = "FP16"
	// FP32 keeps full single precision.
	FP32 Precision = "FP32"
)

// Quantize rounds t's values in place according to p and returns t.
// FP32 is a no-op.
func Quantize(t *tensor.Dense, p Precision) *tensor.Dense {
	if p != FP16 || t == nil {
		return t
	}
	data := t.Data().([]float32)
	for i, v := range data {
		data[i] = float16.Fromfloat32(v).Float32()
	}
	return t
}

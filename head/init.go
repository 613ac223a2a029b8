package head

import (
	"math/rand"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// linear is one fully-connected layer. The bias is kept as a (1, out)
// matrix so the forward graph can broadcast it over the batch axis.
type linear struct {
	w *tensor.Dense // (in, out)
	b *tensor.Dense // (1, out)
}

func newLinear(in, out int) linear {
	return linear{
		w: tensorutil.Zeros(in, out),
		b: tensorutil.Zeros(1, out),
	}
}

// parameters owns every learned tensor of the head. They are allocated
// once at construction; forward passes only read them.
type parameters struct {
	// theta regresses the 2x3 affine alignment matrix and starts as the
	// identity transform.
	theta linear

	clsFCs []linear
	regFCs []linear

	fcCls       linear
	fcReg       linear
	fcBinCls    linear
	fcBinOffset linear
	fcRatio     linear
}

func newParameters(cfg Config) *parameters {
	rng := rand.New(rand.NewSource(cfg.Seed))
	featDim := cfg.InChannels * cfg.RoIFeatSize * cfg.RoIFeatSize

	p := &parameters{theta: newLinear(featDim, 6)}
	// Identity transform: zero weights, bias (1, 0, 0, 0, 1, 0).
	bias := tensorutil.Data(p.theta.b)
	bias[0], bias[4] = 1, 1

	lastDim := featDim
	for i := 0; i < cfg.NumSharedFCs; i++ {
		in := featDim
		if i > 0 {
			in = cfg.FCOutChannels
		}
		clsFC := newLinear(in, cfg.FCOutChannels)
		regFC := newLinear(in, cfg.FCOutChannels)
		xavierUniform(clsFC.w, rng)
		xavierUniform(regFC.w, rng)
		p.clsFCs = append(p.clsFCs, clsFC)
		p.regFCs = append(p.regFCs, regFC)
		lastDim = cfg.FCOutChannels
	}

	groups := cfg.NumClasses
	if cfg.RegClassAgnostic {
		groups = 1
	}
	p.fcCls = newLinear(lastDim, cfg.NumClasses+1)
	p.fcReg = newLinear(lastDim, 4*groups)
	p.fcBinCls = newLinear(lastDim, 4*cfg.NumBins*groups)
	p.fcBinOffset = newLinear(lastDim, 4*groups)
	p.fcRatio = newLinear(lastDim, groups)

	normalFill(p.fcCls.w, 0.01, rng)
	normalFill(p.fcReg.w, 0.001, rng)
	normalFill(p.fcBinCls.w, 0.001, rng)
	normalFill(p.fcBinOffset.w, 0.001, rng)
	normalFill(p.fcRatio.w, 0.001, rng)

	return p
}

// xavierUniform fills w with U(-a, a), a = sqrt(6 / (fanIn + fanOut)).
func xavierUniform(w *tensor.Dense, rng *rand.Rand) {
	shape := w.Shape()
	limit := math32.Sqrt(6 / float32(shape[0]+shape[1]))
	data := tensorutil.Data(w)
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * limit
	}
}

func normalFill(w *tensor.Dense, std float32, rng *rand.Rand) {
	data := tensorutil.Data(w)
	for i := range data {
		data[i] = float32(rng.NormFloat64()) * std
	}
}

// Package head - a region-of-interest detection head predicting object
// classes, horizontal box deltas, and a polygon refinement signal (bin
// classification, bin offset, rectangularness ratio) that upgrades
// horizontal boxes to quadrilaterals when an object is poorly
// approximated by a rectangle.
//
// The head owns its learned parameters and is stateless between calls:
// target bundles live for one training step, prediction bundles for one
// forward pass.
package head

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/coders"
	"github.com/nvr-ai/go-quadhead/losses"
	"github.com/nvr-ai/go-quadhead/precision"
)

// BoxCoder translates between hbb geometry and normalized deltas.
type BoxCoder interface {
	Encode(rois, gts *tensor.Dense) (*tensor.Dense, error)
	Decode(rois, deltas *tensor.Dense, maxShape [2]int) (*tensor.Dense, error)
}

// BinCoder translates between polygons and the per-corner bin
// classification + offset representation. Encode reports per-target
// validity through its weight tensors.
type BinCoder interface {
	Encode(polys *tensor.Dense) (clsTargets, clsWeights, offTargets, offWeights *tensor.Dense, err error)
	Decode(boxes, binCls, binOffset *tensor.Dense) (*tensor.Dense, error)
}

// RatioCoder encodes how rectangular a polygon is.
type RatioCoder interface {
	Encode(polys *tensor.Dense) (*tensor.Dense, error)
}

// Config carries the head's structural hyperparameters.
type Config struct {
	// NumSharedFCs is the depth of each of the two FC towers.
	NumSharedFCs int
	// RoIFeatSize is the spatial side of the pooled RoI feature map.
	RoIFeatSize int
	// InChannels is the channel count of the pooled features.
	InChannels int
	// FCOutChannels is the width of the tower FC layers.
	FCOutChannels int
	// NumClasses is the foreground class count; the background class id
	// is NumClasses.
	NumClasses int
	// NumBins is the bin count per polygon corner.
	NumBins int
	// RegClassAgnostic shares one regression group across classes
	// instead of one group per class.
	RegClassAgnostic bool
	// RatioThreshold is the predicted-ratio value above which a sample
	// is treated as rectangular and decoded as its hbb corners.
	RatioThreshold float32
	// Precision controls the forward pass output precision. Losses and
	// decode always run full precision.
	Precision precision.Precision
	// Seed seeds parameter initialization.
	Seed int64
}

// DefaultConfig mirrors the reference DOTA configuration: 15 classes,
// 7x7x256 RoI features, two 1024-wide FC layers per tower, 4 bins per
// corner, class-aware regression.
func DefaultConfig() Config {
	return Config{
		NumSharedFCs:   2,
		RoIFeatSize:    7,
		InChannels:     256,
		FCOutChannels:  1024,
		NumClasses:     15,
		NumBins:        4,
		RatioThreshold: 0.8,
		Precision:      precision.FP32,
		Seed:           1,
	}
}

func (c Config) validate() error {
	switch {
	case c.NumClasses <= 0:
		return errors.Errorf("head: NumClasses must be positive, got %d", c.NumClasses)
	case c.NumBins <= 0:
		return errors.Errorf("head: NumBins must be positive, got %d", c.NumBins)
	case c.RoIFeatSize <= 0:
		return errors.Errorf("head: RoIFeatSize must be positive, got %d", c.RoIFeatSize)
	case c.InChannels <= 0:
		return errors.Errorf("head: InChannels must be positive, got %d", c.InChannels)
	case c.NumSharedFCs < 0:
		return errors.Errorf("head: NumSharedFCs must be non-negative, got %d", c.NumSharedFCs)
	case c.NumSharedFCs > 0 && c.FCOutChannels <= 0:
		return errors.Errorf("head: FCOutChannels must be positive, got %d", c.FCOutChannels)
	case c.RatioThreshold <= 0 || c.RatioThreshold > 1:
		return errors.Errorf("head: RatioThreshold must be in (0, 1], got %g", c.RatioThreshold)
	}
	return nil
}

// Head is the detection head. Construct with New.
type Head struct {
	cfg Config

	boxCoder   BoxCoder
	binCoder   BinCoder
	ratioCoder RatioCoder

	lossCls       losses.CrossEntropy
	lossBox       losses.SmoothL1
	lossBinCls    losses.BinaryCrossEntropy
	lossBinOffset losses.SmoothL1
	lossRatio     losses.SmoothL1

	params *parameters
}

// Option customizes a Head at construction time.
type Option func(*Head)

// WithBoxCoder swaps the hbb delta coder.
func WithBoxCoder(c BoxCoder) Option { return func(h *Head) { h.boxCoder = c } }

// WithBinCoder swaps the polygon bin coder.
func WithBinCoder(c BinCoder) Option { return func(h *Head) { h.binCoder = c } }

// WithRatioCoder swaps the rectangularness coder.
func WithRatioCoder(c RatioCoder) Option { return func(h *Head) { h.ratioCoder = c } }

// New builds a head with freshly initialized parameters.
func New(cfg Config, opts ...Option) (*Head, error) {
	if cfg.Precision == "" {
		cfg.Precision = precision.FP32
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := &Head{
		cfg:        cfg,
		boxCoder:   coders.NewDeltaXYWH(),
		binCoder:   coders.NewBin(cfg.NumBins),
		ratioCoder: coders.NewRatio(),

		lossCls:       losses.CrossEntropy{Weight: 1},
		lossBox:       losses.SmoothL1{Beta: 1, Weight: 1},
		lossBinCls:    losses.BinaryCrossEntropy{Weight: 1},
		lossBinOffset: losses.SmoothL1{Beta: 1.0 / 3.0, Weight: 1},
		lossRatio:     losses.SmoothL1{Beta: 1.0 / 3.0, Weight: 16},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.params = newParameters(cfg)
	return h, nil
}

// Config returns the head's configuration.
func (h *Head) Config() Config { return h.cfg }

// BackgroundClass returns the label used for negative samples.
func (h *Head) BackgroundClass() int { return h.cfg.NumClasses }

// featDim is the flattened size of one RoI feature map.
func (h *Head) featDim() int {
	return h.cfg.InChannels * h.cfg.RoIFeatSize * h.cfg.RoIFeatSize
}

// regGroups is the number of regression groups: one when class
// agnostic, one per foreground class otherwise.
func (h *Head) regGroups() int {
	if h.cfg.RegClassAgnostic {
		return 1
	}
	return h.cfg.NumClasses
}

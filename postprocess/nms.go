// Package postprocess - multiclass Non-Maximum Suppression over
// quadrilateral detections.
package postprocess

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// NMSConfig defines parameters for multiclass polygon NMS.
type NMSConfig struct {
	// ScoreThreshold drops candidates below this class score.
	ScoreThreshold float32
	// IoUThreshold is the polygon overlap above which the lower-scored
	// detection is suppressed.
	IoUThreshold float32
	// MaxPerImage caps the detections kept per image; <= 0 means no cap.
	MaxPerImage int
}

// Detection is one suppressed, labeled quadrilateral detection.
type Detection struct {
	Poly  [8]float32
	Score float32
	Class int
}

// MulticlassNMS runs per-class greedy NMS over polygon candidates.
//
// polys has shape (n, 8) when one polygon is shared across classes, or
// (n, 8*k) with one polygon per foreground class. scores has shape
// (n, k+1); the final column is the background class and is ignored.
// The surviving detections are returned sorted by descending score,
// truncated to MaxPerImage.
func MulticlassNMS(polys, scores *tensor.Dense, cfg NMSConfig) ([]Detection, error) {
	n := tensorutil.Rows(scores)
	if tensorutil.Rows(polys) != n {
		return nil, errors.Errorf("postprocess: %d polygons for %d score rows",
			tensorutil.Rows(polys), n)
	}
	numClasses := tensorutil.Cols(scores) - 1
	if numClasses < 1 {
		return nil, errors.Errorf("postprocess: need at least 2 score columns, got %d",
			tensorutil.Cols(scores))
	}
	polyCols := tensorutil.Cols(polys)
	shared := polyCols == 8
	if !shared && polyCols != 8*numClasses {
		return nil, errors.Errorf("postprocess: polygon columns %d not 8 or %d",
			polyCols, 8*numClasses)
	}

	ps := tensorutil.Data(polys)
	ss := tensorutil.Data(scores)

	var kept []Detection
	for c := 0; c < numClasses; c++ {
		var candidates []Detection
		for i := 0; i < n; i++ {
			score := ss[i*(numClasses+1)+c]
			if score <= cfg.ScoreThreshold {
				continue
			}
			at := i * polyCols
			if !shared {
				at += c * 8
			}
			var d Detection
			copy(d.Poly[:], ps[at:at+8])
			d.Score = score
			d.Class = c
			candidates = append(candidates, d)
		}
		kept = append(kept, greedySuppress(candidates, cfg.IoUThreshold)...)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if cfg.MaxPerImage > 0 && len(kept) > cfg.MaxPerImage {
		kept = kept[:cfg.MaxPerImage]
	}
	return kept, nil
}

// greedySuppress keeps the highest scored candidate and removes any
// later candidate overlapping it beyond the threshold.
func greedySuppress(candidates []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	kept := make([]Detection, 0, len(candidates))
	used := make([]bool, len(candidates))
	for i := range candidates {
		if used[i] {
			continue
		}
		kept = append(kept, candidates[i])
		used[i] = true
		for j := i + 1; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			if PolyIoU(candidates[i].Poly[:], candidates[j].Poly[:]) > iouThreshold {
				used[j] = true
			}
		}
	}
	return kept
}

// Package geometry - conversions between horizontal boxes and
// quadrilateral polygons.
//
// A horizontal bounding box (hbb) is a row of 4 values (x1, y1, x2, y2).
// A polygon (poly) is a row of 8 values, 4 corners in clockwise order
// starting at the top-left region of the shape.
package geometry

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-quadhead/tensorutil"
)

// HBBToPoly expands hbbs of shape (n, 4) into their 4 corner polygons of
// shape (n, 8).
func HBBToPoly(boxes *tensor.Dense) (*tensor.Dense, error) {
	if tensorutil.Cols(boxes) != 4 {
		return nil, errors.Errorf("geometry: expected 4 columns, got %d", tensorutil.Cols(boxes))
	}
	n := tensorutil.Rows(boxes)
	out := tensorutil.Zeros(n, 8)
	src := tensorutil.Data(boxes)
	dst := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		x1, y1, x2, y2 := src[i*4], src[i*4+1], src[i*4+2], src[i*4+3]
		copy(dst[i*8:], []float32{x1, y1, x2, y1, x2, y2, x1, y2})
	}
	return out, nil
}

// CornersToPoly writes the 4 corners of one hbb into an 8-value row.
func CornersToPoly(box, poly []float32) {
	x1, y1, x2, y2 := box[0], box[1], box[2], box[3]
	poly[0], poly[1] = x1, y1
	poly[2], poly[3] = x2, y1
	poly[4], poly[5] = x2, y2
	poly[6], poly[7] = x1, y2
}

// PolyToHBB reduces polygons of shape (n, 8) to their minimum bounding
// hbbs of shape (n, 4).
func PolyToHBB(polys *tensor.Dense) (*tensor.Dense, error) {
	if tensorutil.Cols(polys) != 8 {
		return nil, errors.Errorf("geometry: expected 8 columns, got %d", tensorutil.Cols(polys))
	}
	n := tensorutil.Rows(polys)
	out := tensorutil.Zeros(n, 4)
	src := tensorutil.Data(polys)
	dst := tensorutil.Data(out)
	for i := 0; i < n; i++ {
		p := src[i*8 : (i+1)*8]
		minX, minY := p[0], p[1]
		maxX, maxY := p[0], p[1]
		for c := 1; c < 4; c++ {
			minX = math32.Min(minX, p[c*2])
			maxX = math32.Max(maxX, p[c*2])
			minY = math32.Min(minY, p[c*2+1])
			maxY = math32.Max(maxY, p[c*2+1])
		}
		dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = minX, minY, maxX, maxY
	}
	return out, nil
}

// PolyArea returns the shoelace area of one 8-value polygon row.
func PolyArea(p []float32) float32 {
	var area float32
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		area += p[i*2]*p[j*2+1] - p[j*2]*p[i*2+1]
	}
	return math32.Abs(area) / 2
}

// RescalePolys divides polygon coordinates in place by per-axis scale
// factors. scale may have 1 entry (uniform) or 4 entries
// (sx, sy, sx, sy), matching the scale factor attached to a resized
// image; each 8-value row is divided by the factors repeated twice.
func RescalePolys(polys *tensor.Dense, scale []float32) error {
	var s [4]float32
	switch len(scale) {
	case 1:
		s = [4]float32{scale[0], scale[0], scale[0], scale[0]}
	case 4:
		copy(s[:], scale)
	default:
		return errors.Errorf("geometry: scale factor must have 1 or 4 entries, got %d", len(scale))
	}
	data := tensorutil.Data(polys)
	cols := tensorutil.Cols(polys)
	if cols%8 != 0 {
		return errors.Errorf("geometry: polygon columns %d not a multiple of 8", cols)
	}
	for i := range data {
		data[i] /= s[i%4]
	}
	return nil
}

package postprocess

import (
	clipper "github.com/ctessum/go.clipper"
)

// iouScale converts float coordinates to the integer grid clipper
// operates on. Detection coordinates are in pixels, so two decimal
// places of sub-pixel resolution is plenty.
const iouScale = 100

// PolyIoU returns the intersection-over-union of two quadrilaterals
// given as 8-value rows (x0, y0, ..., x3, y3).
func PolyIoU(a, b []float32) float32 {
	areaA := pathArea(toPath(a))
	areaB := pathArea(toPath(b))
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	c := clipper.NewClipper(clipper.IoNone)
	c.AddPath(toPath(a), clipper.PtSubject, true)
	c.AddPath(toPath(b), clipper.PtClip, true)
	solution, ok := c.Execute1(clipper.CtIntersection, clipper.PftEvenOdd, clipper.PftEvenOdd)
	if !ok {
		return 0
	}

	var inter float64
	for _, p := range solution {
		inter += pathArea(p)
	}
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return float32(inter / union)
}

func toPath(poly []float32) clipper.Path {
	path := make(clipper.Path, 0, 4)
	for i := 0; i < 4; i++ {
		path = append(path, &clipper.IntPoint{
			X: clipper.CInt(poly[i*2] * iouScale),
			Y: clipper.CInt(poly[i*2+1] * iouScale),
		})
	}
	return path
}

// pathArea is the shoelace area of a closed clipper path, in original
// coordinate units.
func pathArea(p clipper.Path) float64 {
	var area float64
	n := len(p)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += float64(p[i].X)*float64(p[j].Y) - float64(p[j].X)*float64(p[i].Y)
	}
	if area < 0 {
		area = -area
	}
	return area / 2 / (iouScale * iouScale)
}

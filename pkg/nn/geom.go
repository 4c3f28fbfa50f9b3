package nn

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// Rect is a box in (x, y, width, height) form, which is how ground truth
// annotations arrive on disk.
type Rect struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Box is a box in (x1, y1, x2, y2) form. All overlap math is done on Box.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// RectFromSlice parses [x, y, w, h]
func RectFromSlice(v []float32) (Rect, bool) {
	if len(v) != 4 {
		return Rect{}, false
	}
	return Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, true
}

// BoxFromSlice parses [x1, y1, x2, y2]
func BoxFromSlice(v []float32) (Box, bool) {
	if len(v) != 4 {
		return Box{}, false
	}
	return Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, true
}

func (r Rect) Box() Box {
	return Box{
		X1: r.X,
		Y1: r.Y,
		X2: r.X + r.Width,
		Y2: r.Y + r.Height,
	}
}

func (r Rect) Area() float32 {
	return r.Width * r.Height
}

func (b Box) Rect() Rect {
	return Rect{
		X:      b.X1,
		Y:      b.Y1,
		Width:  b.X2 - b.X1,
		Height: b.Y2 - b.Y1,
	}
}

func (b Box) Width() float32 {
	return b.X2 - b.X1
}

func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Area is width * height. An inverted box has zero area.
func (b Box) Area() float32 {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

func (b Box) Intersection(o Box) Box {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)
	return Box{
		X1: x1,
		Y1: y1,
		X2: max(x1, x2),
		Y2: max(y1, y2),
	}
}

func (b Box) Union(o Box) Box {
	return Box{
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
		X2: max(b.X2, o.X2),
		Y2: max(b.Y2, o.Y2),
	}
}

// Intersection over Union, computed in float64 so that a ratio of exactly 0.5
// is not rounded past a strict threshold.
// Returns 0 when both boxes are empty.
func (b Box) IOU(o Box) float64 {
	ix := max(0, min(float64(b.X2), float64(o.X2))-max(float64(b.X1), float64(o.X1)))
	iy := max(0, min(float64(b.Y2), float64(o.Y2))-max(float64(b.Y1), float64(o.Y1)))
	inter := ix * iy
	union := b.area64() + o.area64() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) area64() float64 {
	return max(0, float64(b.X2)-float64(b.X1)) * max(0, float64(b.Y2)-float64(b.Y1))
}

func (b Box) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

func (b Box) Offset(dx, dy float32) Box {
	return Box{
		X1: b.X1 + dx,
		Y1: b.Y1 + dy,
		X2: b.X2 + dx,
		Y2: b.Y2 + dy,
	}
}

// Clip the box to [0, width] x [0, height]
func (b Box) Clip(width, height float32) Box {
	return Box{
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
		X2: min(max(b.X2, 0), width),
		Y2: min(max(b.Y2, 0), height),
	}
}

// BoxFromCenter builds a box from center and size
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

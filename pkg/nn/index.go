package nn

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// BoxIndex is a spatial index over a list of boxes, so that we can avoid
// O(N^2) IoU comparisons when a frame has hundreds of proposals.
type BoxIndex struct {
	fb    *flatbush.Flatbush[float32]
	boxes []Box
}

// NewBoxIndex builds an index over boxes. The index refers to boxes by their
// position in the slice.
func NewBoxIndex(boxes []Box) *BoxIndex {
	idx := &BoxIndex{
		boxes: boxes,
	}
	if len(boxes) == 0 {
		return idx
	}
	idx.fb = flatbush.NewFlatbush[float32]()
	idx.fb.Reserve(len(boxes))
	for _, b := range boxes {
		idx.fb.Add(b.X1, b.Y1, b.X2, b.Y2)
	}
	idx.fb.Finish()
	return idx
}

func (x *BoxIndex) Len() int {
	return len(x.boxes)
}

// Overlapping returns the indices of boxes that touch or overlap q, in
// ascending order. Results are appended to 'results', which may be nil.
func (x *BoxIndex) Overlapping(q Box, results []int) []int {
	results = results[:0]
	if x.fb == nil {
		return results
	}
	results = x.fb.SearchFast(q.X1, q.Y1, q.X2, q.Y2, results)
	slices.Sort(results)
	return results
}

// BestIOU returns the index of the box with the highest IoU against q, and
// that IoU. The lowest index wins a tie. Returns (-1, 0) if nothing overlaps.
func (x *BoxIndex) BestIOU(q Box, skip func(i int) bool) (int, float64) {
	best := -1
	bestIOU := 0.0
	for _, i := range x.Overlapping(q, nil) {
		if skip != nil && skip(i) {
			continue
		}
		iou := q.IOU(x.boxes[i])
		if iou > bestIOU {
			best = i
			bestIOU = iou
		}
	}
	return best, bestIOU
}

// Nearest returns the index of the box whose center is closest to q's center.
// Returns -1 if the index is empty.
func (x *BoxIndex) Nearest(q Box) int {
	best := -1
	bestDistance := float32(9e20)
	c := q.Center()
	for i, b := range x.boxes {
		d := c.Distance(b.Center())
		if d < bestDistance {
			bestDistance = d
			best = i
		}
	}
	return best
}

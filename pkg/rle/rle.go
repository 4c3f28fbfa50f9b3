// Package rle reads COCO run-length encoded instance masks.
//
// A mask is stored column-major as alternating runs of 0s and 1s, starting
// with 0s. The compressed string form packs each run length (after the
// third, as a delta against the run two places back) into 5-bit groups,
// offset by 48 so that the result is printable ASCII.
package rle

import (
	"errors"
	"fmt"
	"math"
)

var ErrBadCounts = errors.New("invalid compressed RLE counts")
var ErrSizeMismatch = errors.New("RLE counts do not cover the mask")

// Decode parses the compressed COCO string into run lengths
func Decode(s string) ([]uint32, error) {
	counts := []uint32{}
	p := 0
	for p < len(s) {
		x := int64(0)
		k := 0
		for more := true; more; {
			if p >= len(s) || k > 12 {
				return nil, ErrBadCounts
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, ErrBadCounts
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if len(counts) > 2 {
			x += int64(counts[len(counts)-2])
		}
		if x < 0 || x > 1<<32-1 {
			return nil, ErrBadCounts
		}
		counts = append(counts, uint32(x))
	}
	return counts, nil
}

// Check returns ErrSizeMismatch unless the runs cover exactly height x width pixels
func Check(counts []uint32, height, width int) error {
	total := int64(0)
	for _, c := range counts {
		total += int64(c)
	}
	if total != int64(height)*int64(width) {
		return fmt.Errorf("%w: %v pixels for %v x %v", ErrSizeMismatch, total, height, width)
	}
	return nil
}

// Area is the number of "on" pixels
func Area(counts []uint32) int64 {
	area := int64(0)
	for i := 1; i < len(counts); i += 2 {
		area += int64(counts[i])
	}
	return area
}

// BoundingBox returns the tightest [x, y, width, height] around the "on"
// pixels of a mask with the given height. An empty mask has a zero box.
// A run that crosses a column boundary spans the full height.
func BoundingBox(counts []uint32, height int) (x, y, w, h int) {
	if height <= 0 {
		return 0, 0, 0, 0
	}
	hh := int64(height)
	x1, y1 := int64(math.MaxInt64), int64(math.MaxInt64)
	x2, y2 := int64(-1), int64(-1)
	p := int64(0)
	for i, c := range counts {
		start := p
		p += int64(c)
		if i%2 == 0 || c == 0 {
			continue
		}
		end := p - 1
		sx, sy := start/hh, start%hh
		ex, ey := end/hh, end%hh
		if sx != ex {
			sy, ey = 0, hh-1
		}
		x1 = min(x1, sx)
		y1 = min(y1, sy)
		x2 = max(x2, ex)
		y2 = max(y2, ey)
	}
	if x2 < 0 {
		return 0, 0, 0, 0
	}
	return int(x1), int(y1), int(x2 - x1 + 1), int(y2 - y1 + 1)
}

// Package flow reads dense optical flow fields, and uses them to move boxes
// from one frame into the next.
package flow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/propeval/pkg/nn"
)

// Magic number at the start of a Middlebury .flo file
const floMagic = 202021.25

// KITTI PNGs store flow as uint16 with this offset and scale
const kittiOffset = 32768
const kittiScale = 64

var ErrBadMagic = errors.New("not a .flo file")
var ErrUnknownFormat = errors.New("unknown flow file format")

// Field is a dense flow field. Pixel (x,y) moves to (x+U, y+V) in the next frame.
type Field struct {
	Width  int
	Height int
	U      []float32
	V      []float32
	Valid  []bool // nil means every pixel is valid
}

func NewField(width, height int) *Field {
	return &Field{
		Width:  width,
		Height: height,
		U:      make([]float32, width*height),
		V:      make([]float32, width*height),
	}
}

// Set the flow at a pixel
func (f *Field) Set(x, y int, u, v float32) {
	i := y*f.Width + x
	f.U[i] = u
	f.V[i] = v
}

// At returns the flow at a pixel, and whether it is valid
func (f *Field) At(x, y int) (float32, float32, bool) {
	i := y*f.Width + x
	if f.Valid != nil && !f.Valid[i] {
		return 0, 0, false
	}
	return f.U[i], f.V[i], true
}

// Load reads a .png (KITTI encoding) or .flo (Middlebury) flow file
func Load(filename string) (*Field, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var field *Field
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		field, err = DecodeKITTI(r)
	case ".flo":
		field, err = DecodeFlo(r)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to decode flow %v: %w", filename, err)
	}
	return field, nil
}

// DecodeKITTI reads a 16-bit PNG where u = (R - 2^15) / 64, v = (G - 2^15) / 64,
// and B is non-zero if the pixel is valid.
func DecodeKITTI(r io.Reader) (*Field, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	f := NewField(b.Dx(), b.Dy())
	f.Valid = make([]bool, f.Width*f.Height)
	rgba64, _ := img.(image.RGBA64Image)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			var cr, cg, cb uint32
			if rgba64 != nil {
				c := rgba64.RGBA64At(b.Min.X+x, b.Min.Y+y)
				cr, cg, cb = uint32(c.R), uint32(c.G), uint32(c.B)
			} else {
				cr, cg, cb, _ = img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			}
			i := y*f.Width + x
			f.U[i] = (float32(cr) - kittiOffset) / kittiScale
			f.V[i] = (float32(cg) - kittiOffset) / kittiScale
			f.Valid[i] = cb != 0
		}
	}
	return f, nil
}

// EncodeKITTI writes the field as a 16-bit KITTI PNG
func EncodeKITTI(w io.Writer, f *Field) error {
	img := image.NewNRGBA64(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			u, v, ok := f.At(x, y)
			valid := uint16(0)
			if ok {
				valid = 1
			}
			p := img.PixOffset(x, y)
			putUint16(img.Pix[p:], toKITTI(u))
			putUint16(img.Pix[p+2:], toKITTI(v))
			putUint16(img.Pix[p+4:], valid)
			putUint16(img.Pix[p+6:], 0xffff)
		}
	}
	return png.Encode(w, img)
}

func toKITTI(v float32) uint16 {
	return uint16(min(max(math32.Round(v*kittiScale+kittiOffset), 0), 65535))
}

// NRGBA64 pixels are big endian
func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// DecodeFlo reads a Middlebury .flo file
func DecodeFlo(r io.Reader) (*Field, error) {
	var header struct {
		Magic  float32
		Width  int32
		Height int32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != floMagic {
		return nil, ErrBadMagic
	}
	if header.Width <= 0 || header.Height <= 0 || header.Width > 1<<15 || header.Height > 1<<15 {
		return nil, fmt.Errorf("invalid .flo dimensions %v x %v", header.Width, header.Height)
	}
	f := NewField(int(header.Width), int(header.Height))
	uv := make([]float32, 2*f.Width*f.Height)
	if err := binary.Read(r, binary.LittleEndian, uv); err != nil {
		return nil, err
	}
	for i := 0; i < f.Width*f.Height; i++ {
		f.U[i] = uv[2*i]
		f.V[i] = uv[2*i+1]
	}
	return f, nil
}

// EncodeFlo writes a Middlebury .flo file
func EncodeFlo(w io.Writer, f *Field) error {
	header := struct {
		Magic  float32
		Width  int32
		Height int32
	}{floMagic, int32(f.Width), int32(f.Height)}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	uv := make([]float32, 2*f.Width*f.Height)
	for i := 0; i < f.Width*f.Height; i++ {
		uv[2*i] = f.U[i]
		uv[2*i+1] = f.V[i]
	}
	return binary.Write(w, binary.LittleEndian, uv)
}

// Aggregate decides how the per-pixel flow inside a box becomes a single displacement
type Aggregate int

const (
	AggregateMean Aggregate = iota
	AggregateMedian
)

func ParseAggregate(s string) (Aggregate, error) {
	switch s {
	case "", "mean":
		return AggregateMean, nil
	case "median":
		return AggregateMedian, nil
	}
	return 0, fmt.Errorf("invalid flow aggregate '%v' (expected mean or median)", s)
}

// Displacement returns the aggregate flow of the valid pixels inside box.
// ok is false if the box covers no valid pixels.
func (f *Field) Displacement(box nn.Box, agg Aggregate) (dx, dy float32, ok bool) {
	x1 := max(0, int(math32.Floor(box.X1)))
	y1 := max(0, int(math32.Floor(box.Y1)))
	x2 := min(f.Width, int(math32.Ceil(box.X2)))
	y2 := min(f.Height, int(math32.Ceil(box.Y2)))
	if x2 <= x1 || y2 <= y1 {
		return 0, 0, false
	}
	us := make([]float32, 0, (x2-x1)*(y2-y1))
	vs := make([]float32, 0, (x2-x1)*(y2-y1))
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			u, v, valid := f.At(x, y)
			if valid {
				us = append(us, u)
				vs = append(vs, v)
			}
		}
	}
	if len(us) == 0 {
		return 0, 0, false
	}
	if agg == AggregateMedian {
		return median(us), median(vs), true
	}
	return mean(us), mean(vs), true
}

// Warp moves the box by the aggregate flow inside it, and clips the result to the field.
// A box with no valid flow stays where it is.
func (f *Field) Warp(box nn.Box, agg Aggregate) nn.Box {
	dx, dy, _ := f.Displacement(box, agg)
	return box.Offset(dx, dy).Clip(float32(f.Width), float32(f.Height))
}

func mean(v []float32) float32 {
	sum := float32(0)
	for _, x := range v {
		sum += x
	}
	return sum / float32(len(v))
}

func median(v []float32) float32 {
	slices.Sort(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

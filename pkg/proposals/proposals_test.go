package proposals

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/rle"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, filename, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755))
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
}

func TestDecode(t *testing.T) {
	props, err := Decode(strings.NewReader(`[
		{"bbox": [1, 2, 3, 4], "score": 0.9, "category_id": 3, "instance_mask": {"size": [10, 20], "counts": "abc"}},
		{"bbox": [5, 6, 7, 8], "score": 0.1, "embeddings": [0.5, 0.25]}
	]`))
	require.NoError(t, err)
	require.Len(t, props, 2)
	require.Equal(t, nn.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, props[0].Box)
	require.Equal(t, []int{10, 20}, props[0].InstanceMask.Size)
	require.Nil(t, props[1].InstanceMask)
	require.Equal(t, []float32{0.5, 0.25}, props[1].Embedding)
	require.Equal(t, []nn.Box{props[0].Box, props[1].Box}, Boxes(props))

	_, err = Decode(strings.NewReader(`[{"bbox": [1, 2]}]`))
	require.Error(t, err)
}

func TestManifest(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(`
val/ArgoVerse/V1/frame0031.jpg
val/ArgoVerse/V1/frame0001.jpg
val/ArgoVerse/V2/frame0001.png

val/ArgoVerse/V1/frame0001.jpg
`))
	require.NoError(t, err)
	require.Equal(t, []string{"frame0001", "frame0031"}, m.Frames("V1"))
	require.Equal(t, []string{"frame0001"}, m.Frames("V2"))
	require.Empty(t, m.Frames("V3"))

	_, err = ReadManifest(strings.NewReader("justaname.jpg\n"))
	require.Error(t, err)

	require.Equal(t, filepath.Join("a", "val_annotated_BDD.txt"), ManifestPathFor("a", "BDD"))
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "V1", "frame0001.json"), `[{"bbox": [0, 0, 10, 10]}]`)
	writeFile(t, filepath.Join(dir, "V1", "frame0002.json"), `[]`)
	writeFile(t, filepath.Join(dir, "V1", "frame0031.json"), `[{"bbox": [1, 1, 11, 11]}, {"bbox": [50, 50, 60, 60]}]`)
	writeFile(t, filepath.Join(dir, "V1", "notes.txt"), `ignore me`)

	m, err := ReadManifest(strings.NewReader("val/X/V1/frame0001.jpg\nval/X/V1/frame0031.jpg\n"))
	require.NoError(t, err)
	s := NewStore(dir, m)

	frames, err := s.Load("V1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Len(t, frames["frame0031"], 2)
	_, loaded := frames["frame0002"]
	require.False(t, loaded, "frames outside the manifest must not be loaded")

	all, err := ListFrames(s.VideoDir("V1"))
	require.NoError(t, err)
	require.Equal(t, []string{"frame0001", "frame0002", "frame0031"}, all)
	require.Equal(t, []string{"frame0002"}, Between(all, "frame0001", "frame0031"))
	require.Empty(t, Between(all, "frame0001", "frame0002"))
}

func TestMissingFrameFails(t *testing.T) {
	dir := t.TempDir()
	m, err := ReadManifest(strings.NewReader("val/X/V1/frame0001.jpg\n"))
	require.NoError(t, err)
	s := NewStore(dir, m)
	_, err = s.Load("V1")
	require.True(t, errors.Is(err, ErrMissingFrame))
}

func TestMaskBoxes(t *testing.T) {
	raw := `[
		{"bbox": [0, 0, 10, 10], "instance_mask": {"size": [4, 3], "counts": "4230N"}},
		{"bbox": [0, 0, 10, 10], "instance_mask": {"size": [4, 3], "counts": [4, 2, 3, 2, 1]}},
		{"bbox": [0, 0, 10, 10]},
		{"bbox": [0, 0, 10, 10], "instance_mask": {"size": [4, 3], "counts": [12]}}
	]`
	props, err := DecodeWithSource(strings.NewReader(raw), BoxMask)
	require.NoError(t, err)
	maskBox := nn.Box{X1: 1, Y1: 0, X2: 3, Y2: 3}
	require.Equal(t, maskBox, props[0].Box)
	require.Equal(t, maskBox, props[1].Box)
	// no mask, or an empty mask, keeps the regressed box
	require.Equal(t, nn.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, props[2].Box)
	require.Equal(t, nn.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, props[3].Box)

	props, err = Decode(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, nn.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, props[0].Box)

	_, err = DecodeWithSource(strings.NewReader(`[{"bbox": [0, 0, 1, 1], "instance_mask": {"size": [4], "counts": "4"}}]`), BoxMask)
	require.Error(t, err)
	// runs that don't cover height x width
	_, err = DecodeWithSource(strings.NewReader(`[{"bbox": [0, 0, 1, 1], "instance_mask": {"size": [4, 3], "counts": [4, 2, 3]}}]`), BoxMask)
	require.ErrorIs(t, err, rle.ErrSizeMismatch)

	src, err := ParseBoxSource("mask")
	require.NoError(t, err)
	require.Equal(t, BoxMask, src)
	_, err = ParseBoxSource("polygon")
	require.Error(t, err)
}

// Package proposals loads per-frame detection proposals.
package proposals

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/rle"
)

// Extension of a per-frame proposal file
const Extension = ".json"

var ErrMissingFrame = errors.New("missing proposal file")

// RLEMask is a COCO run-length encoded instance mask
type RLEMask struct {
	Size   []int           `json:"size"`   // [height, width]
	Counts json.RawMessage `json:"counts"` // compressed string, or a list of run lengths
}

// Runs returns the uncompressed run lengths of the mask
func (m *RLEMask) Runs() ([]uint32, error) {
	var compressed string
	if err := json.Unmarshal(m.Counts, &compressed); err == nil {
		return rle.Decode(compressed)
	}
	runs := []uint32{}
	if err := json.Unmarshal(m.Counts, &runs); err != nil {
		return nil, fmt.Errorf("instance mask counts are neither a string nor a list: %w", err)
	}
	return runs, nil
}

// Box returns the box around the "on" pixels of the mask.
// ok is false if the mask is empty.
func (m *RLEMask) Box() (box nn.Box, ok bool, err error) {
	if len(m.Size) != 2 {
		return nn.Box{}, false, fmt.Errorf("instance mask size %v is not [height, width]", m.Size)
	}
	runs, err := m.Runs()
	if err != nil {
		return nn.Box{}, false, err
	}
	if err := rle.Check(runs, m.Size[0], m.Size[1]); err != nil {
		return nn.Box{}, false, err
	}
	if rle.Area(runs) == 0 {
		return nn.Box{}, false, nil
	}
	x, y, w, h := rle.BoundingBox(runs, m.Size[0])
	r := nn.Rect{X: float32(x), Y: float32(y), Width: float32(w), Height: float32(h)}
	return r.Box(), true, nil
}

// BoxSource decides where a proposal's box comes from
type BoxSource int

const (
	BoxRegressed BoxSource = iota // The detector's "bbox"
	BoxMask                       // The bounds of "instance_mask", or "bbox" if there is no mask
)

func (b BoxSource) String() string {
	switch b {
	case BoxRegressed:
		return "bbox"
	case BoxMask:
		return "mask"
	}
	return fmt.Sprintf("BoxSource(%d)", int(b))
}

func ParseBoxSource(s string) (BoxSource, error) {
	switch s {
	case "", "bbox":
		return BoxRegressed, nil
	case "mask":
		return BoxMask, nil
	}
	return 0, fmt.Errorf("invalid box source '%v' (expected bbox or mask)", s)
}

// Proposal is a candidate object in a single frame
type Proposal struct {
	Box          nn.Box    `json:"-"`
	BBox         []float32 `json:"bbox"` // [x1,y1,x2,y2]
	Score        float32   `json:"score"`
	CategoryID   int       `json:"category_id"`
	InstanceMask *RLEMask  `json:"instance_mask,omitempty"`
	Embedding    []float32 `json:"embeddings,omitempty"`
}

// Boxes returns the box of each proposal
func Boxes(props []Proposal) []nn.Box {
	boxes := make([]nn.Box, len(props))
	for i := range props {
		boxes[i] = props[i].Box
	}
	return boxes
}

// Decode reads the list of proposals of one frame, with boxes from "bbox"
func Decode(r io.Reader) ([]Proposal, error) {
	return DecodeWithSource(r, BoxRegressed)
}

func DecodeWithSource(r io.Reader, source BoxSource) ([]Proposal, error) {
	props := []Proposal{}
	if err := json.NewDecoder(r).Decode(&props); err != nil {
		return nil, err
	}
	for i := range props {
		box, ok := nn.BoxFromSlice(props[i].BBox)
		if !ok {
			return nil, fmt.Errorf("proposal %v has invalid bbox %v", i, props[i].BBox)
		}
		props[i].Box = box
		if source == BoxMask && props[i].InstanceMask != nil {
			maskBox, ok, err := props[i].InstanceMask.Box()
			if err != nil {
				return nil, fmt.Errorf("proposal %v: %w", i, err)
			}
			if ok {
				props[i].Box = maskBox
			}
		}
	}
	return props, nil
}

// Manifest is the list of annotated frames, per video
type Manifest struct {
	frames map[string][]string
}

// ManifestPathFor returns the conventional manifest filename for a data source
func ManifestPathFor(dir, dataSource string) string {
	return filepath.Join(dir, fmt.Sprintf("val_annotated_%v.txt", dataSource))
}

// LoadManifest reads a text file with one image path per line.
// The video is the second-last path segment, and the frame is the last.
func LoadManifest(filename string) (*Manifest, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to open manifest %v: %w", filename, err)
	}
	defer f.Close()
	return ReadManifest(f)
}

func ReadManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{
		frames: map[string][]string{},
	}
	seen := map[string]bool{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "/")
		if len(parts) < 2 {
			return nil, fmt.Errorf("manifest line '%v' has no video segment", line)
		}
		video := parts[len(parts)-2]
		frame := groundtruth.FrameName(parts[len(parts)-1])
		key := video + "/" + frame
		if seen[key] {
			continue
		}
		seen[key] = true
		m.frames[video] = append(m.frames[video], frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, frames := range m.frames {
		slices.Sort(frames)
	}
	return m, nil
}

// Frames returns the sorted annotated frames of a video
func (m *Manifest) Frames(video string) []string {
	return m.frames[video]
}

// Store loads proposal files from <Dir>/<video>/<frame>.json
type Store struct {
	Dir       string
	Manifest  *Manifest
	BoxSource BoxSource
}

func NewStore(dir string, manifest *Manifest) *Store {
	return &Store{
		Dir:      dir,
		Manifest: manifest,
	}
}

// FramePath is the filename of the proposals of a frame
func (s *Store) FramePath(video, frame string) string {
	return filepath.Join(s.Dir, video, frame+Extension)
}

// VideoDir is the directory holding the proposals of a video
func (s *Store) VideoDir(video string) string {
	return filepath.Join(s.Dir, video)
}

// Load reads the proposals of every annotated frame of the video.
// Frames that are not in the manifest are never loaded.
func (s *Store) Load(video string) (map[string][]Proposal, error) {
	res := map[string][]Proposal{}
	for _, frame := range s.Manifest.Frames(video) {
		props, err := s.LoadFrame(video, frame)
		if err != nil {
			return nil, err
		}
		res[frame] = props
	}
	return res, nil
}

// LoadFrame reads the proposals of a single frame
func (s *Store) LoadFrame(video, frame string) ([]Proposal, error) {
	return LoadFile(s.FramePath(video, frame), s.BoxSource)
}

// LoadFile reads a single proposal file
func LoadFile(filename string, source BoxSource) ([]Proposal, error) {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrMissingFrame, filename)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	props, err := DecodeWithSource(f, source)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode proposals %v: %w", filename, err)
	}
	return props, nil
}

// ListFrames returns every frame in a proposal directory, annotated or not, sorted by name
func ListFrames(videoDir string) ([]string, error) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return nil, err
	}
	frames := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		frames = append(frames, strings.TrimSuffix(e.Name(), Extension))
	}
	slices.Sort(frames)
	return frames, nil
}

// Between returns the frames strictly between left and right, from a sorted list
func Between(frames []string, left, right string) []string {
	res := []string{}
	for _, f := range frames {
		if f > left && f < right {
			res = append(res, f)
		}
	}
	return res
}

// Package groundtruth loads TAO-style annotations, and indexes them by video and frame.
package groundtruth

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
)

// Object is a single ground truth object in a single frame
type Object struct {
	Box        nn.Box         `json:"box"`
	CategoryID int            `json:"categoryID"`
	TrackID    int64          `json:"trackID"`
	Split      taxonomy.Split `json:"split"`
}

// Index maps video -> frame -> objects.
// It is immutable after Load.
type Index map[string]map[string][]Object

type annotationFile struct {
	Images      []imageRecord      `json:"images"`
	Annotations []annotationRecord `json:"annotations"`
}

type imageRecord struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
}

type annotationRecord struct {
	ImageID    int64     `json:"image_id"`
	CategoryID int       `json:"category_id"`
	TrackID    int64     `json:"track_id"`
	BBox       []float32 `json:"bbox"` // [x,y,w,h]
}

// Load reads the annotation file, and keeps only the objects from dataSource.
func Load(log logs.Log, filename, dataSource string, tax *taxonomy.Taxonomy) (Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to open ground truth %v: %w", filename, err)
	}
	defer f.Close()
	log.Infof("Loading ground truth from %v", filename)
	idx, err := LoadFromReader(f, dataSource, tax)
	if err != nil {
		return nil, fmt.Errorf("Failed to load ground truth %v: %w", filename, err)
	}
	log.Infof("Loaded %v videos of %v", len(idx), dataSource)
	return idx, nil
}

func LoadFromReader(r io.Reader, dataSource string, tax *taxonomy.Taxonomy) (Index, error) {
	raw := annotationFile{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}

	imageIDToFile := make(map[int64]string, len(raw.Images))
	for _, img := range raw.Images {
		imageIDToFile[img.ID] = img.FileName
	}

	idx := Index{}
	for i, ann := range raw.Annotations {
		fname, ok := imageIDToFile[ann.ImageID]
		if !ok {
			return nil, fmt.Errorf("annotation %v refers to unknown image %v", i, ann.ImageID)
		}
		src, video, frame, ok := ParseImagePath(fname)
		if !ok || src != dataSource {
			continue
		}
		split, err := tax.Split(ann.CategoryID)
		if err != nil {
			return nil, err
		}
		rect, ok := nn.RectFromSlice(ann.BBox)
		if !ok {
			return nil, fmt.Errorf("annotation %v has invalid bbox %v", i, ann.BBox)
		}
		frames := idx[video]
		if frames == nil {
			frames = map[string][]Object{}
			idx[video] = frames
		}
		frames[frame] = append(frames[frame], Object{
			Box:        rect.Box(),
			CategoryID: ann.CategoryID,
			TrackID:    ann.TrackID,
			Split:      split,
		})
	}
	return idx, nil
}

// ParseImagePath splits an image path such as "val/ArgoVerse/<video>/<frame>.jpg"
// into (dataSource, video, frame). The data source is the second path segment,
// the video is the third, and the frame is the last segment without its extension.
func ParseImagePath(fname string) (dataSource, video, frame string, ok bool) {
	parts := strings.Split(fname, "/")
	if len(parts) < 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], FrameName(parts[len(parts)-1]), true
}

// FrameName strips the image extension from a filename
func FrameName(fname string) string {
	base := path.Base(fname)
	base = strings.TrimSuffix(base, ".jpg")
	base = strings.TrimSuffix(base, ".png")
	return base
}

// Videos returns the sorted list of video names
func (x Index) Videos() []string {
	videos := make([]string, 0, len(x))
	for v := range x {
		videos = append(videos, v)
	}
	slices.Sort(videos)
	return videos
}

// Frame returns the objects in a frame, and whether the frame exists
func (x Index) Frame(video, frame string) ([]Object, bool) {
	frames, ok := x[video]
	if !ok {
		return nil, false
	}
	objects, ok := frames[frame]
	return objects, ok
}

// NumObjects counts all objects in the index
func (x Index) NumObjects() int {
	n := 0
	for _, frames := range x {
		for _, objects := range frames {
			n += len(objects)
		}
	}
	return n
}

package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cyclopcam/propeval/pkg/iox"
)

// FramePair is two temporally adjacent annotated frames of one video
type FramePair struct {
	Left  string
	Right string
}

// Key is the record key "frameL|frameR"
func (p FramePair) Key() string {
	return p.Left + "|" + p.Right
}

func ParsePairKey(key string) (FramePair, error) {
	l, r, ok := strings.Cut(key, "|")
	if !ok || l == "" || r == "" {
		return FramePair{}, fmt.Errorf("invalid frame pair key '%v'", key)
	}
	return FramePair{Left: l, Right: r}, nil
}

// FramePairs slides a window of size 2 over the sorted frames
func FramePairs(frames []string) []FramePair {
	sorted := slices.Clone(frames)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	pairs := []FramePair{}
	for i := 1; i < len(sorted); i++ {
		pairs = append(pairs, FramePair{Left: sorted[i-1], Right: sorted[i]})
	}
	return pairs
}

// Record maps "frameL|frameR" to the indices of the right proposals that were
// predicted for the left proposals of that pair, in evaluation order.
// Left proposals without a prediction are omitted, so a list can be shorter
// than the number of evaluated proposals.
type Record map[string][]int

// RecordPath is the filename of a video's record
func RecordPath(outDir, video string) string {
	return filepath.Join(outDir, video+".json")
}

func WriteRecord(filename string, rec Record) error {
	raw, err := json.MarshalIndent(rec, "", "\t")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return iox.WriteStreamToFile(filename, bytes.NewReader(raw))
}

func ReadRecord(filename string) (Record, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	rec := Record{}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("Failed to decode %v: %w", filename, err)
	}
	return rec, nil
}

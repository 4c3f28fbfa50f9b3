// Package taxonomy partitions category ids into known, neighbor and unknown
// splits, relative to a reference label vocabulary (COCO).
package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
)

// DefaultMaxCategoryID is the highest category id in the TAO vocabulary
const DefaultMaxCategoryID = 1230

var ErrUnknownCategory = errors.New("unrecognized category id")

type Split int

const (
	Known Split = iota
	Neighbor
	Unknown
)

// AllSplits in reporting order
var AllSplits = []Split{Known, Neighbor, Unknown}

func (s Split) String() string {
	switch s {
	case Known:
		return "known"
	case Neighbor:
		return "neighbor"
	case Unknown:
		return "unknown"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

func ParseSplit(s string) (Split, error) {
	switch s {
	case "known":
		return Known, nil
	case "neighbor":
		return Neighbor, nil
	case "unknown":
		return Unknown, nil
	}
	return 0, fmt.Errorf("invalid split '%v'", s)
}

func (s Split) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Split) UnmarshalText(b []byte) error {
	v, err := ParseSplit(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Taxonomy is immutable after construction, and safe for concurrent readers.
type Taxonomy struct {
	split map[int]Split
}

// New builds a taxonomy over the ids 1..maxID.
// known wins over neighbor if an id appears in both.
// Everything else in 1..maxID is unknown.
// Ids outside 1..maxID in either set are an error, because the taxonomy
// files and the vocabulary disagree.
func New(maxID int, known, neighbor []int) (*Taxonomy, error) {
	t := &Taxonomy{
		split: make(map[int]Split, maxID),
	}
	for id := 1; id <= maxID; id++ {
		t.split[id] = Unknown
	}
	for _, id := range neighbor {
		if _, ok := t.split[id]; !ok {
			return nil, fmt.Errorf("neighbor category %v is outside 1..%v", id, maxID)
		}
		t.split[id] = Neighbor
	}
	for _, id := range known {
		if _, ok := t.split[id]; !ok {
			return nil, fmt.Errorf("known category %v is outside 1..%v", id, maxID)
		}
		t.split[id] = Known
	}
	return t, nil
}

// Load reads the two taxonomy files:
// knownFile maps a COCO category to its TAO category id (eg {"1": 805}).
// neighborFile maps a COCO category to a list of similar TAO ids (eg {"1": [12, 95]}).
func Load(knownFile, neighborFile string, maxID int) (*Taxonomy, error) {
	cocoToTao := map[string]int{}
	if err := readJSON(knownFile, &cocoToTao); err != nil {
		return nil, err
	}
	cocoToNeighbors := map[string][]int{}
	if err := readJSON(neighborFile, &cocoToNeighbors); err != nil {
		return nil, err
	}
	known := make([]int, 0, len(cocoToTao))
	for _, id := range cocoToTao {
		known = append(known, id)
	}
	neighbor := []int{}
	for _, ids := range cocoToNeighbors {
		neighbor = append(neighbor, ids...)
	}
	return New(maxID, known, neighbor)
}

func readJSON(filename string, v any) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return nil
}

// Split returns the split of a category id
func (t *Taxonomy) Split(categoryID int) (Split, error) {
	s, ok := t.split[categoryID]
	if !ok {
		return 0, fmt.Errorf("%w %v", ErrUnknownCategory, categoryID)
	}
	return s, nil
}

// IDs returns the sorted category ids that belong to a split
func (t *Taxonomy) IDs(s Split) []int {
	ids := []int{}
	for id, v := range t.split {
		if v == s {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// NumCategories is the size of the vocabulary
func (t *Taxonomy) NumCategories() int {
	return len(t.split)
}

// Package scoring accumulates top-1 correspondence accuracy, stratified by
// category split and object size.
package scoring

import (
	"fmt"
	"math"

	"github.com/cyclopcam/propeval/pkg/taxonomy"
)

type Bucket int

const (
	BucketNone   Bucket = iota // Area below the lower bound of 'small'
	BucketSmall
	BucketMedium
	BucketLarge
)

// SizeBuckets in reporting order. BucketNone is not reported on its own.
var SizeBuckets = []Bucket{BucketSmall, BucketMedium, BucketLarge}

var allBuckets = []Bucket{BucketNone, BucketSmall, BucketMedium, BucketLarge}

func (b Bucket) String() string {
	switch b {
	case BucketNone:
		return "none"
	case BucketSmall:
		return "small"
	case BucketMedium:
		return "medium"
	case BucketLarge:
		return "large"
	}
	return fmt.Sprintf("Bucket(%d)", int(b))
}

func ParseBucket(s string) (Bucket, error) {
	for _, b := range allBuckets {
		if b.String() == s {
			return b, nil
		}
	}
	return BucketNone, fmt.Errorf("invalid size bucket '%v'", s)
}

// AreaPolicy decides the area thresholds between size buckets
type AreaPolicy int

const (
	// small [0.001, 32), medium [32, 96), large [96, inf)
	AreaLiteral AreaPolicy = iota
	// small [0.001, 32*32), medium [32*32, 96*96), large [96*96, inf)
	AreaSquared
)

// Smallest area that is counted in a size bucket
const MinArea = 0.001

func (p AreaPolicy) String() string {
	switch p {
	case AreaLiteral:
		return "literal"
	case AreaSquared:
		return "squared"
	}
	return fmt.Sprintf("AreaPolicy(%d)", int(p))
}

func ParseAreaPolicy(s string) (AreaPolicy, error) {
	switch s {
	case "", "literal":
		return AreaLiteral, nil
	case "squared":
		return AreaSquared, nil
	}
	return 0, fmt.Errorf("invalid area policy '%v' (expected literal or squared)", s)
}

// Thresholds returns the lower bounds of medium and large
func (p AreaPolicy) Thresholds() (medium, large float64) {
	if p == AreaSquared {
		return 32 * 32, 96 * 96
	}
	return 32, 96
}

// Classify puts an area into a size bucket
func (p AreaPolicy) Classify(area float64) Bucket {
	medium, large := p.Thresholds()
	switch {
	case area >= large:
		return BucketLarge
	case area >= medium:
		return BucketMedium
	case area >= MinArea:
		return BucketSmall
	}
	return BucketNone
}

// Tally is (correct, evaluated)
type Tally struct {
	Correct   int64 `json:"correct"`
	Evaluated int64 `json:"evaluated"`
}

func (t Tally) Add(b Tally) Tally {
	return Tally{
		Correct:   t.Correct + b.Correct,
		Evaluated: t.Evaluated + b.Evaluated,
	}
}

// Accuracy is Correct/Evaluated, or NaN if nothing was evaluated
func (t Tally) Accuracy() float64 {
	if t.Evaluated == 0 {
		return math.NaN()
	}
	return float64(t.Correct) / float64(t.Evaluated)
}

// String formats as "correct/evaluated = accuracy"
func (t Tally) String() string {
	if t.Evaluated == 0 {
		return fmt.Sprintf("%v/%v = n/a", t.Correct, t.Evaluated)
	}
	return fmt.Sprintf("%v/%v = %.4f", t.Correct, t.Evaluated, t.Accuracy())
}

// Key identifies one cell of the stratification
type Key struct {
	Split  taxonomy.Split
	Bucket Bucket
}

// Counters is the single source of truth for all accuracy numbers.
// Every evaluated proposal lands in exactly one cell, so the per-split and
// overall numbers are sums over cells, and always agree with each other.
// Counters is not safe for concurrent use. Give each worker its own, and Merge them.
type Counters struct {
	Policy AreaPolicy
	cells  map[Key]Tally
}

func NewCounters(policy AreaPolicy) *Counters {
	return &Counters{
		Policy: policy,
		cells:  map[Key]Tally{},
	}
}

// Reset clears all counts
func (c *Counters) Reset() {
	c.cells = map[Key]Tally{}
}

// Add records one evaluated proposal
func (c *Counters) Add(split taxonomy.Split, area float64, match bool) {
	key := Key{Split: split, Bucket: c.Policy.Classify(area)}
	t := c.cells[key]
	t.Evaluated++
	if match {
		t.Correct++
	}
	c.cells[key] = t
}

// AddTally adds a whole tally to one cell
func (c *Counters) AddTally(key Key, t Tally) {
	c.cells[key] = c.cells[key].Add(t)
}

// Merge adds all of b's counts into c
func (c *Counters) Merge(b *Counters) {
	for k, v := range b.cells {
		c.cells[k] = c.cells[k].Add(v)
	}
}

// Cell returns the tally of a split and bucket
func (c *Counters) Cell(split taxonomy.Split, bucket Bucket) Tally {
	return c.cells[Key{Split: split, Bucket: bucket}]
}

// Split returns the tally of a split, over all sizes
func (c *Counters) Split(split taxonomy.Split) Tally {
	t := Tally{}
	for _, b := range allBuckets {
		t = t.Add(c.Cell(split, b))
	}
	return t
}

// Overall returns the tally over everything
func (c *Counters) Overall() Tally {
	t := Tally{}
	for _, v := range c.cells {
		t = t.Add(v)
	}
	return t
}

// Cells returns every non-empty cell, in split then bucket order
func (c *Counters) Cells() []CellTally {
	res := []CellTally{}
	for _, s := range taxonomy.AllSplits {
		for _, b := range allBuckets {
			if t, ok := c.cells[Key{Split: s, Bucket: b}]; ok {
				res = append(res, CellTally{Key: Key{Split: s, Bucket: b}, Tally: t})
			}
		}
	}
	return res
}

// Clone returns a deep copy
func (c *Counters) Clone() *Counters {
	n := NewCounters(c.Policy)
	n.Merge(c)
	return n
}

type CellTally struct {
	Key
	Tally
}

package perfstats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// AddSince adds the time elapsed since start
func (a *TimeAccumulator) AddSince(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Merge(b TimeAccumulator) {
	a.Samples += b.Samples
	a.Total += b.Total
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages accumulates timings of named pipeline stages (eg "load", "gate", "strategy").
// Not safe for concurrent use. Give each worker its own, and Merge them.
type Stages struct {
	stages map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		stages: map[string]*TimeAccumulator{},
	}
}

// Stage returns the accumulator of a stage, creating it if necessary
func (s *Stages) Stage(name string) *TimeAccumulator {
	a := s.stages[name]
	if a == nil {
		a = &TimeAccumulator{}
		s.stages[name] = a
	}
	return a
}

func (s *Stages) Merge(b *Stages) {
	for name, acc := range b.stages {
		s.Stage(name).Merge(*acc)
	}
}

// Names returns the stage names, sorted
func (s *Stages) Names() []string {
	names := make([]string, 0, len(s.stages))
	for name := range s.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String is a one line summary such as "gate: 120 x 1.2ms, strategy: 300 x 4ms"
func (s *Stages) String() string {
	parts := []string{}
	for _, name := range s.Names() {
		a := s.stages[name]
		parts = append(parts, fmt.Sprintf("%v: %v x %v", name, a.Samples, a.Average()))
	}
	return strings.Join(parts, ", ")
}

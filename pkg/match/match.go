// Package match associates ground truth objects with proposals, and finds the
// objects that can be verified in both frames of a pair.
package match

import (
	"fmt"

	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/proposals"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
)

// Threshold is the IoU that a proposal must exceed (strictly) to be matched to a ground truth object
const Threshold = 0.5

// Policy controls whether two ground truth objects may claim the same proposal
type Policy int

const (
	PolicyGreedy   Policy = iota // Each ground truth object takes its best proposal, even if another object already took it
	PolicyOneToOne               // A proposal can be claimed by at most one ground truth object (first come, first served)
)

func (p Policy) String() string {
	switch p {
	case PolicyGreedy:
		return "greedy"
	case PolicyOneToOne:
		return "one-to-one"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "greedy":
		return PolicyGreedy, nil
	case "one-to-one":
		return PolicyOneToOne, nil
	}
	return 0, fmt.Errorf("invalid match policy '%v' (expected greedy or one-to-one)", s)
}

// Annotated is a copy of a proposal, together with the ground truth object it was matched to.
// The source proposal is never modified.
type Annotated struct {
	Index    int // Index of the proposal in its frame
	Proposal proposals.Proposal
	TrackID  int64
	Split    taxonomy.Split
	IOU      float64
}

func (a *Annotated) Box() nn.Box {
	return a.Proposal.Box
}

// MatchProposals finds, for each ground truth object, the proposal with the highest IoU.
// The match is accepted only if that IoU is greater than Threshold.
// Returns the matched proposals (in ground truth order), and the set of matched track ids.
// Ground truth objects without a qualifying proposal are dropped.
func MatchProposals(props []proposals.Proposal, objects []groundtruth.Object, policy Policy) ([]Annotated, map[int64]bool) {
	index := nn.NewBoxIndex(proposals.Boxes(props))
	claimed := map[int]bool{}
	var skip func(i int) bool
	if policy == PolicyOneToOne {
		skip = func(i int) bool { return claimed[i] }
	}

	matched := []Annotated{}
	trackIDs := map[int64]bool{}
	for _, obj := range objects {
		best, iou := index.BestIOU(obj.Box, skip)
		if best == -1 || iou <= Threshold {
			continue
		}
		claimed[best] = true
		matched = append(matched, Annotated{
			Index:    best,
			Proposal: props[best],
			TrackID:  obj.TrackID,
			Split:    obj.Split,
			IOU:      iou,
		})
		trackIDs[obj.TrackID] = true
	}
	return matched, trackIDs
}

// TrackOfProposal returns the track id that was matched to proposal index i, or -1.
// If several objects claimed the proposal under PolicyGreedy, the last one wins.
func TrackOfProposal(matched []Annotated, i int) int64 {
	track := int64(-1)
	for _, m := range matched {
		if m.Index == i {
			track = m.TrackID
		}
	}
	return track
}

// Intersect returns the keys that are in both a and b
func Intersect(a, b map[int64]bool) map[int64]bool {
	res := map[int64]bool{}
	for k := range a {
		if b[k] {
			res[k] = true
		}
	}
	return res
}

// FilterObjects returns the objects whose track id is in ids, preserving order
func FilterObjects(objects []groundtruth.Object, ids map[int64]bool) []groundtruth.Object {
	res := []groundtruth.Object{}
	for _, obj := range objects {
		if ids[obj.TrackID] {
			res = append(res, obj)
		}
	}
	return res
}

// Package similarity predicts which right-frame proposal shows the same
// physical object as a left-frame proposal.
package similarity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cyclopcam/propeval/pkg/flow"
	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/kalman"
	"github.com/cyclopcam/propeval/pkg/match"
	"github.com/cyclopcam/propeval/pkg/proposals"
)

var ErrUnknownStrategy = errors.New("unknown similarity strategy")

// Request is everything a strategy may use to make one prediction.
type Request struct {
	Video                 string
	GroundTruth           map[string][]groundtruth.Object // frame -> objects, for this video
	ValidTrackIDs         map[int64]bool                  // tracks confirmed in both frames
	Left                  match.Annotated                 // left proposal, tagged with its true track
	Right                 []proposals.Proposal            // every proposal of the right frame
	FrameL                string
	FrameR                string
	ImageDir              string
	ProposalDir           string
	FlowDir               string
	UseIntermediateFrames bool
	Policy                match.Policy
	Frames                match.FrameSource // proposals of any frame of the video
}

// Verdict is the outcome of one prediction
type Verdict struct {
	Match   bool  // The predicted right proposal belongs to the same track as the left proposal
	Index   int   // Index into Request.Right, or -1 if nothing was predicted
	TrackID int64 // Track of the predicted right proposal, or -1
}

// Strategy predicts a right proposal for a left proposal.
// Implementations must be safe for concurrent use, because videos are evaluated in parallel.
type Strategy interface {
	Name() string
	Evaluate(req *Request) (Verdict, error)
}

// Options configures the built-in strategies
type Options struct {
	FlowAggregate flow.Aggregate
	FlowMinIOU    float64 // Warped box must overlap the candidate by more than this
	FlowCacheSize int     // Number of flow fields to keep in memory
	Kalman        kalman.Params
	GateIOU       float64 // Intermediate proposals must overlap the prediction by more than this to update the filter
	MaxMisses     int     // Intermediate frames without a measurement before the filter restarts from its last measurement
	HistorySize   int     // Number of positions remembered by the motion filter
}

func DefaultOptions() Options {
	return Options{
		FlowAggregate: flow.AggregateMean,
		FlowMinIOU:    0,
		FlowCacheSize: 8,
		Kalman:        kalman.DefaultParams(),
		GateIOU:       0.3,
		MaxMisses:     5,
		HistorySize:   64,
	}
}

const (
	NameFlow   = "flow"
	NameKalman = "kalman"
)

// Names of the built-in strategies
var Names = []string{NameFlow, NameKalman}

// New creates a strategy by name
func New(name string, opts Options) (Strategy, error) {
	switch name {
	case NameFlow:
		return NewFlowWarp(opts), nil
	case NameKalman:
		return NewMotionFilter(opts), nil
	}
	return nil, fmt.Errorf("%w '%v' (expected one of %v)", ErrUnknownStrategy, name, Names)
}

// Judge turns a predicted right index into a Verdict.
// The right frame's proposals are matched to the ground truth objects whose
// tracks are valid for this pair, independently of the prediction, and the
// prediction is correct if the predicted proposal was claimed by the left
// proposal's track.
func Judge(req *Request, predicted int) Verdict {
	if predicted < 0 || predicted >= len(req.Right) {
		return Verdict{Index: -1, TrackID: -1}
	}
	objects := match.FilterObjects(req.GroundTruth[req.FrameR], req.ValidTrackIDs)
	matched, _ := match.MatchProposals(req.Right, objects, req.Policy)
	track := match.TrackOfProposal(matched, predicted)
	return Verdict{
		Match:   track != -1 && track == req.Left.TrackID,
		Index:   predicted,
		TrackID: track,
	}
}

// sortedUnique returns the sorted, de-duplicated input
func sortedUnique(v []string) []string {
	v = slices.Clone(v)
	slices.Sort(v)
	return slices.Compact(v)
}

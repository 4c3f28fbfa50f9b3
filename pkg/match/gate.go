package match

import (
	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/proposals"
)

// FrameSource provides the proposals of a frame
type FrameSource interface {
	LoadFrame(video, frame string) ([]proposals.Proposal, error)
}

// Gate decides which ground truth objects can be independently verified in
// both frames of a pair. An object only counts if some proposal matches it
// in the left frame, and some proposal matches it in the right frame.
type Gate struct {
	Source FrameSource
	Policy Policy
}

func NewGate(source FrameSource, policy Policy) *Gate {
	return &Gate{
		Source: source,
		Policy: policy,
	}
}

// FindObjectsInBothFrames returns the left-frame ground truth objects whose
// track was confirmed by a proposal in both frames, along with the set of
// those track ids.
// If either frame has no ground truth, the result is empty.
func (g *Gate) FindObjectsInBothFrames(gt groundtruth.Index, video, frameL, frameR string) ([]groundtruth.Object, map[int64]bool, error) {
	objectsL, okL := gt.Frame(video, frameL)
	objectsR, okR := gt.Frame(video, frameR)
	if !okL || !okR {
		return nil, map[int64]bool{}, nil
	}

	propsL, err := g.Source.LoadFrame(video, frameL)
	if err != nil {
		return nil, nil, err
	}
	propsR, err := g.Source.LoadFrame(video, frameR)
	if err != nil {
		return nil, nil, err
	}

	_, idsL := MatchProposals(propsL, objectsL, g.Policy)
	_, idsR := MatchProposals(propsR, objectsR, g.Policy)
	common := Intersect(idsL, idsR)
	return FilterObjects(objectsL, common), common, nil
}

package similarity

import (
	"fmt"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/propeval/pkg/kalman"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/proposals"
)

// MotionFilter predicts where the left box will be in the right frame with a
// constant velocity Kalman filter. When intermediate frames are enabled, the
// filter follows the object through the unannotated frames between the pair,
// updating itself with the proposal that best overlaps each prediction.
type MotionFilter struct {
	opts Options
}

func NewMotionFilter(opts Options) *MotionFilter {
	return &MotionFilter{
		opts: opts,
	}
}

func (s *MotionFilter) Name() string {
	return NameKalman
}

type observation struct {
	frame    string
	box      nn.Box
	measured bool // false if this is only a prediction
}

func (s *MotionFilter) Evaluate(req *Request) (Verdict, error) {
	predicted, err := s.predict(req)
	if err != nil {
		return Verdict{}, err
	}
	return Judge(req, associate(predicted, req.Right)), nil
}

// predict returns the expected box of the left object in the right frame
func (s *MotionFilter) predict(req *Request) (nn.Box, error) {
	start := req.Left.Box()
	kf := kalman.New(start, s.opts.Kalman)
	if !req.UseIntermediateFrames {
		kf.Predict()
		return kf.Box(), nil
	}

	all, err := proposals.ListFrames(req.ProposalDir)
	if err != nil {
		return nn.Box{}, err
	}

	history := newHistory(s.opts.HistorySize)
	history.Add(observation{frame: req.FrameL, box: start, measured: true})
	misses := 0

	for _, frame := range proposals.Between(all, req.FrameL, req.FrameR) {
		kf.Predict()
		props, err := req.Frames.LoadFrame(req.Video, frame)
		if err != nil {
			return nn.Box{}, err
		}
		index := nn.NewBoxIndex(proposals.Boxes(props))
		best, iou := index.BestIOU(kf.Box(), nil)
		if best != -1 && iou > s.opts.GateIOU {
			if err := kf.Update(props[best].Box); err != nil {
				return nn.Box{}, fmt.Errorf("frame %v: %w", frame, err)
			}
			history.Add(observation{frame: frame, box: props[best].Box, measured: true})
			misses = 0
			continue
		}
		history.Add(observation{frame: frame, box: kf.Box(), measured: false})
		misses++
		if misses > s.opts.MaxMisses {
			// Lost the object. Restart from where we last saw it.
			kf = kalman.New(lastMeasured(&history, start), s.opts.Kalman)
			misses = 0
		}
	}
	kf.Predict()
	return kf.Box(), nil
}

// lastMeasured returns the most recent measured box in the history
func lastMeasured(history *ringbuffer.RingP[observation], fallback nn.Box) nn.Box {
	for i := history.Len() - 1; i >= 0; i-- {
		if obs := history.Peek(i); obs.measured {
			return obs.box
		}
	}
	return fallback
}

// associate returns the candidate with the highest IoU against the prediction.
// If nothing overlaps, the candidate with the closest center wins.
func associate(predicted nn.Box, candidates []proposals.Proposal) int {
	index := nn.NewBoxIndex(proposals.Boxes(candidates))
	best, _ := index.BestIOU(predicted, nil)
	if best != -1 {
		return best
	}
	return index.Nearest(predicted)
}

// newHistory returns a ring that holds at least size observations.
// The ring's capacity is one less than its power of 2 backing size.
func newHistory(size int) ringbuffer.RingP[observation] {
	return ringbuffer.NewRingP[observation](nextPowerOf2(max(size, 1) + 1))
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

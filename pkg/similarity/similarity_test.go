package similarity

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/propeval/pkg/flow"
	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/match"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/proposals"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2 float32) nn.Box {
	return nn.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func prop(b nn.Box) proposals.Proposal {
	return proposals.Proposal{Box: b, BBox: []float32{b.X1, b.Y1, b.X2, b.Y2}}
}

func writeJSON(t *testing.T, filename string, props []proposals.Proposal) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755))
	buf := bytes.Buffer{}
	buf.WriteString("[")
	for i, p := range props {
		if i != 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, `{"bbox": [%v, %v, %v, %v]}`, p.Box.X1, p.Box.Y1, p.Box.X2, p.Box.Y2)
	}
	buf.WriteString("]")
	require.NoError(t, os.WriteFile(filename, buf.Bytes(), 0644))
}

func writeFlow(t *testing.T, filename string, w, h int, dx, dy float32) {
	f := flow.NewField(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, dx, dy)
		}
	}
	buf := bytes.Buffer{}
	require.NoError(t, flow.EncodeFlo(&buf, f))
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755))
	require.NoError(t, os.WriteFile(filename, buf.Bytes(), 0644))
}

// Two objects: track 7 moves 30 pixels right per annotated pair. Track 8 sits still, 40 pixels right of track 7's start.
// In the right frame, the proposal on track 8 overlaps track 7's *old* position more than the proposal on track 7 does,
// so a strategy that ignores motion picks the wrong one.
type scene struct {
	dir     string
	request *Request
}

func newScene(t *testing.T) *scene {
	dir := t.TempDir()
	left := box(100, 100, 140, 140)
	leftOther := box(130, 100, 170, 140)
	right := box(160, 100, 200, 140) // track 7, moved by 60
	rightOther := leftOther           // track 8, IoU with left = 10/70

	gt := map[string][]groundtruth.Object{
		"f00": {
			{Box: left, CategoryID: 1, TrackID: 7, Split: taxonomy.Known},
			{Box: leftOther, CategoryID: 1, TrackID: 8, Split: taxonomy.Known},
		},
		"f10": {
			{Box: right, CategoryID: 1, TrackID: 7, Split: taxonomy.Known},
			{Box: rightOther, CategoryID: 1, TrackID: 8, Split: taxonomy.Known},
		},
	}
	propsL := []proposals.Proposal{prop(left), prop(leftOther)}
	propsR := []proposals.Proposal{prop(rightOther), prop(right)}
	matched, _ := match.MatchProposals(propsL, gt["f00"], match.PolicyGreedy)

	propDir := filepath.Join(dir, "props", "V")
	writeJSON(t, filepath.Join(propDir, "f00.json"), propsL)
	writeJSON(t, filepath.Join(propDir, "f10.json"), propsR)
	// Intermediate frames, where the object is at 20 and 40 pixels
	writeJSON(t, filepath.Join(propDir, "f03.json"), []proposals.Proposal{prop(left.Offset(20, 0))})
	writeJSON(t, filepath.Join(propDir, "f06.json"), []proposals.Proposal{prop(left.Offset(40, 0))})

	m, err := proposals.ReadManifest(bytes.NewBufferString("x/V/f00.jpg\nx/V/f10.jpg\n"))
	require.NoError(t, err)

	return &scene{
		dir: dir,
		request: &Request{
			Video:         "V",
			GroundTruth:   gt,
			ValidTrackIDs: map[int64]bool{7: true, 8: true},
			Left:          matched[0],
			Right:         propsR,
			FrameL:        "f00",
			FrameR:        "f10",
			ProposalDir:   propDir,
			FlowDir:       filepath.Join(dir, "flow", "V"),
			Policy:        match.PolicyGreedy,
			Frames:        proposals.NewCache(proposals.NewStore(filepath.Join(dir, "props"), m), 16),
		},
	}
}

func TestJudge(t *testing.T) {
	s := newScene(t)
	require.Equal(t, Verdict{Match: true, Index: 1, TrackID: 7}, Judge(s.request, 1))
	require.Equal(t, Verdict{Match: false, Index: 0, TrackID: 8}, Judge(s.request, 0))
	require.Equal(t, Verdict{Match: false, Index: -1, TrackID: -1}, Judge(s.request, -1))
	require.Equal(t, Verdict{Match: false, Index: -1, TrackID: -1}, Judge(s.request, 5))

	// Track 8 isn't valid for this pair, so proposal 0 has no track
	s.request.ValidTrackIDs = map[int64]bool{7: true}
	require.Equal(t, Verdict{Match: false, Index: 0, TrackID: -1}, Judge(s.request, 0))
}

func TestFlowWarpDirect(t *testing.T) {
	s := newScene(t)
	writeFlow(t, filepath.Join(s.request.FlowDir, "f00.flo"), 300, 300, 60, 0)
	strategy, err := New(NameFlow, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, NameFlow, strategy.Name())
	v, err := strategy.Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, Verdict{Match: true, Index: 1, TrackID: 7}, v)
}

func TestFlowWarpIntermediate(t *testing.T) {
	s := newScene(t)
	// Three flow steps of 20 pixels each. Files past the right frame must be ignored.
	writeFlow(t, filepath.Join(s.request.FlowDir, "f00.flo"), 300, 300, 20, 0)
	writeFlow(t, filepath.Join(s.request.FlowDir, "f03.flo"), 300, 300, 20, 0)
	writeFlow(t, filepath.Join(s.request.FlowDir, "f06.flo"), 300, 300, 20, 0)
	writeFlow(t, filepath.Join(s.request.FlowDir, "f10.flo"), 300, 300, -100, 0)

	s.request.UseIntermediateFrames = true
	v, err := NewFlowWarp(DefaultOptions()).Evaluate(s.request)
	require.NoError(t, err)
	require.True(t, v.Match)
	require.Equal(t, 1, v.Index)

	// Without intermediate frames, only the first 20 pixel step is applied, and track 8 wins
	s.request.UseIntermediateFrames = false
	v, err = NewFlowWarp(DefaultOptions()).Evaluate(s.request)
	require.NoError(t, err)
	require.False(t, v.Match)
	require.Equal(t, 0, v.Index)
}

func TestFlowWarpNoOverlap(t *testing.T) {
	s := newScene(t)
	writeFlow(t, filepath.Join(s.request.FlowDir, "f00.flo"), 1000, 1000, 500, 500)
	v, err := NewFlowWarp(DefaultOptions()).Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, Verdict{Index: -1, TrackID: -1}, v)
}

func TestFlowWarpMissingFlow(t *testing.T) {
	s := newScene(t)
	_, err := NewFlowWarp(DefaultOptions()).Evaluate(s.request)
	require.ErrorIs(t, err, ErrMissingFlow)

	writeFlow(t, filepath.Join(s.request.FlowDir, "f03.flo"), 300, 300, 20, 0)
	_, err = NewFlowWarp(DefaultOptions()).Evaluate(s.request)
	require.ErrorIs(t, err, ErrMissingFlow)
}

func TestMotionFilterIntermediate(t *testing.T) {
	s := newScene(t)
	s.request.UseIntermediateFrames = true
	strategy, err := New(NameKalman, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, NameKalman, strategy.Name())
	v, err := strategy.Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, Verdict{Match: true, Index: 1, TrackID: 7}, v)
}

func TestMotionFilterWithoutMotion(t *testing.T) {
	// A single predict step from zero velocity stays put, and the proposal that
	// overlaps the old position wins. That's track 8.
	s := newScene(t)
	v, err := NewMotionFilter(DefaultOptions()).Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, Verdict{Match: false, Index: 0, TrackID: 8}, v)
}

func TestAssociateFallsBackToNearest(t *testing.T) {
	candidates := []proposals.Proposal{prop(box(500, 500, 510, 510)), prop(box(50, 0, 60, 10))}
	require.Equal(t, 1, associate(box(0, 0, 10, 10), candidates))
	require.Equal(t, -1, associate(box(0, 0, 10, 10), nil))
}

func TestLostTrackRestarts(t *testing.T) {
	s := newScene(t)
	s.request.UseIntermediateFrames = true
	opts := DefaultOptions()
	opts.MaxMisses = 0
	opts.GateIOU = 0.99
	// Nothing passes the gate, so every intermediate frame is a miss, and the
	// filter restarts from the left box each time.
	v, err := NewMotionFilter(opts).Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, 0, v.Index)
}

func TestMotionFilterShortHistory(t *testing.T) {
	s := newScene(t)
	s.request.UseIntermediateFrames = true
	opts := DefaultOptions()
	opts.HistorySize = 1
	v, err := NewMotionFilter(opts).Evaluate(s.request)
	require.NoError(t, err)
	require.Equal(t, Verdict{Match: true, Index: 1, TrackID: 7}, v)
}

func TestHistoryCapacity(t *testing.T) {
	for _, size := range []int{0, 1, 2, 3, 63, 64, 65} {
		h := newHistory(size)
		require.GreaterOrEqual(t, h.Capacity(), max(size, 1), "size %v", size)
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := New("siamese", DefaultOptions())
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

package match

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/nn"
	"github.com/cyclopcam/propeval/pkg/proposals"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/stretchr/testify/require"
)

func prop(x1, y1, x2, y2 float32) proposals.Proposal {
	return proposals.Proposal{
		Box:  nn.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		BBox: []float32{x1, y1, x2, y2},
	}
}

func object(trackID int64, split taxonomy.Split, x1, y1, x2, y2 float32) groundtruth.Object {
	return groundtruth.Object{
		Box:        nn.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		CategoryID: 1,
		TrackID:    trackID,
		Split:      split,
	}
}

func TestMatchAboveThreshold(t *testing.T) {
	// IoU = 60/100 = 0.6
	props := []proposals.Proposal{prop(0, 0, 10, 6)}
	objects := []groundtruth.Object{object(7, taxonomy.Neighbor, 0, 0, 10, 10)}
	matched, ids := MatchProposals(props, objects, PolicyGreedy)
	require.Len(t, matched, 1)
	require.Equal(t, 0, matched[0].Index)
	require.Equal(t, int64(7), matched[0].TrackID)
	require.Equal(t, taxonomy.Neighbor, matched[0].Split)
	require.InDelta(t, 0.6, matched[0].IOU, 1e-6)
	require.Equal(t, map[int64]bool{7: true}, ids)
}

func TestMatchAtThresholdFails(t *testing.T) {
	// IoU = 50/100 = 0.5 exactly, which is not enough
	props := []proposals.Proposal{prop(0, 0, 10, 5)}
	objects := []groundtruth.Object{object(7, taxonomy.Known, 0, 0, 10, 10)}
	matched, ids := MatchProposals(props, objects, PolicyGreedy)
	require.Empty(t, matched)
	require.Empty(t, ids)
}

// Boxes with fractional coordinates, where the proposal is the top half of the
// ground truth box. The true IoU is exactly 0.5, which must not be rounded up
// into a match.
func TestMatchAtThresholdFractional(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cents := func(lo, hi int) float32 {
		return float32(lo+rng.Intn(hi-lo)) + float32(rng.Intn(100))/100
	}
	exact := 0
	for i := 0; i < 2000; i++ {
		gt := nn.Rect{X: cents(10, 500), Y: cents(100, 500), Width: cents(10, 200), Height: cents(10, 90)}.Box()
		mid := gt.Y1 + (gt.Y2-gt.Y1)/2
		if (float64(mid)-float64(gt.Y1))*2 != float64(gt.Y2)-float64(gt.Y1) {
			continue
		}
		exact++
		half := prop(gt.X1, gt.Y1, gt.X2, mid)
		objects := []groundtruth.Object{object(1, taxonomy.Known, gt.X1, gt.Y1, gt.X2, gt.Y2)}
		matched, _ := MatchProposals([]proposals.Proposal{half}, objects, PolicyGreedy)
		require.Empty(t, matched, "gt %+v, proposal %+v", gt, half.Box)

		// Nudge the proposal down by one float32 step, and it overlaps by more than half
		taller := prop(gt.X1, gt.Y1, gt.X2, math.Nextafter32(mid, gt.Y2))
		matched, _ = MatchProposals([]proposals.Proposal{taller}, objects, PolicyGreedy)
		require.Len(t, matched, 1, "gt %+v, proposal %+v", gt, taller.Box)
	}
	require.Greater(t, exact, 10)
}

func TestMatchDoesNotMutateProposals(t *testing.T) {
	props := []proposals.Proposal{prop(0, 0, 10, 10)}
	before := fmt.Sprintf("%+v", props)
	objects := []groundtruth.Object{object(3, taxonomy.Known, 0, 0, 10, 10)}
	matched, _ := MatchProposals(props, objects, PolicyGreedy)
	require.Len(t, matched, 1)
	require.Equal(t, before, fmt.Sprintf("%+v", props))
}

func TestMatchPicksHighestIOU(t *testing.T) {
	props := []proposals.Proposal{
		prop(0, 0, 10, 7),     // 0.7
		prop(100, 0, 110, 10), // no overlap
		prop(0, 0, 10, 9),     // 0.9
	}
	objects := []groundtruth.Object{object(1, taxonomy.Known, 0, 0, 10, 10)}
	matched, _ := MatchProposals(props, objects, PolicyGreedy)
	require.Len(t, matched, 1)
	require.Equal(t, 2, matched[0].Index)
	require.Equal(t, int64(1), TrackOfProposal(matched, 2))
	require.Equal(t, int64(-1), TrackOfProposal(matched, 0))
}

func TestMatchPolicies(t *testing.T) {
	// Two ground truth objects that both prefer proposal 0.
	props := []proposals.Proposal{
		prop(0, 0, 10, 10),
		prop(0, 0, 10, 8),
	}
	objects := []groundtruth.Object{
		object(1, taxonomy.Known, 0, 0, 10, 10),
		object(2, taxonomy.Unknown, 0, 0, 10, 9),
	}

	// Greedy: both claim proposal 0
	matched, ids := MatchProposals(props, objects, PolicyGreedy)
	require.Len(t, matched, 2)
	require.Equal(t, 0, matched[0].Index)
	require.Equal(t, 0, matched[1].Index)
	require.Equal(t, map[int64]bool{1: true, 2: true}, ids)
	require.Equal(t, int64(2), TrackOfProposal(matched, 0))

	// One-to-one: the second object falls back to proposal 1 (IoU 80/90)
	matched, ids = MatchProposals(props, objects, PolicyOneToOne)
	require.Len(t, matched, 2)
	require.Equal(t, 0, matched[0].Index)
	require.Equal(t, 1, matched[1].Index)
	require.Equal(t, map[int64]bool{1: true, 2: true}, ids)

	// One-to-one, where the fallback is below threshold
	props[1] = prop(0, 0, 10, 4)
	matched, ids = MatchProposals(props, objects, PolicyOneToOne)
	require.Len(t, matched, 1)
	require.Equal(t, map[int64]bool{1: true}, ids)
}

func TestMatchNoProposals(t *testing.T) {
	matched, ids := MatchProposals(nil, []groundtruth.Object{object(1, taxonomy.Known, 0, 0, 1, 1)}, PolicyGreedy)
	require.Empty(t, matched)
	require.Empty(t, ids)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicyGreedy, PolicyOneToOne} {
		back, err := ParsePolicy(p.String())
		require.NoError(t, err)
		require.Equal(t, p, back)
	}
	_, err := ParsePolicy("hungarian")
	require.Error(t, err)
}

func TestIntersect(t *testing.T) {
	a := map[int64]bool{1: true, 2: true, 3: true}
	b := map[int64]bool{2: true, 3: true, 4: true}
	require.Equal(t, map[int64]bool{2: true, 3: true}, Intersect(a, b))
	require.Empty(t, Intersect(a, nil))
}

package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/propeval/pkg/dbh"
	"github.com/cyclopcam/propeval/pkg/evaluator"
	"github.com/cyclopcam/propeval/pkg/resultsdb"
	"github.com/cyclopcam/propeval/pkg/scoring"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/stretchr/testify/require"
)

func TestRatio(t *testing.T) {
	require.Equal(t, "n/a", Ratio(math.NaN()))
	require.Equal(t, "0.5000", Ratio(0.5))
}

func TestWrite(t *testing.T) {
	v1 := scoring.NewCounters(scoring.AreaLiteral)
	v1.Add(taxonomy.Known, 1600, true)
	v1.Add(taxonomy.Known, 10, false)
	v2 := scoring.NewCounters(scoring.AreaLiteral)
	empty := scoring.NewCounters(scoring.AreaLiteral)
	v2.Add(taxonomy.Unknown, 50, true)
	total := v1.Clone()
	total.Merge(v2)

	res := &evaluator.Result{
		Counters: total,
		Videos: []*evaluator.VideoResult{
			{Video: "V1", Counters: v1},
			{Video: "V2", Counters: v2},
			{Video: "V3", Counters: empty},
		},
		RunID: "abc",
	}
	buf := bytes.Buffer{}
	require.NoError(t, Write(&buf, res))
	out := buf.String()

	// 2 of 3 overall
	require.Contains(t, out, "0.6667")
	// neighbor has nothing evaluated
	require.Contains(t, out, "n/a")
	require.Contains(t, out, "1.0000 (1/1)")
	// V3 is excluded from the spread
	require.Contains(t, out, "over 2 of 3 videos: mean 0.7500")
	require.True(t, strings.HasSuffix(out, "Run abc\n"))
}

func TestRuns(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := []resultsdb.Run{
		{ID: "r1", DataSource: "ArgoVerse", Strategy: "flow", Started: dbh.MakeIntTime(started), Finished: dbh.MakeIntTime(started.Add(1500 * time.Millisecond))},
		{ID: "r2", DataSource: "BDD", Strategy: "kalman", Started: dbh.MakeIntTime(started)},
	}
	out := Runs(runs)
	require.Contains(t, out, "1.5s")
	require.Contains(t, out, "unfinished")
	require.Contains(t, out, "2024-03-01T10:00:00Z")
}

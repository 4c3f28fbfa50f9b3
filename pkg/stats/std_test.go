package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeanVar(t *testing.T) {
	mean, variance := MeanVar([]int{2, 4, 4, 4, 5, 5, 7, 9})
	require.Equal(t, 5.0, mean)
	require.Equal(t, 4.0, variance)
	require.True(t, math.IsNaN(Mean([]float64{})))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.5, math.NaN(), 1, 0})
	require.Equal(t, 3, s.N)
	require.InDelta(t, 0.5, s.Mean, 1e-9)
	require.Equal(t, 0.0, s.Min)
	require.Equal(t, 1.0, s.Max)
	require.InDelta(t, math.Sqrt(1.0/6.0), s.StdDev, 1e-9)

	empty := Summarize([]float64{math.NaN()})
	require.Equal(t, 0, empty.N)
	require.True(t, math.IsNaN(empty.Mean))
}

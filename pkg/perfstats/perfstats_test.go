package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(time.Millisecond)
	a.AddSample(3 * time.Millisecond)
	require.Equal(t, 2*time.Millisecond, a.Average())
	a.Merge(TimeAccumulator{Samples: 2, Total: 6 * time.Millisecond})
	require.Equal(t, int64(4), a.Samples)
	require.Equal(t, 10*time.Millisecond, a.Total)
	a.Reset()
	require.Equal(t, int64(0), a.Samples)
}

func TestStages(t *testing.T) {
	a := NewStages()
	a.Stage("strategy").AddSample(4 * time.Millisecond)
	b := NewStages()
	b.Stage("strategy").AddSample(2 * time.Millisecond)
	b.Stage("gate").AddSample(time.Millisecond)
	a.Merge(b)
	require.Equal(t, []string{"gate", "strategy"}, a.Names())
	require.Equal(t, 3*time.Millisecond, a.Stage("strategy").Average())
	require.Equal(t, "gate: 1 x 1ms, strategy: 2 x 3ms", a.String())
}

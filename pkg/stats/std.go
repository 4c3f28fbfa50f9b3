package stats

import "math"

type Float interface {
	~float32 | ~float64
}

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Returns (mean, variance) of the given samples.
func MeanVar[T Float | Integer](samples []T) (float64, float64) {
	mean := Mean(samples)
	variance := Variance(samples, mean)
	return mean, variance
}

// Returns the mean of the given samples, or NaN if there are none.
func Mean[T Float | Integer](samples []T) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Returns the population variance of the given samples.
func Variance[T Float | Integer](samples []T, mean float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range samples {
		diff := float64(v) - mean
		sum += diff * diff
	}
	return sum / float64(len(samples))
}

// DropNaN returns the samples that are not NaN.
// Videos with nothing evaluated have a NaN accuracy, and must not poison an average.
func DropNaN[T Float](samples []T) []T {
	out := make([]T, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(float64(v)) {
			out = append(out, v)
		}
	}
	return out
}

// Summary describes the spread of a set of per-video ratios
type Summary struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize ignores NaN samples. If nothing remains, all fields except N are NaN.
func Summarize[T Float](samples []T) Summary {
	valid := DropNaN(samples)
	s := Summary{
		N:      len(valid),
		Mean:   math.NaN(),
		StdDev: math.NaN(),
		Min:    math.NaN(),
		Max:    math.NaN(),
	}
	if len(valid) == 0 {
		return s
	}
	mean, variance := MeanVar(valid)
	s.Mean = mean
	s.StdDev = math.Sqrt(variance)
	s.Min = math.Inf(1)
	s.Max = math.Inf(-1)
	for _, v := range valid {
		s.Min = min(s.Min, float64(v))
		s.Max = max(s.Max, float64(v))
	}
	return s
}

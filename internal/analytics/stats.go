package analytics

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// median averages the two middle values of an even-length sample. xs is not
// modified.
func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return stat.Mean(sorted[(n-1)/2:n/2+1], nil)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

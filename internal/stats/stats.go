// Package stats provides small numeric helpers shared by the signal engine
// and the privacy aggregator: percentile computation and clamping.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidArgument is returned for malformed percentile requests.
var ErrInvalidArgument = errors.New("invalid argument")

// CalculatePercentile returns the p-th percentile of values using linear
// interpolation between ranked order statistics:
//
//	index = p/100 × (n−1)
//	result = v[floor] + (index − floor) × (v[ceil] − v[floor])
//
// values is not modified. Empty values, NaN p, or p outside [0,100] return
// an error wrapping ErrInvalidArgument.
func CalculatePercentile(values []float64, p float64) (float64, error) {
	if err := checkPercentile(p); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: percentile of empty set", ErrInvalidArgument)
	}
	return percentileSorted(sortedCopy(values), p), nil
}

// Percentiles computes several percentiles over values, sorting only once.
func Percentiles(values []float64, ps ...float64) ([]float64, error) {
	for _, p := range ps {
		if err := checkPercentile(p); err != nil {
			return nil, err
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: percentile of empty set", ErrInvalidArgument)
	}

	sorted := sortedCopy(values)
	result := make([]float64, len(ps))
	for i, p := range ps {
		result[i] = percentileSorted(sorted, p)
	}
	return result, nil
}

// Clamp restricts v to [lo, hi]. NaN clamps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func checkPercentile(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return fmt.Errorf("%w: percentile %v outside [0,100]", ErrInvalidArgument, p)
	}
	return nil
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

func percentileSorted(sorted []float64, p float64) float64 {
	index := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(index))
	hi := int(math.Ceil(index))
	if lo == hi {
		return sorted[lo]
	}
	frac := index - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Package stats provides the small set of descriptive statistics the
// detectors rely on. Quantiles use linear interpolation to match the
// conventions of the reporting stack the engine replaces.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// Variance returns the population variance, or 0 for fewer than two
// values.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// SampleStdDev returns the sample (n-1) standard deviation, or 0 for
// fewer than two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// Quantile returns the q-th quantile (0 <= q <= 1) using linear
// interpolation between closest ranks.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Standardize maps values to z-scores against their own mean and
// population stdev. A zero stdev yields all-zero scores rather than
// dividing by zero.
func Standardize(values []float64) []float64 {
	mean := Mean(values)
	std := StdDev(values)
	scores := make([]float64, len(values))
	if std == 0 {
		return scores
	}
	for i, v := range values {
		scores[i] = (v - mean) / std
	}
	return scores
}

// Clamp bounds value into [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// LinearSlope fits y = a + b*x over x = 0..n-1 by least squares and
// returns b. Fewer than two points yield 0.
func LinearSlope(y []float64) float64 {
	n := len(y)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

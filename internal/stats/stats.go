// Package stats holds the small descriptive statistics shared by the reward,
// agent and training code.
package stats

import "math"

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance is the population variance.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return sq / float64(len(values))
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Tail returns the last n values, or all of them when there are fewer.
func Tail(values []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	return values[max(0, len(values)-n):]
}

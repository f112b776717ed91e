// Package stats provides the small set of descriptive statistics shared by the
// indicator framework and the correlation matrix.
package stats

import (
	"errors"
	"math"
)

var (
	ErrNoSamples        = errors.New("not enough samples to calculate mean")
	ErrNotEnoughSamples = errors.New("not enough samples to calculate standard deviation")
)

// Mean returns the arithmetic mean of samples.
func Mean(samples []float64) (float64, error) {
	if len(samples) < 1 {
		return 0, ErrNoSamples
	}
	sum := 0.0
	for _, x := range samples {
		sum += x
	}
	return sum / float64(len(samples)), nil
}

// MeanOr returns the mean of samples, or fallback when there are none.
func MeanOr(samples []float64, fallback float64) float64 {
	mean, err := Mean(samples)
	if err != nil {
		return fallback
	}
	return mean
}

// StandardDeviation returns the corrected sample standard deviation.
func StandardDeviation(samples []float64) (float64, error) {
	mean, err := Mean(samples)
	if err != nil {
		return 0, err
	}
	return deviation(samples, mean, true)
}

// StandardDeviationMean returns the corrected sample standard deviation around
// a precomputed mean.
func StandardDeviationMean(samples []float64, mean float64) (float64, error) {
	return deviation(samples, mean, true)
}

// StandardDeviationMeanBiased returns the biased (divide by n) standard
// deviation around a precomputed mean. Bollinger bands use this variant.
func StandardDeviationMeanBiased(samples []float64, mean float64) (float64, error) {
	return deviation(samples, mean, false)
}

func deviation(samples []float64, mean float64, correction bool) (float64, error) {
	if len(samples) < 2 {
		return 0, ErrNotEnoughSamples
	}
	deltaSum := 0.0
	for _, x := range samples {
		delta := x - mean
		deltaSum += delta * delta
	}
	divisor := len(samples)
	if correction {
		divisor--
	}
	return math.Sqrt(deltaSum / float64(divisor)), nil
}

// Package correlation computes Pearson correlation matrices over the daily
// close series of a set of archives.
package correlation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/futsim/futsim/internal/ohlc"
	"github.com/futsim/futsim/internal/reltime"
)

// Matrix is a symmetric correlation matrix with unit diagonal, together with
// the common time range it was computed over.
type Matrix struct {
	Symbols     []string          `json:"symbols"`
	From        reltime.Timestamp `json:"from"`
	To          reltime.Timestamp `json:"to"`
	Correlation [][]float64       `json:"correlation"`
}

// deltaSeries holds mean-centered samples and the square root of their sum of
// squares, precomputed per archive.
type deltaSeries struct {
	samples []float64
	sqrt    float64
}

// Compute builds the correlation matrix for the archives, restricted to the
// overlap of the requested window with every archive's data. Cells above the
// diagonal are computed in parallel and mirrored.
func Compute(symbols []string, requestFrom, requestTo time.Time, archives []*ohlc.Archive) (*Matrix, error) {
	if len(archives) == 0 {
		return nil, errors.New("no archives specified")
	}
	from, to, err := commonTimeRange(requestFrom, requestTo, archives)
	if err != nil {
		return nil, err
	}
	series, err := deltaSamples(from, to, archives)
	if err != nil {
		return nil, err
	}
	count := len(archives)
	matrix := make([][]float64, count)
	for i := range matrix {
		matrix[i] = make([]float64, count)
		matrix[i][i] = 1
	}
	var group errgroup.Group
	for i := 0; i < count; i++ {
		for j := i + 1; j < count; j++ {
			i, j := i, j
			group.Go(func() error {
				x := series[i]
				y := series[j]
				sum := 0.0
				for k := range x.samples {
					sum += x.samples[k] * y.samples[k]
				}
				coefficient := sum / (x.sqrt * y.sqrt)
				matrix[i][j] = coefficient
				matrix[j][i] = coefficient
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &Matrix{
		Symbols:     symbols,
		From:        reltime.Timestamp{Time: from},
		To:          reltime.Timestamp{Time: to},
		Correlation: matrix,
	}, nil
}

// commonTimeRange narrows the requested window to the overlap of all
// archives' daily records.
func commonTimeRange(requestFrom, requestTo time.Time, archives []*ohlc.Archive) (time.Time, time.Time, error) {
	from := requestFrom
	to := requestTo
	for _, archive := range archives {
		records := archive.Daily.AdjustedFallback()
		if len(records) == 0 {
			return time.Time{}, time.Time{}, errors.New("missing records in archive")
		}
		if first := records[0].Time; first.After(from) {
			from = first
		}
		if last := records[len(records)-1].Time; last.Before(to) {
			to = last
		}
	}
	return from, to, nil
}

func deltaSamples(from, to time.Time, archives []*ohlc.Archive) ([]deltaSeries, error) {
	inRange := func(t time.Time) bool {
		return !t.Before(from) && !t.After(to)
	}
	// Index timestamps off the first archive so every matrix cell aligns on
	// the same points in time.
	indexes := make(map[int64]int)
	for _, record := range archives[0].Daily.AdjustedFallback() {
		if inRange(record.Time) {
			if _, exists := indexes[record.Time.Unix()]; !exists {
				indexes[record.Time.Unix()] = len(indexes)
			}
		}
	}
	count := len(indexes)
	if count == 0 {
		return nil, fmt.Errorf("no samples between %s and %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	series := make([]deltaSeries, len(archives))
	var group errgroup.Group
	for i, archive := range archives {
		i, archive := i, archive
		group.Go(func() error {
			samples := make([]float64, count)
			sum := 0.0
			for _, record := range archive.Daily.AdjustedFallback() {
				if !inRange(record.Time) {
					continue
				}
				index, exists := indexes[record.Time.Unix()]
				if !exists {
					continue
				}
				samples[index] = record.Close
				sum += record.Close
			}
			mean := sum / float64(count)
			squareSum := 0.0
			for k := range samples {
				samples[k] -= mean
				squareSum += samples[k] * samples[k]
			}
			series[i] = deltaSeries{
				samples: samples,
				sqrt:    math.Sqrt(squareSum),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

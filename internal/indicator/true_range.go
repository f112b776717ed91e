package indicator

import (
	"fmt"
	"math"

	"github.com/futsim/futsim/internal/ohlc"
)

// AverageTrueRange averages the true range over its window. Informational
// only, it emits no trade signal.
type AverageTrueRange struct {
	previousClose   *float64
	trueRangeBuffer Buffer
}

// NewAverageTrueRange creates an ATR over period bars.
func NewAverageTrueRange(period int) (*AverageTrueRange, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &AverageTrueRange{trueRangeBuffer: NewBuffer(period)}, nil
}

func (a *AverageTrueRange) ID() ID {
	return PeriodID(AverageTrueRangeID, a.trueRangeBuffer.Size())
}

func (a *AverageTrueRange) Description() string {
	return fmt.Sprintf("ATR(%d)", a.trueRangeBuffer.Size())
}

func (a *AverageTrueRange) Next(record *ohlc.Record) {
	if a.previousClose != nil {
		a.trueRangeBuffer.Add(trueRange(record, *a.previousClose))
	}
	close := record.Close
	a.previousClose = &close
}

func (a *AverageTrueRange) Indicators() []float64 {
	if !a.trueRangeBuffer.Filled() {
		return nil
	}
	return []float64{a.trueRangeBuffer.Average()}
}

func (a *AverageTrueRange) TradeSignal(PositionState) Signal {
	return SignalNone
}

// NeedsInitialization reports one extra bar since the first true range needs
// a previous close.
func (a *AverageTrueRange) NeedsInitialization() (int, bool) {
	if size, needed := a.trueRangeBuffer.NeedsInitialization(); needed {
		return size + 1, true
	}
	return 0, false
}

func (a *AverageTrueRange) Clone() Indicator {
	clone := *a
	clone.trueRangeBuffer = a.trueRangeBuffer.Clone()
	if a.previousClose != nil {
		value := *a.previousClose
		clone.previousClose = &value
	}
	return &clone
}

// AverageDirectionalIndex is the Wilder-style ADX built from n-bar averages
// of true range and directional movement. Informational only.
type AverageDirectionalIndex struct {
	period          int
	previousRecord  *ohlc.Record
	trueRangeBuffer Buffer
	plusDMBuffer    Buffer
	minusDMBuffer   Buffer
	dxBuffer        Buffer
}

// NewAverageDirectionalIndex creates an ADX over period bars.
func NewAverageDirectionalIndex(period int) (*AverageDirectionalIndex, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &AverageDirectionalIndex{
		period:          period,
		trueRangeBuffer: NewBuffer(period),
		plusDMBuffer:    NewBuffer(period),
		minusDMBuffer:   NewBuffer(period),
		dxBuffer:        NewBuffer(period),
	}, nil
}

func (a *AverageDirectionalIndex) ID() ID {
	return PeriodID(AverageDirectionalIndexID, a.period)
}

func (a *AverageDirectionalIndex) Description() string {
	return fmt.Sprintf("ADX(%d)", a.period)
}

func (a *AverageDirectionalIndex) Next(record *ohlc.Record) {
	if previous := a.previousRecord; previous != nil {
		a.trueRangeBuffer.Add(trueRange(record, previous.Close))
		highDifference := record.High - previous.High
		lowDifference := previous.Low - record.Low
		plusDM := 0.0
		if highDifference > lowDifference && highDifference > 0 {
			plusDM = highDifference
		}
		minusDM := 0.0
		if lowDifference > highDifference && lowDifference > 0 {
			minusDM = lowDifference
		}
		a.plusDMBuffer.Add(plusDM)
		a.minusDMBuffer.Add(minusDM)
		if a.plusDMBuffer.Filled() && a.minusDMBuffer.Filled() && a.trueRangeBuffer.Filled() {
			averageTrueRange := a.trueRangeBuffer.Average()
			if averageTrueRange > 0 {
				plusDI := a.plusDMBuffer.Average() / averageTrueRange
				minusDI := a.minusDMBuffer.Average() / averageTrueRange
				if plusDI+minusDI > 0 {
					dx := math.Abs(plusDI-minusDI) / (plusDI + minusDI)
					a.dxBuffer.Add(dx)
				}
			}
		}
	}
	clone := *record
	a.previousRecord = &clone
}

func (a *AverageDirectionalIndex) Indicators() []float64 {
	if !a.dxBuffer.Filled() {
		return nil
	}
	return []float64{100 * a.dxBuffer.Average()}
}

func (a *AverageDirectionalIndex) TradeSignal(PositionState) Signal {
	return SignalNone
}

func (a *AverageDirectionalIndex) NeedsInitialization() (int, bool) {
	if _, needed := a.plusDMBuffer.NeedsInitialization(); needed {
		return a.period + 1, true
	}
	return 0, false
}

func (a *AverageDirectionalIndex) Clone() Indicator {
	clone := *a
	clone.trueRangeBuffer = a.trueRangeBuffer.Clone()
	clone.plusDMBuffer = a.plusDMBuffer.Clone()
	clone.minusDMBuffer = a.minusDMBuffer.Clone()
	clone.dxBuffer = a.dxBuffer.Clone()
	if a.previousRecord != nil {
		record := *a.previousRecord
		clone.previousRecord = &record
	}
	return &clone
}

package indicator

import (
	"errors"
	"fmt"

	"github.com/futsim/futsim/internal/ohlc"
)

// Signal is the trading decision an indicator derives from its current
// readout and the position it is asked about.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
	SignalClose
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	case SignalClose:
		return "close"
	default:
		return "none"
	}
}

// PositionState tells an indicator which side, if any, the strategy currently
// holds in the symbol.
type PositionState int

const (
	StateNone PositionState = iota
	StateLong
	StateShort
)

// ID is the stable parametric identity of an indicator instance, used as a
// cache key.
type ID struct {
	Name       string
	Period1    int
	Period2    int
	Period3    int
	Multiplier float64
}

// PeriodID builds an identity from a single period.
func PeriodID(name string, period int) ID {
	return ID{Name: name, Period1: period}
}

// SignalFastSlowID builds an identity from a signal, fast and slow period.
func SignalFastSlowID(name string, signalPeriod, fastPeriod, slowPeriod int) ID {
	return ID{Name: name, Period1: signalPeriod, Period2: fastPeriod, Period3: slowPeriod}
}

// PeriodMultiplierID builds an identity from a period and a band multiplier.
func PeriodMultiplierID(name string, period int, multiplier float64) ID {
	return ID{Name: name, Period1: period, Multiplier: multiplier}
}

// Indicator consumes one bar per tick and produces a readout plus a trade
// signal once its buffers are warm.
type Indicator interface {
	// ID returns the parametric identity used for caching.
	ID() ID
	// Description returns a human-readable form such as "RSI(14, 30, 70)".
	Description() string
	// Next consumes one bar.
	Next(record *ohlc.Record)
	// Indicators returns the current readout, or nil while warming up.
	Indicators() []float64
	// TradeSignal derives a signal from the readout and the held position.
	TradeSignal(state PositionState) Signal
	// NeedsInitialization returns the number of historical bars to feed in
	// before the simulation window, and whether any are still needed.
	NeedsInitialization() (int, bool)
	// Clone returns an independent copy with the same parameters and state.
	Clone() Indicator
}

// Initialize feeds historical bars into an indicator to warm up its buffers.
func Initialize(ind Indicator, records []*ohlc.Record) {
	for _, record := range records {
		ind.Next(record)
	}
}

const emaBufferSizeMultiplier = 2

var (
	errPeriod     = errors.New("period must be at least 2")
	errMultiplier = errors.New("channel multiplier must be positive")
)

func validatePeriod(period int) error {
	if period < 2 {
		return fmt.Errorf("%w: got %d", errPeriod, period)
	}
	return nil
}

func validateMultiplier(multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("%w: got %v", errMultiplier, multiplier)
	}
	return nil
}

func validateSignalParameters(signalPeriod, fastPeriod, slowPeriod int) error {
	for _, period := range []int{signalPeriod, fastPeriod, slowPeriod} {
		if err := validatePeriod(period); err != nil {
			return err
		}
	}
	if fastPeriod >= slowPeriod {
		return fmt.Errorf("fast period %d must be below slow period %d", fastPeriod, slowPeriod)
	}
	return nil
}

func validateFastSlowParameters(fastPeriod int, slowPeriod *int) error {
	if err := validatePeriod(fastPeriod); err != nil {
		return err
	}
	if slowPeriod != nil {
		if err := validatePeriod(*slowPeriod); err != nil {
			return err
		}
		if fastPeriod >= *slowPeriod {
			return fmt.Errorf("fast period %d must be below slow period %d", fastPeriod, *slowPeriod)
		}
	}
	return nil
}

// translateSignal turns a signed difference into a directional signal.
func translateSignal(difference float64) Signal {
	switch {
	case difference > 0:
		return SignalLong
	case difference < 0:
		return SignalShort
	default:
		return SignalNone
	}
}

// exponentialMovingAverage weighs samples, newest first, with coefficients
// lambda*(1-lambda)^i where lambda = 2/(period+1), normalized by the
// coefficient sum so a finite buffer does not distort the average.
func exponentialMovingAverage(values []float64, period int) float64 {
	lambda := 2.0 / float64(period+1)
	sum := 0.0
	coefficientSum := 0.0
	coefficient := lambda
	for _, x := range values {
		sum += coefficient * x
		coefficientSum += coefficient
		coefficient *= 1 - lambda
	}
	if coefficientSum == 0 {
		return 0
	}
	return sum / coefficientSum
}

// trueRange is the greatest of the bar range and the gaps to the previous
// close.
func trueRange(record *ohlc.Record, previousClose float64) float64 {
	part1 := record.High - record.Low
	part2 := record.High - previousClose
	if part2 < 0 {
		part2 = -part2
	}
	part3 := record.Low - previousClose
	if part3 < 0 {
		part3 = -part3
	}
	result := part1
	if part2 > result {
		result = part2
	}
	if part3 > result {
		result = part3
	}
	return result
}

package indicator

import (
	"fmt"

	"github.com/futsim/futsim/internal/ohlc"
)

// Indicator name constants used by the registry and for cache identities.
const (
	SimpleMovingAverageID       = "p-sma"
	SimpleCrossoverID           = "smac"
	LinearMovingAverageID       = "p-lma"
	LinearCrossoverID           = "lmac"
	ExponentialMovingAverageID  = "p-ema"
	ExponentialCrossoverID      = "emac"
	MomentumID                  = "momentum"
	RelativeStrengthID          = "rsi"
	MovingAverageConvergenceID  = "macd"
	PercentagePriceOscillatorID = "ppo"
	BollingerBandsID            = "bollinger"
	KeltnerChannelID            = "keltner"
	DonchianChannelID           = "donchian"
	AverageDirectionalIndexID   = "adx"
	AverageTrueRangeID          = "atr"
	RateOfChangeID              = "roc"
)

type averageFunc func(period int, values []float64) float64

// movingAverage is the shared core of the moving-average family. With a slow
// period the signal is the sign of fast minus slow, otherwise the sign of
// price minus the fast average.
type movingAverage struct {
	fastPeriod  int
	slowPeriod  *int
	buffer      Buffer
	fastAverage *float64
	slowAverage *float64
	signal      Signal
}

func newMovingAverage(fastPeriod int, slowPeriod *int, bufferSizeMultiplier int) (movingAverage, error) {
	if bufferSizeMultiplier < 1 || bufferSizeMultiplier > 5 {
		return movingAverage{}, fmt.Errorf("invalid buffer size multiplier %d", bufferSizeMultiplier)
	}
	if err := validateFastSlowParameters(fastPeriod, slowPeriod); err != nil {
		return movingAverage{}, err
	}
	return movingAverage{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		buffer:     NewBufferWithSlow(fastPeriod, slowPeriod, bufferSizeMultiplier),
	}, nil
}

func (m *movingAverage) step(record *ohlc.Record, calculate averageFunc) {
	m.buffer.Add(record.Close)
	if !m.buffer.Filled() {
		return
	}
	values := m.buffer.Values()
	fast := calculate(m.fastPeriod, values)
	m.fastAverage = &fast
	var difference float64
	if m.slowPeriod != nil {
		slow := calculate(*m.slowPeriod, values)
		m.slowAverage = &slow
		difference = fast - slow
	} else {
		difference = values[0] - fast
	}
	m.signal = translateSignal(difference)
}

func (m *movingAverage) indicators() []float64 {
	if m.fastAverage == nil {
		return nil
	}
	if m.slowAverage != nil {
		return []float64{*m.fastAverage, *m.slowAverage}
	}
	return []float64{*m.fastAverage}
}

func (m *movingAverage) id(plainName, crossoverName string) ID {
	if m.slowPeriod != nil {
		return ID{Name: crossoverName, Period1: m.fastPeriod, Period2: *m.slowPeriod}
	}
	return PeriodID(plainName, m.fastPeriod)
}

func (m *movingAverage) description(plainName, crossoverName string) string {
	if m.slowPeriod != nil {
		return fmt.Sprintf("%s(%d, %d)", crossoverName, m.fastPeriod, *m.slowPeriod)
	}
	return fmt.Sprintf("%s(%d)", plainName, m.fastPeriod)
}

func (m *movingAverage) clone() movingAverage {
	clone := *m
	clone.buffer = m.buffer.Clone()
	if m.fastAverage != nil {
		value := *m.fastAverage
		clone.fastAverage = &value
	}
	if m.slowAverage != nil {
		value := *m.slowAverage
		clone.slowAverage = &value
	}
	return clone
}

// SimpleMovingAverage is the arithmetic mean of the last n closes.
type SimpleMovingAverage struct {
	movingAverage
}

// NewSimpleMovingAverage creates an SMA, or an SMA crossover when a slow
// period is given.
func NewSimpleMovingAverage(fastPeriod int, slowPeriod *int) (*SimpleMovingAverage, error) {
	core, err := newMovingAverage(fastPeriod, slowPeriod, 1)
	if err != nil {
		return nil, err
	}
	return &SimpleMovingAverage{movingAverage: core}, nil
}

func (s *SimpleMovingAverage) ID() ID {
	return s.id(SimpleMovingAverageID, SimpleCrossoverID)
}

func (s *SimpleMovingAverage) Description() string {
	return s.description("P-SMA", "SMAC")
}

func (s *SimpleMovingAverage) Next(record *ohlc.Record) {
	s.step(record, func(period int, values []float64) float64 {
		sum := 0.0
		for _, x := range values[:period] {
			sum += x
		}
		return sum / float64(period)
	})
}

func (s *SimpleMovingAverage) Indicators() []float64 {
	return s.indicators()
}

func (s *SimpleMovingAverage) TradeSignal(PositionState) Signal {
	return s.signal
}

func (s *SimpleMovingAverage) NeedsInitialization() (int, bool) {
	return s.buffer.NeedsInitialization()
}

func (s *SimpleMovingAverage) Clone() Indicator {
	return &SimpleMovingAverage{movingAverage: s.clone()}
}

// LinearMovingAverage weighs the last n closes linearly, newest heaviest.
type LinearMovingAverage struct {
	movingAverage
}

// NewLinearMovingAverage creates an LMA, or an LMA crossover when a slow
// period is given.
func NewLinearMovingAverage(fastPeriod int, slowPeriod *int) (*LinearMovingAverage, error) {
	core, err := newMovingAverage(fastPeriod, slowPeriod, 1)
	if err != nil {
		return nil, err
	}
	return &LinearMovingAverage{movingAverage: core}, nil
}

func (l *LinearMovingAverage) ID() ID {
	return l.id(LinearMovingAverageID, LinearCrossoverID)
}

func (l *LinearMovingAverage) Description() string {
	return l.description("P-LMA", "LMAC")
}

func (l *LinearMovingAverage) Next(record *ohlc.Record) {
	l.step(record, func(period int, values []float64) float64 {
		average := 0.0
		for i, x := range values[:period] {
			average += float64(period-i) * x
		}
		return average / (float64(period*(period+1)) / 2)
	})
}

func (l *LinearMovingAverage) Indicators() []float64 {
	return l.indicators()
}

func (l *LinearMovingAverage) TradeSignal(PositionState) Signal {
	return l.signal
}

func (l *LinearMovingAverage) NeedsInitialization() (int, bool) {
	return l.buffer.NeedsInitialization()
}

func (l *LinearMovingAverage) Clone() Indicator {
	return &LinearMovingAverage{movingAverage: l.clone()}
}

// ExponentialMovingAverage weighs closes with exponentially decaying
// coefficients over a buffer twice the period long.
type ExponentialMovingAverage struct {
	movingAverage
}

// NewExponentialMovingAverage creates an EMA, or an EMA crossover when a slow
// period is given.
func NewExponentialMovingAverage(fastPeriod int, slowPeriod *int) (*ExponentialMovingAverage, error) {
	core, err := newMovingAverage(fastPeriod, slowPeriod, emaBufferSizeMultiplier)
	if err != nil {
		return nil, err
	}
	return &ExponentialMovingAverage{movingAverage: core}, nil
}

func (e *ExponentialMovingAverage) ID() ID {
	return e.id(ExponentialMovingAverageID, ExponentialCrossoverID)
}

func (e *ExponentialMovingAverage) Description() string {
	return e.description("P-EMA", "EMAC")
}

func (e *ExponentialMovingAverage) Next(record *ohlc.Record) {
	e.step(record, func(period int, values []float64) float64 {
		return exponentialMovingAverage(values, period)
	})
}

func (e *ExponentialMovingAverage) Indicators() []float64 {
	return e.indicators()
}

func (e *ExponentialMovingAverage) TradeSignal(PositionState) Signal {
	return e.signal
}

func (e *ExponentialMovingAverage) NeedsInitialization() (int, bool) {
	return e.buffer.NeedsInitialization()
}

func (e *ExponentialMovingAverage) Clone() Indicator {
	return &ExponentialMovingAverage{movingAverage: e.clone()}
}

package indicator

import (
	"fmt"

	"github.com/futsim/futsim/internal/ohlc"
	"github.com/futsim/futsim/internal/stats"
)

// Momentum is the difference between the oldest and newest close in its
// window.
type Momentum struct {
	buffer   Buffer
	readout  *float64
	momentum float64
}

// NewMomentum creates a momentum indicator over period closes.
func NewMomentum(period int) (*Momentum, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &Momentum{buffer: NewBuffer(period)}, nil
}

func (m *Momentum) ID() ID {
	return PeriodID(MomentumID, m.buffer.Size())
}

func (m *Momentum) Description() string {
	return fmt.Sprintf("Momentum(%d)", m.buffer.Size())
}

func (m *Momentum) Next(record *ohlc.Record) {
	m.buffer.Add(record.Close)
	if !m.buffer.Filled() {
		return
	}
	newest, _ := m.buffer.Front()
	oldest, _ := m.buffer.Back()
	m.momentum = oldest - newest
	m.readout = &m.momentum
}

func (m *Momentum) Indicators() []float64 {
	if m.readout == nil {
		return nil
	}
	return []float64{m.momentum}
}

func (m *Momentum) TradeSignal(PositionState) Signal {
	if m.readout == nil {
		return SignalNone
	}
	return translateSignal(m.momentum)
}

func (m *Momentum) NeedsInitialization() (int, bool) {
	return m.buffer.NeedsInitialization()
}

func (m *Momentum) Clone() Indicator {
	clone := *m
	clone.buffer = m.buffer.Clone()
	if m.readout != nil {
		clone.readout = &clone.momentum
	}
	return &clone
}

// RelativeStrength is the RSI over running means of close-to-close gains and
// losses, with low/high thresholds that gate the signals.
type RelativeStrength struct {
	period        int
	lowThreshold  float64
	highThreshold float64
	buffer        Buffer
	readout       *float64
}

// NewRelativeStrength creates an RSI over period deltas.
func NewRelativeStrength(period int, lowThreshold, highThreshold float64) (*RelativeStrength, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if lowThreshold >= highThreshold {
		return nil, fmt.Errorf("low threshold %v must be below high threshold %v", lowThreshold, highThreshold)
	}
	return &RelativeStrength{
		period:        period,
		lowThreshold:  lowThreshold,
		highThreshold: highThreshold,
		buffer:        NewBuffer(period + 1),
	}, nil
}

func (r *RelativeStrength) ID() ID {
	return PeriodID(RelativeStrengthID, r.period)
}

func (r *RelativeStrength) Description() string {
	return fmt.Sprintf("RSI(%d, %v, %v)", r.period, r.lowThreshold, r.highThreshold)
}

func (r *RelativeStrength) calculate() float64 {
	values := r.buffer.Values()
	var up, down []float64
	previousClose := values[len(values)-1]
	for i := len(values) - 1; i >= 0; i-- {
		difference := values[i] - previousClose
		if difference >= 0 {
			up = append(up, difference)
		} else {
			down = append(down, -difference)
		}
		previousClose = values[i]
	}
	upMean := stats.MeanOr(up, 0)
	downMean := stats.MeanOr(down, 0)
	if upMean+downMean == 0 {
		return 0
	}
	return 100 * upMean / (upMean + downMean)
}

func (r *RelativeStrength) Next(record *ohlc.Record) {
	r.buffer.Add(record.Close)
	if !r.buffer.Filled() {
		return
	}
	rsi := r.calculate()
	r.readout = &rsi
}

func (r *RelativeStrength) Indicators() []float64 {
	if r.readout == nil {
		return nil
	}
	return []float64{*r.readout}
}

func (r *RelativeStrength) TradeSignal(state PositionState) Signal {
	if r.readout == nil {
		return SignalNone
	}
	rsi := *r.readout
	switch state {
	case StateLong:
		if rsi > r.highThreshold {
			return SignalClose
		}
	case StateShort:
		if rsi < r.lowThreshold {
			return SignalClose
		}
	default:
		if rsi > r.highThreshold {
			return SignalShort
		}
		if rsi < r.lowThreshold {
			return SignalLong
		}
	}
	return SignalNone
}

func (r *RelativeStrength) NeedsInitialization() (int, bool) {
	return r.buffer.NeedsInitialization()
}

func (r *RelativeStrength) Clone() Indicator {
	clone := *r
	clone.buffer = r.buffer.Clone()
	if r.readout != nil {
		value := *r.readout
		clone.readout = &value
	}
	return &clone
}

// MovingAverageConvergence is the MACD: fast EMA minus slow EMA over closes,
// with an EMA of that series as the signal line.
type MovingAverageConvergence struct {
	signalPeriod int
	fastPeriod   int
	slowPeriod   int
	closeBuffer  Buffer
	signalBuffer Buffer
	readout      *[2]float64
}

// NewMovingAverageConvergence creates a MACD indicator.
func NewMovingAverageConvergence(signalPeriod, fastPeriod, slowPeriod int) (*MovingAverageConvergence, error) {
	if err := validateSignalParameters(signalPeriod, fastPeriod, slowPeriod); err != nil {
		return nil, err
	}
	closeSize := fastPeriod
	if slowPeriod > closeSize {
		closeSize = slowPeriod
	}
	return &MovingAverageConvergence{
		signalPeriod: signalPeriod,
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		closeBuffer:  NewBuffer(emaBufferSizeMultiplier * closeSize),
		signalBuffer: NewBuffer(emaBufferSizeMultiplier * signalPeriod),
	}, nil
}

func (m *MovingAverageConvergence) ID() ID {
	return SignalFastSlowID(MovingAverageConvergenceID, m.signalPeriod, m.fastPeriod, m.slowPeriod)
}

func (m *MovingAverageConvergence) Description() string {
	return fmt.Sprintf("MACD(%d, %d, %d)", m.signalPeriod, m.fastPeriod, m.slowPeriod)
}

func (m *MovingAverageConvergence) Next(record *ohlc.Record) {
	m.closeBuffer.Add(record.Close)
	if !m.closeBuffer.Filled() {
		return
	}
	closes := m.closeBuffer.Values()
	signal := exponentialMovingAverage(m.signalBuffer.Values(), m.signalPeriod)
	macd := exponentialMovingAverage(closes, m.fastPeriod) - exponentialMovingAverage(closes, m.slowPeriod)
	m.signalBuffer.Add(macd)
	if !m.signalBuffer.Filled() {
		return
	}
	m.readout = &[2]float64{signal, macd}
}

func (m *MovingAverageConvergence) Indicators() []float64 {
	if m.readout == nil {
		return nil
	}
	return []float64{m.readout[0], m.readout[1]}
}

func (m *MovingAverageConvergence) TradeSignal(PositionState) Signal {
	if m.readout == nil {
		return SignalNone
	}
	return translateSignal(m.readout[1] - m.readout[0])
}

func (m *MovingAverageConvergence) NeedsInitialization() (int, bool) {
	if _, needed := m.signalBuffer.NeedsInitialization(); needed {
		return m.closeBuffer.Size() + m.signalBuffer.Size(), true
	}
	return 0, false
}

func (m *MovingAverageConvergence) Clone() Indicator {
	clone := *m
	clone.closeBuffer = m.closeBuffer.Clone()
	clone.signalBuffer = m.signalBuffer.Clone()
	if m.readout != nil {
		value := *m.readout
		clone.readout = &value
	}
	return &clone
}

// PercentagePriceOscillator is the MACD's difference expressed as a
// percentage of the slow average.
type PercentagePriceOscillator struct {
	signalPeriod int
	fastPeriod   int
	slowPeriod   int
	closeBuffer  Buffer
	signalBuffer Buffer
	readout      *[2]float64
}

// NewPercentagePriceOscillator creates a PPO indicator.
func NewPercentagePriceOscillator(signalPeriod, fastPeriod, slowPeriod int) (*PercentagePriceOscillator, error) {
	if err := validateSignalParameters(signalPeriod, fastPeriod, slowPeriod); err != nil {
		return nil, err
	}
	closeSize := fastPeriod
	if slowPeriod > closeSize {
		closeSize = slowPeriod
	}
	return &PercentagePriceOscillator{
		signalPeriod: signalPeriod,
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		closeBuffer:  NewBuffer(closeSize),
		signalBuffer: NewBuffer(signalPeriod),
	}, nil
}

func (p *PercentagePriceOscillator) ID() ID {
	return SignalFastSlowID(PercentagePriceOscillatorID, p.signalPeriod, p.fastPeriod, p.slowPeriod)
}

func (p *PercentagePriceOscillator) Description() string {
	return fmt.Sprintf("PPO(%d, %d, %d)", p.signalPeriod, p.fastPeriod, p.slowPeriod)
}

func (p *PercentagePriceOscillator) Next(record *ohlc.Record) {
	p.closeBuffer.Add(record.Close)
	if !p.closeBuffer.Filled() {
		return
	}
	closes := p.closeBuffer.Values()
	fast := exponentialMovingAverage(closes, p.fastPeriod)
	slow := exponentialMovingAverage(closes, p.slowPeriod)
	if slow == 0 {
		return
	}
	ppo := 100 * (fast - slow) / slow
	p.signalBuffer.Add(ppo)
	if !p.signalBuffer.Filled() {
		return
	}
	signal := exponentialMovingAverage(p.signalBuffer.Values(), p.signalPeriod)
	p.readout = &[2]float64{signal, ppo}
}

func (p *PercentagePriceOscillator) Indicators() []float64 {
	if p.readout == nil {
		return nil
	}
	return []float64{p.readout[0], p.readout[1]}
}

func (p *PercentagePriceOscillator) TradeSignal(PositionState) Signal {
	if p.readout == nil {
		return SignalNone
	}
	return translateSignal(p.readout[1] - p.readout[0])
}

func (p *PercentagePriceOscillator) NeedsInitialization() (int, bool) {
	if _, needed := p.signalBuffer.NeedsInitialization(); needed {
		return p.closeBuffer.Size() + p.signalBuffer.Size(), true
	}
	return 0, false
}

func (p *PercentagePriceOscillator) Clone() Indicator {
	clone := *p
	clone.closeBuffer = p.closeBuffer.Clone()
	clone.signalBuffer = p.signalBuffer.Clone()
	if p.readout != nil {
		value := *p.readout
		clone.readout = &value
	}
	return &clone
}

// RateOfChange is 100 * (oldest / newest - 1) over the closes in its window.
// Informational only, it emits no trade signal.
type RateOfChange struct {
	buffer Buffer
}

// NewRateOfChange creates a rate-of-change indicator over period closes.
func NewRateOfChange(period int) (*RateOfChange, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &RateOfChange{buffer: NewBuffer(period)}, nil
}

func (r *RateOfChange) ID() ID {
	return PeriodID(RateOfChangeID, r.buffer.Size())
}

func (r *RateOfChange) Description() string {
	return fmt.Sprintf("ROC(%d)", r.buffer.Size())
}

func (r *RateOfChange) Next(record *ohlc.Record) {
	r.buffer.Add(record.Close)
}

func (r *RateOfChange) Indicators() []float64 {
	if !r.buffer.Filled() {
		return nil
	}
	newest, _ := r.buffer.Front()
	oldest, _ := r.buffer.Back()
	if newest == 0 {
		return nil
	}
	return []float64{100 * (oldest/newest - 1)}
}

func (r *RateOfChange) TradeSignal(PositionState) Signal {
	return SignalNone
}

func (r *RateOfChange) NeedsInitialization() (int, bool) {
	return r.buffer.NeedsInitialization()
}

func (r *RateOfChange) Clone() Indicator {
	clone := *r
	clone.buffer = r.buffer.Clone()
	return &clone
}

package indicator

import (
	"fmt"

	"github.com/futsim/futsim/internal/ohlc"
	"github.com/futsim/futsim/internal/stats"
)

// ChannelExitMode selects how a channel indicator closes a position: at the
// channel center, or at the opposite band.
type ChannelExitMode string

const (
	ExitCenter       ChannelExitMode = "center"
	ExitOppositeBand ChannelExitMode = "oppositeBand"
)

// ParseChannelExitMode validates an exit mode string.
func ParseChannelExitMode(value string) (ChannelExitMode, error) {
	switch ChannelExitMode(value) {
	case ExitCenter, ExitOppositeBand:
		return ChannelExitMode(value), nil
	default:
		return "", fmt.Errorf("unknown channel exit mode %q", value)
	}
}

// channel is a (center, lower, upper) band readout.
type channel struct {
	center float64
	lower  float64
	upper  float64
}

func (c *channel) indicators() []float64 {
	if c == nil {
		return nil
	}
	return []float64{c.center, c.lower, c.upper}
}

// channelTradeSignal generates signals on band touches: close at or below the
// lower band opens long, at or above the upper band opens short; positions
// close when price comes back through the center or the opposite band,
// depending on the exit mode.
func channelTradeSignal(close float64, bands *channel, exitMode ChannelExitMode, state PositionState) Signal {
	if bands == nil {
		return SignalNone
	}
	switch state {
	case StateLong:
		exit := bands.center
		if exitMode == ExitOppositeBand {
			exit = bands.upper
		}
		if close >= exit {
			return SignalClose
		}
	case StateShort:
		exit := bands.center
		if exitMode == ExitOppositeBand {
			exit = bands.lower
		}
		if close <= exit {
			return SignalClose
		}
	default:
		if close <= bands.lower {
			return SignalLong
		}
		if close >= bands.upper {
			return SignalShort
		}
	}
	return SignalNone
}

// BollingerBands centers on an EMA with bands at a multiple of the biased
// standard deviation around it.
type BollingerBands struct {
	multiplier float64
	exitMode   ChannelExitMode
	buffer     Buffer
	bands      *channel
}

// NewBollingerBands creates Bollinger bands over period closes.
func NewBollingerBands(period int, multiplier float64, exitMode ChannelExitMode) (*BollingerBands, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if err := validateMultiplier(multiplier); err != nil {
		return nil, err
	}
	return &BollingerBands{
		multiplier: multiplier,
		exitMode:   exitMode,
		buffer:     NewBuffer(period),
	}, nil
}

func (b *BollingerBands) ID() ID {
	return PeriodMultiplierID(BollingerBandsID, b.buffer.Size(), b.multiplier)
}

func (b *BollingerBands) Description() string {
	return fmt.Sprintf("Bollinger(%d, %.1f, %s)", b.buffer.Size(), b.multiplier, b.exitMode)
}

func (b *BollingerBands) Next(record *ohlc.Record) {
	b.buffer.Add(record.Close)
	if !b.buffer.Filled() {
		return
	}
	values := b.buffer.Values()
	center := exponentialMovingAverage(values, b.buffer.Size())
	deviation, err := stats.StandardDeviationMeanBiased(values, center)
	if err != nil {
		return
	}
	b.bands = &channel{
		center: center,
		lower:  center - b.multiplier*deviation,
		upper:  center + b.multiplier*deviation,
	}
}

func (b *BollingerBands) Indicators() []float64 {
	return b.bands.indicators()
}

func (b *BollingerBands) TradeSignal(state PositionState) Signal {
	close, ok := b.buffer.Front()
	if !ok {
		return SignalNone
	}
	return channelTradeSignal(close, b.bands, b.exitMode, state)
}

func (b *BollingerBands) NeedsInitialization() (int, bool) {
	return b.buffer.NeedsInitialization()
}

func (b *BollingerBands) Clone() Indicator {
	clone := *b
	clone.buffer = b.buffer.Clone()
	if b.bands != nil {
		bands := *b.bands
		clone.bands = &bands
	}
	return &clone
}

// KeltnerChannel centers on an EMA of closes with bands at a multiple of the
// average true range.
type KeltnerChannel struct {
	multiplier      float64
	exitMode        ChannelExitMode
	closeBuffer     Buffer
	trueRangeBuffer Buffer
	bands           *channel
}

// NewKeltnerChannel creates a Keltner channel over period bars.
func NewKeltnerChannel(period int, multiplier float64, exitMode ChannelExitMode) (*KeltnerChannel, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	if err := validateMultiplier(multiplier); err != nil {
		return nil, err
	}
	return &KeltnerChannel{
		multiplier:      multiplier,
		exitMode:        exitMode,
		closeBuffer:     NewBuffer(period),
		trueRangeBuffer: NewBuffer(period),
	}, nil
}

func (k *KeltnerChannel) ID() ID {
	return PeriodMultiplierID(KeltnerChannelID, k.closeBuffer.Size(), k.multiplier)
}

func (k *KeltnerChannel) Description() string {
	return fmt.Sprintf("Keltner(%d, %.1f, %s)", k.closeBuffer.Size(), k.multiplier, k.exitMode)
}

func (k *KeltnerChannel) Next(record *ohlc.Record) {
	if previousClose, ok := k.closeBuffer.Front(); ok {
		k.trueRangeBuffer.Add(trueRange(record, previousClose))
	}
	k.closeBuffer.Add(record.Close)
	if !k.closeBuffer.Filled() || !k.trueRangeBuffer.Filled() {
		return
	}
	center := exponentialMovingAverage(k.closeBuffer.Values(), k.closeBuffer.Size())
	bandWidth := k.multiplier * k.trueRangeBuffer.Average()
	k.bands = &channel{
		center: center,
		lower:  center - bandWidth,
		upper:  center + bandWidth,
	}
}

func (k *KeltnerChannel) Indicators() []float64 {
	return k.bands.indicators()
}

func (k *KeltnerChannel) TradeSignal(state PositionState) Signal {
	close, ok := k.closeBuffer.Front()
	if !ok {
		return SignalNone
	}
	return channelTradeSignal(close, k.bands, k.exitMode, state)
}

func (k *KeltnerChannel) NeedsInitialization() (int, bool) {
	if size, needed := k.closeBuffer.NeedsInitialization(); needed {
		return size + 1, true
	}
	return 0, false
}

func (k *KeltnerChannel) Clone() Indicator {
	clone := *k
	clone.closeBuffer = k.closeBuffer.Clone()
	clone.trueRangeBuffer = k.trueRangeBuffer.Clone()
	if k.bands != nil {
		bands := *k.bands
		clone.bands = &bands
	}
	return &clone
}

// DonchianChannel spans the minimum and maximum of the last n closes, with
// the center at the midpoint.
type DonchianChannel struct {
	exitMode ChannelExitMode
	buffer   Buffer
	bands    *channel
}

// NewDonchianChannel creates a Donchian channel over period closes.
func NewDonchianChannel(period int, exitMode ChannelExitMode) (*DonchianChannel, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	return &DonchianChannel{
		exitMode: exitMode,
		buffer:   NewBuffer(period),
	}, nil
}

func (d *DonchianChannel) ID() ID {
	return PeriodID(DonchianChannelID, d.buffer.Size())
}

func (d *DonchianChannel) Description() string {
	return fmt.Sprintf("Donchian(%d, %s)", d.buffer.Size(), d.exitMode)
}

func (d *DonchianChannel) Next(record *ohlc.Record) {
	d.buffer.Add(record.Close)
	if !d.buffer.Filled() {
		return
	}
	values := d.buffer.Values()
	lower, upper := values[0], values[0]
	for _, x := range values[1:] {
		if x < lower {
			lower = x
		}
		if x > upper {
			upper = x
		}
	}
	d.bands = &channel{
		center: (lower + upper) / 2,
		lower:  lower,
		upper:  upper,
	}
}

func (d *DonchianChannel) Indicators() []float64 {
	return d.bands.indicators()
}

func (d *DonchianChannel) TradeSignal(state PositionState) Signal {
	close, ok := d.buffer.Front()
	if !ok {
		return SignalNone
	}
	return channelTradeSignal(close, d.bands, d.exitMode, state)
}

func (d *DonchianChannel) NeedsInitialization() (int, bool) {
	if size, needed := d.buffer.NeedsInitialization(); needed {
		return size + 1, true
	}
	return 0, false
}

func (d *DonchianChannel) Clone() Indicator {
	clone := *d
	clone.buffer = d.buffer.Clone()
	if d.bands != nil {
		bands := *d.bands
		clone.bands = &bands
	}
	return &clone
}

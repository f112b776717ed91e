package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futsim/futsim/internal/ohlc"
)

func closeBar(close float64) *ohlc.Record {
	return &ohlc.Record{
		Symbol: "ESM24",
		Open:   close,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
	}
}

func feed(ind Indicator, closes ...float64) {
	for _, close := range closes {
		ind.Next(closeBar(close))
	}
}

func TestBufferNewestFirst(t *testing.T) {
	buffer := NewBuffer(3)
	buffer.Add(1)
	buffer.Add(2)
	buffer.Add(3)
	buffer.Add(4)
	assert.Equal(t, []float64{4, 3, 2}, buffer.Values())
	front, ok := buffer.Front()
	require.True(t, ok)
	assert.Equal(t, 4.0, front)
	back, ok := buffer.Back()
	require.True(t, ok)
	assert.Equal(t, 2.0, back)
	assert.InDelta(t, 3, buffer.Average(), 1e-9)
	assert.True(t, buffer.Filled())
	_, needed := buffer.NeedsInitialization()
	assert.False(t, needed)
}

func TestBufferNeedsInitialization(t *testing.T) {
	buffer := NewBuffer(5)
	buffer.Add(1)
	size, needed := buffer.NeedsInitialization()
	assert.True(t, needed)
	assert.Equal(t, 5, size)
}

func TestMomentumSignal(t *testing.T) {
	momentum, err := NewMomentum(3)
	require.NoError(t, err)
	_, needed := momentum.NeedsInitialization()
	assert.True(t, needed)

	// Falling closes: oldest - newest is positive.
	feed(momentum, 105, 104, 103)
	readout := momentum.Indicators()
	require.Len(t, readout, 1)
	assert.InDelta(t, 2, readout[0], 1e-9)
	assert.Equal(t, SignalLong, momentum.TradeSignal(StateNone))

	// Rising closes flip the sign.
	feed(momentum, 110, 120)
	assert.Equal(t, SignalShort, momentum.TradeSignal(StateNone))
}

func TestRateOfChange(t *testing.T) {
	roc, err := NewRateOfChange(3)
	require.NoError(t, err)
	feed(roc, 100, 105, 110)
	readout := roc.Indicators()
	require.Len(t, readout, 1)
	assert.InDelta(t, 100*(100.0/110.0-1), readout[0], 1e-9)
	assert.Equal(t, SignalNone, roc.TradeSignal(StateNone))
}

func TestRelativeStrengthRange(t *testing.T) {
	rsi, err := NewRelativeStrength(14, 30, 70)
	require.NoError(t, err)
	closes := []float64{
		100, 101, 99, 102, 103, 101, 104, 105, 103, 106,
		107, 105, 108, 109, 107, 110, 111, 109, 112, 113,
	}
	for _, close := range closes {
		rsi.Next(closeBar(close))
		if readout := rsi.Indicators(); readout != nil {
			assert.GreaterOrEqual(t, readout[0], 0.0)
			assert.LessOrEqual(t, readout[0], 100.0)
		}
	}
}

func TestRelativeStrengthSignals(t *testing.T) {
	rsi, err := NewRelativeStrength(3, 30, 70)
	require.NoError(t, err)

	// Monotone rally drives RSI to 100.
	feed(rsi, 100, 101, 102, 103, 104)
	assert.Equal(t, SignalShort, rsi.TradeSignal(StateNone))
	assert.Equal(t, SignalClose, rsi.TradeSignal(StateLong))
	assert.Equal(t, SignalNone, rsi.TradeSignal(StateShort))

	// Monotone sell-off drives RSI to 0.
	feed(rsi, 103, 102, 101, 100, 99)
	assert.Equal(t, SignalLong, rsi.TradeSignal(StateNone))
	assert.Equal(t, SignalClose, rsi.TradeSignal(StateShort))
	assert.Equal(t, SignalNone, rsi.TradeSignal(StateLong))
}

func TestExponentialBufferSize(t *testing.T) {
	ema, err := NewExponentialMovingAverage(10, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, ema.buffer.Size())
	size, needed := ema.NeedsInitialization()
	assert.True(t, needed)
	assert.Equal(t, 20, size)
}

func TestMovingAveragePriceSignal(t *testing.T) {
	sma, err := NewSimpleMovingAverage(3, nil)
	require.NoError(t, err)
	feed(sma, 100, 100, 106)
	// Price 106 above average 102.
	assert.Equal(t, SignalLong, sma.TradeSignal(StateNone))
	readout := sma.Indicators()
	require.Len(t, readout, 1)
	assert.InDelta(t, 102, readout[0], 1e-9)

	feed(sma, 90)
	// Price 90 below average of (90, 106, 100).
	assert.Equal(t, SignalShort, sma.TradeSignal(StateNone))
}

func TestMovingAverageCrossoverSignal(t *testing.T) {
	slow := 4
	smac, err := NewSimpleMovingAverage(2, &slow)
	require.NoError(t, err)
	feed(smac, 100, 100, 100, 110)
	// Fast average (105) above slow average (102.5).
	assert.Equal(t, SignalLong, smac.TradeSignal(StateNone))
	readout := smac.Indicators()
	require.Len(t, readout, 2)
	assert.InDelta(t, 105, readout[0], 1e-9)
	assert.InDelta(t, 102.5, readout[1], 1e-9)
}

func TestLinearMovingAverageWeights(t *testing.T) {
	lma, err := NewLinearMovingAverage(3, nil)
	require.NoError(t, err)
	feed(lma, 1, 2, 3)
	readout := lma.Indicators()
	require.Len(t, readout, 1)
	// Weights 3,2,1 on closes 3,2,1 -> (9+4+1)/6.
	assert.InDelta(t, 14.0/6.0, readout[0], 1e-9)
}

func TestMACDWarmupAndReadout(t *testing.T) {
	macd, err := NewMovingAverageConvergence(3, 4, 6)
	require.NoError(t, err)
	size, needed := macd.NeedsInitialization()
	assert.True(t, needed)
	// Close buffer 2*6 plus signal buffer 2*3.
	assert.Equal(t, 18, size)

	closes := make([]float64, 0, 30)
	price := 100.0
	for i := 0; i < 30; i++ {
		price += 1
		closes = append(closes, price)
	}
	feed(macd, closes...)
	readout := macd.Indicators()
	require.Len(t, readout, 2)
	_, needed = macd.NeedsInitialization()
	assert.False(t, needed)
	// A steady uptrend keeps the fast EMA above the slow EMA.
	assert.Positive(t, readout[1])
}

func TestPPOReadout(t *testing.T) {
	ppo, err := NewPercentagePriceOscillator(3, 4, 6)
	require.NoError(t, err)
	closes := make([]float64, 0, 20)
	price := 100.0
	for i := 0; i < 20; i++ {
		price *= 1.01
		closes = append(closes, price)
	}
	feed(ppo, closes...)
	readout := ppo.Indicators()
	require.Len(t, readout, 2)
	assert.Positive(t, readout[1])
}

func TestBollingerSignals(t *testing.T) {
	bollinger, err := NewBollingerBands(5, 1, ExitCenter)
	require.NoError(t, err)
	feed(bollinger, 100, 101, 99, 100, 101)
	require.NotNil(t, bollinger.Indicators())

	// Collapse through the lower band.
	feed(bollinger, 90)
	assert.Equal(t, SignalLong, bollinger.TradeSignal(StateNone))

	// Recover above the center: a long position closes.
	feed(bollinger, 100, 100, 100, 100, 100)
	assert.Equal(t, SignalClose, bollinger.TradeSignal(StateLong))
}

func TestBollingerReadoutShape(t *testing.T) {
	bollinger, err := NewBollingerBands(5, 2, ExitCenter)
	require.NoError(t, err)
	feed(bollinger, 100, 101, 99, 100, 101)
	readout := bollinger.Indicators()
	require.Len(t, readout, 3)
	center, lower, upper := readout[0], readout[1], readout[2]
	assert.Less(t, lower, center)
	assert.Greater(t, upper, center)
	assert.InDelta(t, center-lower, upper-center, 1e-9)
}

func TestKeltnerWarmup(t *testing.T) {
	keltner, err := NewKeltnerChannel(5, 1.5, ExitOppositeBand)
	require.NoError(t, err)
	size, needed := keltner.NeedsInitialization()
	assert.True(t, needed)
	assert.Equal(t, 6, size)
	feed(keltner, 100, 101, 99, 100, 101, 100)
	assert.Len(t, keltner.Indicators(), 3)
}

func TestDonchianBands(t *testing.T) {
	donchian, err := NewDonchianChannel(4, ExitCenter)
	require.NoError(t, err)
	feed(donchian, 100, 104, 98, 102)
	readout := donchian.Indicators()
	require.Len(t, readout, 3)
	assert.InDelta(t, 101, readout[0], 1e-9)
	assert.InDelta(t, 98, readout[1], 1e-9)
	assert.InDelta(t, 104, readout[2], 1e-9)
}

func TestAverageTrueRange(t *testing.T) {
	atr, err := NewAverageTrueRange(3)
	require.NoError(t, err)
	size, needed := atr.NeedsInitialization()
	assert.True(t, needed)
	assert.Equal(t, 4, size)

	feed(atr, 100, 102, 101, 103)
	readout := atr.Indicators()
	require.Len(t, readout, 1)
	// Each bar spans high-low = 2 and gaps at most 3 from the previous close.
	assert.Positive(t, readout[0])
	assert.Equal(t, SignalNone, atr.TradeSignal(StateNone))
}

func TestADXReadout(t *testing.T) {
	adx, err := NewAverageDirectionalIndex(3)
	require.NoError(t, err)
	size, needed := adx.NeedsInitialization()
	assert.True(t, needed)
	assert.Equal(t, 4, size)

	price := 100.0
	for i := 0; i < 12; i++ {
		price += 2
		adx.Next(closeBar(price))
	}
	readout := adx.Indicators()
	require.Len(t, readout, 1)
	assert.GreaterOrEqual(t, readout[0], 0.0)
	assert.LessOrEqual(t, readout[0], 100.0)
	assert.Equal(t, SignalNone, adx.TradeSignal(StateNone))
}

func TestCloneIndependence(t *testing.T) {
	rsi, err := NewRelativeStrength(3, 30, 70)
	require.NoError(t, err)
	feed(rsi, 100, 101, 102, 103)
	clone := rsi.Clone()
	feed(clone, 90, 80, 70)

	original := rsi.Indicators()
	cloned := clone.Indicators()
	require.NotNil(t, original)
	require.NotNil(t, cloned)
	assert.NotEqual(t, original[0], cloned[0])
	assert.Equal(t, rsi.ID(), clone.ID())
}

func TestValidation(t *testing.T) {
	_, err := NewMomentum(1)
	assert.Error(t, err)
	_, err = NewBollingerBands(5, -1, ExitCenter)
	assert.Error(t, err)
	slow := 3
	_, err = NewSimpleMovingAverage(5, &slow)
	assert.Error(t, err)
	_, err = NewMovingAverageConvergence(3, 6, 4)
	assert.Error(t, err)
	_, err = ParseChannelExitMode("sideways")
	assert.Error(t, err)
}

package backtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futsim/futsim/internal/asset"
	"github.com/futsim/futsim/internal/ohlc"
)

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func oi(value uint32) *uint32 {
	return &value
}

func futuresBar(symbol string, t time.Time, close float64, openInterest uint32) ohlc.RawRecord {
	return ohlc.RawRecord{
		Symbol:       symbol,
		Time:         t,
		Open:         close,
		High:         close + 5,
		Low:          close - 5,
		Close:        close,
		Volume:       100,
		OpenInterest: oi(openInterest),
	}
}

// esArchive builds a two-contract ES series: ESM24 dominates through day 4,
// ESU24 from day 5 on. Closes are flat at 5100 so margin scaling is exactly
// one and entries at the close carry no unrealized gain.
func esArchive(t *testing.T) *ohlc.Archive {
	t.Helper()
	var records []ohlc.RawRecord
	for d := 1; d <= 3; d++ {
		records = append(records, futuresBar("ESM24", day(d), 5100, 100))
	}
	records = append(records,
		futuresBar("ESM24", day(4), 5100, 300),
		futuresBar("ESU24", day(4), 5100, 50),
		futuresBar("ESM24", day(5), 5100, 100),
		futuresBar("ESU24", day(5), 5100, 400),
	)
	for d := 6; d <= 10; d++ {
		records = append(records, futuresBar("ESU24", day(d), 5100, 400))
	}
	raw := &ohlc.RawArchive{Daily: records, IntradayMinutes: 60}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	return archive
}

func eurArchive(t *testing.T) *ohlc.Archive {
	t.Helper()
	var records []ohlc.RawRecord
	for d := 1; d <= 10; d++ {
		records = append(records, ohlc.RawRecord{
			Symbol: "^EURUSD",
			Time:   day(d),
			Open:   1.10,
			High:   1.11,
			Low:    1.09,
			Close:  1.10,
			Volume: 0,
		})
	}
	raw := &ohlc.RawArchive{Daily: records, IntradayMinutes: 60}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	return archive
}

func esAsset() asset.Asset {
	return asset.Asset{
		Symbol:          "ES",
		Name:            "E-mini S&P 500",
		AssetType:       asset.Futures,
		Currency:        asset.CurrencyUSD,
		TickSize:        0.25,
		TickValue:       12.50,
		Margin:          5000,
		OvernightMargin: true,
	}
}

func testManager(t *testing.T) *asset.Manager {
	t.Helper()
	return asset.NewManagerFromParts(
		map[string]*ohlc.Archive{
			"ES":      esArchive(t),
			"^EURUSD": eurArchive(t),
		},
		map[string]asset.Asset{"ES": esAsset()},
	)
}

func testConfig() Config {
	return Config{
		StartingCash:         100000,
		ForexOrderFee:        10,
		ForexSpread:          1.0002,
		FuturesSpreadTicks:   0,
		InitialMarginRatio:   1.0,
		OvernightMarginRatio: 1.0,
		RuinRatio:            0,
		TimeReference:        "ES",
	}
}

func newTestBacktest(t *testing.T, config Config) *Backtest {
	t.Helper()
	bt, err := New(day(1), day(11), ohlc.TimeFrameDaily, config, testManager(t))
	require.NoError(t, err)
	return bt
}

func TestNewRejectsInvalidWindow(t *testing.T) {
	_, err := New(day(5), day(5), ohlc.TimeFrameDaily, testConfig(), testManager(t))
	assert.Error(t, err)
}

func TestTimeSequenceWindow(t *testing.T) {
	bt, err := New(day(3), day(6), ohlc.TimeFrameDaily, testConfig(), testManager(t))
	require.NoError(t, err)
	assert.Len(t, bt.timeSequence, 3)
	assert.True(t, bt.timeSequence[0].Equal(day(3)))
	assert.True(t, bt.timeSequence[2].Equal(day(5)))
}

func TestOpenPositionMath(t *testing.T) {
	config := testConfig()
	config.FuturesSpreadTicks = 2
	bt := newTestBacktest(t, config)
	_, err := bt.Next()
	require.NoError(t, err)

	id, err := bt.OpenPosition("ES", 2, Long)
	require.NoError(t, err)
	position, ok := bt.Position(id)
	require.True(t, ok)
	assert.Equal(t, "ESM24", position.Symbol)
	assert.Equal(t, uint32(2), position.Count)
	// Ask is close plus two ticks.
	assert.InDelta(t, 5100.5, position.Price, 1e-9)
	// Flat closes: maintenance equals base margin, initial ratio one.
	assert.InDelta(t, 10000, position.Margin, 1e-9)
	assert.InDelta(t, 90000, bt.cash, 1e-9)
}

func TestOpenPositionByContractSymbol(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)
	id, err := bt.OpenPosition("ESM24", 1, Short)
	require.NoError(t, err)
	position, _ := bt.Position(id)
	assert.Equal(t, "ESM24", position.Symbol)
	assert.Equal(t, Short, position.Side)
}

func TestOpenPositionInsufficientCash(t *testing.T) {
	config := testConfig()
	config.StartingCash = 1000
	bt := newTestBacktest(t, config)
	_, err := bt.Next()
	require.NoError(t, err)
	_, err = bt.OpenPosition("ES", 1, Long)
	assert.ErrorIs(t, err, ErrInsufficientCash)
}

func TestCloseReleasesBaseMargin(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)

	id, err := bt.OpenPosition("ES", 2, Long)
	require.NoError(t, err)
	cashBefore := bt.cash
	require.NoError(t, bt.ClosePosition(id, 2))
	// Flat prices and no fees: exactly count times base margin comes back,
	// regardless of the margin that was retained on open.
	assert.InDelta(t, cashBefore+2*5000, bt.cash, 1e-9)
	_, ok := bt.Position(id)
	assert.False(t, ok)
}

func TestPartialCloseDecrementsInPlace(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)
	id, err := bt.OpenPosition("ES", 3, Long)
	require.NoError(t, err)
	require.NoError(t, bt.ClosePosition(id, 1))
	position, ok := bt.Position(id)
	require.True(t, ok)
	assert.Equal(t, uint32(2), position.Count)
	assert.Error(t, bt.ClosePosition(id, 5))
}

func TestCurrencyConversion(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)

	converted, fee, err := bt.convertToUSD(asset.CurrencyEUR, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1000*1.10/1.0002, converted, 1e-9)
	assert.InDelta(t, 10, fee, 1e-9)

	back, fee, err := bt.convertFromUSD(asset.CurrencyEUR, 1100)
	require.NoError(t, err)
	assert.InDelta(t, 1100/1.10/1.0002, back, 1e-9)
	assert.InDelta(t, 10, fee, 1e-9)

	identity, fee, err := bt.convertToUSD(asset.CurrencyUSD, 42)
	require.NoError(t, err)
	assert.InDelta(t, 42, identity, 1e-9)
	assert.Zero(t, fee)

	_, _, err = bt.convertToUSD("CHF", 1)
	assert.Error(t, err)
}

func TestMarginCallCascade(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := bt.OpenPosition("ES", 1, Long)
		require.NoError(t, err)
	}
	// Overnight margin is 15k; force the account value down to 12k so a
	// single liquidation restores the collateral.
	bt.cash = -3000

	_, err = bt.Next()
	require.NoError(t, err)

	marginCalls := 0
	closes := 0
	for _, event := range bt.events {
		switch event.EventType {
		case EventMarginCall:
			marginCalls++
		case EventClosePosition:
			closes++
		}
	}
	assert.Equal(t, 1, marginCalls)
	assert.Equal(t, 1, closes)
	assert.Len(t, bt.positions, 2)
}

func TestRuinTerminates(t *testing.T) {
	config := testConfig()
	config.RuinRatio = 0.5
	bt := newTestBacktest(t, config)
	_, err := bt.Next()
	require.NoError(t, err)

	bt.cash = 40000
	_, err = bt.Next()
	assert.ErrorIs(t, err, ErrRuin)

	// The report is still well-formed and includes the ruin event.
	result := bt.Result()
	found := false
	for _, event := range result.Events {
		if event.EventType == EventRuin {
			found = true
		}
	}
	assert.True(t, found)

	// The error is latched.
	_, err = bt.Next()
	assert.ErrorIs(t, err, ErrRuin)
}

func TestAutomaticRollover(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)

	_, err = bt.OpenPosition("ES", 2, Long)
	require.NoError(t, err)

	// Advance into day 5, where ESU24 takes over as the most popular
	// contract.
	for i := 0; i < 4; i++ {
		_, err := bt.Next()
		require.NoError(t, err)
	}

	position, ok := bt.PositionByRoot("ES")
	require.True(t, ok)
	assert.Equal(t, "ESU24", position.Symbol)
	assert.Equal(t, uint32(2), position.Count)
	assert.Equal(t, Long, position.Side)

	rollovers := 0
	for _, event := range bt.events {
		if event.EventType == EventRollover {
			rollovers++
		}
	}
	assert.Equal(t, 1, rollovers)
}

func TestRunToCompletionClosesPositions(t *testing.T) {
	bt := newTestBacktest(t, testConfig())
	_, err := bt.Next()
	require.NoError(t, err)
	_, err = bt.OpenPosition("ES", 1, Long)
	require.NoError(t, err)

	done := false
	for !done {
		done, err = bt.Next()
		require.NoError(t, err)
	}
	assert.Empty(t, bt.positions)

	result := bt.Result()
	assert.Equal(t, 100000.0, result.StartingCash)
	assert.NotEmpty(t, result.Events)

	// Daily equity points advance strictly in date.
	for i := 1; i < len(result.EquityCurveDaily); i++ {
		assert.True(t, result.EquityCurveDaily[i-1].Date.Time.Before(result.EquityCurveDaily[i].Date.Time))
	}

	_, err = bt.Next()
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestDeterministicReplay(t *testing.T) {
	run := func() Result {
		bt := newTestBacktest(t, testConfig())
		_, err := bt.Next()
		require.NoError(t, err)
		_, err = bt.OpenPosition("ES", 1, Long)
		require.NoError(t, err)
		done := false
		for !done {
			var err error
			done, err = bt.Next()
			require.NoError(t, err)
		}
		return bt.Result()
	}
	first, err := json.Marshal(run())
	require.NoError(t, err)
	second, err := json.Marshal(run())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestWarmupRecords(t *testing.T) {
	bt, err := New(day(5), day(11), ohlc.TimeFrameDaily, testConfig(), testManager(t))
	require.NoError(t, err)
	_, err = bt.Next()
	require.NoError(t, err)

	records, err := bt.Records("ES", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Strictly before the simulation start, oldest first.
	assert.True(t, records[2].Time.Before(day(5)))
	assert.True(t, records[0].Time.Before(records[1].Time))

	available, err := bt.IsAvailable("ES")
	require.NoError(t, err)
	assert.True(t, available)

	record, err := bt.MostRecentRecord("ES")
	require.NoError(t, err)
	assert.True(t, record.Time.Equal(day(5)))
}

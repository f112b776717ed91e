package ohlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two contracts with one rollover: ESM24 dominates through day 2, ESU24 from
// day 3 on.
func rolloverRecords() []RawRecord {
	return []RawRecord{
		bar("ESM24", day(1), 100, 90, oi(100)),
		bar("ESM24", day(2), 102, 80, oi(100)),
		bar("ESU24", day(2), 101, 10, oi(10)),
		bar("ESM24", day(3), 103, 40, oi(50)),
		bar("ESU24", day(3), 102, 60, oi(200)),
		bar("ESU24", day(4), 105, 70, oi(300)),
	}
}

func TestPanamaAdjustedSeries(t *testing.T) {
	raw := &RawArchive{Daily: rolloverRecords(), IntradayMinutes: 60}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	adjusted := archive.Daily.Adjusted
	require.Len(t, adjusted, 4)

	// Walking backwards, the series stays on ESU24 through day 3 and rolls to
	// ESM24 at day 2 with offset ESU24.close - ESM24.close = 101 - 102 = -1.
	closes := make([]float64, 0, len(adjusted))
	symbols := make([]string, 0, len(adjusted))
	for _, record := range adjusted {
		closes = append(closes, record.Close)
		symbols = append(symbols, record.Symbol)
	}
	assert.Equal(t, []string{"ESM24", "ESM24", "ESU24", "ESU24"}, symbols)
	assert.InDeltaSlice(t, []float64{99, 101, 102, 105}, closes, 1e-9)
}

func TestPanamaOffsetMapInvariant(t *testing.T) {
	records := rolloverRecords()
	contractMap := NewContractMap(records)
	canal, ok, err := newPanamaCanal(contractMap, false)
	require.NoError(t, err)
	require.True(t, ok)
	adjusted, offsets, err := canal.adjustedData()
	require.NoError(t, err)

	assert.InDelta(t, 0, offsets["ESU24"], 1e-9)
	assert.InDelta(t, -1, offsets["ESM24"], 1e-9)

	// Every adjusted bar is a contract bar shifted by that contract's offset.
	for _, adjustedRecord := range adjusted {
		offset, exists := offsets[adjustedRecord.Symbol]
		require.True(t, exists)
		bucket, found := contractMap.At(adjustedRecord.Time)
		require.True(t, found)
		var source *Record
		for _, candidate := range bucket {
			if candidate.Symbol == adjustedRecord.Symbol {
				source = candidate
				break
			}
		}
		require.NotNil(t, source)
		assert.InDelta(t, source.Open+offset, adjustedRecord.Open, 1e-9)
		assert.InDelta(t, source.High+offset, adjustedRecord.High, 1e-9)
		assert.InDelta(t, source.Low+offset, adjustedRecord.Low, 1e-9)
		assert.InDelta(t, source.Close+offset, adjustedRecord.Close, 1e-9)
	}
}

func TestPanamaRolloverDelta(t *testing.T) {
	// The continuous price at the rollover bucket equals the previous
	// contract's close: offset grows by exactly the close gap.
	records := []RawRecord{
		bar("ESU24", day(1), 5020, 50, oi(500)),
		bar("ESZ24", day(1), 5100, 40, oi(100)),
		bar("ESU24", day(2), 5030, 10, oi(50)),
		bar("ESZ24", day(2), 5110, 80, oi(800)),
		bar("ESZ24", day(3), 5120, 90, oi(900)),
	}
	contractMap := NewContractMap(records)
	canal, ok, err := newPanamaCanal(contractMap, false)
	require.NoError(t, err)
	require.True(t, ok)
	adjusted, offsets, err := canal.adjustedData()
	require.NoError(t, err)
	require.Len(t, adjusted, 3)

	// At day 1 the walk rolls from ESZ24 (close 5100) to ESU24 (close 5020).
	assert.InDelta(t, 80, offsets["ESU24"], 1e-9)
	assert.Equal(t, "ESU24", adjusted[0].Symbol)
	assert.InDelta(t, 5100, adjusted[0].Close, 1e-9)
}

func TestPanamaDoesNotRollToLaterExpiry(t *testing.T) {
	// ESZ24 expires after ESU24; even when it dominates an old bucket, the
	// walk must not switch to it once it is on ESU24.
	records := []RawRecord{
		bar("ESU24", day(1), 5000, 50, oi(100)),
		bar("ESZ25", day(1), 5200, 90, oi(900)),
		bar("ESU24", day(2), 5010, 60, oi(600)),
		bar("ESZ25", day(2), 5210, 10, oi(10)),
		bar("ESU24", day(3), 5020, 70, oi(700)),
	}
	contractMap := NewContractMap(records)
	canal, ok, err := newPanamaCanal(contractMap, false)
	require.NoError(t, err)
	require.True(t, ok)
	adjusted, _, err := canal.adjustedData()
	require.NoError(t, err)
	for _, record := range adjusted {
		assert.Equal(t, "ESU24", record.Symbol)
	}
}

func TestPanamaRefusesWithoutOpenInterest(t *testing.T) {
	records := []RawRecord{
		bar("ESM24", day(1), 100, 90, nil),
		bar("ESU24", day(1), 101, 10, nil),
		bar("ESU24", day(2), 102, 70, nil),
	}
	contractMap := NewContractMap(records)
	_, ok, err := newPanamaCanal(contractMap, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPanamaSkipFrontRequiresTwoContracts(t *testing.T) {
	records := []RawRecord{
		bar("ESM24", day(1), 100, 90, oi(100)),
		bar("ESM24", day(2), 101, 80, oi(100)),
	}
	contractMap := NewContractMap(records)
	canal, ok, err := newPanamaCanal(contractMap, true)
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = canal.adjustedData()
	assert.ErrorIs(t, err, ErrContractCount)
}

func TestIntradayOffsetReuse(t *testing.T) {
	hour := func(d, h int) time.Time {
		return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC)
	}
	daily := derived(
		bar("ESM24", day(1), 100, 90, oi(100)),
		bar("ESM24", day(2), 102, 80, oi(100)),
		bar("ESU24", day(3), 102, 60, oi(200)),
	)
	offsets := OffsetMap{"ESM24": -1, "ESU24": 0}
	intradayRecords := []RawRecord{
		bar("ESM24", hour(3, 10), 102.5, 5, oi(10)),
		bar("ESU24", hour(3, 10), 101.5, 2, oi(20)),
		bar("ESM24", hour(3, 14), 102.6, 1, oi(5)),
		bar("ESU24", hour(3, 14), 101.6, 9, oi(30)),
		bar("ESU24", hour(4, 10), 102.0, 9, oi(40)),
	}
	intraday := NewContractMap(intradayRecords)
	adjusted, err := adjustedFromOffsetMap(intraday, daily, offsets)
	require.NoError(t, err)
	require.Len(t, adjusted, 3)

	// Day 3 maps to ESU24 but the 10:00 bar stays on ESM24 since the switch
	// waits for the primary session (hour >= 12) on the first mismatch date.
	assert.Equal(t, "ESM24", adjusted[0].Symbol)
	assert.InDelta(t, 101.5, adjusted[0].Close, 1e-9)
	assert.Equal(t, "ESU24", adjusted[1].Symbol)
	assert.InDelta(t, 101.6, adjusted[1].Close, 1e-9)
	assert.Equal(t, "ESU24", adjusted[2].Symbol)
	assert.InDelta(t, 102.0, adjusted[2].Close, 1e-9)
}

func TestIntradayOffsetReuseMissingOffsetFails(t *testing.T) {
	daily := derived(
		bar("ESM24", day(1), 100, 90, oi(100)),
	)
	intraday := NewContractMap([]RawRecord{
		bar("ESM24", day(1).Add(10*time.Hour), 100.5, 5, oi(10)),
	})
	_, err := adjustedFromOffsetMap(intraday, daily, OffsetMap{})
	assert.Error(t, err)
}

func TestTimeMapSingleRecordPerTimestamp(t *testing.T) {
	raw := &RawArchive{Daily: rolloverRecords(), IntradayMinutes: 60}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	timeMap := archive.Daily.TimeMap
	assert.Equal(t, len(archive.Daily.Adjusted), timeMap.Len())
	for _, record := range archive.Daily.Adjusted {
		found, ok := timeMap.At(record.Time)
		require.True(t, ok)
		assert.Same(t, record, found)
	}
}

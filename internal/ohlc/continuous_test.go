package ohlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oi(value uint32) *uint32 {
	return &value
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, t time.Time, close float64, volume uint32, openInterest *uint32) RawRecord {
	return RawRecord{
		Symbol:       symbol,
		Time:         t,
		Open:         close - 1,
		High:         close + 2,
		Low:          close - 2,
		Close:        close,
		Volume:       volume,
		OpenInterest: openInterest,
	}
}

func derived(records ...RawRecord) []*Record {
	output := make([]*Record, 0, len(records))
	for i := range records {
		output = append(output, records[i].Derive())
	}
	return output
}

func TestMostPopularOpenInterest(t *testing.T) {
	bucket := derived(
		bar("ESH24", day(1), 5000, 100, oi(1000)),
		bar("ESM24", day(1), 5010, 100, oi(5000)),
		bar("ESU24", day(1), 5020, 100, oi(3000)),
	)
	record, err := MostPopularRecord(bucket, false)
	require.NoError(t, err)
	assert.Equal(t, "ESM24", record.Symbol)
}

func TestMostPopularSkipFrontContract(t *testing.T) {
	bucket := derived(
		bar("ESH24", day(1), 5000, 100, oi(1000)),
		bar("ESM24", day(1), 5010, 100, oi(5000)),
		bar("ESU24", day(1), 5020, 100, oi(3000)),
	)
	record, err := MostPopularRecord(bucket, true)
	require.NoError(t, err)
	assert.Equal(t, "ESM24", record.Symbol)

	// The front contract itself would have won on open interest.
	front := derived(
		bar("ESH24", day(1), 5000, 100, oi(9000)),
		bar("ESM24", day(1), 5010, 100, oi(5000)),
	)
	record, err = MostPopularRecord(front, true)
	require.NoError(t, err)
	assert.Equal(t, "ESM24", record.Symbol)
}

func TestMostPopularVolumeFallback(t *testing.T) {
	// One contract lacks open interest, so volume decides.
	bucket := derived(
		bar("ESH24", day(1), 5000, 700, nil),
		bar("ESM24", day(1), 5010, 300, oi(5000)),
	)
	record, err := MostPopularRecord(bucket, false)
	require.NoError(t, err)
	assert.Equal(t, "ESH24", record.Symbol)
}

func TestMostPopularOldestCodeFallback(t *testing.T) {
	// Neither metric populated, the oldest contract still trading wins.
	bucket := derived(
		bar("ESU24", day(1), 5020, 0, nil),
		bar("ESH24", day(1), 5000, 0, nil),
		bar("ESM24", day(1), 5010, 0, nil),
	)
	record, err := MostPopularRecord(bucket, false)
	require.NoError(t, err)
	assert.Equal(t, "ESH24", record.Symbol)
}

func TestMostPopularSingleAndEmpty(t *testing.T) {
	record, err := MostPopularRecord(nil, true)
	require.NoError(t, err)
	assert.Nil(t, record)

	only := derived(bar("ESH24", day(1), 5000, 0, nil))
	record, err = MostPopularRecord(only, true)
	require.NoError(t, err)
	assert.Equal(t, "ESH24", record.Symbol)
}

func TestSkipFrontRequiresTwoRemaining(t *testing.T) {
	// With a single bar the front filter does not apply.
	bucket := derived(bar("ESH24", day(1), 5000, 100, oi(1000)))
	record, err := MostPopularRecord(bucket, true)
	require.NoError(t, err)
	assert.Equal(t, "ESH24", record.Symbol)
}

func TestDeriveCurrency(t *testing.T) {
	raw := &RawArchive{
		Daily: []RawRecord{
			bar("^EURUSD", day(1), 1.08, 0, nil),
			bar("^EURUSD", day(2), 1.09, 0, nil),
			bar("^EURUSD", day(3), 1.10, 0, nil),
		},
		IntradayMinutes: 60,
	}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	assert.Nil(t, archive.Daily.Adjusted)
	assert.Nil(t, archive.Daily.ContractMap)
	assert.Len(t, archive.Daily.Unadjusted, 3)
	record, ok := archive.Daily.TimeMap.At(day(2))
	require.True(t, ok)
	assert.InDelta(t, 1.09, record.Close, 1e-9)
}

func TestUnadjustedSeriesOrdered(t *testing.T) {
	raw := &RawArchive{
		Daily: []RawRecord{
			bar("ESM24", day(3), 103, 40, oi(50)),
			bar("ESU24", day(3), 102, 60, oi(200)),
			bar("ESM24", day(1), 100, 90, oi(100)),
			bar("ESM24", day(2), 102, 80, oi(100)),
			bar("ESU24", day(2), 101, 10, oi(10)),
			bar("ESU24", day(4), 105, 70, oi(300)),
		},
		IntradayMinutes: 60,
	}
	archive, err := raw.Derive(false)
	require.NoError(t, err)
	unadjusted := archive.Daily.Unadjusted
	require.Len(t, unadjusted, 4)
	for i := 1; i < len(unadjusted); i++ {
		assert.True(t, unadjusted[i-1].Time.Before(unadjusted[i].Time))
	}
	assert.Equal(t, "ESM24", unadjusted[0].Symbol)
	assert.Equal(t, "ESM24", unadjusted[1].Symbol)
	assert.Equal(t, "ESU24", unadjusted[2].Symbol)
	assert.Equal(t, "ESU24", unadjusted[3].Symbol)
}

func TestDeriveIdempotent(t *testing.T) {
	raw := &RawArchive{
		Daily: []RawRecord{
			bar("ESM24", day(1), 100, 90, oi(100)),
			bar("ESM24", day(2), 102, 80, oi(100)),
			bar("ESU24", day(2), 101, 10, oi(10)),
			bar("ESM24", day(3), 103, 40, oi(50)),
			bar("ESU24", day(3), 102, 60, oi(200)),
			bar("ESU24", day(4), 105, 70, oi(300)),
		},
		IntradayMinutes: 60,
	}
	first, err := raw.Derive(false)
	require.NoError(t, err)
	second, err := raw.Derive(false)
	require.NoError(t, err)
	require.Len(t, second.Daily.Adjusted, len(first.Daily.Adjusted))
	for i := range first.Daily.Adjusted {
		a, b := first.Daily.Adjusted[i], second.Daily.Adjusted[i]
		assert.Equal(t, a.Symbol, b.Symbol)
		assert.True(t, a.Time.Equal(b.Time))
		assert.Equal(t, a.Close, b.Close)
		assert.Equal(t, a.Open, b.Open)
	}
}

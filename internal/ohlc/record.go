// Package ohlc holds the bar model, the on-disk archive format and the
// continuous-contract construction that turns overlapping per-contract bars
// into unadjusted and Panama-adjusted price series.
package ohlc

import (
	"time"
)

// TimeFrame selects between the daily and intraday series of an archive.
type TimeFrame string

const (
	TimeFrameDaily    TimeFrame = "daily"
	TimeFrameIntraday TimeFrame = "intraday"
)

// MinutesPerDay is the cadence boundary between intraday and daily requests.
const MinutesPerDay = 1440

// RawRecord is one bar exactly as ingested, before continuous-contract
// construction. Timestamps are wall-clock instants without a zone.
type RawRecord struct {
	Symbol       string
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       uint32
	OpenInterest *uint32
}

// RawArchive is the persisted form of a root's data: daily and intraday bar
// sequences plus the intraday cadence in minutes.
type RawArchive struct {
	Daily           []RawRecord
	Intraday        []RawRecord
	IntradayMinutes uint16
}

// Record is a derived bar. Records are shared by pointer between the contract
// map, the unadjusted series, the adjusted series and the time map, and must
// not be mutated after construction.
type Record struct {
	Symbol       string
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       uint32
	OpenInterest *uint32
}

// Derive converts a raw bar into its shared derived form.
func (r *RawRecord) Derive() *Record {
	return &Record{
		Symbol:       r.Symbol,
		Time:         r.Time,
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Volume:       r.Volume,
		OpenInterest: r.OpenInterest,
	}
}

// ApplyOffset returns a copy of the bar with the Panama offset added to all
// four prices.
func (r *Record) ApplyOffset(offset float64) *Record {
	return &Record{
		Symbol:       r.Symbol,
		Time:         r.Time,
		Open:         r.Open + offset,
		High:         r.High + offset,
		Low:          r.Low + offset,
		Close:        r.Close + offset,
		Volume:       r.Volume,
		OpenInterest: r.OpenInterest,
	}
}

// Data is the derived series for one time frame.
//
// Currency pair:
//   - Unadjusted contains the original records in ascending order
//   - Adjusted is nil
//   - TimeMap maps timestamps to records
//   - ContractMap is nil
//
// Futures:
//   - Unadjusted is a continuous contract stitched from the most popular
//     contract at each timestamp
//   - Adjusted contains Panama-adjusted records for use with indicators
//   - TimeMap maps timestamps to the adjusted records, falling back to the
//     unadjusted ones
//   - ContractMap holds every active contract's bar per timestamp
type Data struct {
	Unadjusted  []*Record
	Adjusted    []*Record
	TimeMap     *TimeMap
	ContractMap *ContractMap
}

// AdjustedFallback returns the adjusted series when present, else the
// unadjusted one.
func (d *Data) AdjustedFallback() []*Record {
	if d.Adjusted != nil {
		return d.Adjusted
	}
	return d.Unadjusted
}

// Archive is the fully derived, immutable form of a root's data. It may be
// shared read-only between any number of backtests.
type Archive struct {
	Daily           *Data
	Intraday        *Data
	IntradayMinutes uint16
}

// Data returns the series for the requested time frame.
func (a *Archive) Data(timeFrame TimeFrame) *Data {
	if timeFrame == TimeFrameDaily {
		return a.Daily
	}
	return a.Intraday
}

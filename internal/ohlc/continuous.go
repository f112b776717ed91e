package ohlc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/futsim/futsim/internal/globex"
)

// ErrMissingOffsetMap indicates that the daily pass of a futures archive did
// not yield the rollover offsets the intraday pass depends on.
var ErrMissingOffsetMap = errors.New("missing offset map from daily continuous-contract construction")

// Derive runs continuous-contract construction on both time frames. For
// futures the daily pass produces the Panama offset map which the intraday
// pass then reuses so both series roll over on the same contracts.
// skipFrontContract drops the nearest-expiry contract from the selection to
// avoid delivery-period price anomalies of physically settled assets.
func (raw *RawArchive) Derive(skipFrontContract bool) (*Archive, error) {
	daily, offsets, err := deriveData(raw.Daily, adjustSearch, skipFrontContract)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}
	// The intraday pass must follow the rollover decisions of the daily one
	// instead of repeating the search; without a daily adjustment there is
	// nothing to follow and the intraday series stays unadjusted too.
	intradayMode := adjustNone
	if isContract(raw.Daily) && daily.Adjusted != nil {
		if offsets == nil {
			return nil, ErrMissingOffsetMap
		}
		intradayMode = adjustMode{reuse: &dailyOffsets{adjusted: daily.Adjusted, offsets: offsets}}
	}
	intraday, _, err := deriveData(raw.Intraday, intradayMode, skipFrontContract)
	if err != nil {
		return nil, fmt.Errorf("intraday series: %w", err)
	}
	return &Archive{Daily: daily, Intraday: intraday, IntradayMinutes: raw.IntradayMinutes}, nil
}

// dailyOffsets carries the daily pass results into the intraday pass.
type dailyOffsets struct {
	adjusted []*Record
	offsets  OffsetMap
}

// adjustMode selects how deriveData builds the adjusted series: a fresh
// Panama search, reuse of the daily offsets, or no adjustment at all.
type adjustMode struct {
	search bool
	reuse  *dailyOffsets
}

var (
	adjustSearch = adjustMode{search: true}
	adjustNone   = adjustMode{}
)

// isContract reports whether a bar sequence spans two or more distinct
// symbols. A single-symbol sequence is treated as a currency series.
func isContract(records []RawRecord) bool {
	if len(records) == 0 {
		return false
	}
	first := records[0].Symbol
	for i := range records {
		if records[i].Symbol != first {
			return true
		}
	}
	return false
}

func deriveData(records []RawRecord, mode adjustMode, skipFrontContract bool) (*Data, OffsetMap, error) {
	if !isContract(records) {
		// Currency pair, pass the records through untouched.
		unadjusted := make([]*Record, 0, len(records))
		for i := range records {
			unadjusted = append(unadjusted, records[i].Derive())
		}
		data := &Data{
			Unadjusted: unadjusted,
			TimeMap:    NewTimeMap(unadjusted),
		}
		return data, nil, nil
	}
	contractMap := NewContractMap(records)
	unadjusted, err := unadjustedFromMap(contractMap, skipFrontContract)
	if err != nil {
		return nil, nil, err
	}
	var adjusted []*Record
	var offsets OffsetMap
	switch {
	case mode.reuse != nil:
		adjusted, err = adjustedFromOffsetMap(contractMap, mode.reuse.adjusted, mode.reuse.offsets)
		if err != nil {
			return nil, nil, err
		}
	case mode.search:
		canal, ok, err := newPanamaCanal(contractMap, skipFrontContract)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			adjusted, offsets, err = canal.adjustedData()
			if err != nil {
				return nil, nil, err
			}
		}
	}
	source := unadjusted
	if adjusted != nil {
		source = adjusted
	}
	data := &Data{
		Unadjusted:  unadjusted,
		Adjusted:    adjusted,
		TimeMap:     NewTimeMap(source),
		ContractMap: contractMap,
	}
	return data, offsets, nil
}

func unadjustedFromMap(contractMap *ContractMap, skipFrontContract bool) ([]*Record, error) {
	output := make([]*Record, 0, contractMap.Len())
	for _, t := range contractMap.Times() {
		bucket, _ := contractMap.At(t)
		record, err := MostPopularRecord(bucket, skipFrontContract)
		if err != nil {
			return nil, err
		}
		if record != nil {
			output = append(output, record)
		}
	}
	return output, nil
}

// MostPopularRecord selects the dominant contract's bar from a bucket of
// simultaneously active contracts. Open interest decides when every bar
// carries it and at least one is positive, volume decides next, and the
// oldest Globex code wins as a fallback for old bars with neither metric
// populated. Ties keep the first bar encountered.
func MostPopularRecord(records []*Record, skipFrontContract bool) (*Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) == 1 {
		return records[0], nil
	}
	filtered, err := filterFrontContract(records, skipFrontContract)
	if err != nil {
		return nil, err
	}
	openInterestAvailable := true
	openInterestPositive := false
	volumePositive := false
	for _, record := range filtered {
		if record.OpenInterest == nil {
			openInterestAvailable = false
		} else if *record.OpenInterest > 0 {
			openInterestPositive = true
		}
		if record.Volume > 0 {
			volumePositive = true
		}
	}
	switch {
	case openInterestAvailable && openInterestPositive:
		best := filtered[0]
		for _, record := range filtered[1:] {
			if *record.OpenInterest > *best.OpenInterest {
				best = record
			}
		}
		return best, nil
	case volumePositive:
		best := filtered[0]
		for _, record := range filtered[1:] {
			if record.Volume > best.Volume {
				best = record
			}
		}
		return best, nil
	default:
		// Fallback for very old bars that carry neither metric.
		best := filtered[0]
		bestCode, ok := globex.Parse(best.Symbol)
		if !ok {
			return nil, fmt.Errorf("cannot parse Globex code %q while selecting a record", best.Symbol)
		}
		for _, record := range filtered[1:] {
			code, ok := globex.Parse(record.Symbol)
			if !ok {
				return nil, fmt.Errorf("cannot parse Globex code %q while selecting a record", record.Symbol)
			}
			if code.Less(bestCode) {
				best = record
				bestCode = code
			}
		}
		return best, nil
	}
}

// filterFrontContract drops the earliest-expiry bar when skipping the front
// contract and at least two contracts are present.
func filterFrontContract(records []*Record, skipFrontContract bool) ([]*Record, error) {
	if !skipFrontContract || len(records) < 2 {
		return records, nil
	}
	type entry struct {
		code   globex.Code
		record *Record
	}
	entries := make([]entry, 0, len(records))
	for _, record := range records {
		code, ok := globex.Parse(record.Symbol)
		if !ok {
			return nil, fmt.Errorf("cannot parse Globex code %q while filtering records", record.Symbol)
		}
		entries = append(entries, entry{code: code, record: record})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].code.Less(entries[j].code)
	})
	filtered := make([]*Record, 0, len(entries)-1)
	for _, e := range entries[1:] {
		filtered = append(filtered, e.record)
	}
	return filtered, nil
}

package ohlc

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/futsim/futsim/internal/globex"
)

// OffsetMap maps a contract symbol to the cumulative Panama offset that was in
// effect while it was the current contract.
type OffsetMap map[string]float64

// ErrContractCount indicates that skipping the front contract is impossible
// because fewer than two contracts exist.
var ErrContractCount = errors.New("invalid contract count")

type boundary struct {
	first time.Time
	last  time.Time
}

// panamaCanal walks a futures contract map backwards in time and accumulates
// close-gap offsets at each rollover so adjacent contracts become
// price-continuous. Differences are preserved, absolute levels are not.
type panamaCanal struct {
	contractMap       *ContractMap
	boundaries        map[string]boundary
	offset            float64
	offsets           OffsetMap
	currentContract   string
	usedContracts     map[string]struct{}
	skipFrontContract bool
}

// newPanamaCanal prepares the reverse walk. The second return value is false
// when the series does not qualify for adjustment: an empty map, or a most
// recent bucket without any open interest, which means it is probably not a
// futures contract.
func newPanamaCanal(contractMap *ContractMap, skipFrontContract bool) (*panamaCanal, bool, error) {
	lastBucket, ok := contractMap.Last()
	if !ok {
		return nil, false, nil
	}
	hasOpenInterest := false
	for _, record := range lastBucket {
		if record.OpenInterest != nil {
			hasOpenInterest = true
			break
		}
	}
	if !hasOpenInterest {
		return nil, false, nil
	}
	lastRecord, err := MostPopularRecord(lastBucket, skipFrontContract)
	if err != nil {
		return nil, false, err
	}
	if lastRecord == nil {
		return nil, false, errors.New("unable to determine initial contract")
	}
	canal := &panamaCanal{
		contractMap:       contractMap,
		boundaries:        boundaryMap(contractMap),
		offsets:           OffsetMap{},
		currentContract:   lastRecord.Symbol,
		usedContracts:     map[string]struct{}{lastRecord.Symbol: {}},
		skipFrontContract: skipFrontContract,
	}
	canal.offsets[canal.currentContract] = canal.offset
	return canal, true, nil
}

// adjustedData performs the reverse walk and assembles the adjusted series
// front to back.
func (c *panamaCanal) adjustedData() ([]*Record, OffsetMap, error) {
	timeLimit, limited, err := c.timeLimit()
	if err != nil {
		return nil, nil, err
	}
	times := c.contractMap.Times()
	var reversed []*Record
	for i := len(times) - 1; i >= 0; i-- {
		t := times[i]
		if limited && t.Before(timeLimit) {
			break
		}
		bucket, _ := c.contractMap.At(t)
		record, err := c.nextRecord(t, bucket)
		if err != nil {
			return nil, nil, err
		}
		if record != nil {
			reversed = append(reversed, record.ApplyOffset(c.offset))
		}
	}
	output := make([]*Record, len(reversed))
	for i, record := range reversed {
		output[len(reversed)-1-i] = record
	}
	return output, c.offsets, nil
}

// timeLimit guards the skip-front walk against reaching the oldest contract,
// where no second contract remains to skip to. The limit is the first
// appearance of the second-oldest contract.
func (c *panamaCanal) timeLimit() (time.Time, bool, error) {
	if !c.skipFrontContract {
		return time.Time{}, false, nil
	}
	type entry struct {
		code  globex.Code
		first time.Time
	}
	entries := make([]entry, 0, len(c.boundaries))
	for symbol, bounds := range c.boundaries {
		code, ok := globex.Parse(symbol)
		if !ok {
			return time.Time{}, false, fmt.Errorf("cannot parse Globex code %q in boundary map", symbol)
		}
		entries = append(entries, entry{code: code, first: bounds.first})
	}
	if len(entries) < 2 {
		return time.Time{}, false, ErrContractCount
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].code.Less(entries[j].code)
	})
	return entries[1].first, true, nil
}

// nextRecord picks the bar to emit for one bucket and performs rollovers. The
// emitted bar is unadjusted; the caller applies the post-rollover offset.
func (c *panamaCanal) nextRecord(t time.Time, bucket []*Record) (*Record, error) {
	filtered, err := c.filterNewerContracts(bucket)
	if err != nil {
		return nil, err
	}
	newRecord, err := MostPopularRecord(filtered, c.skipFrontContract)
	if err != nil {
		return nil, err
	}
	if newRecord == nil {
		return c.timeCheck(t)
	}
	if newRecord.Symbol == c.currentContract {
		// No rollover necessary yet.
		return newRecord, nil
	}
	var currentRecord *Record
	for _, record := range filtered {
		if record.Symbol == c.currentContract {
			currentRecord = record
			break
		}
	}
	if currentRecord == nil {
		return c.timeCheck(t)
	}
	if _, used := c.usedContracts[newRecord.Symbol]; used {
		// The open-interest scan resurfaced a contract that was already
		// rolled through. Stick to the current contract.
		return currentRecord, nil
	}
	currentBounds, err := c.bounds(c.currentContract)
	if err != nil {
		return nil, err
	}
	newBounds, err := c.bounds(newRecord.Symbol)
	if err != nil {
		return nil, err
	}
	if !newBounds.last.Before(currentBounds.last) {
		// Already switched to a contract with a more recent expiration date.
		return currentRecord, nil
	}
	// Perform the rollover and adjust the channel offset.
	c.offset += currentRecord.Close - newRecord.Close
	c.currentContract = newRecord.Symbol
	c.usedContracts[newRecord.Symbol] = struct{}{}
	c.offsets[c.currentContract] = c.offset
	return newRecord, nil
}

// timeCheck decides whether a missing current-contract bar is a recoverable
// gap or a structural failure.
func (c *panamaCanal) timeCheck(t time.Time) (*Record, error) {
	bounds, err := c.bounds(c.currentContract)
	if err != nil {
		return nil, err
	}
	if bounds.first.Before(t) {
		// Older data for the contract still exists, leave a gap and wait for
		// it to become available to perform the rollover.
		return nil, nil
	}
	return nil, fmt.Errorf("failed to perform rollover for contract %s at %s", c.currentContract, t.Format(time.DateTime))
}

func (c *panamaCanal) bounds(symbol string) (boundary, error) {
	bounds, ok := c.boundaries[symbol]
	if !ok {
		return boundary{}, fmt.Errorf("failed to determine contract expiration date of %s", symbol)
	}
	return bounds, nil
}

// filterNewerContracts keeps the bars whose contract does not expire later
// than the one the walk is currently on.
func (c *panamaCanal) filterNewerContracts(bucket []*Record) ([]*Record, error) {
	currentCode, ok := globex.Parse(c.currentContract)
	if !ok {
		return nil, fmt.Errorf("cannot parse Globex code %q", c.currentContract)
	}
	filtered := make([]*Record, 0, len(bucket))
	for _, record := range bucket {
		code, ok := globex.Parse(record.Symbol)
		if !ok {
			return nil, fmt.Errorf("cannot parse Globex code %q", record.Symbol)
		}
		if code.Compare(currentCode) <= 0 {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// boundaryMap records when each contract first and last appears, so rollovers
// never target a contract that expires later than the current one.
func boundaryMap(contractMap *ContractMap) map[string]boundary {
	boundaries := make(map[string]boundary)
	for _, t := range contractMap.Times() {
		bucket, _ := contractMap.At(t)
		for _, record := range bucket {
			bounds, exists := boundaries[record.Symbol]
			if !exists {
				boundaries[record.Symbol] = boundary{first: record.Time, last: record.Time}
				continue
			}
			if record.Time.Before(bounds.first) {
				bounds.first = record.Time
			} else if record.Time.After(bounds.last) {
				bounds.last = record.Time
			}
			boundaries[record.Symbol] = bounds
		}
	}
	return boundaries
}

// adjustedFromOffsetMap builds the intraday adjusted series from the rollover
// decisions of the daily pass instead of repeating the search. Rollovers
// happen during the primary trading session rather than at midnight when
// possible, and adopt the daily offset for the new contract.
func adjustedFromOffsetMap(intraday *ContractMap, daily []*Record, offsets OffsetMap) ([]*Record, error) {
	dailyMap := make(map[time.Time]string, len(daily))
	for _, record := range daily {
		dailyMap[dateOf(record.Time)] = record.Symbol
	}
	currentContract, firstDate, err := initialIntradayContract(intraday, daily, dailyMap)
	if err != nil {
		return nil, err
	}
	offset, ok := offsets[currentContract]
	if !ok {
		return nil, fmt.Errorf("unable to initialize Panama offset for contract %s", currentContract)
	}
	rolloverDate := firstDate
	var output []*Record
	for _, t := range intraday.Times() {
		date := dateOf(t)
		if dailyContract, exists := dailyMap[date]; exists && dailyContract != currentContract {
			if t.Hour() >= 12 || date.After(rolloverDate) {
				newOffset, exists := offsets[dailyContract]
				if !exists {
					return nil, fmt.Errorf("unable to determine offset for contract %s", dailyContract)
				}
				offset = newOffset
				currentContract = dailyContract
			}
			rolloverDate = date
		}
		// Only emit a bar when the current contract traded in this period.
		bucket, _ := intraday.At(t)
		for _, record := range bucket {
			if record.Symbol == currentContract {
				output = append(output, record.ApplyOffset(offset))
				break
			}
		}
	}
	return output, nil
}

func initialIntradayContract(intraday *ContractMap, daily []*Record, dailyMap map[time.Time]string) (string, time.Time, error) {
	if intraday.Len() == 0 {
		return "", time.Time{}, errors.New("unable to get first intraday date")
	}
	if len(daily) == 0 {
		return "", time.Time{}, errors.New("unable to get first daily date")
	}
	firstIntradayDate := dateOf(intraday.Times()[0])
	firstDailyDate := dateOf(daily[0].Time)
	firstDate := firstIntradayDate
	if firstDailyDate.After(firstDate) {
		firstDate = firstDailyDate
	}
	for i := 0; i < 30; i++ {
		tryDate := firstDailyDate.AddDate(0, 0, -i)
		if contract, ok := dailyMap[tryDate]; ok {
			return contract, firstDate, nil
		}
	}
	return "", time.Time{}, errors.New("unable to determine first contract")
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/futsim/futsim/internal/backtest"
	"github.com/futsim/futsim/internal/correlation"
	"github.com/futsim/futsim/internal/metrics"
	"github.com/futsim/futsim/internal/ohlc"
	"github.com/futsim/futsim/internal/reltime"
	"github.com/futsim/futsim/internal/strategy"
)

// response is the uniform envelope of every API endpoint: exactly one of
// result and error is set.
type response struct {
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

func writeResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(response{Result: result})
}

func writeError(w http.ResponseWriter, err error) {
	message := err.Error()
	_ = json.NewEncoder(w).Encode(response{Error: &message})
}

type historyRequest struct {
	Symbols []string     `json:"symbols"`
	From    reltime.Time `json:"from"`
	To      reltime.Time `json:"to"`
	// Cadence in minutes, 1440 and above selects daily data.
	TimeFrame uint16 `json:"timeFrame"`
}

type correlationRequest struct {
	Symbols []string     `json:"symbols"`
	From    reltime.Time `json:"from"`
	To      reltime.Time `json:"to"`
}

type backtestRequest struct {
	Strategy   string              `json:"strategy"`
	Symbols    []string            `json:"symbols"`
	From       reltime.Time        `json:"from"`
	To         reltime.Time        `json:"to"`
	Parameters strategy.Parameters `json:"parameters"`
	TimeFrame  ohlc.TimeFrame      `json:"timeFrame"`
}

// webRecord is the serialized form of one bar.
type webRecord struct {
	Symbol       string            `json:"symbol"`
	Time         reltime.Timestamp `json:"time"`
	Open         float64           `json:"open"`
	High         float64           `json:"high"`
	Low          float64           `json:"low"`
	Close        float64           `json:"close"`
	Volume       uint32            `json:"volume"`
	OpenInterest *uint32           `json:"openInterest,omitempty"`
}

func newWebRecord(record *ohlc.Record) webRecord {
	return webRecord{
		Symbol:       record.Symbol,
		Time:         reltime.Timestamp{Time: record.Time},
		Open:         record.Open,
		High:         record.High,
		Low:          record.Low,
		Close:        record.Close,
		Volume:       record.Volume,
		OpenInterest: record.OpenInterest,
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var request historyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, fmt.Errorf("invalid request: %w", err))
		return
	}
	timeFrame := ohlc.TimeFrameIntraday
	if request.TimeFrame >= ohlc.MinutesPerDay {
		timeFrame = ohlc.TimeFrameDaily
	}
	symbols, archives, err := s.resolveArchives(request.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := s.resolveWindow(request.From, request.To, timeFrame, archives)
	if err != nil {
		writeError(w, err)
		return
	}
	result := make(map[string][]webRecord, len(symbols))
	for i, archive := range archives {
		records, err := historyRecords(from, to, request.TimeFrame, archive)
		if err != nil {
			writeError(w, err)
			return
		}
		result[symbols[i]] = records
	}
	writeResult(w, result)
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	var request correlationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, fmt.Errorf("invalid request: %w", err))
		return
	}
	symbols, archives, err := s.resolveArchives(request.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := s.resolveWindow(request.From, request.To, ohlc.TimeFrameDaily, archives)
	if err != nil {
		writeError(w, err)
		return
	}
	matrix, err := correlation.Compute(symbols, from, to, archives)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, matrix)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var request backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, fmt.Errorf("invalid request: %w", err))
		return
	}
	if request.TimeFrame != ohlc.TimeFrameDaily && request.TimeFrame != ohlc.TimeFrameIntraday {
		writeError(w, fmt.Errorf("unknown time frame %q", request.TimeFrame))
		return
	}
	_, archives, err := s.resolveArchives(request.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := s.resolveWindow(request.From, request.To, request.TimeFrame, archives)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.runBacktest(request, from, to)
	if err != nil {
		metrics.BacktestsRun.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	metrics.BacktestsRun.WithLabelValues("ok").Inc()
	writeResult(w, result)
}

func (s *Server) runBacktest(request backtestRequest, from, to time.Time) (*backtest.Result, error) {
	bt, err := backtest.New(from, to, request.TimeFrame, s.backtestConfig, s.manager)
	if err != nil {
		return nil, err
	}
	tradingStrategy, err := strategy.New(request.Strategy, request.Symbols, request.Parameters, bt)
	if err != nil {
		return nil, err
	}
	done := false
	for !done {
		if err := tradingStrategy.Next(); err != nil {
			return nil, err
		}
		done, err = bt.Next()
		if errors.Is(err, backtest.ErrRuin) {
			// Ruin ends the simulation but the report stays valid.
			break
		}
		if err != nil {
			return nil, err
		}
	}
	result := bt.Result()
	return &result, nil
}

func (s *Server) resolveArchives(symbols []string) ([]string, []*ohlc.Archive, error) {
	resolved := s.manager.ResolveSymbols(symbols)
	if len(resolved) == 0 {
		return nil, nil, errors.New("no symbols specified")
	}
	archives := make([]*ohlc.Archive, 0, len(resolved))
	for _, symbol := range resolved {
		archive, err := s.manager.Archive(symbol)
		if err != nil {
			return nil, nil, err
		}
		archives = append(archives, archive)
	}
	return resolved, archives, nil
}

func (s *Server) resolveWindow(from, to reltime.Time, timeFrame ohlc.TimeFrame, archives []*ohlc.Archive) (time.Time, time.Time, error) {
	resolvedFrom, err := from.Resolve(to, reltime.SideFrom, timeFrame, archives, s.now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	resolvedTo, err := to.Resolve(from, reltime.SideTo, timeFrame, archives, s.now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return resolvedFrom, resolvedTo, nil
}

// historyRecords returns the bars of one archive in the requested cadence.
// Intraday requests that are a coarser multiple of the archive cadence are
// merged chunk-wise; finer requests and non-multiples are errors.
func historyRecords(from, to time.Time, requestMinutes uint16, archive *ohlc.Archive) ([]webRecord, error) {
	if requestMinutes >= ohlc.MinutesPerDay {
		return plainRecords(archive.Daily.TimeMap.Range(from, to)), nil
	}
	switch {
	case requestMinutes == archive.IntradayMinutes:
		return plainRecords(archive.Intraday.TimeMap.Range(from, to)), nil
	case requestMinutes < archive.IntradayMinutes:
		return nil, fmt.Errorf("requested time frame of %d minutes is too fine for archive data at %d minutes", requestMinutes, archive.IntradayMinutes)
	case requestMinutes%archive.IntradayMinutes != 0:
		return nil, fmt.Errorf("requested time frame must be a multiple of %d minutes", archive.IntradayMinutes)
	}
	chunkSize := int(requestMinutes / archive.IntradayMinutes)
	records := archive.Intraday.TimeMap.Range(from, to)
	merged := make([]webRecord, 0, len(records)/chunkSize)
	for start := 0; start+chunkSize <= len(records); start += chunkSize {
		merged = append(merged, mergeRecords(records[start:start+chunkSize]))
	}
	return merged, nil
}

func plainRecords(records []*ohlc.Record) []webRecord {
	output := make([]webRecord, 0, len(records))
	for _, record := range records {
		output = append(output, newWebRecord(record))
	}
	return output
}

// mergeRecords folds a chunk of consecutive bars into one coarser bar: first
// open, extreme high/low, last close, summed volume. Open interest only
// survives when every bar carries it.
func mergeRecords(chunk []*ohlc.Record) webRecord {
	first := chunk[0]
	last := chunk[len(chunk)-1]
	merged := webRecord{
		Symbol: first.Symbol,
		Time:   reltime.Timestamp{Time: first.Time},
		Open:   first.Open,
		High:   first.High,
		Low:    first.Low,
		Close:  last.Close,
	}
	var volume uint32
	var openInterest uint32
	openInterestComplete := true
	for _, record := range chunk {
		if record.High > merged.High {
			merged.High = record.High
		}
		if record.Low < merged.Low {
			merged.Low = record.Low
		}
		volume += record.Volume
		if record.OpenInterest == nil {
			openInterestComplete = false
		} else {
			openInterest += *record.OpenInterest
		}
	}
	merged.Volume = volume
	if openInterestComplete {
		merged.OpenInterest = &openInterest
	}
	return merged
}

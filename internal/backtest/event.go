package backtest

import (
	"time"

	"github.com/futsim/futsim/internal/reltime"
)

// EventType classifies the entries of the backtest event log.
type EventType string

const (
	EventOpenPosition  EventType = "openPosition"
	EventClosePosition EventType = "closePosition"
	EventRollover      EventType = "rollover"
	EventMarginCall    EventType = "marginCall"
	EventRuin          EventType = "ruin"
	EventWarning       EventType = "warning"
	EventError         EventType = "error"
)

// Event is one entry of the text-based event log, in occurrence order.
type Event struct {
	Time      reltime.Timestamp `json:"time"`
	EventType EventType         `json:"eventType"`
	Message   string            `json:"message"`
}

// EquityPoint is one sample of the daily equity curve.
type EquityPoint struct {
	Date         reltime.Timestamp `json:"date"`
	AccountValue float64           `json:"accountValue"`
}

// Result is the full report of a finished or terminated backtest.
type Result struct {
	StartingCash      float64       `json:"startingCash"`
	FinalCash         float64       `json:"finalCash"`
	Events            []Event       `json:"events"`
	EquityCurveDaily  []EquityPoint `json:"equityCurveDaily"`
	EquityCurveTrades []float64     `json:"equityCurveTrades"`
	Fees              float64       `json:"fees"`
}

func stamp(t time.Time) reltime.Timestamp {
	return reltime.Timestamp{Time: t}
}

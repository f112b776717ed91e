package backtest

import (
	"time"

	"github.com/futsim/futsim/internal/asset"
	"github.com/futsim/futsim/internal/ohlc"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position is one open futures position. While open, Count is at least one;
// partial closes decrement it in place.
type Position struct {
	// Sequential identifier, unique within a backtest.
	ID uint32
	// Full contract name, a Globex code such as "ESU24".
	Symbol string
	// Contract specification of the underlying root.
	Asset asset.Asset
	// Number of contracts.
	Count uint32
	// Long or short.
	Side Side
	// Entry price per contract including the simulated spread, in the
	// asset's currency.
	Price float64
	// Margin retained when the position was opened, in USD. Releases on
	// close use the base margin instead, an intentional accounting
	// simplification.
	Margin float64
	// Archive of the underlying root.
	Archive *ohlc.Archive
	// Time the position was created.
	Time time.Time
	// Futures only: roll the position to the next contract automatically.
	AutomaticRollover bool
}

package strategy

import (
	"errors"

	"github.com/futsim/futsim/internal/backtest"
)

// BuyAndHoldID names the buy-and-hold strategy in requests.
const BuyAndHoldID = "buy and hold"

// BuyAndHold opens one position per symbol and keeps it until the engine
// winds down. Opens that fail, for example on illiquid assets with intraday
// data, are retried on every following tick.
//
// Parameters:
//   - contracts: contract count per symbol, default one each
//   - short: open short positions instead of long ones, default false
type BuyAndHold struct {
	remaining []symbolContract
	side      backtest.Side
	backtest  *backtest.Backtest
}

// NewBuyAndHold builds the strategy from request parameters.
func NewBuyAndHold(symbols []string, parameters Parameters, bt *backtest.Backtest) (*BuyAndHold, error) {
	if len(symbols) == 0 {
		return nil, errors.New("need at least one symbol")
	}
	remaining, err := symbolContracts(symbols, parameters)
	if err != nil {
		return nil, err
	}
	side := backtest.Long
	if short, err := parameters.Bool("short"); err != nil {
		return nil, err
	} else if short != nil && *short {
		side = backtest.Short
	}
	return &BuyAndHold{
		remaining: remaining,
		side:      side,
		backtest:  bt,
	}, nil
}

func (s *BuyAndHold) Next() error {
	unopened := s.remaining[:0]
	for _, pair := range s.remaining {
		if _, err := s.backtest.OpenPosition(pair.symbol, pair.count, s.side); err != nil {
			unopened = append(unopened, pair)
		}
	}
	s.remaining = unopened
	return nil
}

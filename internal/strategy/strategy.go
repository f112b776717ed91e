package strategy

import (
	"fmt"

	"github.com/futsim/futsim/internal/backtest"
)

// Strategy is invoked once per simulation tick, before the engine advances
// the clock. The engine owns the positions; strategies consult read views and
// issue open and close orders.
type Strategy interface {
	Next() error
}

// New builds a named strategy against a backtest.
func New(name string, symbols []string, parameters Parameters, bt *backtest.Backtest) (Strategy, error) {
	switch name {
	case BuyAndHoldID:
		return NewBuyAndHold(symbols, parameters, bt)
	case IndicatorID:
		return NewIndicatorStrategy(symbols, parameters, bt)
	default:
		return nil, fmt.Errorf("no such strategy %q", name)
	}
}

// symbolContract pairs one symbol with its contract count.
type symbolContract struct {
	symbol string
	count  uint32
}

// symbolContracts pairs each symbol with its contract count from the
// "contracts" parameter, defaulting to one contract each. The input order is
// preserved so replays stay deterministic.
func symbolContracts(symbols []string, parameters Parameters) ([]symbolContract, error) {
	counts, err := parameters.ValueList("contracts")
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = make([]float64, len(symbols))
		for i := range counts {
			counts[i] = 1
		}
	}
	if len(symbols) != len(counts) {
		return nil, fmt.Errorf("the number of symbols (%d) and contract counts (%d) must be identical", len(symbols), len(counts))
	}
	pairs := make([]symbolContract, 0, len(symbols))
	for i, symbol := range symbols {
		if counts[i] < 1 {
			return nil, fmt.Errorf("contract count for %s must be at least one", symbol)
		}
		pairs = append(pairs, symbolContract{symbol: symbol, count: uint32(counts[i])})
	}
	return pairs, nil
}

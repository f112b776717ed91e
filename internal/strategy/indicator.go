package strategy

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/futsim/futsim/internal/backtest"
	"github.com/futsim/futsim/internal/indicator"
)

// IndicatorID names the indicator strategy in requests.
const IndicatorID = "indicator"

// symbolIndicator binds one indicator instance to one traded symbol.
type symbolIndicator struct {
	symbol      string
	contracts   uint32
	indicator   indicator.Indicator
	initialized bool
}

// IndicatorStrategy trades each symbol on the signals of its own clone of a
// configured indicator. Open failures such as insufficient margin are
// swallowed; the signal fires again on later ticks.
//
// Parameters:
//   - indicator: indicator name, for example "rsi" or "macd"
//   - period / signalPeriod / fastPeriod / slowPeriod: periods by indicator
//   - lowThreshold / highThreshold: RSI gates
//   - multiplier: channel band width
//   - exitMode: channel exit at "center" or "oppositeBand"
//   - long / short: enable sides, default both
//   - contracts: contract count per symbol
type IndicatorStrategy struct {
	indicators  []*symbolIndicator
	enableLong  bool
	enableShort bool
	backtest    *backtest.Backtest
}

// NewIndicatorStrategy builds the strategy from request parameters, cloning
// the configured indicator once per symbol.
func NewIndicatorStrategy(symbols []string, parameters Parameters, bt *backtest.Backtest) (*IndicatorStrategy, error) {
	if len(symbols) == 0 {
		return nil, errors.New("need at least one symbol")
	}
	template, err := indicatorFromParameters(parameters)
	if err != nil {
		return nil, err
	}
	contracts, err := symbolContracts(symbols, parameters)
	if err != nil {
		return nil, err
	}
	enableLong := true
	enableShort := true
	if long, err := parameters.Bool("long"); err != nil {
		return nil, err
	} else if long != nil {
		enableLong = *long
	}
	if short, err := parameters.Bool("short"); err != nil {
		return nil, err
	} else if short != nil {
		enableShort = *short
	}
	log.Debug().Str("indicator", template.Description()).Int("symbols", len(contracts)).Msg("Configured indicator strategy")
	indicators := make([]*symbolIndicator, 0, len(contracts))
	for _, pair := range contracts {
		indicators = append(indicators, &symbolIndicator{
			symbol:    pair.symbol,
			contracts: pair.count,
			indicator: template.Clone(),
		})
	}
	return &IndicatorStrategy{
		indicators:  indicators,
		enableLong:  enableLong,
		enableShort: enableShort,
		backtest:    bt,
	}, nil
}

func (s *IndicatorStrategy) Next() error {
	for _, bound := range s.indicators {
		available, err := s.backtest.IsAvailable(bound.symbol)
		if err != nil {
			return err
		}
		if !available {
			// The symbol is not trading yet, skip it.
			continue
		}
		if !bound.initialized {
			// Fill the buffer with bars from before the simulation window so
			// signal generation does not wait out the warm-up period.
			if count, needed := bound.indicator.NeedsInitialization(); needed {
				records, err := s.backtest.Records(bound.symbol, count)
				if err != nil {
					return err
				}
				indicator.Initialize(bound.indicator, records)
			}
			bound.initialized = true
		}
		record, err := s.backtest.MostRecentRecord(bound.symbol)
		if err != nil {
			return err
		}
		bound.indicator.Next(record)
		state := s.positionState(bound.symbol)
		signal := bound.indicator.TradeSignal(state)
		if signal == indicator.SignalNone {
			continue
		}
		s.trade(signal, bound)
	}
	return nil
}

func (s *IndicatorStrategy) positionState(symbol string) indicator.PositionState {
	position, ok := s.backtest.PositionByRoot(symbol)
	if !ok {
		return indicator.StateNone
	}
	if position.Side == backtest.Long {
		return indicator.StateLong
	}
	return indicator.StateShort
}

func (s *IndicatorStrategy) trade(signal indicator.Signal, bound *symbolIndicator) {
	position, held := s.backtest.PositionByRoot(bound.symbol)
	if signal == indicator.SignalClose {
		if held {
			_ = s.backtest.ClosePosition(position.ID, position.Count)
		}
		return
	}
	targetSide := backtest.Long
	if signal == indicator.SignalShort {
		targetSide = backtest.Short
	}
	if held {
		if position.Side == targetSide {
			return
		}
		// The signal disagrees with the held side: close and flip.
		_ = s.backtest.ClosePosition(position.ID, position.Count)
	}
	s.openPosition(targetSide, bound)
}

func (s *IndicatorStrategy) openPosition(targetSide backtest.Side, bound *symbolIndicator) {
	longValid := s.enableLong && targetSide == backtest.Long
	shortValid := s.enableShort && targetSide == backtest.Short
	if !longValid && !shortValid {
		return
	}
	// Suppress errors due to margin requirements or missing data; the
	// strategy keeps trying on subsequent ticks.
	_, _ = s.backtest.OpenPosition(bound.symbol, bound.contracts, targetSide)
}

func indicatorFromParameters(parameters Parameters) (indicator.Indicator, error) {
	name, err := parameters.String("indicator")
	if err != nil {
		return nil, err
	}
	if name == nil {
		return nil, errors.New(`missing required parameter "indicator"`)
	}
	period := intParameter(parameters, "period")
	signalPeriod := intParameter(parameters, "signalPeriod")
	fastPeriod := intParameter(parameters, "fastPeriod")
	slowPeriod := intParameter(parameters, "slowPeriod")
	requirePeriod := func(value *int) (int, error) {
		if value == nil {
			return 0, errors.New("missing period parameter")
		}
		return *value, nil
	}
	switch *name {
	case indicator.MomentumID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		return indicator.NewMomentum(p)
	case indicator.SimpleMovingAverageID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		return indicator.NewSimpleMovingAverage(p, nil)
	case indicator.LinearMovingAverageID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		return indicator.NewLinearMovingAverage(p, nil)
	case indicator.ExponentialMovingAverageID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		return indicator.NewExponentialMovingAverage(p, nil)
	case indicator.SimpleCrossoverID:
		fast, err := requirePeriod(fastPeriod)
		if err != nil {
			return nil, err
		}
		return indicator.NewSimpleMovingAverage(fast, slowPeriod)
	case indicator.LinearCrossoverID:
		fast, err := requirePeriod(fastPeriod)
		if err != nil {
			return nil, err
		}
		return indicator.NewLinearMovingAverage(fast, slowPeriod)
	case indicator.ExponentialCrossoverID:
		fast, err := requirePeriod(fastPeriod)
		if err != nil {
			return nil, err
		}
		return indicator.NewExponentialMovingAverage(fast, slowPeriod)
	case indicator.RelativeStrengthID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		low, err := requireValue(parameters, "lowThreshold")
		if err != nil {
			return nil, err
		}
		high, err := requireValue(parameters, "highThreshold")
		if err != nil {
			return nil, err
		}
		return indicator.NewRelativeStrength(p, low, high)
	case indicator.MovingAverageConvergenceID, indicator.PercentagePriceOscillatorID:
		signal, err := requirePeriod(signalPeriod)
		if err != nil {
			return nil, err
		}
		fast, err := requirePeriod(fastPeriod)
		if err != nil {
			return nil, err
		}
		slow, err := requirePeriod(slowPeriod)
		if err != nil {
			return nil, err
		}
		if *name == indicator.MovingAverageConvergenceID {
			return indicator.NewMovingAverageConvergence(signal, fast, slow)
		}
		return indicator.NewPercentagePriceOscillator(signal, fast, slow)
	case indicator.BollingerBandsID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		multiplier, err := requireValue(parameters, "multiplier")
		if err != nil {
			return nil, err
		}
		exitMode, err := exitModeParameter(parameters)
		if err != nil {
			return nil, err
		}
		return indicator.NewBollingerBands(p, multiplier, exitMode)
	case indicator.KeltnerChannelID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		multiplier, err := requireValue(parameters, "multiplier")
		if err != nil {
			return nil, err
		}
		exitMode, err := exitModeParameter(parameters)
		if err != nil {
			return nil, err
		}
		return indicator.NewKeltnerChannel(p, multiplier, exitMode)
	case indicator.DonchianChannelID:
		p, err := requirePeriod(period)
		if err != nil {
			return nil, err
		}
		exitMode, err := exitModeParameter(parameters)
		if err != nil {
			return nil, err
		}
		return indicator.NewDonchianChannel(p, exitMode)
	default:
		return nil, fmt.Errorf("unknown indicator type %q", *name)
	}
}

func intParameter(parameters Parameters, name string) *int {
	value, err := parameters.Value(name)
	if err != nil || value == nil {
		return nil
	}
	result := int(*value)
	return &result
}

func requireValue(parameters Parameters, name string) (float64, error) {
	value, err := parameters.Value(name)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, fmt.Errorf("missing %s parameter", name)
	}
	return *value, nil
}

func exitModeParameter(parameters Parameters) (indicator.ChannelExitMode, error) {
	value, err := parameters.String("exitMode")
	if err != nil {
		return "", err
	}
	if value == nil {
		return indicator.ExitCenter, nil
	}
	return indicator.ParseChannelExitMode(*value)
}

package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/futsim/futsim/internal/asset"
	"github.com/futsim/futsim/internal/globex"
	"github.com/futsim/futsim/internal/ohlc"
)

var (
	// ErrTerminated is returned by Next after the simulation has finished or
	// failed; the first fatal error is latched and re-returned instead when
	// one occurred.
	ErrTerminated = errors.New("backtest has been terminated")
	// ErrRuin terminates the simulation when equity falls below the
	// configured fraction of starting cash.
	ErrRuin = errors.New("account value dropped below the ruin ratio")
	// ErrInsufficientCash reports an open that the account cannot fund.
	// Strategies are free to retry on a later tick.
	ErrInsufficientCash = errors.New("not enough cash to open position")
)

// forexMap resolves a settlement currency to the archive symbol of its USD
// quote. Constructed once, read-only.
var forexMap = map[string]string{
	asset.CurrencyEUR: "^EURUSD",
	asset.CurrencyGBP: "^GBPUSD",
	asset.CurrencyJPY: "^JPYUSD",
}

// Backtest is a single simulation run. All cash is kept in USD; buying or
// selling assets traded in other currencies causes implicit conversion. A
// backtest is exclusively owned by its caller and must not be shared between
// goroutines.
type Backtest struct {
	config            Config
	manager           *asset.Manager
	cash              float64
	positions         []*Position
	now               time.Time
	timeFrame         ohlc.TimeFrame
	timeSequence      []time.Time
	nextPositionID    uint32
	events            []Event
	equityCurveDaily  []EquityPoint
	equityCurveTrades []float64
	fees              float64
	terminated        bool
	terminalErr       error
}

// New builds a backtest over [from, to) on the given time frame. The time
// sequence is the reference archive's trading calendar restricted to the
// window.
func New(from, to time.Time, timeFrame ohlc.TimeFrame, config Config, manager *asset.Manager) (*Backtest, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid backtest window: from %s is not before to %s", from.Format(time.DateTime), to.Format(time.DateTime))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sequence, err := timeSequence(from, to, timeFrame, config.TimeReference, manager)
	if err != nil {
		return nil, err
	}
	b := &Backtest{
		config:            config,
		manager:           manager,
		cash:              config.StartingCash,
		now:               from,
		timeFrame:         timeFrame,
		timeSequence:      sequence,
		nextPositionID:    1,
		equityCurveDaily:  []EquityPoint{{Date: stamp(from), AccountValue: config.StartingCash}},
		equityCurveTrades: []float64{config.StartingCash},
	}
	return b, nil
}

func timeSequence(from, to time.Time, timeFrame ohlc.TimeFrame, reference string, manager *asset.Manager) ([]time.Time, error) {
	archive, err := manager.Archive(reference)
	if err != nil {
		return nil, fmt.Errorf("time reference: %w", err)
	}
	var sequence []time.Time
	for _, t := range archive.Data(timeFrame).TimeMap.Times() {
		if !t.Before(from) && t.Before(to) {
			sequence = append(sequence, t)
		}
	}
	return sequence, nil
}

// Now returns the current simulation time.
func (b *Backtest) Now() time.Time {
	return b.now
}

// TimeFrame returns the simulation cadence.
func (b *Backtest) TimeFrame() ohlc.TimeFrame {
	return b.timeFrame
}

// Next advances the simulation to the next point in time. It returns true
// once the end of the window is reached, after closing all remaining
// positions. A returned error means the simulation terminated prematurely;
// subsequent calls refuse with the same error.
func (b *Backtest) Next() (bool, error) {
	if b.terminated {
		if b.terminalErr != nil {
			return false, b.terminalErr
		}
		return false, ErrTerminated
	}
	done, err := b.step()
	if err != nil {
		b.terminated = true
		b.terminalErr = err
		return false, err
	}
	return done, nil
}

func (b *Backtest) step() (bool, error) {
	if len(b.timeSequence) == 0 {
		// Cash out.
		if err := b.closeAllPositions(); err != nil {
			return false, err
		}
		b.terminated = true
		return true, nil
	}
	if err := b.marginCallCheck(); err != nil {
		return false, err
	}
	b.now = b.timeSequence[0]
	b.timeSequence = b.timeSequence[1:]
	if err := b.rolloverContracts(); err != nil {
		return false, err
	}
	b.updateEquityCurve()
	if err := b.ruinCheck(); err != nil {
		return false, err
	}
	return false, nil
}

// OpenPosition opens count contracts on the given side. The symbol is either
// a full Globex code or a root, which resolves to the currently most popular
// contract.
func (b *Backtest) OpenPosition(symbol string, count uint32, side Side) (uint32, error) {
	return b.openPosition(symbol, count, side, true, true, true)
}

// ClosePosition closes count contracts of a position, removing it entirely
// when the full count is given.
func (b *Backtest) ClosePosition(id, count uint32) error {
	return b.closePosition(id, count, true, true, true)
}

// Position returns an open position by id.
func (b *Backtest) Position(id uint32) (Position, bool) {
	for _, position := range b.positions {
		if position.ID == id {
			return *position, true
		}
	}
	return Position{}, false
}

// PositionByRoot returns the first open position whose asset root matches.
func (b *Backtest) PositionByRoot(root string) (Position, bool) {
	for _, position := range b.positions {
		if position.Asset.Symbol == root {
			return *position, true
		}
	}
	return Position{}, false
}

// Positions returns a snapshot of all open positions in opening order.
func (b *Backtest) Positions() []Position {
	snapshot := make([]Position, 0, len(b.positions))
	for _, position := range b.positions {
		snapshot = append(snapshot, *position)
	}
	return snapshot
}

// IsAvailable reports whether a symbol has data at or before the current
// simulation time.
func (b *Backtest) IsAvailable(symbol string) (bool, error) {
	root := symbol
	if code, ok := globex.Parse(symbol); ok {
		root = code.Root
	}
	archive, err := b.manager.Archive(root)
	if err != nil {
		return false, err
	}
	records := archive.Data(b.timeFrame).AdjustedFallback()
	return len(records) > 0 && !records[0].Time.After(b.now), nil
}

// Records returns up to count bars strictly preceding the current simulation
// time, oldest first, for indicator warm-up.
func (b *Backtest) Records(symbol string, count int) ([]*ohlc.Record, error) {
	root := symbol
	if code, ok := globex.Parse(symbol); ok {
		root = code.Root
	}
	archive, err := b.manager.Archive(root)
	if err != nil {
		return nil, err
	}
	records := archive.Data(b.timeFrame).AdjustedFallback()
	end := len(records)
	for end > 0 && !records[end-1].Time.Before(b.now) {
		end--
	}
	start := end - count
	if start < 0 {
		start = 0
	}
	return records[start:end], nil
}

// MostRecentRecord returns the adjusted bar at the current simulation time,
// or the last one before it.
func (b *Backtest) MostRecentRecord(symbol string) (*ohlc.Record, error) {
	root := symbol
	if code, ok := globex.Parse(symbol); ok {
		root = code.Root
	}
	archive, err := b.manager.Archive(root)
	if err != nil {
		return nil, err
	}
	data := archive.Data(b.timeFrame)
	if record, ok := data.TimeMap.At(b.now); ok {
		return record, nil
	}
	records := data.AdjustedFallback()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Time.Before(b.now) {
			return records[i], nil
		}
	}
	return nil, fmt.Errorf("no record for %s at or before %s", symbol, b.now.Format(time.DateTime))
}

// Result returns the simulation report. It is valid at any point, including
// after termination by ruin or error.
func (b *Backtest) Result() Result {
	events := make([]Event, len(b.events))
	copy(events, b.events)
	daily := make([]EquityPoint, len(b.equityCurveDaily))
	copy(daily, b.equityCurveDaily)
	trades := make([]float64, len(b.equityCurveTrades))
	copy(trades, b.equityCurveTrades)
	return Result{
		StartingCash:      b.config.StartingCash,
		FinalCash:         b.cash,
		Events:            events,
		EquityCurveDaily:  daily,
		EquityCurveTrades: trades,
		Fees:              b.fees,
	}
}

func (b *Backtest) openPosition(symbol string, count uint32, side Side, automaticRollover, enableFees, enableLogging bool) (uint32, error) {
	if count < 1 {
		return 0, errors.New("position count must be at least one")
	}
	root := symbol
	resolvedSymbol := symbol
	if code, ok := globex.Parse(symbol); ok {
		root = code.Root
	} else {
		resolved, err := b.symbolFromRoot(symbol)
		if err != nil {
			return 0, err
		}
		resolvedSymbol = resolved
	}
	assetDefinition, archive, err := b.manager.Asset(root)
	if err != nil {
		return 0, err
	}
	if assetDefinition.AssetType != asset.Futures {
		return 0, fmt.Errorf("asset %s is not a futures contract", root)
	}
	currentRecord, err := b.currentRecord(resolvedSymbol)
	if err != nil {
		return 0, err
	}
	maintenancePerContract, err := b.maintenanceMargin(&assetDefinition, archive)
	if err != nil {
		return 0, err
	}
	maintenanceMargin := float64(count) * maintenancePerContract
	maintenanceUSD, forexFee, err := b.convertToUSD(assetDefinition.Currency, maintenanceMargin)
	if err != nil {
		return 0, err
	}
	// Approximate the initial margin with a static factor.
	initialMargin := b.config.InitialMarginRatio * maintenanceUSD
	fees := 0.0
	if enableFees {
		fees = forexFee + assetDefinition.BrokerFee + assetDefinition.ExchangeFee
	}
	cost := initialMargin + fees
	if cost >= b.cash {
		return 0, fmt.Errorf("%w: %d contract(s) of %s with an initial margin requirement of $%.2f", ErrInsufficientCash, count, resolvedSymbol, initialMargin)
	}
	b.cash -= cost
	b.fees += fees
	ask := currentRecord.Close + float64(b.config.FuturesSpreadTicks)*assetDefinition.TickSize
	position := &Position{
		ID:                b.nextPositionID,
		Symbol:            currentRecord.Symbol,
		Asset:             assetDefinition,
		Count:             count,
		Side:              side,
		Price:             ask,
		Margin:            maintenanceUSD,
		Archive:           archive,
		Time:              b.now,
		AutomaticRollover: automaticRollover,
	}
	b.nextPositionID++
	b.positions = append(b.positions, position)
	if enableLogging {
		b.logEvent(EventOpenPosition, fmt.Sprintf("Opened %s position: %d x %s @ %.2f (ID %d)", side, count, position.Symbol, ask, position.ID))
	}
	return position.ID, nil
}

func (b *Backtest) closePosition(id, count uint32, enableFees, enableLogging, enableEquityCurve bool) error {
	var position *Position
	index := -1
	for i, candidate := range b.positions {
		if candidate.ID == id {
			position = candidate
			index = i
			break
		}
	}
	if position == nil {
		return fmt.Errorf("unable to find a position with ID %d", id)
	}
	if count > position.Count {
		return fmt.Errorf("unable to close position with ID %d: %d contracts specified but only %d available", id, count, position.Count)
	}
	value, bid, fees, err := b.positionValue(position, count, enableFees)
	if err != nil {
		return err
	}
	b.cash += value
	b.fees += fees
	if position.Count == count {
		b.positions = append(b.positions[:index], b.positions[index+1:]...)
	} else {
		position.Count -= count
	}
	if enableLogging {
		b.logEvent(EventClosePosition, fmt.Sprintf("Closed %s position: %d x %s @ %.2f (ID %d)", position.Side, count, position.Symbol, bid, id))
	}
	if enableEquityCurve {
		b.equityCurveTrades = append(b.equityCurveTrades, b.accountValue(true))
	}
	return nil
}

// positionValue marks count contracts to market: the released base margin
// plus the converted gain, minus fees. Shorts negate the gain.
func (b *Backtest) positionValue(position *Position, count uint32, enableFees bool) (value, bid, fees float64, err error) {
	record, err := b.currentRecord(position.Symbol)
	if err != nil {
		return 0, 0, 0, err
	}
	bid = record.Close
	ticks := float64(count) * (bid - position.Price) / position.Asset.TickSize
	gain := ticks * position.Asset.TickValue
	if position.Side == Short {
		gain = -gain
	}
	gainUSD, forexFee, err := b.convertToUSD(position.Asset.Currency, gain)
	if err != nil {
		return 0, 0, 0, err
	}
	if enableFees {
		fees = forexFee + position.Asset.BrokerFee + position.Asset.ExchangeFee
	}
	marginReleased := float64(count) * position.Asset.Margin
	return marginReleased + gainUSD - fees, bid, fees, nil
}

// maintenanceMargin reconstructs a historical maintenance margin by scaling
// the base margin with the price ratio between the current and most recent
// close, capped to guard against unrepresentative recent margins.
func (b *Backtest) maintenanceMargin(definition *asset.Asset, archive *ohlc.Archive) (float64, error) {
	currentRecord, ok := archive.Daily.TimeMap.At(b.now)
	if !ok {
		return 0, fmt.Errorf("unable to find current record for symbol %s at %s", definition.Symbol, b.now.Format(time.DateTime))
	}
	unadjusted := archive.Daily.Unadjusted
	if len(unadjusted) == 0 {
		return 0, errors.New("last record missing")
	}
	lastRecord := unadjusted[len(unadjusted)-1]
	if currentRecord.Close > 0 && lastRecord.Close > 0 {
		const maxRatio = 10.0
		priceRatio := currentRecord.Close / lastRecord.Close
		if priceRatio > maxRatio {
			priceRatio = maxRatio
		}
		return priceRatio * definition.Margin, nil
	}
	// Fallback for pathological cases like negative crude.
	return definition.Margin, nil
}

// convertToUSD converts an amount in the given currency to USD, modeling the
// bid/ask spread as a divisor and charging the flat forex order fee on any
// non-USD leg.
func (b *Backtest) convertToUSD(currency string, amount float64) (converted, fee float64, err error) {
	return b.convertCurrency(currency, true, amount)
}

// convertFromUSD converts a USD amount into the given currency.
func (b *Backtest) convertFromUSD(currency string, amount float64) (converted, fee float64, err error) {
	return b.convertCurrency(currency, false, amount)
}

func (b *Backtest) convertCurrency(currency string, toUSD bool, amount float64) (float64, float64, error) {
	if currency == asset.CurrencyUSD {
		return amount, 0, nil
	}
	symbol, ok := forexMap[currency]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported currency pair %s/USD", currency)
	}
	record, err := b.currentRecord(symbol)
	if err != nil {
		return 0, 0, err
	}
	value := amount * record.Close
	if !toUSD {
		value = amount / record.Close
	}
	return value / b.config.ForexSpread, b.config.ForexOrderFee, nil
}

// currentRecord finds the bar for a symbol at the current simulation time.
// Globex codes are looked up in their root's contract map, forex quotes
// bypass the asset catalog.
func (b *Backtest) currentRecord(symbol string) (*ohlc.Record, error) {
	if code, ok := globex.Parse(symbol); ok {
		_, archive, err := b.manager.Asset(code.Root)
		if err != nil {
			return nil, err
		}
		contractMap := archive.Data(b.timeFrame).ContractMap
		if contractMap == nil {
			return nil, fmt.Errorf("archive for %s lacks a contract map", symbol)
		}
		bucket, ok := contractMap.At(b.now)
		if !ok {
			return nil, fmt.Errorf("unable to find a record for %s at %s", symbol, b.now.Format(time.DateTime))
		}
		for _, record := range bucket {
			if record.Symbol == symbol {
				return record, nil
			}
		}
		return nil, fmt.Errorf("unable to find a record for contract %s", symbol)
	}
	if isForexSymbol(symbol) {
		archive, err := b.manager.Archive(symbol)
		if err != nil {
			return nil, err
		}
		return b.recordFromTimeMap(archive, symbol)
	}
	_, archive, err := b.manager.Asset(symbol)
	if err != nil {
		return nil, err
	}
	return b.recordFromTimeMap(archive, symbol)
}

func (b *Backtest) recordFromTimeMap(archive *ohlc.Archive, symbol string) (*ohlc.Record, error) {
	record, ok := archive.Data(b.timeFrame).TimeMap.At(b.now)
	if !ok {
		return nil, fmt.Errorf("unable to find a record for %s at %s", symbol, b.now.Format(time.DateTime))
	}
	return record, nil
}

func isForexSymbol(symbol string) bool {
	for _, forexSymbol := range forexMap {
		if symbol == forexSymbol {
			return true
		}
	}
	return false
}

// symbolFromRoot resolves a root to the most popular contract at the current
// simulation time, falling back to the last adjusted bar before it.
func (b *Backtest) symbolFromRoot(root string) (string, error) {
	archive, err := b.manager.Archive(root)
	if err != nil {
		return "", err
	}
	data := archive.Data(b.timeFrame)
	if record, ok := data.TimeMap.At(b.now); ok {
		return record.Symbol, nil
	}
	records := data.AdjustedFallback()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Time.Before(b.now) {
			return records[i].Symbol, nil
		}
	}
	return "", fmt.Errorf("unable to resolve symbol %s", root)
}

// accountValue is cash plus the mark-to-market of every open position.
func (b *Backtest) accountValue(enableFees bool) float64 {
	total := b.cash
	for _, position := range b.positions {
		value, _, _, err := b.positionValue(position, position.Count, enableFees)
		if err != nil {
			continue
		}
		total += value
	}
	return total
}

// overnightMargin sums count times base margin over all positions, scaled by
// the overnight ratio for flagged assets.
func (b *Backtest) overnightMargin() float64 {
	total := 0.0
	for _, position := range b.positions {
		margin := float64(position.Count) * position.Asset.Margin
		if position.Asset.OvernightMargin {
			margin *= b.config.OvernightMarginRatio
		}
		total += margin
	}
	return total
}

// marginCallCheck liquidates positions head-first while the overnight margin
// exceeds the account value. The margin call is logged once per cascade; a
// failing liquidation terminates the simulation.
func (b *Backtest) marginCallCheck() error {
	logMarginCall := true
	for len(b.positions) > 0 {
		first := b.positions[0]
		accountValue := b.accountValue(true)
		overnightMargin := b.overnightMargin()
		if overnightMargin <= accountValue {
			break
		}
		if logMarginCall {
			b.logEvent(EventMarginCall, fmt.Sprintf("The overnight margin of $%.2f exceeds the account value of $%.2f, closing positions", overnightMargin, accountValue))
			logMarginCall = false
		}
		if err := b.ClosePosition(first.ID, first.Count); err != nil {
			b.logEvent(EventError, "Received a margin call with positions that cannot be liquidated")
			return err
		}
	}
	return nil
}

// rolloverContracts closes and re-opens flagged futures positions whose root
// now points at a later contract. The close is silent and fee-free; the
// re-open charges fees.
func (b *Backtest) rolloverContracts() error {
	snapshot := make([]*Position, len(b.positions))
	copy(snapshot, b.positions)
	for _, position := range snapshot {
		if position.Asset.AssetType != asset.Futures || !position.AutomaticRollover {
			continue
		}
		recordNow, err := b.currentRecord(position.Asset.Symbol)
		if err != nil {
			continue
		}
		if recordNow.Symbol == position.Symbol {
			continue
		}
		currentCode, ok := globex.Parse(position.Symbol)
		if !ok {
			return fmt.Errorf("unable to parse Globex code %s", position.Symbol)
		}
		newCode, ok := globex.Parse(recordNow.Symbol)
		if !ok {
			return fmt.Errorf("unable to parse Globex code %s", recordNow.Symbol)
		}
		if !currentCode.Less(newCode) {
			continue
		}
		if err := b.closePosition(position.ID, position.Count, false, false, false); err != nil {
			return err
		}
		id, err := b.openPosition(recordNow.Symbol, position.Count, position.Side, position.AutomaticRollover, true, false)
		if err != nil {
			return err
		}
		rolled, _ := b.Position(id)
		b.logEvent(EventRollover, fmt.Sprintf("Rolled over %s position: %d x %s @ %.2f (ID %d)", rolled.Side, rolled.Count, rolled.Symbol, rolled.Price, rolled.ID))
	}
	return nil
}

// updateEquityCurve appends a daily sample when the calendar day advanced.
func (b *Backtest) updateEquityCurve() {
	last := b.equityCurveDaily[len(b.equityCurveDaily)-1]
	if dateOnly(b.now).After(dateOnly(last.Date.Time)) {
		b.equityCurveDaily = append(b.equityCurveDaily, EquityPoint{
			Date:         stamp(b.now),
			AccountValue: b.accountValue(true),
		})
	}
}

func (b *Backtest) ruinCheck() error {
	last := b.equityCurveDaily[len(b.equityCurveDaily)-1]
	if last.AccountValue < b.config.RuinRatio*b.config.StartingCash {
		b.logEvent(EventRuin, "Backtest has been terminated because the account value dropped below the ruin ratio")
		return ErrRuin
	}
	return nil
}

func (b *Backtest) closeAllPositions() error {
	snapshot := make([]*Position, len(b.positions))
	copy(snapshot, b.positions)
	for _, position := range snapshot {
		if err := b.ClosePosition(position.ID, position.Count); err != nil {
			return fmt.Errorf("failed to close all positions at the end of the simulation: %w", err)
		}
	}
	return nil
}

func (b *Backtest) logEvent(eventType EventType, message string) {
	log.Debug().Str("event", string(eventType)).Time("now", b.now).Msg(message)
	b.events = append(b.events, Event{
		Time:      stamp(b.now),
		EventType: eventType,
		Message:   message,
	})
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

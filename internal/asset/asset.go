// Package asset holds the contract specifications and the manager that owns
// every loaded OHLC archive.
package asset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Type enumerates the supported asset classes.
type Type string

// Futures is the only tradeable asset type.
const Futures Type = "futures"

// Supported settlement currencies. Non-USD currencies are quoted through
// ^<CCY>USD archives.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
	CurrencyJPY = "JPY"
)

// Asset is one row of the asset catalog: the contract specification for a
// futures root.
type Asset struct {
	Symbol           string
	Name             string
	AssetType        Type
	Currency         string
	TickSize         float64
	TickValue        float64
	Margin           float64
	OvernightMargin  bool
	BrokerFee        float64
	ExchangeFee      float64
	PhysicalDelivery bool
}

// LoadAssets reads the asset catalog from a CSV file keyed by root symbol.
// Expected header: symbol,name,asset_type,currency,tick_size,tick_value,
// margin,overnight_margin,broker_fee,exchange_fee,physical_delivery.
func LoadAssets(path string) (map[string]Asset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset catalog %s: %w", path, err)
	}
	defer file.Close()
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read asset catalog header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	for _, required := range []string{
		"symbol", "name", "asset_type", "currency", "tick_size", "tick_value",
		"margin", "overnight_margin", "broker_fee", "exchange_fee", "physical_delivery",
	} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("asset catalog is missing column %q", required)
		}
	}
	assets := make(map[string]Asset)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read asset catalog row: %w", err)
		}
		asset, err := parseAssetRow(row, columns)
		if err != nil {
			return nil, fmt.Errorf("asset catalog row for %q: %w", row[columns["symbol"]], err)
		}
		assets[asset.Symbol] = asset
	}
	return assets, nil
}

func parseAssetRow(row []string, columns map[string]int) (Asset, error) {
	field := func(name string) string {
		return row[columns[name]]
	}
	parseFloat := func(name string) (float64, error) {
		value, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", name, err)
		}
		return value, nil
	}
	parseBool := func(name string) (bool, error) {
		value, err := strconv.ParseBool(field(name))
		if err != nil {
			return false, fmt.Errorf("column %q: %w", name, err)
		}
		return value, nil
	}
	assetType := Type(field("asset_type"))
	if assetType != Futures {
		return Asset{}, fmt.Errorf("unknown asset type %q", assetType)
	}
	asset := Asset{
		Symbol:    field("symbol"),
		Name:      field("name"),
		AssetType: assetType,
		Currency:  field("currency"),
	}
	switch asset.Currency {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY:
	default:
		return Asset{}, fmt.Errorf("unsupported currency %q", asset.Currency)
	}
	var err error
	if asset.TickSize, err = parseFloat("tick_size"); err != nil {
		return Asset{}, err
	}
	if asset.TickValue, err = parseFloat("tick_value"); err != nil {
		return Asset{}, err
	}
	if asset.Margin, err = parseFloat("margin"); err != nil {
		return Asset{}, err
	}
	if asset.OvernightMargin, err = parseBool("overnight_margin"); err != nil {
		return Asset{}, err
	}
	if asset.BrokerFee, err = parseFloat("broker_fee"); err != nil {
		return Asset{}, err
	}
	if asset.ExchangeFee, err = parseFloat("exchange_fee"); err != nil {
		return Asset{}, err
	}
	if asset.PhysicalDelivery, err = parseBool("physical_delivery"); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

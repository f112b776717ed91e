package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "futsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "127.0.0.1:9000"
  ticker_directory: /data/archives
  assets: /data/assets.csv
backtest:
  starting_cash: 100000
  forex_order_fee: 10
  forex_spread: 1.0002
  futures_spread_ticks: 2
  initial_margin_ratio: 0.8
  overnight_margin_ratio: 1.5
  ruin_ratio: 0.5
  time_reference: ES
parser:
  enable_intraday: true
  intraday_minutes: 60
  input_directory: /data/csv
  output_directory: /data/archives
  symbol_map:
    SP: ES
  filters:
    GC:
      legacy_cutoff: GCH06
      include_months: [G, J, M, Q, V, Z]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 100000.0, cfg.Backtest.StartingCash)
	assert.Equal(t, uint8(2), cfg.Backtest.FuturesSpreadTicks)
	assert.Equal(t, "ES", cfg.Parser.SymbolMap["SP"])
	assert.Equal(t, "GCH06", cfg.Parser.Filters["GC"].LegacyCutoff)
	// Defaults fill in.
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.NotZero(t, cfg.Server.RequestsPerSecond)
}

func TestLoadDefaultsListen(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: ["))
	assert.Error(t, err)
}

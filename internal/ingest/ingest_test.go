package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futsim/futsim/internal/ohlc"
)

func TestContractFilterLegacyCutoff(t *testing.T) {
	filter, err := NewContractFilter("GC", FilterConfig{LegacyCutoff: "GCH06"})
	require.NoError(t, err)
	assert.False(t, filter.Included("GCZ05"))
	assert.True(t, filter.Included("GCH06"))
	assert.True(t, filter.Included("GCM24"))
	// Non-futures symbols bypass all checks.
	assert.True(t, filter.Included("^EURUSD"))
}

func TestContractFilterMonths(t *testing.T) {
	filter, err := NewContractFilter("GC", FilterConfig{IncludeMonths: []string{"G", "J", "M"}})
	require.NoError(t, err)
	assert.True(t, filter.Included("GCG24"))
	assert.False(t, filter.Included("GCH24"))

	filter, err = NewContractFilter("CL", FilterConfig{ExcludeMonths: []string{"Z"}})
	require.NoError(t, err)
	assert.True(t, filter.Included("CLM24"))
	assert.False(t, filter.Included("CLZ24"))
}

func TestContractFilterWindow(t *testing.T) {
	filter, err := NewContractFilter("GC", FilterConfig{
		FirstContract: "GCM20",
		LastContract:  "GCZ20",
		IncludeMonths: []string{"M"},
	})
	require.NoError(t, err)

	// Before the window opens, month filtering is inactive.
	assert.True(t, filter.Included("GCH20"))
	// The window opens at the first contract.
	assert.True(t, filter.Included("GCM20"))
	assert.False(t, filter.Included("GCQ20"))
	// Passing the last contract deactivates the filter again.
	assert.False(t, filter.Included("GCZ20"))
	assert.True(t, filter.Included("GCH21"))

	filter.Reset()
	assert.True(t, filter.Included("GCH20"))
}

func TestContractFilterInvalidCombination(t *testing.T) {
	_, err := NewContractFilter("GC", FilterConfig{FirstContract: "GCM20"})
	assert.Error(t, err)
	_, err = NewContractFilter("GC", FilterConfig{LegacyCutoff: "bogus"})
	assert.Error(t, err)
}

func writeCSV(t *testing.T, directory, name string, rows []string) {
	t.Helper()
	content := "symbol,time,open,high,low,close,volume,open_interest\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(directory, name), []byte(content), 0o644))
}

func TestParserRun(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	rootDirectory := filepath.Join(input, "SP")
	require.NoError(t, os.MkdirAll(rootDirectory, 0o755))

	rows := make([]string, 0, 600)
	for i := 0; i < 300; i++ {
		date := fmt.Sprintf("2023-%02d-%02d", i/28%12+1, i%28+1)
		rows = append(rows,
			fmt.Sprintf("SPM24,%s,100,101,99,100,%d,%d", date, 50+i, 1000),
			fmt.Sprintf("SPU24,%s,101,102,100,101,%d,%d", date, 10, 100),
		)
	}
	// One row with a broken timestamp is dropped with a warning.
	rows = append(rows, "SPM24,not-a-date,1,1,1,1,1,1")
	writeCSV(t, rootDirectory, "SP_D1.csv", rows)

	parser, err := NewParser(Config{
		EnableIntraday:  false,
		IntradayMinutes: 60,
		InputDirectory:  input,
		OutputDirectory: output,
		SymbolMap:       map[string]string{"SP": "ES"},
	})
	require.NoError(t, err)
	require.NoError(t, parser.Run())

	raw, err := ohlc.ReadRawArchiveFile(filepath.Join(output, "ES.zrk"))
	require.NoError(t, err)
	assert.Equal(t, uint16(60), raw.IntradayMinutes)
	assert.Len(t, raw.Daily, 600)
	// Vendor symbols are translated through their root.
	for _, record := range raw.Daily {
		assert.Contains(t, []string{"ESM24", "ESU24"}, record.Symbol)
	}
	require.NotNil(t, raw.Daily[0].OpenInterest)

	// Timestamps are ascending.
	for i := 1; i < len(raw.Daily); i++ {
		assert.False(t, raw.Daily[i].Time.Before(raw.Daily[i-1].Time))
	}
}

func TestParserRejectsThinData(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	rootDirectory := filepath.Join(input, "GC")
	require.NoError(t, os.MkdirAll(rootDirectory, 0o755))
	writeCSV(t, rootDirectory, "GC_D1.csv", []string{"GCM24,2024-05-01,100,101,99,100,10,5"})

	parser, err := NewParser(Config{
		InputDirectory:  input,
		OutputDirectory: output,
		IntradayMinutes: 60,
	})
	require.NoError(t, err)
	assert.Error(t, parser.Run())
}

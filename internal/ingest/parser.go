package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/futsim/futsim/internal/globex"
	"github.com/futsim/futsim/internal/ohlc"
)

// minimumRecords is the smallest merged bar count a root must yield; anything
// below points at missing input data.
const minimumRecords = 250

var (
	dailyFilePattern    = regexp.MustCompile(`D1\.csv$`)
	intradayFilePattern = regexp.MustCompile(`(H1|M\d+)\.csv$`)
)

// Config drives one ingestion run.
type Config struct {
	EnableIntraday  bool                    `yaml:"enable_intraday"`
	IntradayMinutes uint16                  `yaml:"intraday_minutes"`
	InputDirectory  string                  `yaml:"input_directory"`
	OutputDirectory string                  `yaml:"output_directory"`
	SymbolMap       map[string]string       `yaml:"symbol_map"`
	Filters         map[string]FilterConfig `yaml:"filters"`
}

// Parser converts one directory of CSV files per root into .zrk archives.
type Parser struct {
	config  Config
	filters map[string]*ContractFilter
}

// NewParser validates the configured contract filters.
func NewParser(config Config) (*Parser, error) {
	filters := make(map[string]*ContractFilter, len(config.Filters))
	for root, filterConfig := range config.Filters {
		filter, err := NewContractFilter(root, filterConfig)
		if err != nil {
			return nil, err
		}
		filters[filter.Root] = filter
	}
	return &Parser{config: config, filters: filters}, nil
}

// Run processes every root directory under the input directory in parallel.
func (p *Parser) Run() error {
	started := time.Now()
	entries, err := os.ReadDir(p.config.InputDirectory)
	if err != nil {
		return fmt.Errorf("read input directory %s: %w", p.config.InputDirectory, err)
	}
	var group errgroup.Group
	processed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		directory := filepath.Join(p.config.InputDirectory, entry.Name())
		processed++
		group.Go(func() error {
			return p.processRootDirectory(directory)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().
		Int("roots", processed).
		Dur("elapsed", time.Since(started)).
		Msg("Processed all directories")
	return nil
}

func (p *Parser) processRootDirectory(directory string) error {
	started := time.Now()
	root := p.translate(filepath.Base(directory))
	daily, dailyExcluded, err := p.parseCSVFiles(directory, dailyFilePattern, false)
	if err != nil {
		return err
	}
	var intraday []ohlc.RawRecord
	intradayExcluded := 0
	if p.config.EnableIntraday {
		intraday, intradayExcluded, err = p.parseCSVFiles(directory, intradayFilePattern, true)
		if err != nil {
			return err
		}
	}
	archive := &ohlc.RawArchive{
		Daily:           daily,
		Intraday:        intraday,
		IntradayMinutes: p.config.IntradayMinutes,
	}
	archivePath := filepath.Join(p.config.OutputDirectory, ohlc.ArchiveFileName(root))
	if err := ohlc.WriteArchiveFile(archivePath, archive); err != nil {
		return err
	}
	log.Info().
		Str("root", root).
		Int("records", len(daily)+len(intraday)).
		Int("excludedDaily", dailyExcluded).
		Int("excludedIntraday", intradayExcluded).
		Str("archive", archivePath).
		Dur("elapsed", time.Since(started)).
		Msg("Wrote archive")
	return nil
}

type recordKey struct {
	symbol string
	time   int64
}

func (p *Parser) parseCSVFiles(directory string, pattern *regexp.Regexp, sortBySymbol bool) ([]ohlc.RawRecord, int, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, 0, fmt.Errorf("read directory %s: %w", directory, err)
	}
	filter := p.filters[p.translate(filepath.Base(directory))]
	records := make(map[recordKey]ohlc.RawRecord)
	excludedContracts := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !pattern.MatchString(entry.Name()) {
			continue
		}
		path := filepath.Join(directory, entry.Name())
		if err := p.parseCSVFile(path, filter, records, excludedContracts); err != nil {
			return nil, 0, err
		}
		if filter != nil {
			filter.Reset()
		}
	}
	if len(records) < minimumRecords {
		return nil, 0, fmt.Errorf("missing data in %s: %d records", directory, len(records))
	}
	output := make([]ohlc.RawRecord, 0, len(records))
	for _, record := range records {
		output = append(output, record)
	}
	sort.Slice(output, func(i, j int) bool {
		if sortBySymbol && output[i].Symbol != output[j].Symbol {
			return output[i].Symbol < output[j].Symbol
		}
		return output[i].Time.Before(output[j].Time)
	})
	return output, len(excludedContracts), nil
}

func (p *Parser) parseCSVFile(path string, filter *ContractFilter, records map[recordKey]ohlc.RawRecord, excludedContracts map[string]struct{}) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"symbol", "time", "open", "high", "low", "close", "volume"} {
		if _, ok := columns[required]; !ok {
			return fmt.Errorf("%s is missing column %q", path, required)
		}
	}
	dropped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read row of %s: %w", path, err)
		}
		record, ok := p.parseRow(row, columns)
		if !ok {
			dropped++
			continue
		}
		if filter != nil && !filter.Included(record.Symbol) {
			excludedContracts[record.Symbol] = struct{}{}
			continue
		}
		key := recordKey{symbol: record.Symbol, time: record.Time.Unix()}
		records[key] = record
	}
	if dropped > 0 {
		log.Warn().Int("rows", dropped).Str("file", path).Msg("Dropped unparseable rows")
	}
	return nil
}

// parseRow converts one CSV row. Rows with unparseable times or prices are
// dropped rather than failing the file.
func (p *Parser) parseRow(row []string, columns map[string]int) (ohlc.RawRecord, bool) {
	field := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[index])
	}
	parsedTime, err := parseTime(field("time"))
	if err != nil {
		return ohlc.RawRecord{}, false
	}
	prices := make([]float64, 4)
	for i, name := range []string{"open", "high", "low", "close"} {
		value, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return ohlc.RawRecord{}, false
		}
		prices[i] = value
	}
	volume, err := strconv.ParseUint(field("volume"), 10, 32)
	if err != nil {
		return ohlc.RawRecord{}, false
	}
	record := ohlc.RawRecord{
		Symbol: p.translate(field("symbol")),
		Time:   parsedTime,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: uint32(volume),
	}
	if rawOpenInterest := field("open_interest"); rawOpenInterest != "" {
		openInterest, err := strconv.ParseUint(rawOpenInterest, 10, 32)
		if err == nil {
			value := uint32(openInterest)
			record.OpenInterest = &value
		}
	}
	return record, true
}

func parseTime(value string) (time.Time, error) {
	if parsed, err := time.Parse("2006-01-02 15:04", value); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", value)
}

// translate maps a data vendor symbol to its exchange symbol. Contract
// symbols are translated through their root, so a mapping SP -> ES also turns
// SPM24 into ESM24.
func (p *Parser) translate(symbol string) string {
	if translated, ok := p.config.SymbolMap[symbol]; ok {
		return translated
	}
	if root, month, year, ok := globex.Split(symbol); ok {
		if translated, exists := p.config.SymbolMap[root]; exists {
			return translated + month + year
		}
	}
	return symbol
}

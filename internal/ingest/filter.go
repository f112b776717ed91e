// Package ingest turns per-root directories of CSV bar data into serialized
// raw archives.
package ingest

import (
	"fmt"
	"strings"

	"github.com/futsim/futsim/internal/globex"
)

// FilterConfig is the declarative form of a per-root contract filter.
type FilterConfig struct {
	// Contracts older than this Globex code are dropped. Meant to exclude
	// data with missing volume from before roughly 2003-2006.
	LegacyCutoff string `yaml:"legacy_cutoff"`
	// First contract that activates month filtering.
	FirstContract string `yaml:"first_contract"`
	// Last contract before month filtering deactivates again.
	LastContract string `yaml:"last_contract"`
	// Month letters to keep.
	IncludeMonths []string `yaml:"include_months"`
	// Month letters to drop.
	ExcludeMonths []string `yaml:"exclude_months"`
}

// ContractFilter restricts which contracts of a root are ingested, by month
// letters and by an inclusive first/last contract window.
type ContractFilter struct {
	Root           string
	legacyCutoff   *globex.Code
	firstContract  string
	lastContract   string
	includeMonths  []string
	excludeMonths  []string
	active         bool
	previousSymbol string
}

// NewContractFilter validates a filter configuration for a root.
func NewContractFilter(root string, config FilterConfig) (*ContractFilter, error) {
	filter := &ContractFilter{
		Root:          strings.ToUpper(root),
		firstContract: config.FirstContract,
		lastContract:  config.LastContract,
		includeMonths: config.IncludeMonths,
		excludeMonths: config.ExcludeMonths,
	}
	if config.LegacyCutoff != "" {
		code, ok := globex.Parse(config.LegacyCutoff)
		if !ok {
			return nil, fmt.Errorf("invalid legacy cutoff Globex code %q for root %s", config.LegacyCutoff, root)
		}
		filter.legacyCutoff = &code
	}
	if (filter.firstContract != "" || filter.lastContract != "") && filter.includeMonths == nil && filter.excludeMonths == nil {
		return nil, fmt.Errorf("invalid combination of filters for symbol %q", root)
	}
	filter.Reset()
	return filter, nil
}

// Included decides whether a contract's rows pass the filter. The filter is
// stateful: the first/last contract window activates and deactivates month
// filtering as the file is walked in order.
func (f *ContractFilter) Included(symbol string) bool {
	code, ok := globex.Parse(symbol)
	if !ok {
		// Not a futures contract, bypass all checks.
		return true
	}
	if f.legacyCutoff != nil && code.Less(*f.legacyCutoff) {
		return false
	}
	if f.firstContract != "" {
		if symbol == f.firstContract {
			f.active = true
		} else if f.lastContract != "" && f.previousSymbol == f.lastContract && symbol != f.lastContract {
			f.active = false
		}
	}
	f.previousSymbol = symbol
	if !f.active {
		return true
	}
	if f.includeMonths != nil {
		return containsMonth(f.includeMonths, code.Month)
	}
	if f.excludeMonths != nil {
		return !containsMonth(f.excludeMonths, code.Month)
	}
	return true
}

// Reset rearms the contract window between files.
func (f *ContractFilter) Reset() {
	f.active = f.firstContract == ""
	f.previousSymbol = ""
}

func containsMonth(months []string, month string) bool {
	for _, candidate := range months {
		if candidate == month {
			return true
		}
	}
	return false
}

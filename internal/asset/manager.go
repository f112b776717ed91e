package asset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/futsim/futsim/internal/ohlc"
)

// AllSymbolsKeyword in a symbol list expands to every loaded archive.
const AllSymbolsKeyword = "all"

// Manager owns the asset catalog and all derived archives. It is constructed
// once at startup and is safe for concurrent reads afterwards.
type Manager struct {
	archives map[string]*ohlc.Archive
	assets   map[string]Asset
}

// NewManager loads every .zrk archive under tickerDirectory in parallel,
// together with the asset catalog. Archives of physically delivered futures
// are derived with the front contract skipped to avoid delivery-period price
// anomalies.
func NewManager(tickerDirectory, assetPath string) (*Manager, error) {
	assets, err := LoadAssets(assetPath)
	if err != nil {
		return nil, err
	}
	archives, err := loadArchives(tickerDirectory, assets)
	if err != nil {
		return nil, err
	}
	manager := &Manager{
		archives: archives,
		assets:   assets,
	}
	return manager, nil
}

// NewManagerFromParts assembles a manager from preloaded data, primarily for
// tests.
func NewManagerFromParts(archives map[string]*ohlc.Archive, assets map[string]Asset) *Manager {
	return &Manager{archives: archives, assets: assets}
}

func loadArchives(directory string, assets map[string]Asset) (map[string]*ohlc.Archive, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("read archive directory %s: %w", directory, err)
	}
	started := time.Now()
	archives := make(map[string]*ohlc.Archive)
	var mutex sync.Mutex
	var group errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ohlc.ArchiveExtension) {
			continue
		}
		symbol := strings.TrimSuffix(entry.Name(), ohlc.ArchiveExtension)
		path := filepath.Join(directory, entry.Name())
		group.Go(func() error {
			archive, err := ohlc.ReadArchiveFile(path, physicalDelivery(symbol, assets))
			if err != nil {
				return err
			}
			mutex.Lock()
			archives[symbol] = archive
			mutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	log.Info().
		Int("archives", len(archives)).
		Dur("elapsed", time.Since(started)).
		Str("directory", directory).
		Msg("Loaded archives")
	return archives, nil
}

func physicalDelivery(symbol string, assets map[string]Asset) bool {
	asset, ok := assets[symbol]
	return ok && asset.AssetType == Futures && asset.PhysicalDelivery
}

// Archive returns the derived archive for a root symbol.
func (m *Manager) Archive(symbol string) (*ohlc.Archive, error) {
	archive, ok := m.archives[symbol]
	if !ok {
		return nil, fmt.Errorf("unable to find an archive for ticker %s", symbol)
	}
	return archive, nil
}

// Asset returns the catalog entry and archive for a root symbol.
func (m *Manager) Asset(symbol string) (Asset, *ohlc.Archive, error) {
	asset, ok := m.assets[symbol]
	if !ok {
		return Asset{}, nil, fmt.Errorf("unable to find an asset definition for %s", symbol)
	}
	archive, err := m.Archive(symbol)
	if err != nil {
		return Asset{}, nil, err
	}
	return asset, archive, nil
}

// ResolveSymbols expands the "all" keyword to every loaded archive key, in
// sorted order; any other list passes through unchanged.
func (m *Manager) ResolveSymbols(symbols []string) []string {
	for _, symbol := range symbols {
		if symbol == AllSymbolsKeyword {
			resolved := make([]string, 0, len(m.archives))
			for key := range m.archives {
				resolved = append(resolved, key)
			}
			sort.Strings(resolved)
			return resolved
		}
	}
	return symbols
}

// Symbols returns the loaded archive keys in sorted order.
func (m *Manager) Symbols() []string {
	return m.ResolveSymbols([]string{AllSymbolsKeyword})
}

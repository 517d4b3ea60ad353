// Package ohlcv provides the on-disk OHLCV cache and ingestion-time
// validation described as external collaborators: the core reads bars
// through this package and never writes them back. Adapted from the
// teacher's internal/data package, split into a pure cache (this file) and
// a fatal validator (validate.go) rather than the teacher's single
// scored-report validator, since bad OHLC invariants must fail the run
// outright, not just lower a quality score.
package ohlcv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ktrdr/ktrdr/pkg/types"
	"go.uber.org/zap"
)

// Cache serves OHLCV bars for a (symbol, timeframe) pair from an in-memory
// cache backed by one JSON file per pair on disk. The core reads through
// this; a separate subsystem (outside the scope built here) is responsible
// for writing new bars into the cache directory.
type Cache struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]types.OHLCV
}

// NewCache opens (creating if necessary) a cache rooted at dataDir.
func NewCache(logger *zap.Logger, dataDir string) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ohlcv cache directory: %w", err)
	}
	return &Cache{
		logger:  logger,
		dataDir: dataDir,
		cache:   make(map[string][]types.OHLCV),
	}, nil
}

func cacheKey(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}

// Load returns the bars for (symbol, timeframe) within [start, end], reading
// through the in-memory cache to the on-disk file on a miss. The returned
// slice is validated (Validate) before being returned, since every read is
// an ingestion point.
func (c *Cache) Load(symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	key := cacheKey(symbol, timeframe)

	c.mu.Lock()
	bars, ok := c.cache[key]
	c.mu.Unlock()

	if !ok {
		var err error
		bars, err = c.readFile(symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if err := Validate(bars, symbol); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = bars
		c.mu.Unlock()
	}

	return filterByTimeRange(bars, start, end), nil
}

func (c *Cache) readFile(symbol string, timeframe types.Timeframe) ([]types.OHLCV, error) {
	filename := filepath.Join(c.dataDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading ohlcv cache file %s: %w", filename, err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("parsing ohlcv cache file %s: %w", filename, err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// Store writes bars for (symbol, timeframe) to disk and refreshes the
// in-memory cache. Used by offline data-preparation tooling, not by the
// core pipeline.
func (c *Cache) Store(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	if err := Validate(bars, symbol); err != nil {
		return err
	}

	filename := filepath.Join(c.dataDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ohlcv bars: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing ohlcv cache file: %w", err)
	}

	c.mu.Lock()
	c.cache[cacheKey(symbol, timeframe)] = bars
	c.mu.Unlock()
	return nil
}

func filterByTimeRange(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	filtered := make([]types.OHLCV, 0, len(bars))
	for _, bar := range bars {
		if (bar.Timestamp.Equal(start) || bar.Timestamp.After(start)) &&
			(bar.Timestamp.Equal(end) || bar.Timestamp.Before(end)) {
			filtered = append(filtered, bar)
		}
	}
	return filtered
}

// Evict drops (symbol, timeframe) from the in-memory cache, forcing the
// next Load to re-read from disk.
func (c *Cache) Evict(symbol string, timeframe types.Timeframe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, cacheKey(symbol, timeframe))
}

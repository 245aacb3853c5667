// Package data provides historical bar storage and the live price
// sources consumed by trading sessions.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store provides access to historical bar series, backed by JSON files
// under a data directory with an in-memory cache on top.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the stored series for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a bar store rooted at dataDir
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger.Named("data"),
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// Load returns the full stored series for a symbol, sorted by
// timestamp. Unknown symbols are an error; use Generate to seed
// synthetic data first.
func (s *Store) Load(ctx context.Context, symbol string) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return cached, nil
	}

	raw, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no data for symbol %s", symbol)
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	s.cache[symbol] = bars
	return bars, nil
}

// Save validates a series, writes it to disk, and refreshes cache and
// metadata. Series with critical quality issues are rejected.
func (s *Store) Save(symbol string, bars []types.Bar) error {
	report := CheckQuality(symbol, bars)
	if !report.Usable {
		return fmt.Errorf("series for %s failed quality checks: %s", symbol, report.Issues[0].Message)
	}
	if report.GapCount > 0 {
		s.logger.Warn("series has gaps",
			zap.String("symbol", symbol),
			zap.Int("gaps", report.GapCount),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.path(symbol), raw, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[symbol] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
		}
	}
	return s.saveMetadata()
}

// Generate seeds the store with a synthetic random-walk series. The
// seed fully determines the series, so repeated runs see identical
// data.
func (s *Store) Generate(symbol string, start time.Time, interval time.Duration, count int, startPrice float64, seed int64) ([]types.Bar, error) {
	bars := GenerateWalk(start, interval, count, startPrice, seed)
	if err := s.Save(symbol, bars); err != nil {
		return nil, err
	}
	s.logger.Info("generated synthetic series",
		zap.String("symbol", symbol),
		zap.Int("bars", count),
		zap.Int64("seed", seed),
	)
	return bars, nil
}

// Symbols returns every symbol with stored data
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Range returns the stored time range for a symbol
func (s *Store) Range(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dataDir, safeName(symbol)+".json")
}

// safeName maps a symbol to a filesystem-safe file stem
func safeName(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' || r == '\\' || r == ':' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), raw, 0644)
}

// GenerateWalk builds a seeded random-walk bar series
func GenerateWalk(start time.Time, interval time.Duration, count int, startPrice float64, seed int64) []types.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]types.Bar, 0, count)
	price := startPrice
	ts := start
	for i := 0; i < count; i++ {
		open := decimal.NewFromFloat(price)
		price *= 1 + (rng.Float64()-0.5)*0.02
		if price < 0.01 {
			price = 0.01
		}
		close := decimal.NewFromFloat(price)

		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1 + rng.Float64()*0.005))
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(1 - rng.Float64()*0.005))
		volume := decimal.NewFromFloat(rng.Float64() * 1000000)

		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})
		ts = ts.Add(interval)
	}
	return bars
}

package data

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

// SymbolMetadata describes the loaded history of one instrument.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	Style     string    `json:"style,omitempty"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// Store holds the materialized dataset handed to strategy runs. Series are
// registered once and treated as read-only afterwards.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	series    map[string]*types.PriceSeries
	benchmark *types.PriceSeries
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		series: make(map[string]*types.PriceSeries),
	}
}

// Register adds one instrument's series, tagging it with a style bucket.
func (s *Store) Register(series *types.PriceSeries, style string) error {
	if series == nil || series.Len() == 0 {
		return fmt.Errorf("empty series")
	}
	series.Style = style

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.series[series.Symbol]; exists {
		return fmt.Errorf("series already registered: %s", series.Symbol)
	}
	s.series[series.Symbol] = series
	return nil
}

// SetBenchmark installs the benchmark series used by the regime classifier.
func (s *Store) SetBenchmark(series *types.PriceSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benchmark = series
}

// Benchmark returns the benchmark series, nil if none is installed.
func (s *Store) Benchmark() *types.PriceSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.benchmark
}

// Dataset returns the full symbol-to-series mapping. The map is a copy; the
// series are shared and read-only.
func (s *Store) Dataset() map[string]*types.PriceSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.PriceSeries, len(s.series))
	for symbol, series := range s.series {
		out[symbol] = series
	}
	return out
}

// Get returns one series by symbol.
func (s *Store) Get(symbol string) (*types.PriceSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[symbol]
	return series, ok
}

// Symbols returns the registered symbols, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.series))
	for symbol := range s.series {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Metadata returns per-symbol descriptions, sorted by symbol.
func (s *Store) Metadata() []SymbolMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SymbolMetadata, 0, len(s.series))
	for _, series := range s.series {
		out = append(out, SymbolMetadata{
			Symbol:    series.Symbol,
			Style:     series.Style,
			StartDate: series.Bars[0].Timestamp,
			EndDate:   series.Bars[series.Len()-1].Timestamp,
			BarCount:  series.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

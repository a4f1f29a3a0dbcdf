// Package data materializes price history for the strategy engines. It loads
// CSV bar files into ordered series and validates them before anything
// downstream sees them. No downloading, no caching layers.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Loader reads bar files from a data directory. Files are named
// <SYMBOL>.csv with a timestamp,open,high,low,close,volume header row.
type Loader struct {
	logger  *zap.Logger
	dataDir string
}

// NewLoader creates a loader over the given directory.
func NewLoader(logger *zap.Logger, dataDir string) *Loader {
	return &Loader{logger: logger, dataDir: dataDir}
}

// LoadSeries reads one instrument's bar file.
func (l *Loader) LoadSeries(symbol string) (*types.PriceSeries, error) {
	filename := filepath.Join(l.dataDir, symbol+".csv")
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file for %s: %w", symbol, err)
	}
	defer f.Close()

	series, err := ParseCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	l.logger.Debug("Loaded series",
		zap.String("symbol", symbol),
		zap.Int("bars", series.Len()),
	)
	return series, nil
}

// LoadAll reads every .csv file in the data directory, keyed by symbol.
func (l *Loader) LoadAll() (map[string]*types.PriceSeries, error) {
	entries, err := os.ReadDir(l.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	data := make(map[string]*types.PriceSeries)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		symbol := strings.TrimSuffix(entry.Name(), ".csv")
		series, err := l.LoadSeries(symbol)
		if err != nil {
			return nil, err
		}
		data[symbol] = series
	}

	l.logger.Info("Loaded dataset",
		zap.String("dir", l.dataDir),
		zap.Int("symbols", len(data)),
	)
	return data, nil
}

// ParseCSV parses one bar file. Rows are sorted by timestamp and duplicate
// timestamps are rejected.
func ParseCSV(r io.Reader, symbol string) (*types.PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv read: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	bars := make([]types.OHLCV, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < 6 {
			return nil, fmt.Errorf("row %d: expected 6 columns, got %d", i+2, len(record))
		}
		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		bar := types.OHLCV{Timestamp: ts}
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
			{"volume", &bar.Volume},
		}
		for j, field := range fields {
			v, err := decimal.NewFromString(strings.TrimSpace(record[j+1]))
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", i+2, field.name, err)
			}
			*field.dst = v
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("duplicate timestamp %s", bars[i].Timestamp.Format(time.RFC3339))
		}
	}

	return &types.PriceSeries{Symbol: symbol, Bars: bars}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", s)
}

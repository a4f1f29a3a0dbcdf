package data

import (
	"strings"
	"testing"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

func sampleSeries(t *testing.T, symbol string) *types.PriceSeries {
	t.Helper()
	series, err := ParseCSV(strings.NewReader(sampleCSV), symbol)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	return series
}

func TestStoreRegisterAndGet(t *testing.T) {
	store := NewStore(zap.NewNop())

	if err := store.Register(sampleSeries(t, "AAA"), "tech"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	series, ok := store.Get("AAA")
	if !ok {
		t.Fatal("registered series not found")
	}
	if series.Style != "tech" {
		t.Errorf("style = %s, want tech", series.Style)
	}

	if err := store.Register(sampleSeries(t, "AAA"), "tech"); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if err := store.Register(&types.PriceSeries{Symbol: "EMPTY"}, ""); err == nil {
		t.Error("expected error for empty series")
	}
}

func TestStoreSymbolsSorted(t *testing.T) {
	store := NewStore(zap.NewNop())
	for _, symbol := range []string{"CCC", "AAA", "BBB"} {
		if err := store.Register(sampleSeries(t, symbol), ""); err != nil {
			t.Fatalf("Register(%s): %v", symbol, err)
		}
	}
	symbols := store.Symbols()
	want := []string{"AAA", "BBB", "CCC"}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("Symbols() = %v, want %v", symbols, want)
		}
	}
}

func TestStoreMetadata(t *testing.T) {
	store := NewStore(zap.NewNop())
	if err := store.Register(sampleSeries(t, "AAA"), "financial"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	meta := store.Metadata()
	if len(meta) != 1 {
		t.Fatalf("got %d metadata entries, want 1", len(meta))
	}
	if meta[0].BarCount != 3 {
		t.Errorf("BarCount = %d, want 3", meta[0].BarCount)
	}
	if !meta[0].EndDate.After(meta[0].StartDate) {
		t.Errorf("date range inverted: %v to %v", meta[0].StartDate, meta[0].EndDate)
	}
}

func TestStoreBenchmark(t *testing.T) {
	store := NewStore(zap.NewNop())
	if store.Benchmark() != nil {
		t.Error("fresh store has a benchmark")
	}
	bench := sampleSeries(t, "BENCH")
	store.SetBenchmark(bench)
	if store.Benchmark() != bench {
		t.Error("benchmark not returned")
	}
}

func TestStoreDatasetIsACopy(t *testing.T) {
	store := NewStore(zap.NewNop())
	if err := store.Register(sampleSeries(t, "AAA"), ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	dataset := store.Dataset()
	delete(dataset, "AAA")
	if _, ok := store.Get("AAA"); !ok {
		t.Error("mutating the returned map reached the store")
	}
}

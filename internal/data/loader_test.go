package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const sampleCSV = `timestamp,open,high,low,close,volume
2024-01-03,101.0,103.0,100.5,102.5,12000
2024-01-02,100.0,102.0,99.5,101.0,10000
2024-01-04,102.5,104.0,102.0,103.8,9000
`

func TestParseCSVSortsByTimestamp(t *testing.T) {
	series, err := ParseCSV(strings.NewReader(sampleCSV), "AAA")
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if series.Symbol != "AAA" {
		t.Errorf("symbol = %s, want AAA", series.Symbol)
	}
	if series.Len() != 3 {
		t.Fatalf("got %d bars, want 3", series.Len())
	}
	for i := 1; i < series.Len(); i++ {
		if !series.Bars[i].Timestamp.After(series.Bars[i-1].Timestamp) {
			t.Fatalf("bars not sorted: %v then %v", series.Bars[i-1].Timestamp, series.Bars[i].Timestamp)
		}
	}
	if got := series.Bars[0].Close.String(); got != "101" {
		t.Errorf("first close = %s, want 101", got)
	}
}

func TestParseCSVRejectsDuplicateTimestamps(t *testing.T) {
	input := `timestamp,open,high,low,close,volume
2024-01-02,100,102,99,101,10000
2024-01-02,101,103,100,102,11000
`
	if _, err := ParseCSV(strings.NewReader(input), "AAA"); err == nil {
		t.Fatal("expected error for duplicate timestamps")
	}
}

func TestParseCSVRejectsShortRows(t *testing.T) {
	input := "timestamp,open,high,low,close,volume\n2024-01-02,100,102,99\n"
	if _, err := ParseCSV(strings.NewReader(input), "AAA"); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestParseCSVRejectsHeaderOnly(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("timestamp,open,high,low,close,volume\n"), "AAA"); err == nil {
		t.Fatal("expected error for file without data rows")
	}
}

func TestParseCSVBadPrice(t *testing.T) {
	input := "timestamp,open,high,low,close,volume\n2024-01-02,100,102,abc,101,10000\n"
	if _, err := ParseCSV(strings.NewReader(input), "AAA"); err == nil {
		t.Fatal("expected error for unparseable price")
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	cases := []string{
		"2024-01-02",
		"2024-01-02 15:04:05",
		"2024-01-02T15:04:05Z",
	}
	for _, input := range cases {
		ts, err := parseTimestamp(input)
		if err != nil {
			t.Errorf("parseTimestamp(%q): %v", input, err)
			continue
		}
		if ts.Year() != 2024 || ts.Month() != time.January {
			t.Errorf("parseTimestamp(%q) = %v", input, ts)
		}
	}
	if _, err := parseTimestamp("02/01/2024"); err == nil {
		t.Error("expected error for unrecognized layout")
	}
}

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AAA.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zap.NewNop(), dir)
	dataset, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(dataset) != 1 {
		t.Fatalf("got %d series, want 1", len(dataset))
	}
	if _, ok := dataset["AAA"]; !ok {
		t.Error("AAA missing from dataset")
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(zap.NewNop(), t.TempDir())
	if _, err := loader.LoadSeries("NOPE"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantdesk/rotation-backend/internal/api"
	"github.com/quantdesk/rotation-backend/internal/data"
	"github.com/quantdesk/rotation-backend/internal/optimization"
	"github.com/quantdesk/rotation-backend/internal/strategy"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// vShapeSeries dips through a grid anchored at 100 and recovers, so a grid
// replay books trades.
func vShapeSeries(symbol string) *types.PriceSeries {
	closes := make([]float64, 0, 13)
	for i := 0; i < 11; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 94, 100)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.OHLCV{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price.Mul(decimal.NewFromFloat(1.01)),
			Low:       price.Mul(decimal.NewFromFloat(0.99)),
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return &types.PriceSeries{Symbol: symbol, Bars: bars}
}

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	store := data.NewStore(logger)
	if err := store.Register(vShapeSeries("AAA"), "commodity"); err != nil {
		t.Fatalf("Failed to register series: %v", err)
	}
	store.SetBenchmark(vShapeSeries("BENCH"))

	server := api.NewServer(logger, types.DefaultServerConfig(), store, strategy.NewRegistry())
	ts := httptest.NewServer(server.Router())
	return server, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	var result map[string]interface{}
	if status := getJSON(t, ts.URL+"/api/v1/health", &result); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", result["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	var result struct {
		Symbols  []string                 `json:"symbols"`
		Metadata []map[string]interface{} `json:"metadata"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/data/symbols", &result); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(result.Symbols) != 1 || result.Symbols[0] != "AAA" {
		t.Errorf("symbols = %v, want [AAA]", result.Symbols)
	}
	if len(result.Metadata) != 1 {
		t.Errorf("got %d metadata entries, want 1", len(result.Metadata))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	var result struct {
		Symbol string `json:"symbol"`
		Count  int    `json:"count"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/data/history/AAA", &result); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if result.Count != 13 {
		t.Errorf("count = %d, want 13", result.Count)
	}

	resp, err := http.Get(ts.URL + "/api/v1/data/history/NOPE")
	if err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown symbol, got %d", resp.StatusCode)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	var result struct {
		Strategies []string `json:"strategies"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/strategies", &result); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	want := []string{"grid", "rotation"}
	if len(result.Strategies) != len(want) {
		t.Fatalf("strategies = %v, want %v", result.Strategies, want)
	}
	for i := range want {
		if result.Strategies[i] != want[i] {
			t.Fatalf("strategies = %v, want %v", result.Strategies, want)
		}
	}
}

func TestIndicatorsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	var result struct {
		Indicators map[string]float64 `json:"indicators"`
	}
	status := getJSON(t, ts.URL+"/api/v1/strategies/grid/indicators/AAA", &result)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if _, ok := result.Indicators["price"]; !ok {
		t.Errorf("indicators missing price: %v", result.Indicators)
	}
}

func TestBacktestWorkflow(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	config := types.DefaultStrategyConfig()
	config.Name = "grid"
	config.InitialCapital = 100_000

	var started struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if status := postJSON(t, ts.URL+"/api/v1/backtest/run", config, &started); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if started.ID == "" {
		t.Fatal("missing backtest id")
	}

	final := waitForStatus(t, ts.URL+"/api/v1/backtest/"+started.ID, "completed")
	if _, ok := final["result"]; !ok {
		t.Error("completed backtest has no result")
	}

	var trades struct {
		Count int `json:"count"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/backtest/"+started.ID+"/trades", &trades); status != http.StatusOK {
		t.Fatalf("Expected status 200 from trades endpoint, got %d", status)
	}
	if trades.Count == 0 {
		t.Error("replay booked no trades")
	}
}

func TestBacktestNotFound(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/backtest/does-not-exist")
	if err != nil {
		t.Fatalf("Backtest request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestOptimizationWorkflow(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	config := types.DefaultStrategyConfig()
	config.Name = "grid"
	config.InitialCapital = 100_000

	search := optimization.DefaultSearchConfig()
	search.Workers = 2

	req := api.OptimizationRequest{
		Config: config,
		Space: &optimization.ParameterSpace{Dimensions: []optimization.Dimension{
			{Name: "grid_count", Values: []float64{8, 10}},
		}},
		Search: search,
		Metric: "total_return",
	}

	var started struct {
		ID string `json:"id"`
	}
	if status := postJSON(t, ts.URL+"/api/v1/optimize/run", req, &started); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	final := waitForStatus(t, ts.URL+"/api/v1/optimize/"+started.ID, "completed")
	result, ok := final["result"].(map[string]interface{})
	if !ok {
		t.Fatal("completed optimization has no result")
	}
	trials, ok := result["trials"].([]interface{})
	if !ok || len(trials) != 2 {
		t.Errorf("got %d trials, want 2", len(trials))
	}
}

func TestOptimizationRejectsBadSpace(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	if status := postJSON(t, ts.URL+"/api/v1/optimize/run", api.OptimizationRequest{}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing space, got %d", status)
	}

	req := api.OptimizationRequest{
		Space: &optimization.ParameterSpace{Dimensions: []optimization.Dimension{
			{Name: "x", Min: 5, Max: 5},
		}},
	}
	if status := postJSON(t, ts.URL+"/api/v1/optimize/run", req, nil); status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for inverted range, got %d", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

// waitForStatus polls a status endpoint until it reaches the wanted state.
func waitForStatus(t *testing.T, url, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var state map[string]interface{}
		if status := getJSON(t, url, &state); status != http.StatusOK {
			t.Fatalf("status poll returned %d", status)
		}
		switch state["status"] {
		case want:
			return state
		case "failed":
			t.Fatalf("run failed: %v", state["error"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q", want)
	return nil
}

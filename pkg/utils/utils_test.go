package utils

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestLinearRegressionStraightLine(t *testing.T) {
	y := []float64{1, 3, 5, 7, 9} // y = 2x + 1
	slope, intercept, r2 := LinearRegression(y)

	if !almostEqual(slope, 2, 1e-9) {
		t.Errorf("slope = %v, want 2", slope)
	}
	if !almostEqual(intercept, 1, 1e-9) {
		t.Errorf("intercept = %v, want 1", intercept)
	}
	if r2 < 0.9999 {
		t.Errorf("r2 = %v, want ~1", r2)
	}
}

func TestLinearRegressionFlatSeries(t *testing.T) {
	slope, _, _ := LinearRegression([]float64{5, 5, 5, 5})
	if !almostEqual(slope, 0, 1e-9) {
		t.Errorf("slope = %v, want 0", slope)
	}
}

func TestReturns(t *testing.T) {
	rets := Returns([]float64{100, 110, 99})
	if len(rets) != 2 {
		t.Fatalf("len = %d, want 2", len(rets))
	}
	if !almostEqual(rets[0], 0.10, 1e-9) {
		t.Errorf("rets[0] = %v, want 0.10", rets[0])
	}
	if !almostEqual(rets[1], -0.10, 1e-9) {
		t.Errorf("rets[1] = %v, want -0.10", rets[1])
	}
}

func TestMaxDrawdown(t *testing.T) {
	// Up 10%, then halved from the peak.
	dd := MaxDrawdown([]float64{0.10, -0.50})
	if !almostEqual(dd, -0.50, 1e-9) {
		t.Errorf("drawdown = %v, want -0.50", dd)
	}

	if dd := MaxDrawdown([]float64{0.01, 0.02, 0.03}); dd != 0 {
		t.Errorf("monotonic rise drawdown = %v, want 0", dd)
	}
	if dd := MaxDrawdown(nil); dd != 0 {
		t.Errorf("empty drawdown = %v, want 0", dd)
	}
}

func TestPercentileRank(t *testing.T) {
	history := []float64{1, 2, 3, 4, 5}
	if got := PercentileRank(history, 5); !almostEqual(got, 1.0, 1e-9) {
		t.Errorf("rank of max = %v, want 1.0", got)
	}
	if got := PercentileRank(history, 0); !almostEqual(got, 0, 1e-9) {
		t.Errorf("rank below min = %v, want 0", got)
	}
	if got := PercentileRank(history, 3); !almostEqual(got, 0.6, 1e-9) {
		t.Errorf("rank of median = %v, want 0.6", got)
	}
	if got := PercentileRank(nil, 3); !almostEqual(got, 0.5, 1e-9) {
		t.Errorf("empty history rank = %v, want 0.5", got)
	}
}

func TestScoreWeights(t *testing.T) {
	w := ScoreWeights([]float64{3, 1})
	if !almostEqual(w[0], 0.75, 1e-9) || !almostEqual(w[1], 0.25, 1e-9) {
		t.Errorf("weights = %v, want [0.75 0.25]", w)
	}

	// Negative scores are clipped, not inverted.
	w = ScoreWeights([]float64{2, -1})
	if !almostEqual(w[0], 1, 1e-9) || !almostEqual(w[1], 0, 1e-9) {
		t.Errorf("weights = %v, want [1 0]", w)
	}

	// All non-positive falls back to equal weights.
	w = ScoreWeights([]float64{-1, -2})
	if !almostEqual(w[0], 0.5, 1e-9) || !almostEqual(w[1], 0.5, 1e-9) {
		t.Errorf("weights = %v, want [0.5 0.5]", w)
	}
}

func TestSharpeRatioZeroVolatility(t *testing.T) {
	if got := SharpeRatio([]float64{0.01, 0.01, 0.01}, 0); got != 0 {
		t.Errorf("constant returns sharpe = %v, want 0", got)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID("run")
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

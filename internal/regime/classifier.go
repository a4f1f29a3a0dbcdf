// Package regime classifies market-wide risk state from a benchmark series.
// The rule: high volatility percentile below the trend average means high
// risk, low percentile above the average means low risk, everything else is
// neutral.
package regime

import (
	"time"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/quantdesk/rotation-backend/pkg/utils"
	"go.uber.org/zap"
)

// State is the classification output for one period. Stateless: it is
// recomputed every rebalancing period and never cached, since volatility is
// window-dependent.
type State struct {
	Regime        types.RiskRegime `json:"regime"`
	VolPercentile float64          `json:"vol_percentile"`
	AboveTrendMA  bool             `json:"above_trend_ma"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Classifier computes risk regimes. Thresholds come from configuration so the
// optimizer can tune them.
type Classifier struct {
	logger *zap.Logger
	config *types.RegimeConfig
}

// NewClassifier creates a regime classifier.
func NewClassifier(logger *zap.Logger, config *types.RegimeConfig) *Classifier {
	if config == nil {
		config = types.DefaultRegimeConfig()
	}
	return &Classifier{logger: logger, config: config}
}

// MinWindow returns the bars of benchmark history the classifier needs.
func (c *Classifier) MinWindow() int {
	min := c.config.TrendMAWindow
	if c.config.VolQuantileWindow+c.config.VolWindow > min {
		min = c.config.VolQuantileWindow + c.config.VolWindow
	}
	return min
}

// Classify computes the regime from the benchmark window ending at bar index
// end. It fails with ErrBenchmarkUnavailable when the benchmark is missing or
// too short; the caller treats that period as NEUTRAL with a warning.
func (c *Classifier) Classify(benchmark *types.PriceSeries, end int) (*State, error) {
	if benchmark == nil || benchmark.Len() == 0 {
		return nil, types.ErrBenchmarkUnavailable
	}

	required := c.MinWindow()
	window := benchmark.Window(end, required)
	if window == nil {
		return nil, types.ErrBenchmarkUnavailable
	}

	close := make([]float64, len(window))
	for i, bar := range window {
		close[i], _ = bar.Close.Float64()
	}

	state := &State{Timestamp: window[len(window)-1].Timestamp}
	state.VolPercentile = c.volPercentile(close)

	trendMA := utils.Mean(close[len(close)-c.config.TrendMAWindow:])
	state.AboveTrendMA = close[len(close)-1] > trendMA

	switch {
	case state.VolPercentile > c.config.HighVolQuantile && !state.AboveTrendMA:
		state.Regime = types.RegimeHighRisk
	case state.VolPercentile < c.config.LowVolQuantile && state.AboveTrendMA:
		state.Regime = types.RegimeLowRisk
	default:
		state.Regime = types.RegimeNeutral
	}

	c.logger.Debug("regime classified",
		zap.String("regime", string(state.Regime)),
		zap.Float64("vol_percentile", state.VolPercentile),
		zap.Bool("above_trend_ma", state.AboveTrendMA),
	)

	return state, nil
}

// volPercentile ranks the current realized volatility within its own trailing
// rolling-volatility history.
func (c *Classifier) volPercentile(close []float64) float64 {
	rets := utils.Returns(close)
	if len(rets) < c.config.VolWindow {
		return 0.5
	}

	current := utils.AnnualizedVolatility(rets[len(rets)-c.config.VolWindow:])

	var history []float64
	for i := c.config.VolWindow; i <= len(rets); i++ {
		history = append(history, utils.AnnualizedVolatility(rets[i-c.config.VolWindow:i]))
	}
	if len(history) == 0 {
		return 0.5
	}
	return utils.PercentileRank(history, current)
}

// NeutralState is the fallback used when benchmark data is unavailable.
func NeutralState(ts time.Time) *State {
	return &State{Regime: types.RegimeNeutral, VolPercentile: 0.5, Timestamp: ts}
}

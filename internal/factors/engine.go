// Package factors computes per-instrument factor scores from price windows.
// Sub-factors follow the multi-factor rotation model: a trend-fit momentum
// factor and a seven-signal quality aggregate.
package factors

import (
	"math"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/quantdesk/rotation-backend/pkg/utils"
	"go.uber.org/zap"
)

// Quality sub-factor weights. The seven signals are combined into a single
// quality score before the configurable momentum/quality blend.
const (
	slopeR2Weight    = 0.15
	maWeight         = 0.15
	rsrsWeight       = 0.15
	volatilityWeight = 0.15
	drawdownWeight   = 0.20
	sharpeWeight     = 0.15
	multiMAWeight    = 0.05
	riskFreeRate     = 0.02
	rsrsSampleBars   = 5
)

// Engine computes factor scores. Scores for identical (symbol, window,
// config) inputs are deterministic and memoized in an engine-owned cache, so
// one Engine instance must never be shared across search trials.
type Engine struct {
	logger *zap.Logger
	config *types.FactorConfig
	cache  *ScoreCache
}

// NewEngine creates a factor engine with its own score cache.
func NewEngine(logger *zap.Logger, config *types.FactorConfig) *Engine {
	if config == nil {
		config = types.DefaultFactorConfig()
	}
	return &Engine{
		logger: logger,
		config: config,
		cache:  NewScoreCache(),
	}
}

// Config returns the engine's factor configuration.
func (e *Engine) Config() *types.FactorConfig { return e.config }

// Score computes the factor score for the window of series ending at bar
// index end. It fails with an InsufficientHistoryError when the window is
// shorter than the longest sub-factor lookback; callers skip the instrument
// for that period rather than imputing a default.
func (e *Engine) Score(series *types.PriceSeries, end int) (*types.FactorScore, error) {
	required := e.config.MinWindow()
	if end+1 < required {
		return nil, &types.InsufficientHistoryError{
			Symbol:   series.Symbol,
			Required: required,
			Actual:   end + 1,
		}
	}

	if cached, ok := e.cache.Get(series.Symbol, end); ok {
		return cached, nil
	}

	window := series.Window(end, required)
	if window == nil {
		return nil, &types.InsufficientHistoryError{
			Symbol:   series.Symbol,
			Required: required,
			Actual:   end + 1,
		}
	}

	score := e.compute(series.Symbol, window)
	score.Timestamp = window[len(window)-1].Timestamp
	e.cache.Put(series.Symbol, end, score)
	return score, nil
}

func (e *Engine) compute(symbol string, window []types.OHLCV) *types.FactorScore {
	close := make([]float64, len(window))
	high := make([]float64, len(window))
	low := make([]float64, len(window))
	volume := make([]float64, len(window))
	for i, bar := range window {
		close[i], _ = bar.Close.Float64()
		high[i], _ = bar.High.Float64()
		low[i], _ = bar.Low.Float64()
		volume[i], _ = bar.Volume.Float64()
	}

	score := &types.FactorScore{
		Symbol:     symbol,
		SubFactors: make(map[string]float64),
	}

	// Volume-surge filter: abnormal short-term volume zeroes the score.
	score.VolumeRatio = volumeRatio(volume, e.config.VolumeShortWindow, e.config.VolumeLongWindow)
	if score.VolumeRatio > e.config.VolumeFilterThreshold {
		score.Filtered = true
		return score
	}

	// Crash filter: a sharp recent drop zeroes the score.
	if crashFiltered(close, e.config.DropThreshold) {
		score.Filtered = true
		return score
	}

	score.Momentum = e.momentumFactor(close)
	score.Quality = e.qualityFactor(close, high, low, score.SubFactors)
	score.Composite = e.config.MomentumWeight*score.Momentum + e.config.QualityWeight*score.Quality
	return score
}

// momentumFactor is the annualized return implied by a log-price regression,
// discounted by the regression's R². Steady trends score higher than noisy
// moves of the same magnitude.
func (e *Engine) momentumFactor(close []float64) float64 {
	window := close
	if len(close) > e.config.MomentumWindow {
		window = close[len(close)-e.config.MomentumWindow:]
	}
	for _, p := range window {
		if p <= 0 {
			return 0
		}
	}
	logPrices := make([]float64, len(window))
	for i, p := range window {
		logPrices[i] = math.Log(p)
	}
	slope, _, r2 := utils.LinearRegression(logPrices)
	annualized := math.Pow(math.Exp(slope), utils.TradingDaysPerYear) - 1
	return annualized * r2
}

func (e *Engine) qualityFactor(close, high, low []float64, subs map[string]float64) float64 {
	n := len(close)
	if n < e.config.SlopeWindow {
		return 0
	}

	// Trend-fit: slope scaled by its R² over the slope window.
	slopeWin := close[n-e.config.SlopeWindow:]
	slopeR2 := 0.0
	if !allEqual(slopeWin) {
		slope, _, r2 := utils.LinearRegression(slopeWin)
		slopeR2 = slope * r2
	}

	// Moving-average positioning.
	ma := utils.Mean(close[n-e.config.MAWindow:])
	maFactor := 0.0
	if close[n-1] > ma {
		maFactor = 1
	}

	// Resistance-support relative strength over the latest bars.
	rsrs := rsrsFactor(high, low, e.config.RSRSWindow)

	// Inverse volatility.
	volWin := close[n-e.config.VolatilityWindow:]
	rets := utils.Returns(volWin)
	volatility := utils.StdDev(rets)
	volatilityFactor := 1 / (1 + volatility)

	// Drawdown resistance.
	maxDD := utils.MaxDrawdown(rets)
	drawdownScore := 1 / (1 + math.Abs(maxDD))

	// Risk-adjusted return.
	sharpeScore := math.Max(0, utils.SharpeRatio(rets, riskFreeRate))

	// Multi-period moving-average alignment.
	shortMA := ma
	if n >= e.config.ShortMAWindow {
		shortMA = utils.Mean(close[n-e.config.ShortMAWindow:])
	}
	multiMA := 0.0
	if close[n-1] > shortMA && close[n-1] > ma {
		multiMA = 1
	}

	subs["slope_r2"] = slopeR2
	subs["ma"] = maFactor
	subs["rsrs"] = rsrs
	subs["inverse_volatility"] = volatilityFactor
	subs["drawdown"] = drawdownScore
	subs["sharpe"] = sharpeScore
	subs["multi_ma"] = multiMA

	return slopeR2Weight*slopeR2 +
		maWeight*maFactor +
		rsrsWeight*rsrs +
		volatilityWeight*volatilityFactor +
		drawdownWeight*drawdownScore +
		sharpeWeight*sharpeScore +
		multiMAWeight*multiMA
}

// rsrsFactor regresses bar lows against highs over the tail of the window: a
// steep, well-fit slope means resistance outpacing support.
func rsrsFactor(high, low []float64, window int) float64 {
	n := len(high)
	samples := rsrsSampleBars
	if window < samples {
		samples = window
	}
	if n < window || samples == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < samples; i++ {
		h := high[n-(window-i)]
		l := low[n-(window-i)]
		if h == l {
			continue
		}
		// Two-point regression of (low, high) against (0, 1): the slope is
		// the bar's span and the fit is exact.
		sum += h - l
	}
	return sum / float64(samples)
}

func volumeRatio(volume []float64, shortWindow, longWindow int) float64 {
	if len(volume) < longWindow || longWindow == 0 || shortWindow == 0 {
		return 1.0
	}
	shortMA := utils.Mean(volume[len(volume)-shortWindow:])
	longMA := utils.Mean(volume[len(volume)-longWindow:])
	if longMA <= 0 {
		return 1.0
	}
	return shortMA / longMA
}

// crashFiltered reports whether any of the last three daily returns breaches
// the drop threshold, or their sum falls below -10%.
func crashFiltered(close []float64, dropThreshold float64) bool {
	if len(close) < 4 {
		return false
	}
	n := len(close)
	total := 0.0
	for i := 0; i < 3; i++ {
		prev := close[n-2-i]
		if prev <= 0 {
			continue
		}
		ret := close[n-1-i]/prev - 1
		if ret < -dropThreshold {
			return true
		}
		total += ret
	}
	return total < -0.10
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

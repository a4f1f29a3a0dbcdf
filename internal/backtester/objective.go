package backtester

import (
	"context"
	"fmt"
	"math"

	"github.com/quantdesk/rotation-backend/internal/strategy"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

// Objective evaluates one parameter assignment and returns its score.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

// NewObjective builds an objective over a fresh replay per evaluation: clone
// the base config, overlay the trial's parameters, run, extract the metric.
// Each evaluation uses its own engine instance so trials can run in parallel.
func NewObjective(logger *zap.Logger, registry *strategy.Registry, base *types.StrategyConfig, data map[string]*types.PriceSeries, benchmark *types.PriceSeries, metric string) Objective {
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		config := CloneConfig(base)
		if err := ApplyParams(config, params); err != nil {
			return 0, err
		}

		engine := NewEngine(logger, registry)
		result, err := engine.Run(ctx, config, data, benchmark)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", types.ErrObjectiveEvaluation, err)
		}
		return ExtractMetric(result.Metrics, metric)
	}
}

// CloneConfig deep-copies a strategy config so trial overlays never touch the
// base.
func CloneConfig(base *types.StrategyConfig) *types.StrategyConfig {
	clone := *base
	if base.Factor != nil {
		f := *base.Factor
		clone.Factor = &f
	}
	if base.Regime != nil {
		r := *base.Regime
		clone.Regime = &r
	}
	if base.Risk != nil {
		r := *base.Risk
		clone.Risk = &r
	}
	if base.Rotation != nil {
		r := *base.Rotation
		clone.Rotation = &r
		clone.Rotation.DefensiveSymbols = append([]string(nil), base.Rotation.DefensiveSymbols...)
	}
	if base.Grid != nil {
		g := *base.Grid
		clone.Grid = &g
	}
	return &clone
}

// ApplyParams overlays named parameter values onto the config. Integer fields
// round to the nearest whole number. Unknown names are rejected so a typo in
// a search space fails loudly instead of silently tuning nothing.
func ApplyParams(config *types.StrategyConfig, params map[string]float64) error {
	for name, value := range params {
		if err := applyParam(config, name, value); err != nil {
			return err
		}
	}
	return nil
}

func applyParam(config *types.StrategyConfig, name string, value float64) error {
	asInt := int(math.Round(value))

	switch name {
	// Factor windows and weights.
	case "momentum_window":
		config.Factor.MomentumWindow = asInt
	case "slope_window":
		config.Factor.SlopeWindow = asInt
	case "ma_window":
		config.Factor.MAWindow = asInt
	case "short_ma_window":
		config.Factor.ShortMAWindow = asInt
	case "rsrs_window":
		config.Factor.RSRSWindow = asInt
	case "volatility_window":
		config.Factor.VolatilityWindow = asInt
	case "drop_threshold":
		config.Factor.DropThreshold = value
	case "volume_filter_threshold":
		config.Factor.VolumeFilterThreshold = value
	case "momentum_weight":
		config.Factor.MomentumWeight = value
	case "quality_weight":
		config.Factor.QualityWeight = value

	// Regime thresholds.
	case "vol_quantile_window":
		config.Regime.VolQuantileWindow = asInt
	case "trend_ma_window":
		config.Regime.TrendMAWindow = asInt
	case "high_vol_quantile":
		config.Regime.HighVolQuantile = value
	case "low_vol_quantile":
		config.Regime.LowVolQuantile = value

	// Risk bases and exposures.
	case "stop_loss_base":
		config.Risk.StopLossBase = value
	case "trailing_stop_base":
		config.Risk.TrailingStopBase = value
	case "take_profit_base":
		config.Risk.TakeProfitBase = value
	case "high_risk_exposure":
		config.Risk.HighRiskExposure = value
	case "neutral_exposure":
		config.Risk.NeutralExposure = value
	case "low_risk_exposure":
		config.Risk.LowRiskExposure = value

	// Rotation policy.
	case "rebalance_every_bars":
		config.Rotation.RebalanceEveryBars = asInt
	case "rebalance_threshold":
		config.Rotation.RebalanceThreshold = value
	case "max_holdings":
		config.Rotation.MaxHoldings = asInt
	case "score_threshold":
		config.Rotation.ScoreThreshold = value
	case "min_positive_subfactors":
		config.Rotation.MinPositiveSubfactors = asInt

	// Grid geometry.
	case "grid_count":
		config.Grid.GridCount = asInt
	case "grid_spacing":
		config.Grid.GridSpacing = value
	case "price_range_pct":
		config.Grid.PriceRangePct = value
	case "quantity_per_level":
		config.Grid.QuantityPerLevel = value
	case "grid_take_profit_threshold":
		config.Grid.TakeProfitThreshold = value
	case "grid_stop_loss_threshold":
		config.Grid.StopLossThreshold = value

	default:
		return fmt.Errorf("unknown parameter: %s", name)
	}
	return nil
}

// ExtractMetric pulls one named metric out of a result summary.
func ExtractMetric(metrics *types.PerformanceMetrics, name string) (float64, error) {
	switch name {
	case "", "sharpe_ratio":
		return metrics.SharpeRatio, nil
	case "total_return":
		return metrics.TotalReturn, nil
	case "annualized_return":
		return metrics.AnnualizedReturn, nil
	case "max_drawdown":
		return metrics.MaxDrawdown, nil
	case "volatility":
		return metrics.Volatility, nil
	case "win_rate":
		return metrics.WinRate, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", name)
	}
}

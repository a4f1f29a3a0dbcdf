// Package types provides configuration types for the strategy backend.
package types

import "time"

// FactorConfig configures the factor engine windows and weights.
type FactorConfig struct {
	MomentumWindow    int `json:"momentumWindow"`
	SlopeWindow       int `json:"slopeWindow"`
	MAWindow          int `json:"maWindow"`
	ShortMAWindow     int `json:"shortMaWindow"`
	RSRSWindow        int `json:"rsrsWindow"`
	VolatilityWindow  int `json:"volatilityWindow"`
	VolumeShortWindow int `json:"volumeShortWindow"`
	VolumeLongWindow  int `json:"volumeLongWindow"`

	// Pre-filters
	DropThreshold         float64 `json:"dropThreshold"`
	VolumeFilterThreshold float64 `json:"volumeFilterThreshold"`

	// Composite weighting
	MomentumWeight float64 `json:"momentumWeight"`
	QualityWeight  float64 `json:"qualityWeight"`
}

// DefaultFactorConfig returns sensible defaults.
func DefaultFactorConfig() *FactorConfig {
	return &FactorConfig{
		MomentumWindow:        25,
		SlopeWindow:           20,
		MAWindow:              20,
		ShortMAWindow:         10,
		RSRSWindow:            20,
		VolatilityWindow:      20,
		VolumeShortWindow:     5,
		VolumeLongWindow:      20,
		DropThreshold:         0.05,
		VolumeFilterThreshold: 2.0,
		MomentumWeight:        0.6,
		QualityWeight:         0.4,
	}
}

// MinWindow returns the longest lookback any sub-factor needs.
func (c *FactorConfig) MinWindow() int {
	min := c.MomentumWindow
	for _, w := range []int{c.SlopeWindow, c.MAWindow, c.RSRSWindow, c.VolatilityWindow, c.VolumeLongWindow} {
		if w > min {
			min = w
		}
	}
	return min
}

// RegimeConfig configures the risk regime classifier. Thresholds are tunable
// by the optimizer, not constants.
type RegimeConfig struct {
	VolQuantileWindow int     `json:"volQuantileWindow"` // trailing history for the percentile rank
	VolWindow         int     `json:"volWindow"`         // rolling window for realized volatility
	TrendMAWindow     int     `json:"trendMaWindow"`     // moving average for the trend test
	HighVolQuantile   float64 `json:"highVolQuantile"`
	LowVolQuantile    float64 `json:"lowVolQuantile"`
}

// DefaultRegimeConfig returns sensible defaults.
func DefaultRegimeConfig() *RegimeConfig {
	return &RegimeConfig{
		VolQuantileWindow: 60,
		VolWindow:         20,
		TrendMAWindow:     60,
		HighVolQuantile:   0.8,
		LowVolQuantile:    0.2,
	}
}

// RiskConfig configures the dynamic risk manager.
type RiskConfig struct {
	StopLossBase     float64 `json:"stopLossBase"`
	TrailingStopBase float64 `json:"trailingStopBase"`
	TakeProfitBase   float64 `json:"takeProfitBase"`

	// Regime multipliers widen stops in high risk, tighten them in low risk.
	HighRiskMultiplier float64 `json:"highRiskMultiplier"`
	LowRiskMultiplier  float64 `json:"lowRiskMultiplier"`

	// Gross exposure per regime.
	HighRiskExposure float64 `json:"highRiskExposure"`
	NeutralExposure  float64 `json:"neutralExposure"`
	LowRiskExposure  float64 `json:"lowRiskExposure"`

	// Take-profit reduces to this fraction of the position instead of exiting.
	TakeProfitKeepRatio float64 `json:"takeProfitKeepRatio"`
}

// DefaultRiskConfig returns sensible defaults.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		StopLossBase:        0.05,
		TrailingStopBase:    0.05,
		TakeProfitBase:      0.10,
		HighRiskMultiplier:  1.5,
		LowRiskMultiplier:   0.7,
		HighRiskExposure:    0.5,
		NeutralExposure:     0.8,
		LowRiskExposure:     1.0,
		TakeProfitKeepRatio: 0.5,
	}
}

// RotationConfig configures the rotation decision engine.
type RotationConfig struct {
	RebalanceEveryBars    int      `json:"rebalanceEveryBars"` // cadence is policy, default weekly on daily bars
	RebalanceThreshold    float64  `json:"rebalanceThreshold"` // weight deviation hysteresis
	MaxHoldings           int      `json:"maxHoldings"`
	ScoreThreshold        float64  `json:"scoreThreshold"`
	MinPositiveSubfactors int      `json:"minPositiveSubfactors"` // per-instrument quality gate
	MinPositiveCount      int      `json:"minPositiveCount"`      // below this, switch to the defensive basket
	DefensiveSymbols      []string `json:"defensiveSymbols,omitempty"`
}

// DefaultRotationConfig returns sensible defaults.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		RebalanceEveryBars:    5,
		RebalanceThreshold:    0.05,
		MaxHoldings:           3,
		ScoreThreshold:        0,
		MinPositiveSubfactors: 3,
		MinPositiveCount:      7,
	}
}

// GridConfig configures the grid trading engine.
type GridConfig struct {
	GridCount           int     `json:"gridCount"`
	GridSpacing         float64 `json:"gridSpacing"`   // level spacing as a fraction of the base price
	PriceRangePct       float64 `json:"priceRangePct"` // band half-width around the base price
	QuantityPerLevel    float64 `json:"quantityPerLevel"`
	TakeProfitThreshold float64 `json:"takeProfitThreshold"` // against capital deployed in the grid
	StopLossThreshold   float64 `json:"stopLossThreshold"`
}

// DefaultGridConfig returns sensible defaults.
func DefaultGridConfig() *GridConfig {
	return &GridConfig{
		GridCount:           10,
		GridSpacing:         0.02,
		PriceRangePct:       0.2,
		QuantityPerLevel:    1,
		TakeProfitThreshold: 0.10,
		StopLossThreshold:   0.15,
	}
}

// StrategyConfig bundles everything one strategy run needs.
type StrategyConfig struct {
	Name            string          `json:"name"` // registry key: "rotation" or "grid"
	BenchmarkSymbol string          `json:"benchmarkSymbol"`
	InitialCapital  float64         `json:"initialCapital"`
	Factor          *FactorConfig   `json:"factor,omitempty"`
	Regime          *RegimeConfig   `json:"regime,omitempty"`
	Risk            *RiskConfig     `json:"risk,omitempty"`
	Rotation        *RotationConfig `json:"rotation,omitempty"`
	Grid            *GridConfig     `json:"grid,omitempty"`
}

// DefaultStrategyConfig returns a fully populated rotation config.
func DefaultStrategyConfig() *StrategyConfig {
	return &StrategyConfig{
		Name:           "rotation",
		InitialCapital: 1_000_000,
		Factor:         DefaultFactorConfig(),
		Regime:         DefaultRegimeConfig(),
		Risk:           DefaultRiskConfig(),
		Rotation:       DefaultRotationConfig(),
		Grid:           DefaultGridConfig(),
	}
}

// ServerConfig represents the API server configuration.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MaxConnections int           `json:"maxConnections"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "localhost",
		Port:           8080,
		WebSocketPath:  "/ws",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		EnableMetrics:  true,
		MaxConnections: 100,
	}
}

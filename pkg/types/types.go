// Package types provides shared type definitions for the strategy backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction represents what a strategy wants done with an instrument.
type SignalAction string

const (
	ActionBuy       SignalAction = "buy"
	ActionSell      SignalAction = "sell"
	ActionExit      SignalAction = "exit"
	ActionRebalance SignalAction = "rebalance"
)

// RiskRegime is the coarse market-wide risk classification derived from
// benchmark volatility and trend.
type RiskRegime string

const (
	RegimeHighRisk RiskRegime = "high_risk"
	RegimeNeutral  RiskRegime = "neutral"
	RegimeLowRisk  RiskRegime = "low_risk"
)

// OHLCV represents a single bar of one instrument.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// PriceSeries is the ordered bar history of one instrument. Timestamps are
// strictly increasing; the series is materialized by the data loader and is
// read-only to the engines.
type PriceSeries struct {
	Symbol string  `json:"symbol"`
	Style  string  `json:"style,omitempty"` // style bucket for diversification
	Bars   []OHLCV `json:"bars"`
}

// Len returns the number of bars.
func (s *PriceSeries) Len() int { return len(s.Bars) }

// Window returns the n bars ending at index end (inclusive), or nil if fewer
// than n bars are available.
func (s *PriceSeries) Window(end, n int) []OHLCV {
	if end >= len(s.Bars) || end < 0 || end-n+1 < 0 {
		return nil
	}
	return s.Bars[end-n+1 : end+1]
}

// FactorScore holds the factor breakdown for one instrument at one timestamp.
// Immutable once computed for a given (instrument, timestamp, window config).
type FactorScore struct {
	Symbol      string             `json:"symbol"`
	Timestamp   time.Time          `json:"timestamp"`
	Momentum    float64            `json:"momentum"`
	Quality     float64            `json:"quality"`
	Composite   float64            `json:"composite_score"`
	SubFactors  map[string]float64 `json:"sub_factors,omitempty"`
	VolumeRatio float64            `json:"volume_ratio"`
	Filtered    bool               `json:"filtered"` // zeroed by a pre-filter
}

// Signal is one per-instrument instruction emitted toward the backtest
// collaborator.
type Signal struct {
	Timestamp    time.Time       `json:"timestamp"`
	Symbol       string          `json:"symbol"`
	Action       SignalAction    `json:"action"`
	TargetWeight float64         `json:"target_weight,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	Reason       string          `json:"reason"`
}

// PositionState is the per-instrument mutable record owned by the rotation
// engine. Mutated on entry, on each period's risk recompute, and cleared on
// exit.
type PositionState struct {
	Symbol            string          `json:"symbol"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	EntryDate         time.Time       `json:"entry_date"`
	HighestPrice      decimal.Decimal `json:"highest_price"`
	CurrentWeight     float64         `json:"current_weight"`
	StopLossLevel     decimal.Decimal `json:"stop_loss_level"`
	TrailingStopLevel decimal.Decimal `json:"trailing_stop_level"`
	TakeProfitLevel   decimal.Decimal `json:"take_profit_level"`
}

// GridPhase is the lifecycle phase of one grid instantiation.
type GridPhase string

const (
	GridUninitialized GridPhase = "uninitialized"
	GridActive        GridPhase = "active"
	GridExited        GridPhase = "exited"
)

// GridState is the per-instrument record owned by the grid engine. A state is
// created when a grid is anchored in a new price range and reset when the
// range is abandoned or a terminal exit fires.
type GridState struct {
	Symbol          string       `json:"symbol"`
	Phase           GridPhase    `json:"phase"`
	BasePrice       float64      `json:"base_price"`
	GridLevels      []float64    `json:"grid_levels"`
	FilledLevels    map[int]bool `json:"filled_levels"`
	LastClose       float64      `json:"last_close"`
	RealizedPnL     float64      `json:"realized_pnl"`
	DeployedCapital float64      `json:"deployed_capital"`
}

// Trade is one fill recorded by the backtester.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Action     SignalAction    `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Weight     float64         `json:"weight"`
	Reason     string          `json:"reason"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// EquityCurvePoint is one sample of portfolio equity.
type EquityCurvePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// PerformanceMetrics summarizes one backtest run.
type PerformanceMetrics struct {
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	WinRate          float64 `json:"winRate"`
	TradeCount       int     `json:"tradeCount"`
}

// BacktestProgress is a point-in-time snapshot of a running replay.
type BacktestProgress struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Progress      float64   `json:"progress"`
	BarsReplayed  int       `json:"barsReplayed"`
	TotalBars     int       `json:"totalBars"`
	CurrentDate   time.Time `json:"currentDate"`
	TradesBooked  int       `json:"tradesBooked"`
	CurrentEquity float64   `json:"currentEquity"`
}

// BacktestResult is the outcome of one full strategy run over one dataset.
type BacktestResult struct {
	ID           string              `json:"id"`
	Strategy     string              `json:"strategy"`
	Metrics      *PerformanceMetrics `json:"metrics"`
	Signals      []Signal            `json:"signals"`
	Trades       []Trade             `json:"trades"`
	EquityCurve  []EquityCurvePoint  `json:"equityCurve"`
	StartedAt    time.Time           `json:"startedAt"`
	CompletedAt  time.Time           `json:"completedAt"`
	BarsReplayed int                 `json:"barsReplayed"`
}

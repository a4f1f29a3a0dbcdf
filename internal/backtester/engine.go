// Package backtester replays bar history through a strategy and books the
// resulting signals against a simulated portfolio. It owns no decision logic;
// strategies decide, the backtester executes and measures.
package backtester

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/rotation-backend/internal/strategy"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

const progressEveryBars = 50

// Engine drives one strategy over one dataset.
type Engine struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	registry *strategy.Registry

	running   atomic.Bool
	cancelled atomic.Bool

	runID        string
	currentDate  time.Time
	barsReplayed atomic.Int64
	totalBars    int
	portfolio    *Portfolio

	progressChan chan *types.BacktestProgress
}

// NewEngine creates a backtest engine over the given strategy registry.
func NewEngine(logger *zap.Logger, registry *strategy.Registry) *Engine {
	return &Engine{
		logger:       logger,
		registry:     registry,
		progressChan: make(chan *types.BacktestProgress, 100),
	}
}

// Run replays the dataset through the configured strategy and returns the
// result. Only one run may be active per engine at a time.
func (e *Engine) Run(ctx context.Context, config *types.StrategyConfig, data map[string]*types.PriceSeries, benchmark *types.PriceSeries) (*types.BacktestResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backtest already running")
	}
	defer e.running.Store(false)
	e.cancelled.Store(false)

	startedAt := time.Now()
	runID := uuid.New().String()

	strat, err := e.registry.Create(config.Name, e.logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}
	if err := strat.Initialize(data, benchmark); err != nil {
		return nil, fmt.Errorf("failed to initialize strategy %s: %w", config.Name, err)
	}

	totalBars := 0
	for _, series := range data {
		if series.Len() > totalBars {
			totalBars = series.Len()
		}
	}
	if totalBars == 0 {
		return nil, fmt.Errorf("no bars to replay")
	}

	portfolio := NewPortfolio(config.InitialCapital)
	symbols := replayOrder(data)

	e.mu.Lock()
	e.runID = runID
	e.totalBars = totalBars
	e.portfolio = portfolio
	e.barsReplayed.Store(0)
	e.mu.Unlock()

	e.logger.Info("Starting backtest",
		zap.String("id", runID),
		zap.String("strategy", config.Name),
		zap.Int("symbols", len(data)),
		zap.Int("totalBars", totalBars),
	)

	equityCurve := make([]types.EquityCurvePoint, 0, totalBars)
	allSignals := make([]types.Signal, 0)
	warmup := strat.WarmupBars()

	for end := 0; end < totalBars; end++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if e.cancelled.Load() {
			return nil, fmt.Errorf("backtest cancelled")
		}

		ts := e.markPrices(portfolio, data, symbols, end)
		e.mu.Lock()
		e.currentDate = ts
		e.mu.Unlock()
		e.barsReplayed.Store(int64(end + 1))

		if end >= warmup {
			// Exits run every bar; entries follow the strategy's own cadence.
			exits := strat.CheckExitConditions(end)
			for _, sig := range exits {
				portfolio.Apply(sig)
			}
			allSignals = append(allSignals, exits...)

			signals, err := strat.GenerateSignals(end)
			if err != nil {
				e.logger.Error("Signal generation failed",
					zap.String("id", runID),
					zap.Int("bar", end),
					zap.Error(err),
				)
			}
			for _, sig := range signals {
				portfolio.Apply(sig)
			}
			allSignals = append(allSignals, signals...)
		}

		equityCurve = append(equityCurve, portfolio.Snapshot(ts))

		if (end+1)%progressEveryBars == 0 {
			e.sendProgress()
		}
	}

	metrics := CalculateMetrics(equityCurve, portfolio.Trades(), config.InitialCapital)

	result := &types.BacktestResult{
		ID:           runID,
		Strategy:     config.Name,
		Metrics:      metrics,
		Signals:      allSignals,
		Trades:       portfolio.Trades(),
		EquityCurve:  equityCurve,
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		BarsReplayed: totalBars,
	}

	e.logger.Info("Backtest completed",
		zap.String("id", runID),
		zap.Duration("duration", time.Since(startedAt)),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("totalReturn", metrics.TotalReturn),
	)

	return result, nil
}

// Cancel stops a running replay at the next bar boundary.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Running reports whether a replay is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// GetProgress returns the current replay progress.
func (e *Engine) GetProgress() *types.BacktestProgress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := "idle"
	if e.running.Load() {
		status = "running"
	}
	progress := &types.BacktestProgress{
		ID:           e.runID,
		Status:       status,
		BarsReplayed: int(e.barsReplayed.Load()),
		TotalBars:    e.totalBars,
		CurrentDate:  e.currentDate,
	}
	if e.totalBars > 0 {
		progress.Progress = float64(progress.BarsReplayed) / float64(e.totalBars) * 100
	}
	if e.portfolio != nil {
		progress.TradesBooked = e.portfolio.TradeCount()
		progress.CurrentEquity = e.portfolio.Equity()
	}
	return progress
}

// ProgressChan returns the progress stream.
func (e *Engine) ProgressChan() <-chan *types.BacktestProgress {
	return e.progressChan
}

// markPrices marks every open holding at the bar's close and returns the
// bar's timestamp.
func (e *Engine) markPrices(portfolio *Portfolio, data map[string]*types.PriceSeries, symbols []string, end int) time.Time {
	var ts time.Time
	for _, symbol := range symbols {
		series := data[symbol]
		if end >= series.Len() {
			continue
		}
		bar := series.Bars[end]
		close, _ := bar.Close.Float64()
		portfolio.MarkPrice(symbol, close)
		if bar.Timestamp.After(ts) {
			ts = bar.Timestamp
		}
	}
	return ts
}

func (e *Engine) sendProgress() {
	select {
	case e.progressChan <- e.GetProgress():
	default:
		// Channel full, skip update.
	}
}

// replayOrder returns the dataset's symbols in lexicographic order so trade
// booking is deterministic across runs.
func replayOrder(data map[string]*types.PriceSeries) []string {
	symbols := make([]string, 0, len(data))
	for s := range data {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

package strategy

import (
	"fmt"
	"sort"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/quantdesk/rotation-backend/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const gridWarmupBars = 10

// GridEngine runs an independent price-grid state machine per instrument:
// buy when price crosses an unfilled level downward, sell the level back when
// price crosses it upward, liquidate everything when the cycle's profit or
// loss breaches its threshold or price leaves the band.
type GridEngine struct {
	logger *zap.Logger
	config *types.StrategyConfig

	data    map[string]*types.PriceSeries
	symbols []string

	// Per-instrument mutable state, owned exclusively by this instance.
	states map[string]*types.GridState
}

// NewGridEngine builds a grid engine from a strategy config.
func NewGridEngine(logger *zap.Logger, config *types.StrategyConfig) (*GridEngine, error) {
	if config == nil {
		config = types.DefaultStrategyConfig()
		config.Name = "grid"
	}
	if config.Grid == nil {
		config.Grid = types.DefaultGridConfig()
	}
	if config.Grid.GridCount < 2 {
		return nil, fmt.Errorf("grid requires at least 2 levels, got %d", config.Grid.GridCount)
	}
	return &GridEngine{
		logger: logger,
		config: config,
		states: make(map[string]*types.GridState),
	}, nil
}

func (e *GridEngine) Name() string { return "grid" }

func (e *GridEngine) Description() string {
	return "Range-bound grid trading with per-level profit accounting"
}

// Initialize hands the engine its materialized data.
func (e *GridEngine) Initialize(data map[string]*types.PriceSeries, _ *types.PriceSeries) error {
	if len(data) == 0 {
		return fmt.Errorf("grid strategy requires at least one price series")
	}
	e.data = data
	e.symbols = sortedSymbols(data)
	return nil
}

func (e *GridEngine) WarmupBars() int { return gridWarmupBars }

// Reset clears all grid state.
func (e *GridEngine) Reset() {
	e.states = make(map[string]*types.GridState)
}

// CheckExitConditions tests each active grid's cumulative profit and loss
// against the configured thresholds, measured against the capital deployed in
// the grid rather than per level. A breach liquidates every filled level and
// terminates the cycle.
func (e *GridEngine) CheckExitConditions(end int) []types.Signal {
	cfg := e.config.Grid
	var signals []types.Signal

	for _, symbol := range e.symbols {
		state, ok := e.states[symbol]
		if !ok || state.Phase != types.GridActive {
			continue
		}
		series := e.data[symbol]
		if end >= series.Len() {
			continue
		}
		price, _ := series.Bars[end].Close.Float64()

		if state.DeployedCapital <= 0 {
			continue
		}
		pnl := state.RealizedPnL + e.unrealizedPnL(state, price)
		ratio := pnl / state.DeployedCapital

		var reason string
		switch {
		case ratio >= cfg.TakeProfitThreshold:
			reason = fmt.Sprintf("grid take profit: %.2f%% of deployed capital", ratio*100)
		case ratio <= -cfg.StopLossThreshold:
			reason = fmt.Sprintf("grid stop loss: %.2f%% of deployed capital", ratio*100)
		default:
			continue
		}

		signals = append(signals, e.liquidate(state, series.Bars[end], reason)...)
	}
	return signals
}

// GenerateSignals advances each instrument's grid state machine by one bar.
func (e *GridEngine) GenerateSignals(end int) ([]types.Signal, error) {
	cfg := e.config.Grid
	var signals []types.Signal

	for _, symbol := range e.symbols {
		series := e.data[symbol]
		if end >= series.Len() {
			continue
		}
		bar := series.Bars[end]
		price, _ := bar.Close.Float64()
		if price <= 0 {
			continue
		}

		state, ok := e.states[symbol]
		if !ok || state.Phase == types.GridUninitialized {
			e.states[symbol] = e.anchor(symbol, price)
			continue
		}
		// A terminated cycle re-anchors at the current price on the next bar.
		if state.Phase == types.GridExited {
			e.states[symbol] = e.anchor(symbol, price)
			continue
		}

		// Leaving the configured band abandons the cycle. The band can be
		// wider than the outermost levels, so it is measured from the base
		// price, not from the levels.
		if price < state.BasePrice*(1-cfg.PriceRangePct) || price > state.BasePrice*(1+cfg.PriceRangePct) {
			signals = append(signals, e.liquidate(state, bar, "price exited grid range")...)
			continue
		}

		signals = append(signals, e.crossings(state, bar, price)...)
		state.LastClose = price
	}
	return signals, nil
}

// CalculateIndicators exposes the grid's position metrics for one instrument.
func (e *GridEngine) CalculateIndicators(symbol string, end int) (map[string]float64, error) {
	series, ok := e.data[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol: %s", symbol)
	}
	if end >= series.Len() {
		return nil, fmt.Errorf("bar %d out of range for %s", end, symbol)
	}
	price, _ := series.Bars[end].Close.Float64()

	out := map[string]float64{"price": price}
	state, ok := e.states[symbol]
	if !ok {
		return out, nil
	}
	out["base_price"] = state.BasePrice
	out["realized_pnl"] = state.RealizedPnL
	out["filled_levels"] = float64(len(state.FilledLevels))
	if span := state.GridLevels[len(state.GridLevels)-1] - state.GridLevels[0]; span > 0 {
		out["grid_position"] = utils.Clamp((price-state.GridLevels[0])/span, 0, 1)
	}
	return out, nil
}

// anchor builds a fresh ACTIVE grid centered on the current price.
func (e *GridEngine) anchor(symbol string, price float64) *types.GridState {
	cfg := e.config.Grid
	lo := price * (1 - cfg.PriceRangePct)
	hi := price * (1 + cfg.PriceRangePct)

	// Levels sit grid_spacing apart around the base, truncated to the band.
	// When the spacing is too wide for the requested count, the band wins and
	// the levels spread evenly instead.
	step := price * cfg.GridSpacing
	if step <= 0 || step*float64(cfg.GridCount-1) > hi-lo {
		step = (hi - lo) / float64(cfg.GridCount-1)
	}
	half := float64(cfg.GridCount-1) / 2
	levels := make([]float64, cfg.GridCount)
	for i := range levels {
		levels[i] = price + (float64(i)-half)*step
	}

	e.logger.Debug("grid anchored",
		zap.String("symbol", symbol),
		zap.Float64("base", price),
		zap.Float64("low", lo),
		zap.Float64("high", hi),
	)

	return &types.GridState{
		Symbol:       symbol,
		Phase:        types.GridActive,
		BasePrice:    price,
		GridLevels:   levels,
		FilledLevels: make(map[int]bool),
		LastClose:    price,
	}
}

// crossings emits one signal per grid level crossed since the last bar.
// Simultaneous multi-level moves are processed level-by-level in price order
// so each level's slice of profit is accounted individually, never collapsed
// into one signal.
func (e *GridEngine) crossings(state *types.GridState, bar types.OHLCV, price float64) []types.Signal {
	cfg := e.config.Grid
	var signals []types.Signal

	if price < state.LastClose {
		// Downward move: fill crossed levels from the highest down.
		var crossed []int
		for i := len(state.GridLevels) - 1; i >= 0; i-- {
			level := state.GridLevels[i]
			if level < state.LastClose && level >= price && !state.FilledLevels[i] {
				crossed = append(crossed, i)
			}
		}
		for _, i := range crossed {
			level := state.GridLevels[i]
			state.FilledLevels[i] = true
			state.DeployedCapital += level * cfg.QuantityPerLevel
			signals = append(signals, types.Signal{
				Timestamp: bar.Timestamp,
				Symbol:    state.Symbol,
				Action:    types.ActionBuy,
				Quantity:  decimal.NewFromFloat(cfg.QuantityPerLevel),
				Price:     decimal.NewFromFloat(level),
				Reason:    fmt.Sprintf("grid buy at level %d (%.4f)", i, level),
			})
		}
	} else if price > state.LastClose {
		// Upward move: sell filled levels from the lowest up, realizing each
		// level's slice against the crossing price.
		var crossed []int
		for i := 0; i < len(state.GridLevels); i++ {
			level := state.GridLevels[i]
			if level > state.LastClose && level <= price && state.FilledLevels[i] {
				crossed = append(crossed, i)
			}
		}
		sort.Ints(crossed)
		for _, i := range crossed {
			level := state.GridLevels[i]
			state.FilledLevels[i] = false
			state.RealizedPnL += (price - level) * cfg.QuantityPerLevel
			signals = append(signals, types.Signal{
				Timestamp: bar.Timestamp,
				Symbol:    state.Symbol,
				Action:    types.ActionSell,
				Quantity:  decimal.NewFromFloat(cfg.QuantityPerLevel),
				Price:     bar.Close,
				Reason:    fmt.Sprintf("grid sell at level %d (%.4f)", i, level),
			})
		}
	}
	return signals
}

// liquidate emits an exit for every filled level and terminates the cycle.
// EXITED is terminal for this price-range instantiation.
func (e *GridEngine) liquidate(state *types.GridState, bar types.OHLCV, reason string) []types.Signal {
	cfg := e.config.Grid
	price, _ := bar.Close.Float64()

	levels := make([]int, 0, len(state.FilledLevels))
	for i, filled := range state.FilledLevels {
		if filled {
			levels = append(levels, i)
		}
	}
	sort.Ints(levels)

	signals := make([]types.Signal, 0, len(levels))
	for _, i := range levels {
		level := state.GridLevels[i]
		state.FilledLevels[i] = false
		state.RealizedPnL += (price - level) * cfg.QuantityPerLevel
		signals = append(signals, types.Signal{
			Timestamp: bar.Timestamp,
			Symbol:    state.Symbol,
			Action:    types.ActionExit,
			Quantity:  decimal.NewFromFloat(cfg.QuantityPerLevel),
			Price:     bar.Close,
			Reason:    reason,
		})
	}

	state.Phase = types.GridExited
	e.logger.Debug("grid cycle terminated",
		zap.String("symbol", state.Symbol),
		zap.String("reason", reason),
		zap.Float64("realized_pnl", state.RealizedPnL),
	)
	return signals
}

func (e *GridEngine) unrealizedPnL(state *types.GridState, price float64) float64 {
	total := 0.0
	for i, filled := range state.FilledLevels {
		if filled {
			total += (price - state.GridLevels[i]) * e.config.Grid.QuantityPerLevel
		}
	}
	return total
}

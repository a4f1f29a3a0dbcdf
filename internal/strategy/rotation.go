package strategy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quantdesk/rotation-backend/internal/factors"
	"github.com/quantdesk/rotation-backend/internal/regime"
	"github.com/quantdesk/rotation-backend/internal/risk"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/quantdesk/rotation-backend/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RotationEngine rotates capital into the highest-scoring instruments each
// rebalance period, with style diversification, regime-scaled exposure and
// dynamic risk exits.
type RotationEngine struct {
	logger     *zap.Logger
	config     *types.StrategyConfig
	factors    *factors.Engine
	classifier *regime.Classifier
	riskMgr    *risk.Manager

	data      map[string]*types.PriceSeries
	benchmark *types.PriceSeries
	symbols   []string
	styles    map[string]string

	// Per-instrument mutable state, owned exclusively by this instance.
	positions        map[string]*types.PositionState
	currentRegime    *regime.State
	lastRebalanceBar int
}

type candidate struct {
	symbol string
	score  *types.FactorScore
}

// NewRotationEngine builds a rotation engine from a strategy config.
func NewRotationEngine(logger *zap.Logger, config *types.StrategyConfig) (*RotationEngine, error) {
	if config == nil {
		config = types.DefaultStrategyConfig()
	}
	if config.Rotation == nil {
		config.Rotation = types.DefaultRotationConfig()
	}
	if config.Risk == nil {
		config.Risk = types.DefaultRiskConfig()
	}

	return &RotationEngine{
		logger:           logger,
		config:           config,
		factors:          factors.NewEngine(logger, config.Factor),
		classifier:       regime.NewClassifier(logger, config.Regime),
		riskMgr:          risk.NewManager(logger, config.Risk),
		positions:        make(map[string]*types.PositionState),
		lastRebalanceBar: -1,
	}, nil
}

func (e *RotationEngine) Name() string { return "rotation" }

func (e *RotationEngine) Description() string {
	return "Multi-factor rotation with regime-scaled exposure and dynamic risk exits"
}

// Initialize hands the engine its materialized data.
func (e *RotationEngine) Initialize(data map[string]*types.PriceSeries, benchmark *types.PriceSeries) error {
	if len(data) == 0 {
		return fmt.Errorf("rotation strategy requires at least one price series")
	}
	e.data = data
	e.benchmark = benchmark
	e.symbols = sortedSymbols(data)
	e.styles = make(map[string]string, len(data))
	for symbol, series := range data {
		e.styles[symbol] = series.Style
	}
	return nil
}

func (e *RotationEngine) WarmupBars() int {
	warmup := e.factors.Config().MinWindow()
	if cw := e.classifier.MinWindow(); cw > warmup {
		warmup = cw
	}
	return warmup
}

// Reset clears all mutable per-run state.
func (e *RotationEngine) Reset() {
	e.positions = make(map[string]*types.PositionState)
	e.currentRegime = nil
	e.lastRebalanceBar = -1
	e.factors = factors.NewEngine(e.logger, e.config.Factor)
}

// CheckExitConditions recomputes risk levels for every held position and
// emits exits for level breaches. Runs every bar; risk exits do not wait for
// rebalance days.
func (e *RotationEngine) CheckExitConditions(end int) []types.Signal {
	state := e.regimeOrNeutral(e.barTime(end))

	var signals []types.Signal
	for _, symbol := range e.symbols {
		pos, held := e.positions[symbol]
		if !held {
			continue
		}
		series := e.data[symbol]
		if end >= series.Len() {
			continue
		}
		price := series.Bars[end].Close

		decision := e.riskMgr.CheckExit(pos, price, state)
		switch {
		case decision.Exit:
			signals = append(signals, types.Signal{
				Timestamp: series.Bars[end].Timestamp,
				Symbol:    symbol,
				Action:    types.ActionExit,
				Price:     price,
				Reason:    decision.Reason,
			})
			delete(e.positions, symbol)
			e.logger.Debug("risk exit", zap.String("symbol", symbol), zap.String("reason", decision.Reason))
		case decision.Reduce:
			newWeight := pos.CurrentWeight * decision.KeepRatio
			signals = append(signals, types.Signal{
				Timestamp:    series.Bars[end].Timestamp,
				Symbol:       symbol,
				Action:       types.ActionSell,
				TargetWeight: newWeight,
				Price:        price,
				Reason:       decision.Reason,
			})
			pos.CurrentWeight = newWeight
		}
	}
	return signals
}

// GenerateSignals runs the period's decision cycle: score, rank, diversify,
// weight, and emit rebalance signals past the hysteresis threshold.
func (e *RotationEngine) GenerateSignals(end int) ([]types.Signal, error) {
	cfg := e.config.Rotation
	if e.lastRebalanceBar >= 0 && end-e.lastRebalanceBar < cfg.RebalanceEveryBars {
		return nil, nil
	}
	e.lastRebalanceBar = end

	ts := e.barTime(end)
	e.updateRegime(end, ts)

	candidates, positiveCount := e.scoreUniverse(end)

	var targets map[string]float64
	if positiveCount < cfg.MinPositiveCount || e.currentRegime.Regime == types.RegimeHighRisk {
		targets = e.defensiveTargets()
		if len(targets) > 0 {
			e.logger.Info("defensive allocation",
				zap.Int("positive_count", positiveCount),
				zap.String("regime", string(e.currentRegime.Regime)),
			)
		}
	}
	if targets == nil {
		targets = e.selectTargets(candidates)
	}

	return e.rebalanceSignals(end, ts, targets), nil
}

// CalculateIndicators returns the factor breakdown for one instrument.
func (e *RotationEngine) CalculateIndicators(symbol string, end int) (map[string]float64, error) {
	series, ok := e.data[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol: %s", symbol)
	}
	score, err := e.factors.Score(series, end)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{
		"momentum":     score.Momentum,
		"quality":      score.Quality,
		"composite":    score.Composite,
		"volume_ratio": score.VolumeRatio,
	}
	for k, v := range score.SubFactors {
		out[k] = v
	}
	return out, nil
}

func (e *RotationEngine) barTime(end int) time.Time {
	if e.benchmark != nil && end < e.benchmark.Len() {
		return e.benchmark.Bars[end].Timestamp
	}
	for _, symbol := range e.symbols {
		if series := e.data[symbol]; end < series.Len() {
			return series.Bars[end].Timestamp
		}
	}
	return time.Time{}
}

// updateRegime reclassifies the market. A missing benchmark degrades to
// NEUTRAL with a warning instead of aborting the cycle.
func (e *RotationEngine) updateRegime(end int, ts time.Time) {
	state, err := e.classifier.Classify(e.benchmark, end)
	if err != nil {
		if errors.Is(err, types.ErrBenchmarkUnavailable) {
			e.logger.Warn("benchmark unavailable, assuming neutral regime", zap.Time("bar", ts))
		} else {
			e.logger.Warn("regime classification failed", zap.Error(err))
		}
		state = regime.NeutralState(ts)
	}
	e.currentRegime = state
}

func (e *RotationEngine) regimeOrNeutral(ts time.Time) *regime.State {
	if e.currentRegime != nil {
		return e.currentRegime
	}
	return regime.NeutralState(ts)
}

// scoreUniverse scores every instrument, skipping those with insufficient
// history. A single instrument's failure never aborts the cycle.
func (e *RotationEngine) scoreUniverse(end int) ([]candidate, int) {
	var candidates []candidate
	positiveCount := 0

	for _, symbol := range e.symbols {
		series := e.data[symbol]
		score, err := e.factors.Score(series, end)
		if err != nil {
			if errors.Is(err, types.ErrInsufficientHistory) {
				e.logger.Debug("skipping instrument", zap.String("symbol", symbol), zap.Error(err))
			} else {
				e.logger.Warn("scoring failed", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
		if score.Composite > 0 {
			positiveCount++
		}
		candidates = append(candidates, candidate{symbol: symbol, score: score})
	}
	return candidates, positiveCount
}

func (e *RotationEngine) defensiveTargets() map[string]float64 {
	basket := e.config.Rotation.DefensiveSymbols
	if len(basket) == 0 {
		return map[string]float64{}
	}
	targets := make(map[string]float64, len(basket))
	for _, symbol := range basket {
		if _, ok := e.data[symbol]; ok {
			targets[symbol] = 1.0 / float64(len(basket))
		}
	}
	return targets
}

// selectTargets ranks the qualified candidates, applies the style
// diversification tie-break, and converts scores into regime-scaled weights.
func (e *RotationEngine) selectTargets(candidates []candidate) map[string]float64 {
	cfg := e.config.Rotation

	qualified := candidates[:0:0]
	for _, c := range candidates {
		if c.score.Composite <= cfg.ScoreThreshold {
			continue
		}
		if countPositive(c.score.SubFactors) < cfg.MinPositiveSubfactors {
			continue
		}
		qualified = append(qualified, c)
	}
	if len(qualified) == 0 {
		return map[string]float64{}
	}

	rankCandidates(qualified)
	selected := e.diversifiedSelection(qualified, cfg.MaxHoldings)

	scores := make([]float64, len(selected))
	for i, c := range selected {
		scores[i] = c.score.Composite
	}
	weights := utils.ScoreWeights(scores)

	// Normalize to the regime-adjusted gross exposure.
	exposure := e.riskMgr.GrossExposure(e.currentRegime.Regime)
	targets := make(map[string]float64, len(selected))
	for i, c := range selected {
		targets[c.symbol] = weights[i] * exposure
	}
	return targets
}

// rankCandidates orders by composite score descending. Exact ties break
// lexicographically by symbol so replays are stable.
func rankCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score.Composite != candidates[j].score.Composite {
			return candidates[i].score.Composite > candidates[j].score.Composite
		}
		return candidates[i].symbol < candidates[j].symbol
	})
}

// diversifiedSelection walks the ranking preferring style buckets not yet
// represented, then fills remaining slots by rank.
func (e *RotationEngine) diversifiedSelection(ranked []candidate, max int) []candidate {
	var selected []candidate
	stylesSeen := make(map[string]bool)

	for _, c := range ranked {
		if len(selected) >= max {
			break
		}
		style := e.styles[c.symbol]
		if !stylesSeen[style] || len(selected) < 2 {
			selected = append(selected, c)
			stylesSeen[style] = true
		}
	}
	if len(selected) < max {
		for _, c := range ranked {
			if len(selected) >= max {
				break
			}
			if !containsSymbol(selected, c.symbol) {
				selected = append(selected, c)
			}
		}
	}
	return selected
}

// rebalanceSignals compares targets against current weights and emits a
// signal only where the deviation exceeds the hysteresis threshold.
func (e *RotationEngine) rebalanceSignals(end int, ts time.Time, targets map[string]float64) []types.Signal {
	cfg := e.config.Rotation
	var signals []types.Signal

	// Held positions not in the target set.
	for _, symbol := range e.symbols {
		pos, held := e.positions[symbol]
		if !held {
			continue
		}
		if _, wanted := targets[symbol]; wanted {
			continue
		}
		if pos.CurrentWeight < cfg.RebalanceThreshold {
			continue
		}
		signals = append(signals, types.Signal{
			Timestamp:    ts,
			Symbol:       symbol,
			Action:       types.ActionSell,
			TargetWeight: 0,
			Price:        e.closeAt(symbol, end),
			Reason:       "dropped from rotation selection",
		})
		delete(e.positions, symbol)
	}

	// Deterministic order over targets.
	targetSymbols := make([]string, 0, len(targets))
	for symbol := range targets {
		targetSymbols = append(targetSymbols, symbol)
	}
	sort.Strings(targetSymbols)

	for _, symbol := range targetSymbols {
		target := targets[symbol]
		current := 0.0
		pos, held := e.positions[symbol]
		if held {
			current = pos.CurrentWeight
		}
		deviation := target - current
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation <= cfg.RebalanceThreshold {
			continue
		}

		price := e.closeAt(symbol, end)
		signals = append(signals, types.Signal{
			Timestamp:    ts,
			Symbol:       symbol,
			Action:       types.ActionRebalance,
			TargetWeight: target,
			Price:        price,
			Reason:       fmt.Sprintf("weight deviation %.3f exceeds threshold", deviation),
		})

		if held {
			pos.CurrentWeight = target
		} else {
			pos = &types.PositionState{
				Symbol:        symbol,
				EntryPrice:    price,
				EntryDate:     ts,
				CurrentWeight: target,
			}
			e.riskMgr.InitLevels(pos, e.currentRegime)
			e.positions[symbol] = pos
		}
	}
	return signals
}

func (e *RotationEngine) closeAt(symbol string, end int) decimal.Decimal {
	series, ok := e.data[symbol]
	if !ok || end >= series.Len() {
		return decimal.Zero
	}
	return series.Bars[end].Close
}

func countPositive(subs map[string]float64) int {
	count := 0
	for _, v := range subs {
		if v > 0 {
			count++
		}
	}
	return count
}

func containsSymbol(candidates []candidate, symbol string) bool {
	for _, c := range candidates {
		if c.symbol == symbol {
			return true
		}
	}
	return false
}

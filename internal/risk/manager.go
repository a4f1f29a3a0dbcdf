// Package risk derives dynamic stop-loss, trailing-stop and take-profit
// levels from realized volatility and the current market regime.
package risk

import (
	"fmt"

	"github.com/quantdesk/rotation-backend/internal/regime"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExitDecision reports whether a position should be exited or reduced and why.
type ExitDecision struct {
	Exit      bool
	Reduce    bool
	KeepRatio float64 // fraction of the position to keep on a reduction
	Reason    string
}

// Manager computes risk levels. Stops widen in HIGH_RISK to avoid whipsaw
// exits and tighten in LOW_RISK; within a regime they scale further with the
// benchmark volatility percentile.
type Manager struct {
	logger *zap.Logger
	config *types.RiskConfig
}

// NewManager creates a dynamic risk manager.
func NewManager(logger *zap.Logger, config *types.RiskConfig) *Manager {
	if config == nil {
		config = types.DefaultRiskConfig()
	}
	return &Manager{logger: logger, config: config}
}

func (m *Manager) regimeMultiplier(r types.RiskRegime) float64 {
	switch r {
	case types.RegimeHighRisk:
		return m.config.HighRiskMultiplier
	case types.RegimeLowRisk:
		return m.config.LowRiskMultiplier
	default:
		return 1.0
	}
}

// GrossExposure returns the total target exposure for a regime.
func (m *Manager) GrossExposure(r types.RiskRegime) float64 {
	switch r {
	case types.RegimeHighRisk:
		return m.config.HighRiskExposure
	case types.RegimeLowRisk:
		return m.config.LowRiskExposure
	default:
		return m.config.NeutralExposure
	}
}

// stopRate and takeRate blend the base rates with the regime multiplier and
// the volatility percentile: higher market volatility widens stops and pulls
// the profit target in.
func (m *Manager) stopRate(base float64, state *regime.State) float64 {
	return base * m.regimeMultiplier(state.Regime) * (1 + state.VolPercentile)
}

func (m *Manager) takeRate(state *regime.State) float64 {
	rate := m.config.TakeProfitBase * m.regimeMultiplier(state.Regime) * (1 - state.VolPercentile)
	if rate < 0.01 {
		rate = 0.01
	}
	return rate
}

// InitLevels sets the three risk levels on a freshly entered position.
func (m *Manager) InitLevels(pos *types.PositionState, state *regime.State) {
	entry, _ := pos.EntryPrice.Float64()
	stop := entry * (1 - m.stopRate(m.config.StopLossBase, state))
	take := entry * (1 + m.takeRate(state))
	trail := entry * (1 - m.stopRate(m.config.TrailingStopBase, state))

	pos.HighestPrice = pos.EntryPrice
	pos.StopLossLevel = decimal.NewFromFloat(stop)
	pos.TakeProfitLevel = decimal.NewFromFloat(take)
	pos.TrailingStopLevel = decimal.NewFromFloat(trail)
}

// UpdateTrailing ratchets the trailing stop from the running maximum
// favorable price. The level only moves up: intermediate price noise or a
// regime change never loosens a stop once set.
func (m *Manager) UpdateTrailing(pos *types.PositionState, price decimal.Decimal, state *regime.State) {
	if price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = price
	}

	high, _ := pos.HighestPrice.Float64()
	candidate := decimal.NewFromFloat(high * (1 - m.stopRate(m.config.TrailingStopBase, state)))
	if candidate.GreaterThan(pos.TrailingStopLevel) {
		pos.TrailingStopLevel = candidate
	}
}

// CheckExit recomputes the trailing stop and tests the current price against
// all three levels. Stop-loss and trailing breaches exit fully; a take-profit
// breach reduces the position to the configured keep ratio.
func (m *Manager) CheckExit(pos *types.PositionState, price decimal.Decimal, state *regime.State) ExitDecision {
	m.UpdateTrailing(pos, price, state)

	if price.LessThanOrEqual(pos.StopLossLevel) {
		return ExitDecision{
			Exit:   true,
			Reason: fmt.Sprintf("stop loss breached at %s (level %s)", price, pos.StopLossLevel),
		}
	}
	if price.LessThanOrEqual(pos.TrailingStopLevel) {
		return ExitDecision{
			Exit:   true,
			Reason: fmt.Sprintf("trailing stop breached at %s (level %s)", price, pos.TrailingStopLevel),
		}
	}
	if price.GreaterThanOrEqual(pos.TakeProfitLevel) {
		return ExitDecision{
			Reduce:    true,
			KeepRatio: m.config.TakeProfitKeepRatio,
			Reason:    fmt.Sprintf("take profit reached at %s (level %s)", price, pos.TakeProfitLevel),
		}
	}
	return ExitDecision{}
}

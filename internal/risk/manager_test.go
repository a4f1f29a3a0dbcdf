package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/quantdesk/rotation-backend/internal/regime"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func neutral() *regime.State {
	return regime.NeutralState(time.Now())
}

func stateOf(r types.RiskRegime, volPct float64) *regime.State {
	return &regime.State{Regime: r, VolPercentile: volPct, Timestamp: time.Now()}
}

func newPosition(entry float64) *types.PositionState {
	return &types.PositionState{
		Symbol:     "TEST",
		EntryPrice: decimal.NewFromFloat(entry),
		EntryDate:  time.Now(),
	}
}

func TestInitLevels(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	m.InitLevels(pos, stateOf(types.RegimeNeutral, 0.5))

	// Stop: 5% base, neutral multiplier 1.0, widened by (1 + 0.5).
	wantStop := decimal.NewFromFloat(100 * (1 - 0.05*1.5))
	if !pos.StopLossLevel.Equal(wantStop) {
		t.Errorf("stop = %s, want %s", pos.StopLossLevel, wantStop)
	}
	// Take: 10% base, tightened by (1 - 0.5).
	wantTake := decimal.NewFromFloat(100 * (1 + 0.10*0.5))
	if !pos.TakeProfitLevel.Equal(wantTake) {
		t.Errorf("take = %s, want %s", pos.TakeProfitLevel, wantTake)
	}
	if !pos.HighestPrice.Equal(pos.EntryPrice) {
		t.Errorf("highest = %s, want entry", pos.HighestPrice)
	}
}

func TestRegimeWidensAndTightens(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	high := newPosition(100)
	m.InitLevels(high, stateOf(types.RegimeHighRisk, 0.5))
	low := newPosition(100)
	m.InitLevels(low, stateOf(types.RegimeLowRisk, 0.5))

	// High risk widens the stop (lower level), low risk tightens it.
	if !high.StopLossLevel.LessThan(low.StopLossLevel) {
		t.Errorf("high-risk stop %s should sit below low-risk stop %s",
			high.StopLossLevel, low.StopLossLevel)
	}
}

func TestVolatilityPercentileScalesLevels(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	calm := newPosition(100)
	m.InitLevels(calm, stateOf(types.RegimeNeutral, 0.1))
	stressed := newPosition(100)
	m.InitLevels(stressed, stateOf(types.RegimeNeutral, 0.9))

	if !stressed.StopLossLevel.LessThan(calm.StopLossLevel) {
		t.Error("higher volatility percentile should widen the stop")
	}
	if !stressed.TakeProfitLevel.LessThan(calm.TakeProfitLevel) {
		t.Error("higher volatility percentile should pull the profit target in")
	}
}

func TestTakeProfitFloor(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	// Percentile 1.0 would zero the take rate without the floor.
	m.InitLevels(pos, stateOf(types.RegimeNeutral, 1.0))

	want := decimal.NewFromFloat(101)
	if !pos.TakeProfitLevel.Equal(want) {
		t.Errorf("take = %s, want floor %s", pos.TakeProfitLevel, want)
	}
}

// TestTrailingStopMonotonic drives a position through a seeded random walk
// and checks the invariant: the trailing stop never moves down, regardless of
// price noise or regime flips.
func TestTrailingStopMonotonic(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	m.InitLevels(pos, neutral())

	rng := rand.New(rand.NewSource(7))
	regimes := []types.RiskRegime{types.RegimeHighRisk, types.RegimeNeutral, types.RegimeLowRisk}

	price := 100.0
	prev := pos.TrailingStopLevel
	for i := 0; i < 500; i++ {
		price *= 1 + (rng.Float64()-0.48)*0.04
		state := stateOf(regimes[rng.Intn(len(regimes))], rng.Float64())

		m.UpdateTrailing(pos, decimal.NewFromFloat(price), state)

		if pos.TrailingStopLevel.LessThan(prev) {
			t.Fatalf("step %d: trailing stop moved down from %s to %s",
				i, prev, pos.TrailingStopLevel)
		}
		prev = pos.TrailingStopLevel
	}
}

func TestCheckExitStopLoss(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	m.InitLevels(pos, neutral())

	decision := m.CheckExit(pos, decimal.NewFromFloat(80), neutral())
	if !decision.Exit {
		t.Fatalf("price 80 should breach the stop, got %+v", decision)
	}
}

func TestCheckExitTakeProfitReduces(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	m.InitLevels(pos, neutral())

	decision := m.CheckExit(pos, decimal.NewFromFloat(120), neutral())
	if decision.Exit {
		t.Fatalf("take profit should reduce, not exit: %+v", decision)
	}
	if !decision.Reduce {
		t.Fatalf("price 120 should trigger take profit, got %+v", decision)
	}
	if decision.KeepRatio != 0.5 {
		t.Errorf("keep ratio = %v, want 0.5", decision.KeepRatio)
	}
}

func TestCheckExitTrailingAfterRally(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := newPosition(100)
	m.InitLevels(pos, stateOf(types.RegimeNeutral, 0))

	// Rally to 110, then fall back through the ratcheted trailing stop.
	if d := m.CheckExit(pos, decimal.NewFromFloat(104), stateOf(types.RegimeNeutral, 0)); d.Exit || d.Reduce {
		t.Fatalf("rally leg should hold, got %+v", d)
	}
	m.UpdateTrailing(pos, decimal.NewFromFloat(110), stateOf(types.RegimeNeutral, 0))

	// Trailing level is now 110 * 0.95 = 104.5.
	decision := m.CheckExit(pos, decimal.NewFromFloat(104), stateOf(types.RegimeNeutral, 0))
	if !decision.Exit {
		t.Fatalf("price 104 should breach trailing stop 104.5, got %+v", decision)
	}
}

func TestGrossExposurePerRegime(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	if got := m.GrossExposure(types.RegimeHighRisk); got != 0.5 {
		t.Errorf("high risk exposure = %v, want 0.5", got)
	}
	if got := m.GrossExposure(types.RegimeNeutral); got != 0.8 {
		t.Errorf("neutral exposure = %v, want 0.8", got)
	}
	if got := m.GrossExposure(types.RegimeLowRisk); got != 1.0 {
		t.Errorf("low risk exposure = %v, want 1.0", got)
	}
}

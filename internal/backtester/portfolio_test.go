package backtester

import (
	"math"
	"testing"
	"time"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
)

func weightSignal(symbol string, weight, price float64) types.Signal {
	return types.Signal{
		Timestamp:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Symbol:       symbol,
		Action:       types.ActionRebalance,
		TargetWeight: weight,
		Price:        decimal.NewFromFloat(price),
	}
}

func TestPortfolioWeightRebalance(t *testing.T) {
	p := NewPortfolio(10_000)

	p.Apply(weightSignal("AAA", 0.5, 100))
	if math.Abs(p.cash-5_000) > 1e-9 {
		t.Errorf("cash = %v, want 5000", p.cash)
	}
	if math.Abs(p.HoldingValue("AAA")-5_000) > 1e-9 {
		t.Errorf("holding = %v, want 5000", p.HoldingValue("AAA"))
	}
	if math.Abs(p.Equity()-10_000) > 1e-9 {
		t.Errorf("equity = %v, want 10000 (rebalance moves value, not equity)", p.Equity())
	}

	p.MarkPrice("AAA", 110)
	if math.Abs(p.Equity()-10_500) > 1e-9 {
		t.Errorf("equity after mark = %v, want 10500", p.Equity())
	}

	if len(p.Trades()) != 1 {
		t.Fatalf("got %d trades, want 1", len(p.Trades()))
	}
	if p.Trades()[0].Action != types.ActionBuy {
		t.Errorf("rebalance fill action = %s, want buy", p.Trades()[0].Action)
	}
}

func TestPortfolioRebalanceDownBooksSell(t *testing.T) {
	p := NewPortfolio(10_000)
	p.Apply(weightSignal("AAA", 0.5, 100))
	p.Apply(weightSignal("AAA", 0.2, 100))

	trades := p.Trades()
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[1].Action != types.ActionSell {
		t.Errorf("second fill action = %s, want sell", trades[1].Action)
	}
	if math.Abs(p.HoldingValue("AAA")-2_000) > 1e-9 {
		t.Errorf("holding = %v, want 2000", p.HoldingValue("AAA"))
	}
}

func TestPortfolioQuantitySignals(t *testing.T) {
	p := NewPortfolio(1_000)

	p.Apply(types.Signal{
		Symbol:   "AAA",
		Action:   types.ActionBuy,
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewFromInt(95),
	})
	if math.Abs(p.cash-810) > 1e-9 {
		t.Errorf("cash = %v, want 810", p.cash)
	}

	p.Apply(types.Signal{
		Symbol:   "AAA",
		Action:   types.ActionSell,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
	})
	if math.Abs(p.cash-910) > 1e-9 {
		t.Errorf("cash = %v, want 910", p.cash)
	}
	if math.Abs(p.HoldingValue("AAA")-100) > 1e-9 {
		t.Errorf("holding = %v, want 100", p.HoldingValue("AAA"))
	}
}

func TestPortfolioExitFlattens(t *testing.T) {
	p := NewPortfolio(10_000)
	p.Apply(weightSignal("AAA", 0.5, 100))

	p.Apply(types.Signal{
		Symbol: "AAA",
		Action: types.ActionExit,
		Price:  decimal.NewFromInt(90),
	})
	if p.HoldingValue("AAA") != 0 {
		t.Errorf("holding = %v, want 0 after exit", p.HoldingValue("AAA"))
	}
	if len(p.Trades()) != 2 {
		t.Fatalf("got %d trades, want 2", len(p.Trades()))
	}
	// 50 shares bought at 100, flattened at 90.
	if math.Abs(p.cash-9_500) > 1e-9 {
		t.Errorf("cash = %v, want 9500", p.cash)
	}
}

func TestPortfolioExitWithoutPositionIsNoop(t *testing.T) {
	p := NewPortfolio(10_000)
	p.Apply(types.Signal{Symbol: "AAA", Action: types.ActionExit, Price: decimal.NewFromInt(90)})
	if len(p.Trades()) != 0 {
		t.Errorf("got %d trades, want 0", len(p.Trades()))
	}
	if p.cash != 10_000 {
		t.Errorf("cash = %v, want untouched 10000", p.cash)
	}
}

// Progress handlers read the portfolio while the replay goroutine mutates
// it; this fails under the race detector if any accessor skips the lock.
func TestPortfolioConcurrentProgressReads(t *testing.T) {
	p := NewPortfolio(10_000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			p.Apply(weightSignal("AAA", 0.5, 100))
			p.MarkPrice("AAA", 100+float64(i%7))
			p.Apply(weightSignal("BBB", 0.2, 50))
		}
	}()

	for {
		select {
		case <-done:
			if p.TradeCount() == 0 {
				t.Fatal("no trades booked")
			}
			if p.Equity() <= 0 {
				t.Errorf("equity = %v, want positive", p.Equity())
			}
			return
		default:
			_ = p.Equity()
			_ = p.Trades()
			_ = p.HoldingValue("AAA")
			_ = p.TradeCount()
		}
	}
}

func TestPortfolioFallsBackToMarkPrice(t *testing.T) {
	p := NewPortfolio(10_000)
	p.Apply(weightSignal("AAA", 0.5, 100))
	p.MarkPrice("AAA", 120)

	// No price on the signal: the latest mark is used.
	p.Apply(types.Signal{Symbol: "AAA", Action: types.ActionExit})
	if math.Abs(p.cash-11_000) > 1e-9 {
		t.Errorf("cash = %v, want 11000", p.cash)
	}
}

package backtester

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// position is one open holding marked at the latest close.
type position struct {
	quantity  float64
	lastPrice float64
}

// Portfolio tracks cash and open positions during a replay. Weight-based
// signals are sized against current equity; quantity-based signals trade the
// stated quantity at the stated price. The replay goroutine mutates it while
// progress handlers read it, so all access goes through the mutex.
type Portfolio struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]*position
	trades    []types.Trade
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		cash:      initialCapital,
		positions: make(map[string]*position),
		trades:    make([]types.Trade, 0),
	}
}

// MarkPrice updates the mark price of an open position.
func (p *Portfolio) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.lastPrice = price
	}
}

// Equity returns cash plus the marked value of all open positions.
func (p *Portfolio) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

func (p *Portfolio) equityLocked() float64 {
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.quantity * pos.lastPrice
	}
	return equity
}

// Apply executes one signal against the portfolio. Weight-based signals move
// the holding toward the target weight; quantity-based signals trade the
// stated quantity; exits flatten the holding.
func (p *Portfolio) Apply(signal types.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, _ := signal.Price.Float64()
	if price <= 0 {
		if pos, ok := p.positions[signal.Symbol]; ok {
			price = pos.lastPrice
		}
	}
	if price <= 0 {
		return
	}

	switch {
	case signal.Action == types.ActionExit:
		p.flatten(signal, price)
	case !signal.Quantity.IsZero():
		qty, _ := signal.Quantity.Float64()
		if signal.Action == types.ActionSell {
			qty = -qty
		}
		p.trade(signal, qty, price)
	default:
		p.toWeight(signal, price)
	}
}

func (p *Portfolio) flatten(signal types.Signal, price float64) {
	pos, ok := p.positions[signal.Symbol]
	if !ok || pos.quantity == 0 {
		return
	}
	p.trade(signal, -pos.quantity, price)
}

// toWeight rebalances the holding so its marked value matches the target
// weight of current equity.
func (p *Portfolio) toWeight(signal types.Signal, price float64) {
	equity := p.equityLocked()
	target := signal.TargetWeight * equity

	var current float64
	if pos, ok := p.positions[signal.Symbol]; ok {
		current = pos.quantity * price
	}
	delta := target - current
	if delta == 0 {
		return
	}
	p.trade(signal, delta/price, price)
}

// trade books a fill of qty at price. Negative qty sells.
func (p *Portfolio) trade(signal types.Signal, qty, price float64) {
	if qty == 0 {
		return
	}
	pos, ok := p.positions[signal.Symbol]
	if !ok {
		pos = &position{}
		p.positions[signal.Symbol] = pos
	}

	pos.quantity += qty
	pos.lastPrice = price
	p.cash -= qty * price

	if pos.quantity <= 1e-9 && pos.quantity >= -1e-9 {
		delete(p.positions, signal.Symbol)
	}

	action := signal.Action
	if action == types.ActionRebalance {
		if qty > 0 {
			action = types.ActionBuy
		} else {
			action = types.ActionSell
		}
	}

	p.trades = append(p.trades, types.Trade{
		ID:         uuid.New().String(),
		Symbol:     signal.Symbol,
		Action:     action,
		Quantity:   decimal.NewFromFloat(abs(qty)),
		Price:      decimal.NewFromFloat(price),
		Weight:     signal.TargetWeight,
		Reason:     signal.Reason,
		ExecutedAt: signal.Timestamp,
	})
}

// Trades returns a copy of the fills booked so far.
func (p *Portfolio) Trades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// TradeCount returns the number of fills booked so far.
func (p *Portfolio) TradeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.trades)
}

// HoldingValue returns the marked value of one holding, zero if flat.
func (p *Portfolio) HoldingValue(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos.quantity * pos.lastPrice
	}
	return 0
}

// Snapshot records one equity point at the given timestamp.
func (p *Portfolio) Snapshot(ts time.Time) types.EquityCurvePoint {
	return types.EquityCurvePoint{Timestamp: ts, Equity: p.Equity()}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

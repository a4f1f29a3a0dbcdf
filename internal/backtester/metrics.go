package backtester

import (
	"math"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/quantdesk/rotation-backend/pkg/utils"
)

// CalculateMetrics summarizes one replay from its equity curve and fills.
func CalculateMetrics(curve []types.EquityCurvePoint, trades []types.Trade, initialCapital float64) *types.PerformanceMetrics {
	metrics := &types.PerformanceMetrics{TradeCount: len(trades)}
	if len(curve) == 0 || initialCapital <= 0 {
		return metrics
	}

	final := curve[len(curve)-1].Equity
	metrics.TotalReturn = final/initialCapital - 1

	equities := make([]float64, len(curve))
	for i, point := range curve {
		equities[i] = point.Equity
	}
	returns := utils.Returns(equities)

	years := float64(len(curve)) / utils.TradingDaysPerYear
	if years > 0 && final > 0 {
		metrics.AnnualizedReturn = math.Pow(final/initialCapital, 1/years) - 1
	}
	metrics.Volatility = utils.AnnualizedVolatility(returns)
	metrics.SharpeRatio = utils.SharpeRatio(returns, 0)
	metrics.MaxDrawdown = utils.MaxDrawdown(returns)
	metrics.WinRate = winRate(trades)

	return metrics
}

// winRate is the fraction of sell fills booked above their symbol's volume
// weighted buy price. Entry fills are not counted as outcomes.
func winRate(trades []types.Trade) float64 {
	type book struct {
		quantity float64
		cost     float64
	}
	books := make(map[string]*book)

	var wins, closed int
	for _, trade := range trades {
		qty, _ := trade.Quantity.Float64()
		price, _ := trade.Price.Float64()

		entry, ok := books[trade.Symbol]
		if !ok {
			entry = &book{}
			books[trade.Symbol] = entry
		}

		switch trade.Action {
		case types.ActionBuy:
			entry.quantity += qty
			entry.cost += qty * price
		case types.ActionSell, types.ActionExit:
			if entry.quantity <= 0 {
				continue
			}
			avgCost := entry.cost / entry.quantity
			closed++
			if price > avgCost {
				wins++
			}
			entry.cost -= qty * avgCost
			entry.quantity -= qty
			if entry.quantity <= 0 {
				entry.quantity = 0
				entry.cost = 0
			}
		}
	}

	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

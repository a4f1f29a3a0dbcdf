// Package utils provides shared math and ID helpers for the strategy backend.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// TradingDaysPerYear is the annualization base for daily bars.
const TradingDaysPerYear = 250

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// ToFloats converts a decimal slice to float64.
func ToFloats(values []decimal.Decimal) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		f, _ := v.Float64()
		out[i] = f
	}
	return out
}

// Returns computes simple period-over-period returns. Zero or negative
// denominators contribute a zero return.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			rets = append(rets, prices[i]/prices[i-1]-1)
		} else {
			rets = append(rets, 0)
		}
	}
	return rets
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// LinearRegression fits y = slope*x + intercept over x = 0..len(y)-1 and
// returns the coefficient of determination alongside the fit.
func LinearRegression(y []float64) (slope, intercept, r2 float64) {
	n := float64(len(y))
	if n < 2 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, Mean(y), 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, v := range y {
		fit := slope*float64(i) + intercept
		ssRes += (v - fit) * (v - fit)
		ssTot += (v - meanY) * (v - meanY)
	}
	r2 = 1 - ssRes/(ssTot+1e-8)
	return slope, intercept, r2
}

// AnnualizedVolatility scales the standard deviation of daily returns.
func AnnualizedVolatility(returns []float64) float64 {
	return StdDev(returns) * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the deepest peak-to-trough loss of a return series as a
// negative number.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	maxDD := 0.0
	growth := 1.0
	peakGrowth := 1.0
	for _, r := range returns {
		growth *= 1 + r
		if growth > peakGrowth {
			peakGrowth = growth
		}
		drawdown := growth/peakGrowth - 1
		if drawdown < maxDD {
			maxDD = drawdown
		}
	}
	return maxDD
}

// SharpeRatio computes the annualized excess-return-over-volatility ratio of
// daily returns.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	vol := AnnualizedVolatility(returns)
	if vol == 0 {
		return 0
	}
	excess := Mean(returns)*TradingDaysPerYear - riskFreeRate
	return excess / vol
}

// PercentileRank returns the fraction of history values less than or equal to
// current, in [0, 1].
func PercentileRank(history []float64, current float64) float64 {
	if len(history) == 0 {
		return 0.5
	}
	count := 0
	for _, v := range history {
		if v <= current {
			count++
		}
	}
	return float64(count) / float64(len(history))
}

// ScoreWeights converts non-negative scores to weights summing to 1. Negative
// scores are clipped to zero; an all-zero vector falls back to equal weights.
func ScoreWeights(scores []float64) []float64 {
	weights := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		if s > 0 {
			weights[i] = s
			sum += s
		}
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

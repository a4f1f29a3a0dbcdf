// Package strategy provides the strategy lifecycle interface and its
// implementations: multi-factor rotation and price-grid trading.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the closed capability interface every strategy variant
// implements. Variants are selected at configuration time through the
// registry; new strategies are added by extending the registration table.
type Strategy interface {
	Name() string
	Description() string

	// Initialize hands the strategy its fully materialized price data. The
	// strategy never loads data itself.
	Initialize(data map[string]*types.PriceSeries, benchmark *types.PriceSeries) error

	// WarmupBars is the number of leading bars the strategy skips before it
	// can produce signals.
	WarmupBars() int

	// CheckExitConditions runs the risk exits for held positions at bar end.
	// Called every bar, independent of the rebalance cadence.
	CheckExitConditions(end int) []types.Signal

	// GenerateSignals produces the period's entry/rebalance signals at bar
	// end. Strategies apply their own cadence internally.
	GenerateSignals(end int) ([]types.Signal, error)

	// CalculateIndicators exposes the strategy's per-instrument indicator
	// values for inspection.
	CalculateIndicators(symbol string, end int) (map[string]float64, error)

	// Reset clears all per-instrument mutable state so the instance can
	// replay from the first bar.
	Reset()
}

// Factory builds a strategy instance from a config.
type Factory func(logger *zap.Logger, config *types.StrategyConfig) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("rotation", func(logger *zap.Logger, config *types.StrategyConfig) (Strategy, error) {
		return NewRotationEngine(logger, config)
	})
	r.Register("grid", func(logger *zap.Logger, config *types.StrategyConfig) (Strategy, error) {
		return NewGridEngine(logger, config)
	})
	return r
}

// Register adds a strategy factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a new strategy instance by name.
func (r *Registry) Create(name string, logger *zap.Logger, config *types.StrategyConfig) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy not registered: %s", name)
	}
	return factory(logger, config)
}

// List returns the registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedSymbols returns the data keys in lexicographic order so every replay
// visits instruments deterministically.
func sortedSymbols(data map[string]*types.PriceSeries) []string {
	symbols := make([]string, 0, len(data))
	for s := range data {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

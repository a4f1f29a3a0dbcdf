package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Method selects the search algorithm.
type Method string

const (
	MethodGrid     Method = "grid"
	MethodRandom   Method = "random"
	MethodBayesian Method = "bayesian"
)

// Objective evaluates one parameter assignment.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

// SearchConfig configures a search run.
type SearchConfig struct {
	Method    Method `json:"method"`
	MaxTrials int    `json:"maxTrials"` // random and bayesian budget
	Maximize  bool   `json:"maximize"`
	Workers   int    `json:"workers"`
	Seed      int64  `json:"seed"`

	// Grid search quantization for continuous dimensions.
	GridPoints int `json:"gridPoints"`

	// Bayesian search.
	InitialPoints int     `json:"initialPoints"`
	Exploration   float64 `json:"exploration"`
	Candidates    int     `json:"candidates"`
}

// DefaultSearchConfig returns sensible defaults.
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{
		Method:        MethodGrid,
		MaxTrials:     100,
		Maximize:      true,
		Workers:       4,
		Seed:          1,
		GridPoints:    10,
		InitialPoints: 10,
		Exploration:   0.1,
		Candidates:    20,
	}
}

// Trial records one objective evaluation. A failed evaluation keeps its error
// text and carries the worst-possible score so it never wins.
type Trial struct {
	Index    int                `json:"index"`
	Params   map[string]float64 `json:"params"`
	Score    float64            `json:"score"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Result is the outcome of one search run.
type Result struct {
	Method     Method             `json:"method"`
	BestParams map[string]float64 `json:"bestParams"`
	BestScore  float64            `json:"bestScore"`
	Trials     []Trial            `json:"trials"`
	Completed  bool               `json:"completed"` // false when cancelled early
	Duration   time.Duration      `json:"duration"`
}

// Optimizer runs parameter searches over an objective.
type Optimizer struct {
	logger *zap.Logger
	config *SearchConfig
}

// NewOptimizer creates an optimizer.
func NewOptimizer(logger *zap.Logger, config *SearchConfig) *Optimizer {
	if config == nil {
		config = DefaultSearchConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Optimizer{logger: logger, config: config}
}

// Optimize runs the configured search. Cancellation between trials is not an
// error: the result carries the best found so far with Completed false.
func (o *Optimizer) Optimize(ctx context.Context, space *ParameterSpace, objective Objective) (*Result, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var result *Result
	var err error

	switch o.config.Method {
	case MethodRandom:
		result, err = o.randomSearch(ctx, space, objective)
	case MethodBayesian:
		result, err = o.bayesianSearch(ctx, space, objective)
	default:
		result, err = o.gridSearch(ctx, space, objective)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	o.logger.Info("Search finished",
		zap.String("method", string(result.Method)),
		zap.Int("trials", len(result.Trials)),
		zap.Float64("bestScore", result.BestScore),
		zap.Bool("completed", result.Completed),
	)
	return result, nil
}

// worstScore is the sentinel a failed trial records so it can never be best.
// Infinities do not survive encoding/json, so the sentinel is the extreme
// finite float and results stay serializable even when every trial fails.
func (o *Optimizer) worstScore() float64 {
	if o.config.Maximize {
		return -math.MaxFloat64
	}
	return math.MaxFloat64
}

func (o *Optimizer) better(candidate, incumbent float64) bool {
	if o.config.Maximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}

// gridSearch exhaustively evaluates the space's Cartesian product. Trials are
// dispatched to a bounded worker pool but recorded in enumeration order, so
// the trial list is identical across runs.
func (o *Optimizer) gridSearch(ctx context.Context, space *ParameterSpace, objective Objective) (*Result, error) {
	combos := space.GridCombinations(o.config.GridPoints)
	o.logger.Info("Starting grid search",
		zap.Int("combinations", len(combos)),
		zap.Int("workers", o.config.Workers),
	)
	trials, completed := o.evaluateAll(ctx, combos, objective)
	return o.collect(MethodGrid, trials, completed), nil
}

// randomSearch draws MaxTrials assignments from a seeded source. The same
// seed yields the same trial sequence.
func (o *Optimizer) randomSearch(ctx context.Context, space *ParameterSpace, objective Objective) (*Result, error) {
	rng := rand.New(rand.NewSource(o.config.Seed))
	combos := make([]map[string]float64, o.config.MaxTrials)
	for i := range combos {
		combos[i] = space.Sample(rng)
	}
	o.logger.Info("Starting random search",
		zap.Int("trials", len(combos)),
		zap.Int64("seed", o.config.Seed),
	)
	trials, completed := o.evaluateAll(ctx, combos, objective)
	return o.collect(MethodRandom, trials, completed), nil
}

// evaluateAll runs the given assignments through a semaphore-bounded worker
// pool. Results land at their submission index. Cancellation stops dispatch;
// in-flight trials finish and are kept.
func (o *Optimizer) evaluateAll(ctx context.Context, combos []map[string]float64, objective Objective) ([]Trial, bool) {
	trials := make([]Trial, len(combos))
	dispatched := make([]bool, len(combos))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.config.Workers)

	completed := true
	for i, combo := range combos {
		select {
		case <-ctx.Done():
			completed = false
		default:
		}
		if !completed {
			break
		}

		wg.Add(1)
		dispatched[i] = true
		go func(idx int, params map[string]float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			trials[idx] = o.evaluate(ctx, idx, params, objective)
		}(i, combo)
	}
	wg.Wait()

	if completed {
		return trials, true
	}
	done := make([]Trial, 0, len(trials))
	for i := range trials {
		if dispatched[i] {
			done = append(done, trials[i])
		}
	}
	return done, false
}

// evaluate runs one trial. Objective failures are recorded, not propagated.
// A non-finite score with a nil error is still a failure: NaN poisons score
// comparisons and infinities break serialization.
func (o *Optimizer) evaluate(ctx context.Context, idx int, params map[string]float64, objective Objective) Trial {
	start := time.Now()
	score, err := objective(ctx, params)
	if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
		err = fmt.Errorf("objective returned non-finite score %v", score)
	}
	trial := Trial{
		Index:    idx,
		Params:   params,
		Score:    score,
		Duration: time.Since(start),
	}
	if err != nil {
		trial.Score = o.worstScore()
		trial.Error = err.Error()
		o.logger.Warn("Trial failed",
			zap.Int("trial", idx),
			zap.Error(err),
		)
	}
	return trial
}

// collect folds trials into a result, tracking the best score.
func (o *Optimizer) collect(method Method, trials []Trial, completed bool) *Result {
	result := &Result{
		Method:    method,
		BestScore: o.worstScore(),
		Trials:    trials,
		Completed: completed,
	}
	for _, trial := range trials {
		if trial.Error == "" && o.better(trial.Score, result.BestScore) {
			result.BestScore = trial.Score
			result.BestParams = trial.Params
		}
	}
	return result
}

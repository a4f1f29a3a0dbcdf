package optimization

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"
)

// bayesianSearch runs a sequential model-based search: seed the model with
// random evaluations, then repeatedly pick the candidate with the best
// upper-confidence acquisition, evaluate it, and fold it back in. The
// surrogate is a nearest-neighbor predictor over normalized parameter
// distance; candidates far from every observation get an exploration bonus.
func (o *Optimizer) bayesianSearch(ctx context.Context, space *ParameterSpace, objective Objective) (*Result, error) {
	rng := rand.New(rand.NewSource(o.config.Seed))
	dims := space.sorted()

	initial := o.config.InitialPoints
	if initial < 1 {
		initial = 1
	}
	if initial > o.config.MaxTrials {
		initial = o.config.MaxTrials
	}

	o.logger.Info("Starting bayesian search",
		zap.Int("budget", o.config.MaxTrials),
		zap.Int("initialPoints", initial),
	)

	trials := make([]Trial, 0, o.config.MaxTrials)
	for i := 0; i < o.config.MaxTrials; i++ {
		select {
		case <-ctx.Done():
			return o.collect(MethodBayesian, trials, false), nil
		default:
		}

		var params map[string]float64
		if i < initial {
			params = space.Sample(rng)
		} else {
			params = o.propose(space, dims, trials, rng)
		}

		trials = append(trials, o.evaluate(ctx, i, params, objective))
	}

	return o.collect(MethodBayesian, trials, true), nil
}

// propose picks the next point by scoring random candidates against the
// surrogate. With fewer than two successful observations there is nothing to
// model, so it falls back to a plain random draw.
func (o *Optimizer) propose(space *ParameterSpace, dims []Dimension, trials []Trial, rng *rand.Rand) map[string]float64 {
	observed := make([]Trial, 0, len(trials))
	for _, trial := range trials {
		if trial.Error == "" {
			observed = append(observed, trial)
		}
	}
	if len(observed) < 2 {
		return space.Sample(rng)
	}

	candidates := o.config.Candidates
	if candidates < 1 {
		candidates = 1
	}

	var best map[string]float64
	bestAcq := math.Inf(-1)
	for i := 0; i < candidates; i++ {
		candidate := space.Sample(rng)
		acq := o.acquisition(dims, observed, candidate)
		if acq > bestAcq {
			bestAcq = acq
			best = candidate
		}
	}
	return best
}

// acquisition is the upper-confidence value of a candidate: the score of its
// nearest observed neighbor as exploitation, plus an exploration term that
// grows as the candidate moves away from everything already tried.
func (o *Optimizer) acquisition(dims []Dimension, observed []Trial, candidate map[string]float64) float64 {
	nearest := math.Inf(1)
	predicted := 0.0
	for _, trial := range observed {
		d := distance(dims, trial.Params, candidate)
		if d < nearest {
			nearest = d
			predicted = trial.Score
		}
	}

	exploitation := predicted
	if !o.config.Maximize {
		exploitation = -predicted
	}
	return exploitation + o.config.Exploration*nearest
}

// distance is the Euclidean distance between two assignments, with each
// dimension normalized to its span so wide ranges do not dominate.
func distance(dims []Dimension, a, b map[string]float64) float64 {
	var sum float64
	for _, dim := range dims {
		span := dimSpan(dim)
		d := (a[dim.Name] - b[dim.Name]) / span
		sum += d * d
	}
	return math.Sqrt(sum)
}

func dimSpan(dim Dimension) float64 {
	if dim.discrete() {
		lo, hi := dim.Values[0], dim.Values[0]
		for _, v := range dim.Values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return hi - lo
		}
		return 1
	}
	if dim.Max > dim.Min {
		return dim.Max - dim.Min
	}
	return 1
}

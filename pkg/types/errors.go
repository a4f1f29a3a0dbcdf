package types

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory is matched by errors.Is for any
// InsufficientHistoryError. Callers skip scoring for that instrument on that
// date instead of substituting a default score.
var ErrInsufficientHistory = errors.New("insufficient history")

// InsufficientHistoryError reports a window shorter than a required lookback.
type InsufficientHistoryError struct {
	Symbol   string
	Required int
	Actual   int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: need %d bars, have %d", e.Symbol, e.Required, e.Actual)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// ErrInvalidParameterSpace is matched by errors.Is for any
// InvalidParameterSpaceError. A malformed space fails search construction,
// never individual trials.
var ErrInvalidParameterSpace = errors.New("invalid parameter space")

// InvalidParameterSpaceError names the offending parameter and bound.
type InvalidParameterSpaceError struct {
	Parameter string
	Reason    string
}

func (e *InvalidParameterSpaceError) Error() string {
	return fmt.Sprintf("invalid parameter space: %q %s", e.Parameter, e.Reason)
}

func (e *InvalidParameterSpaceError) Unwrap() error { return ErrInvalidParameterSpace }

// ErrObjectiveEvaluation marks one trial whose backtest failed or returned a
// non-finite score. The trial is recorded with a sentinel score and the
// search continues.
var ErrObjectiveEvaluation = errors.New("objective evaluation failed")

// ErrBenchmarkUnavailable signals missing benchmark data for a period. The
// rebalance cycle treats the regime as NEUTRAL with a logged warning.
var ErrBenchmarkUnavailable = errors.New("benchmark data unavailable")

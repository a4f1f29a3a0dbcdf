// Package optimization provides parameter search over a strategy objective:
// exhaustive grid search, seeded random search, and a sequential Bayesian
// search with a nearest-neighbor surrogate.
package optimization

import (
	"math"
	"math/rand"
	"sort"

	"github.com/quantdesk/rotation-backend/pkg/types"
)

// Dimension describes one searchable parameter. Either an explicit value list
// or a continuous [Min, Max] range; a value list wins when both are set.
type Dimension struct {
	Name    string    `json:"name"`
	Values  []float64 `json:"values,omitempty"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	Integer bool      `json:"integer,omitempty"`
}

// discrete reports whether the dimension enumerates explicit values.
func (d *Dimension) discrete() bool { return len(d.Values) > 0 }

// sample draws one value from the dimension using the given source.
func (d *Dimension) sample(rng *rand.Rand) float64 {
	if d.discrete() {
		return d.Values[rng.Intn(len(d.Values))]
	}
	v := d.Min + rng.Float64()*(d.Max-d.Min)
	if d.Integer {
		v = math.Round(v)
	}
	return v
}

// ParameterSpace is the set of dimensions a search explores.
type ParameterSpace struct {
	Dimensions []Dimension `json:"dimensions"`
}

// Validate rejects empty spaces, empty dimensions, and inverted ranges.
func (s *ParameterSpace) Validate() error {
	if len(s.Dimensions) == 0 {
		return &types.InvalidParameterSpaceError{Reason: "no dimensions"}
	}
	seen := make(map[string]bool, len(s.Dimensions))
	for _, dim := range s.Dimensions {
		if dim.Name == "" {
			return &types.InvalidParameterSpaceError{Reason: "unnamed dimension"}
		}
		if seen[dim.Name] {
			return &types.InvalidParameterSpaceError{Parameter: dim.Name, Reason: "duplicate dimension"}
		}
		seen[dim.Name] = true
		if dim.discrete() {
			continue
		}
		if dim.Min >= dim.Max {
			return &types.InvalidParameterSpaceError{Parameter: dim.Name, Reason: "min must be below max"}
		}
	}
	return nil
}

// sorted returns the dimensions ordered by name. Every search walks
// dimensions in this order so enumeration is deterministic regardless of how
// the space was assembled.
func (s *ParameterSpace) sorted() []Dimension {
	dims := make([]Dimension, len(s.Dimensions))
	copy(dims, s.Dimensions)
	sort.Slice(dims, func(i, j int) bool { return dims[i].Name < dims[j].Name })
	return dims
}

// GridCombinations enumerates the exhaustive Cartesian product of all
// discrete dimensions, in sorted-name order with the last dimension varying
// fastest. Continuous dimensions are quantized to gridPoints evenly spaced
// values.
func (s *ParameterSpace) GridCombinations(gridPoints int) []map[string]float64 {
	dims := s.sorted()
	values := make([][]float64, len(dims))
	for i, dim := range dims {
		if dim.discrete() {
			values[i] = dim.Values
			continue
		}
		n := gridPoints
		if n < 2 {
			n = 2
		}
		step := (dim.Max - dim.Min) / float64(n-1)
		points := make([]float64, n)
		for j := range points {
			points[j] = dim.Min + float64(j)*step
			if dim.Integer {
				points[j] = math.Round(points[j])
			}
		}
		values[i] = points
	}

	total := 1
	for _, vs := range values {
		total *= len(vs)
	}

	combos := make([]map[string]float64, 0, total)
	indices := make([]int, len(dims))
	for {
		combo := make(map[string]float64, len(dims))
		for i, dim := range dims {
			combo[dim.Name] = values[i][indices[i]]
		}
		combos = append(combos, combo)

		// Odometer increment, last dimension fastest.
		pos := len(indices) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(values[pos]) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return combos
}

// Sample draws one full assignment from the space.
func (s *ParameterSpace) Sample(rng *rand.Rand) map[string]float64 {
	dims := s.sorted()
	params := make(map[string]float64, len(dims))
	for _, dim := range dims {
		params[dim.Name] = dim.sample(rng)
	}
	return params
}

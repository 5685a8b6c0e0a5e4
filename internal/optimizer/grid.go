package optimizer

import (
	"math"
	"sort"
)

// ParameterRange represents an inclusive search range for one
// parameter.
type ParameterRange struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// valueCount returns the number of grid points in the range
func (r ParameterRange) valueCount() int {
	if r.Step <= 0 || r.Max < r.Min {
		return 1
	}
	return int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
}

// value returns the i-th grid point, clamped to the range
func (r ParameterRange) value(i int) float64 {
	v := r.Min + float64(i)*r.Step
	if v > r.Max {
		v = r.Max
	}
	return v
}

// gridIterator walks the Cartesian product of parameter ranges lazily,
// so memory stays bounded for large search spaces. Parameter order is
// deterministic (sorted by name).
type gridIterator struct {
	names   []string
	ranges  []ParameterRange
	indices []int
	done    bool
}

// newGridIterator creates an iterator over the Cartesian product of
// the given ranges.
func newGridIterator(ranges map[string]ParameterRange) *gridIterator {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]ParameterRange, len(names))
	for i, name := range names {
		ordered[i] = ranges[name]
	}

	return &gridIterator{
		names:   names,
		ranges:  ordered,
		indices: make([]int, len(names)),
		done:    len(names) == 0,
	}
}

// Count returns the total number of combinations
func (it *gridIterator) Count() int {
	if len(it.names) == 0 {
		return 0
	}
	total := 1
	for _, r := range it.ranges {
		total *= r.valueCount()
	}
	return total
}

// Next returns the next parameter combination, or false when the
// product is exhausted.
func (it *gridIterator) Next() (map[string]float64, bool) {
	if it.done {
		return nil, false
	}

	combo := make(map[string]float64, len(it.names))
	for i, name := range it.names {
		combo[name] = it.ranges[i].value(it.indices[i])
	}

	// Odometer advance
	for i := len(it.indices) - 1; i >= 0; i-- {
		it.indices[i]++
		if it.indices[i] < it.ranges[i].valueCount() {
			break
		}
		it.indices[i] = 0
		if i == 0 {
			it.done = true
		}
	}

	return combo, true
}

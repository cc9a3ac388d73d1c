package param

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter is a single tunable hyperparameter of the scoring model.
type Parameter struct {
	// Name uniquely identifies the parameter (e.g. "R", "D", "epsilon")
	Name string

	// Default is the starting value before any sweep has run
	Default float64

	// Candidates is the ordered list of values the line search may try.
	// A single-element list marks the parameter as fixed.
	Candidates []float64

	// Current is the value used when materializing the vector for an
	// evaluation; mutated as the sweep walks the candidate list
	Current float64

	// CurrentBest is the best value found so far; Current is restored
	// to it after each parameter's candidates are exhausted
	CurrentBest float64

	// ExternallyOptimized marks parameters whose final value is chosen
	// by the oracle's internal optimizer, not by this engine
	ExternallyOptimized bool
}

// Space holds all parameters in declaration order. Declaration order is
// the sweep order and must be stable across runs.
type Space struct {
	params []*Parameter
	byName map[string]*Parameter
}

// NewSpace builds a Space from parameters in declaration order.
// Names must be unique and every parameter needs at least one candidate.
func NewSpace(params []Parameter) (*Space, error) {
	s := &Space{byName: make(map[string]*Parameter, len(params))}
	for i := range params {
		p := params[i]
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d has empty name", i)
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		if len(p.Candidates) == 0 {
			return nil, fmt.Errorf("parameter %s has no candidate values", p.Name)
		}
		p.Current = p.Default
		p.CurrentBest = p.Default
		cp := p
		s.params = append(s.params, &cp)
		s.byName[cp.Name] = &cp
	}
	return s, nil
}

// Names returns the parameter names in declaration order.
func (s *Space) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of parameters.
func (s *Space) Len() int {
	return len(s.params)
}

// Get returns the parameter with the given name.
func (s *Space) Get(name string) (*Parameter, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// SetCurrent updates a single parameter's current value.
func (s *Space) SetCurrent(name string, value float64) error {
	p, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown parameter: %s", name)
	}
	p.Current = value
	return nil
}

// HasMultipleCandidates reports whether the named parameter has more
// than one candidate value. Parameters without alternatives are never
// swept.
func (s *Space) HasMultipleCandidates(name string) bool {
	p, ok := s.byName[name]
	return ok && len(p.Candidates) > 1
}

// Vector materializes the current values as an ordered name/value list.
func (s *Space) Vector() Vector {
	v := make(Vector, len(s.params))
	for i, p := range s.params {
		v[i] = Value{Name: p.Name, Value: p.Current}
	}
	return v
}

// BestVector materializes the best values found so far.
func (s *Space) BestVector() Vector {
	v := make(Vector, len(s.params))
	for i, p := range s.params {
		v[i] = Value{Name: p.Name, Value: p.CurrentBest}
	}
	return v
}

// MarkAllBest records every parameter's present current value as its
// best. Externally-optimized parameters may instead take the value the
// oracle reported back for this evaluation, supplied in updated.
func (s *Space) MarkAllBest(updated map[string]float64) {
	for _, p := range s.params {
		if p.ExternallyOptimized {
			if v, ok := updated[p.Name]; ok {
				p.CurrentBest = v
				continue
			}
		}
		p.CurrentBest = p.Current
	}
}

// RestoreBest sets every parameter's current value to its best. Called
// once on termination so the emitted vector is the winning one.
func (s *Space) RestoreBest() {
	for _, p := range s.params {
		p.Current = p.CurrentBest
	}
}

// Value is one name/value pair of a materialized parameter vector.
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Vector is an ordered materialization of a Space's current values.
// Order follows parameter declaration order.
type Vector []Value

// Key returns the canonical serialization of the vector, used as the
// result-cache key. Two vectors with equal keys are the same
// evaluation request.
func (v Vector) Key() string {
	var b strings.Builder
	for i, val := range v {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(val.Name)
		b.WriteByte('=')
		b.WriteString(FormatValue(val.Value))
	}
	return b.String()
}

// Lookup returns the value for the given name.
func (v Vector) Lookup(name string) (float64, bool) {
	for _, val := range v {
		if val.Name == name {
			return val.Value, true
		}
	}
	return 0, false
}

// FormatValue renders a parameter value in the shortest form that
// round-trips through ParseFloat, so cache keys and parameter files
// agree for the same value.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Package search finds hyperparameters that maximise a cross-validated score
// within a fixed trial budget.
package search

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the domain of a parameter.
type Kind int

const (
	LogFloat Kind = iota
	Float
	Int
	Categorical
)

func (k Kind) String() string {
	switch k {
	case LogFloat:
		return "log-float"
	case Float:
		return "float"
	case Int:
		return "int"
	case Categorical:
		return "categorical"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Param declares one searchable parameter. Numeric bounds are inclusive.
// A categorical parameter may unlock a sub-space per choice through
// Branches; choices without a branch add nothing.
type Param struct {
	Name     string
	Kind     Kind
	Low      float64
	High     float64
	Choices  []string
	Branches map[string]Space
}

// Space is an ordered list of parameters, sampled in declaration order.
type Space []Param

func LogUniform(name string, low, high float64) Param {
	return Param{Name: name, Kind: LogFloat, Low: low, High: high}
}

func Uniform(name string, low, high float64) Param {
	return Param{Name: name, Kind: Float, Low: low, High: high}
}

func IntRange(name string, low, high int) Param {
	return Param{Name: name, Kind: Int, Low: float64(low), High: float64(high)}
}

func Choice(name string, choices ...string) Param {
	return Param{Name: name, Kind: Categorical, Choices: choices}
}

// When attaches a conditional sub-space to one choice of a categorical.
func (p Param) When(choice string, sub ...Param) Param {
	branches := make(map[string]Space, len(p.Branches)+1)
	for k, v := range p.Branches {
		branches[k] = v
	}
	branches[choice] = sub
	p.Branches = branches
	return p
}

// Validate checks bounds and that names are unique across every branch.
func (s Space) Validate() error {
	return s.validate(map[string]bool{})
}

func (s Space) validate(seen map[string]bool) error {
	for _, p := range s {
		if seen[p.Name] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case LogFloat:
			if p.Low <= 0 || p.High < p.Low {
				return fmt.Errorf("parameter %q: log range [%v,%v] invalid", p.Name, p.Low, p.High)
			}
		case Float, Int:
			if p.High < p.Low {
				return fmt.Errorf("parameter %q: range [%v,%v] invalid", p.Name, p.Low, p.High)
			}
		case Categorical:
			if len(p.Choices) == 0 {
				return fmt.Errorf("parameter %q has no choices", p.Name)
			}
			for choice, sub := range p.Branches {
				if p.index(choice) < 0 {
					return fmt.Errorf("parameter %q: branch for unknown choice %q", p.Name, choice)
				}
				// Sibling branches are mutually exclusive, so each gets its own view.
				branchSeen := make(map[string]bool, len(seen))
				for k := range seen {
					branchSeen[k] = true
				}
				if err := sub.validate(branchSeen); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("parameter %q: unknown kind %v", p.Name, p.Kind)
		}
	}
	return nil
}

func (p Param) index(choice string) int {
	for i, c := range p.Choices {
		if c == choice {
			return i
		}
	}
	return -1
}

// internal maps a numeric value onto the scale the samplers work in.
func (p Param) internal(v float64) float64 {
	if p.Kind == LogFloat {
		return math.Log(v)
	}
	return v
}

// bounds returns the sampling interval on the internal scale. Integer
// ranges are widened by half a step so every integer has equal mass.
func (p Param) bounds() (float64, float64) {
	switch p.Kind {
	case LogFloat:
		return math.Log(p.Low), math.Log(p.High)
	case Int:
		return p.Low - 0.5, p.High + 0.5
	}
	return p.Low, p.High
}

// external converts an internal-scale draw into a parameter value.
func (p Param) external(x float64) any {
	switch p.Kind {
	case LogFloat:
		return clamp(math.Exp(x), p.Low, p.High)
	case Int:
		return int(clamp(math.Round(x), p.Low, p.High))
	}
	return clamp(x, p.Low, p.High)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Params is one sampled configuration: float64 for continuous, int for
// integer and string for categorical parameters.
type Params map[string]any

func (p Params) Float(name string, def float64) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func (p Params) String(name string, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

// Clone returns a shallow copy suitable for reporting.
func (p Params) Clone() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns parameter names sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

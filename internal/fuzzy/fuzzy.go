// Package fuzzy implements the membership-function evaluator: given a named
// indicator value (or a full series, in batch mode) and a configured fuzzy
// group, it produces an ordered vector (or matrix) of memberships in
// [0, 1]. The membership family is modeled as a tagged variant
// {triangular | trapezoidal | gaussian}; the evaluator dispatches on the
// tag rather than walking a class hierarchy, per the registry-style
// re-architecture the indicator engine also follows.
package fuzzy

import (
	"math"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
)

// MembershipFunc evaluates one fuzzy set at a scalar x.
type MembershipFunc func(x float64) float64

// Set is a compiled, validated fuzzy set ready for evaluation.
type Set struct {
	Name string
	Fn   MembershipFunc
}

// Group is the ordered, compiled form of a config.FuzzyGroupSpec: one
// indicator's fuzzy sets, in declared insertion order.
type Group struct {
	Indicator string
	Sets      []Set
}

// Compile validates a fuzzy set spec and returns its membership function.
// Unknown types or malformed parameters are reported as a FuzzyConfigError
// at load time, never at evaluation time.
func Compile(indicator, name, kind string, params []float64) (Set, error) {
	switch kind {
	case "triangular":
		if len(params) != 3 {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "triangular requires [a,b,c]"}
		}
		a, b, c := params[0], params[1], params[2]
		if !(a <= b && b <= c) {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "triangular requires a <= b <= c"}
		}
		return Set{Name: name, Fn: triangular(a, b, c)}, nil
	case "trapezoidal":
		if len(params) != 4 {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "trapezoidal requires [a,b,c,d]"}
		}
		a, b, c, d := params[0], params[1], params[2], params[3]
		if !(a <= b && b <= c && c <= d) {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "trapezoidal requires a <= b <= c <= d"}
		}
		return Set{Name: name, Fn: trapezoidal(a, b, c, d)}, nil
	case "gaussian":
		if len(params) != 2 {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "gaussian requires [mu, sigma]"}
		}
		mu, sigma := params[0], params[1]
		if sigma <= 0 {
			return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "gaussian sigma must be > 0"}
		}
		return Set{Name: name, Fn: gaussian(mu, sigma)}, nil
	default:
		return Set{}, &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "unknown fuzzy set type " + kind}
	}
}

func triangular(a, b, c float64) MembershipFunc {
	return func(x float64) float64 {
		switch {
		case x <= a || x >= c:
			return 0
		case x == b:
			return 1
		case x < b:
			if b == a {
				return 1
			}
			return (x - a) / (b - a)
		default:
			if c == b {
				return 1
			}
			return (c - x) / (c - b)
		}
	}
}

func trapezoidal(a, b, c, d float64) MembershipFunc {
	return func(x float64) float64 {
		switch {
		case x < a || x > d:
			return 0
		case x >= b && x <= c:
			return 1
		case x < b:
			if b == a {
				return 1
			}
			return (x - a) / (b - a)
		default: // x > c
			if d == c {
				return 1
			}
			return (d - x) / (d - c)
		}
	}
}

func gaussian(mu, sigma float64) MembershipFunc {
	return func(x float64) float64 {
		z := (x - mu) / sigma
		return math.Exp(-0.5 * z * z)
	}
}

// Eval evaluates every set in the group at scalar x, in declared order. If
// x is the missing sentinel, every membership is the missing sentinel too.
func (g Group) Eval(x float64) []float64 {
	out := make([]float64, len(g.Sets))
	if types.IsMissing(x) {
		for i := range out {
			out[i] = types.Missing
		}
		return out
	}
	for i, s := range g.Sets {
		out[i] = clamp01(s.Fn(x))
	}
	return out
}

// EvalBatch evaluates every set in the group across a full series in one
// pass — the hot path at training time. Returns a row-major matrix with
// len(series) rows and len(g.Sets) columns; never dispatches per element
// through anything heavier than the compiled MembershipFunc.
func (g Group) EvalBatch(series []float64) [][]float64 {
	n := len(series)
	k := len(g.Sets)
	out := make([][]float64, n)
	cols := make([]float64, n)
	for setIdx, s := range g.Sets {
		for i, x := range series {
			if types.IsMissing(x) {
				cols[i] = types.Missing
			} else {
				cols[i] = clamp01(s.Fn(x))
			}
		}
		for i := 0; i < n; i++ {
			if out[i] == nil {
				out[i] = make([]float64, k)
			}
			out[i][setIdx] = cols[i]
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

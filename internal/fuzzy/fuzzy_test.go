package fuzzy_test

import (
	"testing"

	"github.com/ktrdr/ktrdr/internal/fuzzy"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
)

func TestTriangularMembership(t *testing.T) {
	set, err := fuzzy.Compile("rsi", "low", "triangular", []float64{0, 50, 100})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cases := []struct {
		x    float64
		want float64
	}{
		{0, 0}, {50, 1}, {100, 0}, {25, 0.5}, {75, 0.5},
	}
	for _, c := range cases {
		got := set.Fn(c.x)
		if got != c.want {
			t.Fatalf("Fn(%v) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestTrapezoidalMembership(t *testing.T) {
	set, err := fuzzy.Compile("rsi", "mid", "trapezoidal", []float64{0, 20, 80, 100})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := set.Fn(50); got != 1 {
		t.Fatalf("expected plateau value 1, got %v", got)
	}
	if got := set.Fn(10); got != 0.5 {
		t.Fatalf("expected rising edge 0.5, got %v", got)
	}
	if got := set.Fn(-1); got != 0 {
		t.Fatalf("expected 0 outside support, got %v", got)
	}
}

func TestGaussianMembershipPeaksAtMu(t *testing.T) {
	set, err := fuzzy.Compile("rsi", "center", "gaussian", []float64{50, 10})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := set.Fn(50); got != 1 {
		t.Fatalf("expected peak membership 1 at mu, got %v", got)
	}
	if got := set.Fn(60); got <= 0 || got >= 1 {
		t.Fatalf("expected membership in (0,1) one sigma away, got %v", got)
	}
}

func TestCompileRejectsMalformedParams(t *testing.T) {
	cases := []struct {
		name   string
		kind   string
		params []float64
	}{
		{"bad triangular count", "triangular", []float64{0, 1}},
		{"bad triangular order", "triangular", []float64{10, 5, 1}},
		{"bad trapezoidal count", "trapezoidal", []float64{0, 1, 2}},
		{"bad gaussian sigma", "gaussian", []float64{0, -1}},
		{"unknown kind", "unknown", []float64{0, 1}},
	}
	for _, c := range cases {
		if _, err := fuzzy.Compile("rsi", "x", c.kind, c.params); err == nil {
			t.Fatalf("%s: expected an error", c.name)
		} else if _, ok := err.(*kerrors.FuzzyConfigError); !ok {
			t.Fatalf("%s: expected a FuzzyConfigError, got %T", c.name, err)
		}
	}
}

func TestGroupEvalPropagatesMissing(t *testing.T) {
	low, _ := fuzzy.Compile("rsi", "low", "triangular", []float64{0, 50, 100})
	high, _ := fuzzy.Compile("rsi", "high", "triangular", []float64{0, 100, 200})
	group := fuzzy.Group{Indicator: "rsi", Sets: []fuzzy.Set{low, high}}

	out := group.Eval(types.Missing)
	for i, v := range out {
		if !types.IsMissing(v) {
			t.Fatalf("expected missing propagated at index %d, got %v", i, v)
		}
	}

	out2 := group.Eval(50)
	if len(out2) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(out2))
	}
}

func TestGroupEvalBatchMatchesEval(t *testing.T) {
	low, _ := fuzzy.Compile("rsi", "low", "triangular", []float64{0, 50, 100})
	high, _ := fuzzy.Compile("rsi", "high", "triangular", []float64{0, 100, 200})
	group := fuzzy.Group{Indicator: "rsi", Sets: []fuzzy.Set{low, high}}

	series := []float64{10, 50, 90, types.Missing, 150}
	batch := group.EvalBatch(series)
	for i, x := range series {
		single := group.Eval(x)
		for j := range single {
			if types.IsMissing(single[j]) != types.IsMissing(batch[i][j]) {
				t.Fatalf("missing-ness mismatch at row %d col %d", i, j)
			}
			if !types.IsMissing(single[j]) && single[j] != batch[i][j] {
				t.Fatalf("EvalBatch diverged from Eval at row %d col %d: %v vs %v", i, j, batch[i][j], single[j])
			}
		}
	}
}

func TestMembershipClampedToUnitInterval(t *testing.T) {
	set, _ := fuzzy.Compile("rsi", "wide", "gaussian", []float64{0, 1})
	group := fuzzy.Group{Indicator: "rsi", Sets: []fuzzy.Set{set}}
	for _, x := range []float64{-1000, 0, 1000} {
		v := group.Eval(x)[0]
		if v < 0 || v > 1 {
			t.Fatalf("membership out of [0,1] at x=%v: %v", x, v)
		}
	}
}

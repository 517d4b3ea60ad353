package regime_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ktrdr/ktrdr/internal/regime"
)

func TestClassifyHighVolatility(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price *= 1 + (rng.Float64()-0.5)*0.1 // large daily swings
		closes[i] = price
	}
	r, vol := regime.Classify(closes, regime.DefaultConfig())
	if r != regime.RegimeHighVol {
		t.Fatalf("expected high_vol regime, got %v (vol=%v)", r, vol)
	}
}

func TestClassifyLowVolatility(t *testing.T) {
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price *= 1.0001 // tiny, steady drift
		closes[i] = price
	}
	r, _ := regime.Classify(closes, regime.DefaultConfig())
	if r != regime.RegimeLowVol {
		t.Fatalf("expected low_vol regime, got %v", r)
	}
}

func TestClassifyInsufficientData(t *testing.T) {
	r, vol := regime.Classify([]float64{100}, regime.DefaultConfig())
	if r != regime.RegimeNormal || vol != 0 {
		t.Fatalf("expected RegimeNormal/0 for insufficient data, got %v/%v", r, vol)
	}
}

func TestMultiplierOrdering(t *testing.T) {
	high := regime.Multiplier(regime.RegimeHighVol)
	normal := regime.Multiplier(regime.RegimeNormal)
	low := regime.Multiplier(regime.RegimeLowVol)
	if !(high < normal && normal < low) {
		t.Fatalf("expected high < normal < low multipliers, got %v, %v, %v", high, normal, low)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	closes := []float64{100, 102, 98, 105, 101, 99, 103, 100, 97, 104}
	r1, v1 := regime.Classify(closes, regime.DefaultConfig())
	r2, v2 := regime.Classify(closes, regime.DefaultConfig())
	if r1 != r2 || math.Abs(v1-v2) > 1e-12 {
		t.Fatalf("expected identical inputs to produce identical classification: (%v,%v) vs (%v,%v)", r1, v1, r2, v2)
	}
}

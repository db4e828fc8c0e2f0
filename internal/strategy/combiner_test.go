package strategy

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"oracle-go/internal/signal"
)

func TestNewCombinerRejectsHeavyWeights(t *testing.T) {
	w := DefaultWeights()
	w[FactorRSI] = 0.5
	if _, err := NewCombiner(w); !errors.Is(err, ErrWeightsOutOfRange) {
		t.Fatalf("expected ErrWeightsOutOfRange, got %v", err)
	}
	w = Weights{FactorRSI: -0.6, FactorMACD: 0.5}
	if _, err := NewCombiner(w); !errors.Is(err, ErrWeightsOutOfRange) {
		t.Fatalf("negative weights must count by magnitude, got %v", err)
	}
	if _, err := NewCombiner(DefaultWeights()); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}
}

func TestCombineWeightsAndRaw(t *testing.T) {
	c, err := NewCombiner(DefaultWeights())
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	set := IndicatorSet{FactorRSI: 1, FactorMACD: 1, FactorBollinger: -1, FactorROC: 0.5, FactorSentiment: 1}
	score := c.Combine(set)
	want := 0.20 + 0.20 - 0.15 + 0.075 + 0.15
	if math.Abs(score.CPS-want) > 1e-9 {
		t.Fatalf("expected cps %.4f got %.4f", want, score.CPS)
	}
	if math.Abs(score.Raw-2.5) > 1e-9 {
		t.Fatalf("expected raw 2.5 got %.4f", score.Raw)
	}
	if score.Classification.Category != StrongBullish {
		t.Fatalf("expected strong bullish, got %s", score.Classification.Category)
	}
}

func TestCombineStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	c, _ := NewCombiner(DefaultWeights())
	for i := 0; i < 1000; i++ {
		set := IndicatorSet{}
		for _, f := range Factors {
			set[f] = rng.Float64()*2 - 1
		}
		s := c.Combine(set)
		if s.CPS < -1 || s.CPS > 1 {
			t.Fatalf("cps out of range: %v", s.CPS)
		}
	}
	all := IndicatorSet{}
	for _, f := range Factors {
		all[f] = 1
	}
	if s := c.Combine(all); s.CPS > 1 || math.Abs(s.Raw-float64(len(Factors))) > 1e-9 {
		t.Fatalf("unexpected saturated score %+v", s)
	}
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		cps   float64
		cat   Category
		label string
		dir   signal.Direction
	}{
		{0.4, StrongBullish, "STRONG BUY", signal.Long},
		{0.39, Bullish, "BUY", signal.Long},
		{0.1, Bullish, "BUY", signal.Long},
		{0.09, NeutralBias, "NEUTRAL", signal.Neutral},
		{-0.1, NeutralBias, "NEUTRAL", signal.Neutral},
		{-0.11, Bearish, "SELL", signal.Short},
		{-0.4, Bearish, "SELL", signal.Short},
		{-0.41, StrongBearish, "STRONG SELL", signal.Short},
	}
	for _, tc := range cases {
		got := Classify(tc.cps)
		if got.Category != tc.cat || got.Label != tc.label || got.Direction != tc.dir {
			t.Fatalf("Classify(%.2f) = %+v", tc.cps, got)
		}
	}
}

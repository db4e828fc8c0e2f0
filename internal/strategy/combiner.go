package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"

	"oracle-go/internal/signal"
)

// ErrWeightsOutOfRange is returned when absolute weights sum above one.
var ErrWeightsOutOfRange = errors.New("combiner weights must sum to at most 1")

// Weights assigns a fixed coefficient to each factor.
type Weights map[Factor]float64

// DefaultWeights returns the reference weighting.
func DefaultWeights() Weights {
	return Weights{
		FactorRSI:       0.20,
		FactorMACD:      0.20,
		FactorBollinger: 0.15,
		FactorROC:       0.15,
		FactorOrderFlow: 0.10,
		FactorFunding:   0.05,
		FactorSentiment: 0.15,
	}
}

// Category is the presentation-free bucket of a composite score.
type Category string

const (
	StrongBullish Category = "strong_bullish"
	Bullish       Category = "bullish"
	NeutralBias   Category = "neutral"
	Bearish       Category = "bearish"
	StrongBearish Category = "strong_bearish"
)

// Classification labels a composite score.
type Classification struct {
	Label     string           `json:"label"`
	Category  Category         `json:"category"`
	Direction signal.Direction `json:"direction"`
}

// Score is the combiner output for one IndicatorSet.
type Score struct {
	CPS            float64        `json:"cps"`
	Raw            float64        `json:"raw"`
	Classification Classification `json:"classification"`
}

// Combiner applies fixed weights to an IndicatorSet.
type Combiner struct {
	weights Weights
}

// NewCombiner copies w and rejects weightings that could push CPS out of range.
func NewCombiner(w Weights) (*Combiner, error) {
	sum := lo.SumBy(lo.Values(map[Factor]float64(w)), math.Abs)
	if sum > 1+1e-9 {
		return nil, fmt.Errorf("%w: got %.3f", ErrWeightsOutOfRange, sum)
	}
	return &Combiner{weights: lo.Assign(w)}, nil
}

// Combine returns the weighted CPS clamped to [-1, 1] and the unweighted factor sum.
func (c *Combiner) Combine(set IndicatorSet) Score {
	var cps, raw float64
	for _, f := range Factors {
		v := norm(set[f])
		cps += c.weights[f] * v
		raw += v
	}
	cps = clamp(cps, -1, 1)
	return Score{CPS: cps, Raw: raw, Classification: Classify(cps)}
}

// Classify buckets cps. Neutral scores carry signal.Neutral and never open a prediction.
func Classify(cps float64) Classification {
	switch {
	case cps >= 0.4:
		return Classification{Label: "STRONG BUY", Category: StrongBullish, Direction: signal.Long}
	case cps >= 0.1:
		return Classification{Label: "BUY", Category: Bullish, Direction: signal.Long}
	case cps >= -0.1:
		return Classification{Label: "NEUTRAL", Category: NeutralBias, Direction: signal.Neutral}
	case cps >= -0.4:
		return Classification{Label: "SELL", Category: Bearish, Direction: signal.Short}
	default:
		return Classification{Label: "STRONG SELL", Category: StrongBearish, Direction: signal.Short}
	}
}

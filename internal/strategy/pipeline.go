// Package strategy turns candle history and auxiliary inputs into normalized factors and a composite score.
package strategy

import (
	"math"

	"github.com/cinar/indicator"
	"github.com/samber/lo"

	"oracle-go/internal/candles"
	"oracle-go/internal/signal"
)

// Factor names one normalized input to the composite score.
type Factor string

const (
	FactorRSI       Factor = "rsi"
	FactorMACD      Factor = "macd"
	FactorBollinger Factor = "bollinger"
	FactorROC       Factor = "roc"
	FactorOrderFlow Factor = "orderflow"
	FactorFunding   Factor = "funding"
	FactorSentiment Factor = "sentiment"
)

// Factors lists every factor in display order.
var Factors = []Factor{FactorRSI, FactorMACD, FactorBollinger, FactorROC, FactorOrderFlow, FactorFunding, FactorSentiment}

// IndicatorSet maps each factor to a value in [-1, 1]. Positive is bullish.
type IndicatorSet map[Factor]float64

// Aux carries inputs that do not come from candle history. Nil means unavailable.
type Aux struct {
	Book      *signal.BookImbalance
	Funding   *float64
	Sentiment *signal.Sentiment
}

// PipelineConfig tunes factor normalization.
type PipelineConfig struct {
	MinPoints    int
	RSIPeriod    int
	RSIScale     float64
	MACDScale    float64
	ROCPeriod    int
	ROCScale     float64
	FundingScale float64
}

// DefaultPipelineConfig returns the reference constants.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinPoints:    30,
		RSIPeriod:    14,
		RSIScale:     50,
		MACDScale:    500,
		ROCPeriod:    10,
		ROCScale:     1,
		FundingScale: 1000,
	}
}

// Pipeline computes IndicatorSets. It is stateless and safe for concurrent use.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline fills unset knobs from DefaultPipelineConfig.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.RSIScale <= 0 {
		cfg.RSIScale = def.RSIScale
	}
	if cfg.MACDScale <= 0 {
		cfg.MACDScale = def.MACDScale
	}
	if cfg.ROCPeriod <= 0 {
		cfg.ROCPeriod = def.ROCPeriod
	}
	if cfg.ROCScale <= 0 {
		cfg.ROCScale = def.ROCScale
	}
	if cfg.FundingScale <= 0 {
		cfg.FundingScale = def.FundingScale
	}
	return &Pipeline{cfg: cfg}
}

// MinPoints is the shortest series Compute accepts.
func (p *Pipeline) MinPoints() int { return p.cfg.MinPoints }

// Compute returns a complete IndicatorSet, or false when the series is
// shorter than MinPoints. Factors that cannot be derived are 0.
func (p *Pipeline) Compute(series candles.Series, aux Aux) (IndicatorSet, bool) {
	closes := series.Close
	if len(closes) < p.cfg.MinPoints {
		return nil, false
	}
	last := lo.LastOrEmpty(closes)

	set := IndicatorSet{
		FactorRSI:       p.rsi(closes),
		FactorMACD:      p.macd(closes, last),
		FactorBollinger: bollinger(closes, last),
		FactorROC:       p.roc(closes),
		FactorOrderFlow: 0,
		FactorFunding:   0,
		FactorSentiment: 0,
	}
	if aux.Book != nil {
		if r, ok := aux.Book.Ratio(); ok {
			set[FactorOrderFlow] = norm(r)
		}
	}
	if aux.Funding != nil {
		set[FactorFunding] = norm(-*aux.Funding * p.cfg.FundingScale)
	}
	if aux.Sentiment != nil {
		set[FactorSentiment] = norm((aux.Sentiment.Value - 50) / 50)
	}
	return set, true
}

func (p *Pipeline) rsi(closes []float64) float64 {
	if len(closes) <= p.cfg.RSIPeriod {
		return 0
	}
	_, rsi := indicator.RsiPeriod(p.cfg.RSIPeriod, closes)
	return norm((lo.LastOrEmpty(rsi) - 50) / p.cfg.RSIScale)
}

func (p *Pipeline) macd(closes []float64, last float64) float64 {
	if last <= 0 {
		return 0
	}
	macd, _ := indicator.Macd(closes)
	return norm(lo.LastOrEmpty(macd) / last * p.cfg.MACDScale)
}

func bollinger(closes []float64, last float64) float64 {
	_, upper, lower := indicator.BollingerBands(closes)
	u, l := lo.LastOrEmpty(upper), lo.LastOrEmpty(lower)
	width := u - l
	if !isFinite(width) || width <= 0 {
		return 0
	}
	percentB := (last - l) / width
	return norm((percentB - 0.5) * 2)
}

func (p *Pipeline) roc(closes []float64) float64 {
	n := len(closes)
	if n <= p.cfg.ROCPeriod {
		return 0
	}
	anchor := closes[n-1-p.cfg.ROCPeriod]
	if anchor <= 0 {
		return 0
	}
	pct := (closes[n-1] - anchor) / anchor * 100
	return norm(pct / p.cfg.ROCScale)
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// norm clamps v into [-1, 1] and maps NaN to neutral.
func norm(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, -1, 1)
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

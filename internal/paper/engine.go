// Package paper runs directional paper predictions and records their outcomes.
package paper

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oracle-go/internal/metrics"
	"oracle-go/internal/risk"
	"oracle-go/internal/signal"
	"oracle-go/internal/strategy"
)

// Reference constants for target and P&L math.
const (
	DefaultStake      = 100.0
	DefaultVolatility = 0.008
)

// PriceSource yields the current market price for an instrument.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// Quotes is everything an evaluation pass needs: prices and current scores.
type Quotes interface {
	PriceSource
	Score(symbol string) (strategy.Score, bool)
}

// Recorder accepts settled trades. *Ledger implements it.
type Recorder interface {
	Record(rec TradeRecord)
}

// EngineConfig tunes prediction sizing and entry filtering.
type EngineConfig struct {
	Stake      float64
	Volatility float64
	Gate       risk.Gate
}

type slotKey struct {
	symbol  string
	horizon string
}

// Engine owns one prediction slot per (instrument, horizon). A slot is either
// empty or holds exactly one ACTIVE prediction.
type Engine struct {
	mu       sync.RWMutex
	cfg      EngineConfig
	symbols  []string
	horizons []signal.Horizon
	slots    map[slotKey]*Prediction
	recorder Recorder
	newID    func() string
	log      zerolog.Logger
}

// NewEngine builds an engine iterating symbols and horizons in the given order.
func NewEngine(symbols []string, horizons []signal.Horizon, cfg EngineConfig, recorder Recorder, log zerolog.Logger) *Engine {
	if cfg.Stake <= 0 {
		cfg.Stake = DefaultStake
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = DefaultVolatility
	}
	return &Engine{
		cfg:      cfg,
		symbols:  append([]string(nil), symbols...),
		horizons: append([]signal.Horizon(nil), horizons...),
		slots:    make(map[slotKey]*Prediction),
		recorder: recorder,
		newID:    func() string { return uuid.New().String() },
		log:      log,
	}
}

// Evaluate runs one pass: settle expired slots, then arm empty ones.
func (e *Engine) Evaluate(now time.Time, q Quotes) []TradeRecord {
	settled := e.SettleExpired(now, q)
	e.Arm(now, q)
	return settled
}

// SettleExpired settles every ACTIVE prediction whose expiry has passed and
// for which an exit price is available. Each prediction settles at most once.
func (e *Engine) SettleExpired(now time.Time, prices PriceSource) []TradeRecord {
	var out []TradeRecord
	for _, sym := range e.symbols {
		for _, h := range e.horizons {
			rec, ok := e.settleSlot(slotKey{sym, h.Key}, now, prices)
			if !ok {
				continue
			}
			out = append(out, rec)
			metrics.SettlementsTotal.WithLabelValues(rec.Symbol, rec.Horizon, string(rec.Status)).Inc()
			e.log.Info().
				Str("id", rec.ID).
				Str("symbol", rec.Symbol).
				Str("horizon", rec.Horizon).
				Str("status", string(rec.Status)).
				Float64("pl", rec.PL).
				Msg("prediction settled")
			if e.recorder != nil {
				e.recorder.Record(rec)
			}
		}
	}
	return out
}

func (e *Engine) settleSlot(k slotKey, now time.Time, prices PriceSource) (TradeRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.slots[k]
	if !ok || p.Status != StatusActive || now.Before(p.ExpiresAt) {
		return TradeRecord{}, false
	}
	exit, ok := prices.Price(k.symbol)
	if !ok || exit <= 0 || math.IsInf(exit, 0) {
		return TradeRecord{}, false
	}
	rec := Settle(*p, exit, e.cfg.Stake, now)
	p.Status = rec.Status
	delete(e.slots, k)
	return rec, true
}

// Arm opens a prediction on every empty slot whose instrument has a valid
// price and a score that passes the gate with a non-neutral direction.
func (e *Engine) Arm(now time.Time, q Quotes) []Prediction {
	var opened []Prediction
	for _, sym := range e.symbols {
		price, ok := q.Price(sym)
		if !ok || price <= 0 {
			continue
		}
		score, ok := q.Score(sym)
		if !ok || !e.cfg.Gate.Allow(score.Raw) {
			continue
		}
		dir := score.Classification.Direction
		if dir == signal.Neutral {
			continue
		}
		for _, h := range e.horizons {
			if p, ok := e.armSlot(sym, h, price, score, now); ok {
				opened = append(opened, p)
				metrics.PredictionsOpenedTotal.WithLabelValues(sym, h.Key).Inc()
				e.log.Debug().
					Str("symbol", sym).
					Str("horizon", h.Key).
					Str("direction", dir.String()).
					Float64("entry", p.EntryPrice).
					Float64("target", p.TargetPrice).
					Msg("prediction armed")
			}
		}
	}
	return opened
}

func (e *Engine) armSlot(sym string, h signal.Horizon, price float64, score strategy.Score, now time.Time) (Prediction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := slotKey{sym, h.Key}
	if _, busy := e.slots[k]; busy {
		return Prediction{}, false
	}
	dir := score.Classification.Direction
	absCPS := math.Abs(score.CPS)
	p := &Prediction{
		ID:          e.newID(),
		Symbol:      sym,
		Horizon:     h.Key,
		EntryPrice:  price,
		TargetPrice: price * (1 + dir.Sign()*e.cfg.Volatility*math.Sqrt(h.Seconds()/60)*absCPS),
		Direction:   dir,
		Confidence:  clampPct(50 + 40*absCPS),
		CPS:         score.CPS,
		CreatedAt:   now,
		ExpiresAt:   now.Add(h.Duration),
		Status:      StatusActive,
	}
	e.slots[k] = p
	return *p, true
}

// Settle computes the outcome of p closed at exit.
func Settle(p Prediction, exit, stake float64, now time.Time) TradeRecord {
	change := (exit - p.EntryPrice) / p.EntryPrice
	dir := p.Direction.Sign()
	p.ExitPrice = exit
	p.PL = change * stake * dir
	if p.PL >= 0 {
		p.Status = StatusWon
	} else {
		p.Status = StatusLost
	}
	p.Accuracy = accuracy(change, p.PredictedChange(), dir)
	return TradeRecord{Prediction: p, SettledAt: now}
}

func accuracy(change, predicted, dir float64) float64 {
	if change*dir >= 0 {
		if predicted == 0 {
			return 50
		}
		return math.Min(100, 50+math.Abs(change/predicted)*30)
	}
	return math.Max(0, 50-math.Abs(change)*500)
}

func clampPct(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Active returns the ACTIVE prediction for a slot.
func (e *Engine) Active(symbol, horizon string) (Prediction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.slots[slotKey{symbol, horizon}]
	if !ok {
		return Prediction{}, false
	}
	return *p, true
}

// ActiveFor returns the ACTIVE predictions of one instrument in horizon order.
func (e *Engine) ActiveFor(symbol string) []Prediction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Prediction
	for _, h := range e.horizons {
		if p, ok := e.slots[slotKey{symbol, h.Key}]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Slots returns every ACTIVE prediction in deterministic order.
func (e *Engine) Slots() []Prediction {
	var out []Prediction
	for _, sym := range e.symbols {
		out = append(out, e.ActiveFor(sym)...)
	}
	return out
}

// Package engine wires market state, indicators and predictions into one
// event loop fed by the streaming feed, periodic tasks and user selection.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"oracle-go/internal/candles"
	"oracle-go/internal/market"
	"oracle-go/internal/paper"
	"oracle-go/internal/signal"
	"oracle-go/internal/strategy"
)

// Signal is the latest factor breakdown and composite score for one instrument.
type Signal struct {
	Symbol     string                `json:"symbol"`
	Horizon    string                `json:"horizon"`
	Indicators strategy.IndicatorSet `json:"indicators"`
	Score      strategy.Score        `json:"score"`
	ComputedAt time.Time             `json:"computed_at"`
}

// Selection is the instrument and horizon currently in focus.
type Selection struct {
	Symbol  string `json:"symbol" validate:"required"`
	Horizon string `json:"horizon" validate:"required"`
}

// Status summarizes engine health for operators.
type Status struct {
	Provider  string            `json:"provider"`
	FeedState string            `json:"feed_state"`
	Selection Selection         `json:"selection"`
	Symbols   []string          `json:"symbols"`
	Horizons  []string          `json:"horizons"`
	Sentiment *signal.Sentiment `json:"sentiment,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// State is the process-wide engine state. It is built once and handed by
// reference to the loop, the tasks and the HTTP API. Each component keeps its
// own lock; State only guards the derived per-instrument data it owns.
type State struct {
	Store       *market.Store
	Candles     *candles.Cache
	Pipeline    *strategy.Pipeline
	Combiner    *strategy.Combiner
	Predictions *paper.Engine
	Ledger      *paper.Ledger

	mu        sync.RWMutex
	signals   map[string]Signal
	books     map[string]signal.BookImbalance
	sentiment *signal.Sentiment
	selection Selection
	errors    map[string]map[string]string
	feedState string
	startedAt time.Time
}

// NewState assembles a State around already constructed components.
func NewState(store *market.Store, cache *candles.Cache, pipeline *strategy.Pipeline, combiner *strategy.Combiner, predictions *paper.Engine, ledger *paper.Ledger) *State {
	return &State{
		Store:       store,
		Candles:     cache,
		Pipeline:    pipeline,
		Combiner:    combiner,
		Predictions: predictions,
		Ledger:      ledger,
		signals:     make(map[string]Signal),
		books:       make(map[string]signal.BookImbalance),
		errors:      make(map[string]map[string]string),
		feedState:   "DISCONNECTED",
		startedAt:   time.Now().UTC(),
	}
}

// Price implements paper.PriceSource.
func (s *State) Price(symbol string) (float64, bool) {
	return s.Store.Price(symbol)
}

// Score implements paper.Quotes. Instruments without enough history have no score.
func (s *State) Score(symbol string) (strategy.Score, bool) {
	sig, ok := s.Signal(symbol)
	if !ok {
		return strategy.Score{}, false
	}
	return sig.Score, true
}

// Signal returns the latest computed signal for symbol.
func (s *State) Signal(symbol string) (Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[symbol]
	return sig, ok
}

// Signals returns every computed signal sorted by symbol.
func (s *State) Signals() []Signal {
	s.mu.RLock()
	out := make([]Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *State) setSignal(sig Signal) {
	s.mu.Lock()
	s.signals[sig.Symbol] = sig
	s.mu.Unlock()
}

func (s *State) clearSignal(symbol string) {
	s.mu.Lock()
	delete(s.signals, symbol)
	s.mu.Unlock()
}

// Book returns the last order book aggregate for symbol.
func (s *State) Book(symbol string) (signal.BookImbalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

func (s *State) setBook(symbol string, b signal.BookImbalance) {
	s.mu.Lock()
	s.books[symbol] = b
	s.mu.Unlock()
}

// Sentiment returns the last sentiment reading.
func (s *State) Sentiment() (signal.Sentiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sentiment == nil {
		return signal.Sentiment{}, false
	}
	return *s.sentiment, true
}

func (s *State) setSentiment(v signal.Sentiment) {
	s.mu.Lock()
	s.sentiment = &v
	s.mu.Unlock()
}

// Selection returns the instrument and horizon in focus.
func (s *State) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

func (s *State) setSelection(sel Selection) {
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
}

// SetFeedState records the feed connection state reported by the feed callback.
func (s *State) SetFeedState(state string) {
	s.mu.Lock()
	s.feedState = state
	s.mu.Unlock()
}

// Error sources tracked per instrument. Each clears independently.
const (
	errBootstrap = "bootstrap"
	errCandles   = "candles"
)

// setError records err for (symbol, source); nil clears that source only.
func (s *State) setError(symbol, source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		if bySource, ok := s.errors[symbol]; ok {
			delete(bySource, source)
			if len(bySource) == 0 {
				delete(s.errors, symbol)
			}
		}
		return
	}
	if s.errors[symbol] == nil {
		s.errors[symbol] = make(map[string]string)
	}
	s.errors[symbol][source] = fmt.Sprintf("%s: %v", source, err)
}

func (s *State) hasError(symbol, source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.errors[symbol][source]
	return ok
}

// Errors returns the unrecovered per-instrument failures.
func (s *State) Errors() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorsLocked()
}

func (s *State) errorsLocked() map[string]string {
	out := make(map[string]string, len(s.errors))
	for sym, bySource := range s.errors {
		msgs := lo.Values(bySource)
		sort.Strings(msgs)
		out[sym] = strings.Join(msgs, "; ")
	}
	return out
}

func (s *State) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		FeedState: s.feedState,
		Selection: s.selection,
		StartedAt: s.startedAt,
	}
	if s.sentiment != nil {
		v := *s.sentiment
		st.Sentiment = &v
	}
	if len(s.errors) > 0 {
		st.Errors = s.errorsLocked()
	}
	return st
}

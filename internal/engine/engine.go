package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"oracle-go/internal/exchange"
	"oracle-go/internal/metrics"
	"oracle-go/internal/signal"
	"oracle-go/internal/strategy"
)

// ErrUnknownSelection is returned by Select for symbols or horizons the engine does not track.
var ErrUnknownSelection = errors.New("unknown instrument or horizon")

// Config carries the loop cadences and collaborators.
type Config struct {
	Provider          string
	Symbols           []string
	Horizons          []signal.Horizon
	Market            exchange.MarketSource
	Sentiment         exchange.SentimentSource
	Fetch             FetchPolicy
	ScanInterval      time.Duration
	RefreshInterval   time.Duration
	SentimentInterval time.Duration
	BootstrapWorkers  int
}

// Engine is the single writer of State. Every mutation runs on the goroutine
// executing Run: feed ticks, task ticks and posted completions.
type Engine struct {
	cfg       Config
	state     *State
	refresher *Refresher
	sentiment *SentimentPoller
	tasks     []Task
	post      chan func()
	done      chan struct{}
	runCtx    context.Context
	now       func() time.Time
	log       zerolog.Logger
}

// New builds an engine over state. The first symbol and horizon start selected.
func New(state *State, cfg Config, log zerolog.Logger) (*Engine, error) {
	if len(cfg.Symbols) == 0 || len(cfg.Horizons) == 0 {
		return nil, fmt.Errorf("engine requires at least one symbol and one horizon")
	}
	if cfg.Market == nil {
		return nil, fmt.Errorf("engine requires a market source")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.SentimentInterval <= 0 {
		cfg.SentimentInterval = 5 * time.Minute
	}
	if cfg.Fetch.Attempts <= 0 {
		cfg.Fetch.Attempts = 3
	}
	if cfg.Fetch.MinDelay <= 0 {
		cfg.Fetch.MinDelay = 500 * time.Millisecond
	}
	if cfg.Fetch.MaxDelay < cfg.Fetch.MinDelay {
		cfg.Fetch.MaxDelay = 4 * cfg.Fetch.MinDelay
	}
	if cfg.BootstrapWorkers <= 0 {
		cfg.BootstrapWorkers = 4
	}

	e := &Engine{
		cfg:   cfg,
		state: state,
		post:  make(chan func(), 256),
		done:  make(chan struct{}),
		now:   time.Now,
		log:   log,
	}
	state.setSelection(Selection{Symbol: cfg.Symbols[0], Horizon: cfg.Horizons[0].Key})

	e.refresher = NewRefresher(cfg.Symbols, state.Candles, cfg.Market, e.selectedHorizon, e, e.enqueue, cfg.Fetch, cfg.RefreshInterval, log)
	e.tasks = []Task{
		NewExpiryScanner(state.Predictions, state, cfg.ScanInterval),
		e.refresher,
	}
	if cfg.Sentiment != nil {
		e.sentiment = NewSentimentPoller(cfg.Sentiment, e.applySentiment, e.enqueue, cfg.Fetch, cfg.SentimentInterval, log)
		e.tasks = append(e.tasks, e.sentiment)
	}
	return e, nil
}

// State exposes the shared engine state for read accessors.
func (e *Engine) State() *State { return e.state }

// Status returns the operator-facing health summary.
func (e *Engine) Status() Status {
	st := e.state.status()
	st.Provider = e.cfg.Provider
	st.Symbols = append([]string(nil), e.cfg.Symbols...)
	for _, h := range e.cfg.Horizons {
		st.Horizons = append(st.Horizons, h.Key)
	}
	return st
}

// Run consumes ticks and schedules tasks until ctx ends.
func (e *Engine) Run(ctx context.Context, ticks <-chan signal.Tick) error {
	defer close(e.done)
	e.runCtx = ctx

	go e.bootstrap(ctx)
	for _, t := range e.tasks {
		go e.schedule(ctx, t)
	}
	e.log.Info().Strs("symbols", e.cfg.Symbols).Int("tasks", len(e.tasks)).Msg("engine started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if _, changed := e.state.Store.ApplyTick(tick); changed && e.state.hasError(tick.Symbol, errBootstrap) {
				e.state.setError(tick.Symbol, errBootstrap, nil)
			}
		case fn := <-e.post:
			fn()
		}
	}
}

func (e *Engine) schedule(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.enqueueCtx(ctx, func() { t.Run(ctx, e.now()) }) {
				return
			}
		}
	}
}

func (e *Engine) enqueue(fn func()) {
	select {
	case e.post <- fn:
	case <-e.done:
	}
}

func (e *Engine) enqueueCtx(ctx context.Context, fn func()) bool {
	select {
	case e.post <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// bootstrap loads the sentiment index, then snapshots and the selected
// candle window for every instrument in parallel. Failures surface per
// instrument in Status.
func (e *Engine) bootstrap(ctx context.Context) {
	if e.sentiment != nil {
		e.sentiment.Run(ctx, e.now())
	}
	h := e.selectedHorizon()
	var g errgroup.Group
	g.SetLimit(e.cfg.BootstrapWorkers)
	for _, sym := range e.cfg.Symbols {
		sym := sym
		g.Go(func() error {
			tick, err := exchange.Retry(ctx, e.cfg.Fetch.Attempts, e.cfg.Fetch.MinDelay, e.cfg.Fetch.MaxDelay, func(ctx context.Context) (signal.Tick, error) {
				return e.cfg.Market.FetchSnapshot(ctx, sym)
			})
			if err != nil {
				if ctx.Err() == nil {
					metrics.FetchErrorsTotal.WithLabelValues("snapshot").Inc()
				}
				e.enqueue(func() {
					e.log.Error().Err(err).Str("symbol", sym).Msg("bootstrap snapshot failed")
					e.state.setError(sym, errBootstrap, err)
				})
				// candles do not depend on the ticker; the feed supplies the price
				e.refresher.RefreshSymbol(ctx, sym, h)
				return nil
			}
			e.enqueue(func() { e.state.Store.ApplyTick(tick) })
			e.refresher.RefreshSymbol(ctx, sym, h)
			return nil
		})
	}
	_ = g.Wait()
	e.log.Debug().Msg("bootstrap dispatched")
}

// Select changes the instrument and horizon in focus. A horizon change
// reloads every instrument at the new horizon; otherwise only the selected
// instrument is reloaded. ctx bounds only the hand-off to the loop.
func (e *Engine) Select(ctx context.Context, symbol, horizon string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	h, ok := e.horizon(horizon)
	if !ok || !e.tracks(symbol) {
		return fmt.Errorf("%w: %s %s", ErrUnknownSelection, symbol, horizon)
	}
	if !e.enqueueCtx(ctx, func() {
		prev := e.state.Selection()
		e.state.setSelection(Selection{Symbol: symbol, Horizon: h.Key})
		if prev.Horizon != h.Key {
			e.refresher.Run(e.runCtx, e.now())
			return
		}
		e.refresher.RefreshSymbol(e.runCtx, symbol, h)
	}) {
		return ctx.Err()
	}
	return nil
}

// CandlesRefreshed recomputes the instrument's signal when the refreshed
// window belongs to the selected horizon. Results for a horizon that is no
// longer selected stay in the cache but do not touch the signal.
func (e *Engine) CandlesRefreshed(symbol string, h signal.Horizon, err error) {
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Str("horizon", h.Key).Msg("candle refresh failed")
		e.state.setError(symbol, errCandles, fmt.Errorf("%s: %w", h.Key, err))
		return
	}
	e.state.setError(symbol, errCandles, nil)
	if h.Key != e.state.Selection().Horizon {
		e.log.Debug().Str("symbol", symbol).Str("horizon", h.Key).Msg("stale horizon refresh, skipping recompute")
		return
	}
	e.recompute(symbol, h)
}

// BookRefreshed stores the order book aggregate for the next recompute.
func (e *Engine) BookRefreshed(symbol string, book signal.BookImbalance, err error) {
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", symbol).Msg("order book refresh failed")
		return
	}
	e.state.setBook(symbol, book)
}

func (e *Engine) applySentiment(s signal.Sentiment) {
	e.state.setSentiment(s)
	h := e.selectedHorizon()
	for _, sym := range e.cfg.Symbols {
		e.recompute(sym, h)
	}
}

// recompute rebuilds the IndicatorSet for symbol wholesale. Instruments with
// too little history lose their signal instead of keeping a stale one.
func (e *Engine) recompute(symbol string, h signal.Horizon) {
	series := e.state.Candles.Series(symbol, h)
	aux := strategy.Aux{}
	if b, ok := e.state.Book(symbol); ok {
		aux.Book = &b
	}
	if f, ok := e.state.Store.Funding(symbol); ok {
		aux.Funding = &f
	}
	if s, ok := e.state.Sentiment(); ok {
		aux.Sentiment = &s
	}
	set, ok := e.state.Pipeline.Compute(series, aux)
	if !ok {
		e.state.clearSignal(symbol)
		return
	}
	score := e.state.Combiner.Combine(set)
	e.state.setSignal(Signal{
		Symbol:     symbol,
		Horizon:    h.Key,
		Indicators: set,
		Score:      score,
		ComputedAt: e.now().UTC(),
	})
	e.log.Debug().
		Str("symbol", symbol).
		Str("horizon", h.Key).
		Float64("cps", score.CPS).
		Float64("raw", score.Raw).
		Str("label", score.Classification.Label).
		Msg("signal recomputed")
}

// Horizon looks up a configured horizon by key.
func (e *Engine) Horizon(key string) (signal.Horizon, bool) { return e.horizon(key) }

func (e *Engine) selectedHorizon() signal.Horizon {
	h, ok := e.horizon(e.state.Selection().Horizon)
	if !ok {
		return e.cfg.Horizons[0]
	}
	return h
}

func (e *Engine) horizon(key string) (signal.Horizon, bool) {
	return lo.Find(e.cfg.Horizons, func(h signal.Horizon) bool { return h.Key == key })
}

func (e *Engine) tracks(symbol string) bool {
	return lo.Contains(e.cfg.Symbols, symbol)
}

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"oracle-go/internal/candles"
	"oracle-go/internal/exchange"
	"oracle-go/internal/metrics"
	"oracle-go/internal/paper"
	"oracle-go/internal/signal"
)

// Task is a periodic job run on the engine loop. Tasks that perform network
// I/O start goroutines and hand results back through a Poster.
type Task interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context, now time.Time)
}

// Poster enqueues fn onto the engine loop.
type Poster func(fn func())

// Evaluator settles expired predictions and arms empty slots.
type Evaluator interface {
	Evaluate(now time.Time, q paper.Quotes) []paper.TradeRecord
}

// ExpiryScanner drives the prediction lifecycle on a fixed cadence.
type ExpiryScanner struct {
	predictions Evaluator
	quotes      paper.Quotes
	every       time.Duration
}

// NewExpiryScanner returns a scanner evaluating predictions against quotes.
func NewExpiryScanner(predictions Evaluator, quotes paper.Quotes, every time.Duration) *ExpiryScanner {
	return &ExpiryScanner{predictions: predictions, quotes: quotes, every: every}
}

func (s *ExpiryScanner) Name() string            { return "expiry-scan" }
func (s *ExpiryScanner) Interval() time.Duration { return s.every }

func (s *ExpiryScanner) Run(_ context.Context, now time.Time) {
	s.predictions.Evaluate(now, s.quotes)
}

// CandleRefresher reloads one candle window.
type CandleRefresher interface {
	Refresh(ctx context.Context, symbol string, h signal.Horizon) error
}

// RefreshSink receives refresh outcomes on the engine loop.
type RefreshSink interface {
	CandlesRefreshed(symbol string, h signal.Horizon, err error)
	BookRefreshed(symbol string, book signal.BookImbalance, err error)
}

// FetchPolicy bounds one-shot fetch retries.
type FetchPolicy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Refresher reloads candles at the selected horizon and the order book for
// every instrument.
type Refresher struct {
	symbols []string
	candles CandleRefresher
	books   exchange.BookSource
	horizon func() signal.Horizon
	sink    RefreshSink
	post    Poster
	policy  FetchPolicy
	every   time.Duration
	log     zerolog.Logger
}

// NewRefresher builds a Refresher. books may be nil when no order book source exists.
func NewRefresher(symbols []string, cache CandleRefresher, books exchange.BookSource, horizon func() signal.Horizon, sink RefreshSink, post Poster, policy FetchPolicy, every time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		symbols: append([]string(nil), symbols...),
		candles: cache,
		books:   books,
		horizon: horizon,
		sink:    sink,
		post:    post,
		policy:  policy,
		every:   every,
		log:     log,
	}
}

func (r *Refresher) Name() string            { return "refresh" }
func (r *Refresher) Interval() time.Duration { return r.every }

func (r *Refresher) Run(ctx context.Context, _ time.Time) {
	h := r.horizon()
	for _, sym := range r.symbols {
		r.RefreshSymbol(ctx, sym, h)
	}
}

// RefreshSymbol reloads one instrument in the background.
func (r *Refresher) RefreshSymbol(ctx context.Context, symbol string, h signal.Horizon) {
	go func() {
		_, err := exchange.Retry(ctx, r.policy.Attempts, r.policy.MinDelay, r.policy.MaxDelay, func(ctx context.Context) (struct{}, error) {
			err := r.candles.Refresh(ctx, symbol, h)
			if errors.Is(err, candles.ErrStale) {
				// a newer window already landed
				err = nil
			}
			return struct{}{}, err
		})
		if err != nil && ctx.Err() == nil {
			metrics.FetchErrorsTotal.WithLabelValues("candles").Inc()
		}
		r.post(func() { r.sink.CandlesRefreshed(symbol, h, err) })
	}()
	if r.books == nil {
		return
	}
	go func() {
		book, err := exchange.Retry(ctx, r.policy.Attempts, r.policy.MinDelay, r.policy.MaxDelay, func(ctx context.Context) (signal.BookImbalance, error) {
			return r.books.FetchOrderBook(ctx, symbol)
		})
		if err != nil && ctx.Err() == nil {
			metrics.FetchErrorsTotal.WithLabelValues("orderbook").Inc()
		}
		r.post(func() { r.sink.BookRefreshed(symbol, book, err) })
	}()
}

// SentimentPoller refreshes the market-wide sentiment index.
type SentimentPoller struct {
	source exchange.SentimentSource
	apply  func(signal.Sentiment)
	post   Poster
	policy FetchPolicy
	every  time.Duration
	log    zerolog.Logger
}

// NewSentimentPoller builds a poller handing successful readings to apply on the loop.
func NewSentimentPoller(source exchange.SentimentSource, apply func(signal.Sentiment), post Poster, policy FetchPolicy, every time.Duration, log zerolog.Logger) *SentimentPoller {
	return &SentimentPoller{source: source, apply: apply, post: post, policy: policy, every: every, log: log}
}

func (p *SentimentPoller) Name() string            { return "sentiment" }
func (p *SentimentPoller) Interval() time.Duration { return p.every }

func (p *SentimentPoller) Run(ctx context.Context, _ time.Time) {
	go func() {
		s, err := exchange.Retry(ctx, p.policy.Attempts, p.policy.MinDelay, p.policy.MaxDelay, p.source.FetchSentiment)
		if err != nil {
			if ctx.Err() == nil {
				metrics.FetchErrorsTotal.WithLabelValues("sentiment").Inc()
				p.log.Warn().Err(err).Msg("sentiment refresh failed")
			}
			return
		}
		p.post(func() { p.apply(s) })
	}()
}

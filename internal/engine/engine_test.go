package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-go/internal/candles"
	"oracle-go/internal/market"
	"oracle-go/internal/paper"
	"oracle-go/internal/risk"
	"oracle-go/internal/signal"
	"oracle-go/internal/strategy"
)

var (
	oneMinute  = signal.Horizon{Key: "1m", Duration: time.Minute}
	fiveMinute = signal.Horizon{Key: "5m", Duration: 5 * time.Minute}
)

type fakeMarket struct {
	mu           sync.Mutex
	closes       map[string][]float64
	failSnapshot map[string]bool
	calls        map[string]int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		closes:       make(map[string][]float64),
		failSnapshot: make(map[string]bool),
		calls:        make(map[string]int),
	}
}

func (f *fakeMarket) callCount(symbol, horizon string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol+"|"+horizon]
}

func (f *fakeMarket) FetchCandles(_ context.Context, symbol string, h signal.Horizon, limit int) ([]signal.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol+"|"+h.Key]++
	closes := f.closes[symbol]
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	return bars(closes, h), nil
}

func (f *fakeMarket) FetchSnapshot(_ context.Context, symbol string) (signal.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSnapshot[symbol] {
		return signal.Tick{}, errors.New("ticker unavailable")
	}
	closes := f.closes[symbol]
	price := 1.0
	if len(closes) > 0 {
		price = closes[len(closes)-1]
	}
	return signal.Tick{Symbol: symbol, Price: signal.Float(price), Change24h: signal.Float(1.5)}, nil
}

func (f *fakeMarket) FetchOrderBook(context.Context, string) (signal.BookImbalance, error) {
	return signal.BookImbalance{BidVolume: 60, AskVolume: 40}, nil
}

func bars(closes []float64, h signal.Horizon) []signal.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]signal.Candle, len(closes))
	for i, c := range closes {
		out[i] = signal.Candle{
			OpenTime: start.Add(time.Duration(i) * h.Duration),
			Open:     c,
			High:     c * 1.001,
			Low:      c * 0.999,
			Close:    c,
			Volume:   10,
		}
	}
	return out
}

func uptrend(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)*2 + math.Sin(float64(i))*3
	}
	return out
}

type fixture struct {
	state  *State
	engine *Engine
	market *fakeMarket
	ledger *paper.Ledger
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, symbols...)
}

func newFixtureWith(t *testing.T, tweak func(*Config), symbols ...string) *fixture {
	t.Helper()
	horizons := []signal.Horizon{oneMinute, fiveMinute}
	m := newFakeMarket()
	ledger := paper.NewLedger(20, zerolog.Nop())
	combiner, err := strategy.NewCombiner(strategy.DefaultWeights())
	require.NoError(t, err)
	state := NewState(
		market.NewStore(),
		candles.NewCache(m, candles.DefaultCapacity),
		strategy.NewPipeline(strategy.DefaultPipelineConfig()),
		combiner,
		paper.NewEngine(symbols, horizons, paper.EngineConfig{Gate: risk.Gate{MinRawScore: risk.DefaultMinRawScore}}, ledger, zerolog.Nop()),
		ledger,
	)
	cfg := Config{
		Provider:        "stub",
		Symbols:         symbols,
		Horizons:        horizons,
		Market:          m,
		Fetch:           FetchPolicy{Attempts: 2, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		ScanInterval:    10 * time.Millisecond,
		RefreshInterval: time.Hour,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	eng, err := New(state, cfg, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{state: state, engine: eng, market: m, ledger: ledger}
}

func (f *fixture) run(t *testing.T) (chan signal.Tick, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan signal.Tick, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx, ticks)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ticks, cancel
}

func TestNewRejectsEmptyConfig(t *testing.T) {
	_, err := New(&State{}, Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunBootstrapsSignalsAndArmsPredictions(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT")
	f.market.closes["BTCUSDT"] = uptrend(60)
	f.market.closes["ETHUSDT"] = uptrend(10)
	f.run(t)

	require.Eventually(t, func() bool {
		_, ok := f.state.Predictions.Active("BTCUSDT", "5m")
		return ok
	}, 3*time.Second, 5*time.Millisecond)

	sig, ok := f.state.Signal("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "1m", sig.Horizon)
	assert.Equal(t, signal.Long, sig.Score.Classification.Direction)
	assert.Greater(t, sig.Score.Raw, risk.DefaultMinRawScore)
	assert.LessOrEqual(t, math.Abs(sig.Score.CPS), 1.0)
	for _, factor := range strategy.Factors {
		assert.Contains(t, sig.Indicators, factor)
	}

	p, ok := f.state.Predictions.Active("BTCUSDT", "1m")
	require.True(t, ok)
	assert.Equal(t, signal.Long, p.Direction)
	assert.Greater(t, p.TargetPrice, p.EntryPrice)

	// ten candles are not enough history: no signal and no prediction
	_, ok = f.state.Signal("ETHUSDT")
	assert.False(t, ok)
	_, ok = f.state.Predictions.Active("ETHUSDT", "1m")
	assert.False(t, ok)
	price, ok := f.state.Store.Price("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, uptrend(10)[9], price)
}

func TestBootstrapFailureSurfacesPerInstrument(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT")
	f.market.closes["BTCUSDT"] = uptrend(40)
	f.market.failSnapshot["ETHUSDT"] = true
	f.run(t)

	require.Eventually(t, func() bool {
		_, ok := f.engine.Status().Errors["ETHUSDT"]
		return ok
	}, 3*time.Second, 5*time.Millisecond)

	st := f.engine.Status()
	assert.Contains(t, st.Errors["ETHUSDT"], "ticker unavailable")
	assert.NotContains(t, st.Errors, "BTCUSDT")
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, st.Symbols)
	assert.Equal(t, []string{"1m", "5m"}, st.Horizons)
	assert.Equal(t, "stub", st.Provider)
}

func TestBootstrapFailureStillLoadsCandles(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.market.closes["BTCUSDT"] = uptrend(40)
	f.market.failSnapshot["BTCUSDT"] = true
	ticks, _ := f.run(t)

	require.Eventually(t, func() bool {
		_, ok := f.state.Signal("BTCUSDT")
		return ok
	}, 3*time.Second, 5*time.Millisecond, "candles load without a ticker snapshot")
	require.Eventually(t, func() bool {
		return strings.Contains(f.engine.Status().Errors["BTCUSDT"], "ticker unavailable")
	}, time.Second, 5*time.Millisecond, "a successful candle refresh keeps the bootstrap error")

	ticks <- signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(180)}
	require.Eventually(t, func() bool {
		return len(f.engine.Status().Errors) == 0
	}, time.Second, 5*time.Millisecond, "a live price clears the bootstrap error")
}

type countingSentiment struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSentiment) FetchSentiment(context.Context) (signal.Sentiment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return signal.Sentiment{Value: 75, Label: "Greed"}, nil
}

func TestRunLoadsSentimentAtStartup(t *testing.T) {
	src := &countingSentiment{}
	f := newFixtureWith(t, func(c *Config) {
		c.Sentiment = src
		c.SentimentInterval = 5 * time.Minute
	}, "BTCUSDT")
	f.market.closes["BTCUSDT"] = uptrend(40)
	f.run(t)

	require.Eventually(t, func() bool {
		_, ok := f.state.Sentiment()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		sig, ok := f.state.Signal("BTCUSDT")
		return ok && sig.Indicators[strategy.FactorSentiment] > 0
	}, 2*time.Second, 5*time.Millisecond)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.calls)
}

func TestRunAppliesFeedTicks(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	ticks, _ := f.run(t)

	ticks <- signal.Tick{Symbol: "SOLUSDT", Price: signal.Float(150)}
	ticks <- signal.Tick{Symbol: "SOLUSDT", Change24h: signal.Float(math.NaN())}

	require.Eventually(t, func() bool {
		snap, ok := f.state.Store.Get("SOLUSDT")
		return ok && snap.Price == 150
	}, time.Second, 5*time.Millisecond)
}

func TestSelectValidatesAndReloadsHorizon(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT")
	f.market.closes["BTCUSDT"] = uptrend(40)
	f.market.closes["ETHUSDT"] = uptrend(40)

	err := f.engine.Select(context.Background(), "DOGEUSDT", "1m")
	assert.ErrorIs(t, err, ErrUnknownSelection)
	err = f.engine.Select(context.Background(), "BTCUSDT", "1d")
	assert.ErrorIs(t, err, ErrUnknownSelection)

	f.run(t)
	require.NoError(t, f.engine.Select(context.Background(), "ethusdt", "5m"))

	require.Eventually(t, func() bool {
		return f.market.callCount("BTCUSDT", "5m") > 0 && f.market.callCount("ETHUSDT", "5m") > 0
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, Selection{Symbol: "ETHUSDT", Horizon: "5m"}, f.state.Selection())

	require.Eventually(t, func() bool {
		sig, ok := f.state.Signal("ETHUSDT")
		return ok && sig.Horizon == "5m"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestStaleHorizonRefreshDoesNotRecompute(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	require.NoError(t, f.state.Candles.Replace("BTCUSDT", fiveMinute, bars(uptrend(40), fiveMinute)))

	f.engine.CandlesRefreshed("BTCUSDT", fiveMinute, nil)
	_, ok := f.state.Signal("BTCUSDT")
	assert.False(t, ok, "5m is not selected")
	assert.Equal(t, 40, f.state.Candles.Series("BTCUSDT", fiveMinute).Len(), "cache still updated")

	require.NoError(t, f.state.Candles.Replace("BTCUSDT", oneMinute, bars(uptrend(40), oneMinute)))
	f.engine.CandlesRefreshed("BTCUSDT", oneMinute, nil)
	sig, ok := f.state.Signal("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "1m", sig.Horizon)
}

func TestFailedRefreshKeepsSignal(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	require.NoError(t, f.state.Candles.Replace("BTCUSDT", oneMinute, bars(uptrend(40), oneMinute)))
	f.engine.CandlesRefreshed("BTCUSDT", oneMinute, nil)
	before, ok := f.state.Signal("BTCUSDT")
	require.True(t, ok)

	f.engine.CandlesRefreshed("BTCUSDT", oneMinute, fmt.Errorf("timeout"))
	after, ok := f.state.Signal("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Contains(t, f.state.Errors()["BTCUSDT"], "timeout")

	f.engine.CandlesRefreshed("BTCUSDT", oneMinute, nil)
	assert.Empty(t, f.state.Errors())
}

func TestSentimentFeedsRecompute(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	require.NoError(t, f.state.Candles.Replace("BTCUSDT", oneMinute, bars(uptrend(40), oneMinute)))
	f.engine.BookRefreshed("BTCUSDT", signal.BookImbalance{BidVolume: 75, AskVolume: 25}, nil)

	f.engine.applySentiment(signal.Sentiment{Value: 80, Label: "Extreme Greed"})

	s, ok := f.state.Sentiment()
	require.True(t, ok)
	assert.Equal(t, "Extreme Greed", s.Label)
	sig, ok := f.state.Signal("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.6, sig.Indicators[strategy.FactorSentiment], 1e-9)
	assert.InDelta(t, 0.5, sig.Indicators[strategy.FactorOrderFlow], 1e-9)
}

type countingEvaluator struct {
	calls []time.Time
}

func (c *countingEvaluator) Evaluate(now time.Time, _ paper.Quotes) []paper.TradeRecord {
	c.calls = append(c.calls, now)
	return nil
}

func TestExpiryScannerEvaluatesAtTaskTime(t *testing.T) {
	ev := &countingEvaluator{}
	scanner := NewExpiryScanner(ev, &State{Store: market.NewStore()}, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scanner.Run(context.Background(), now)
	scanner.Run(context.Background(), now.Add(time.Second))

	assert.Equal(t, "expiry-scan", scanner.Name())
	assert.Equal(t, time.Second, scanner.Interval())
	assert.Equal(t, []time.Time{now, now.Add(time.Second)}, ev.calls)
}

func TestExpiredPredictionSettlesIntoLedger(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	require.NoError(t, f.state.Candles.Replace("BTCUSDT", oneMinute, bars(uptrend(40), oneMinute)))
	f.state.Store.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(200)})
	f.engine.CandlesRefreshed("BTCUSDT", oneMinute, nil)

	scanner := NewExpiryScanner(f.state.Predictions, f.state, time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scanner.Run(context.Background(), start)
	p, ok := f.state.Predictions.Active("BTCUSDT", "1m")
	require.True(t, ok)
	assert.Equal(t, 200.0, p.EntryPrice)

	f.state.Store.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(202)})
	scanner.Run(context.Background(), start.Add(time.Minute))

	stats := f.ledger.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 1.0, stats.TotalPL, 1e-9)

	next, ok := f.state.Predictions.Active("BTCUSDT", "1m")
	require.True(t, ok, "slot re-arms on the same pass")
	assert.NotEqual(t, p.ID, next.ID)
	assert.Equal(t, 202.0, next.EntryPrice)
}

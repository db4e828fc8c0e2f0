// Package exchange hosts market data connectors: the streaming feed manager and REST collaborators.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"oracle-go/internal/metrics"
	"oracle-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBybit streams linear perpetual tickers from Bybit v5 public websockets.
	ProviderBybit = "bybit"
	// ProviderBinance streams USDT-M futures tickers and mark prices from Binance.
	ProviderBinance = "binance"
)

// State is the feed connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Feed keeps one streaming connection alive and forwards parsed ticks.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	codec        Codec
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration
	stubInterval time.Duration
	onState      func(State)
	state        atomic.Int32
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultReconnectMin = 3 * time.Second
	defaultReconnectMax = time.Minute
	defaultPingInterval = 15 * time.Second
	defaultStubInterval = 500 * time.Millisecond
)

// WithURL overrides the provider's default stream endpoint.
func WithURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.url = url
		}
	}
}

// WithReconnect sets the backoff window between reconnect attempts.
func WithReconnect(minDelay, maxDelay time.Duration) Option {
	return func(f *Feed) {
		if minDelay > 0 {
			f.reconnectMin = minDelay
		}
		if maxDelay >= f.reconnectMin {
			f.reconnectMax = maxDelay
		}
	}
}

// WithPingInterval overrides the keepalive cadence. Reads time out after two intervals.
func WithPingInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pingInterval = d
		}
	}
}

// WithStubInterval overrides the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStateHandler registers a callback for every state transition.
func WithStateHandler(fn func(State)) Option {
	return func(f *Feed) { f.onState = fn }
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) (*Feed, error) {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		reconnectMin: defaultReconnectMin,
		reconnectMax: defaultReconnectMax,
		pingInterval: defaultPingInterval,
		stubInterval: defaultStubInterval,
	}
	switch f.provider {
	case ProviderStub:
	case ProviderBybit:
		f.codec = bybitCodec{}
	case ProviderBinance:
		f.codec = binanceCodec{}
	default:
		return nil, fmt.Errorf("unknown feed provider %q", provider)
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	if f.codec != nil && f.url == "" {
		f.url = f.codec.URL()
	}
	f.readTimeout = 2 * f.pingInterval
	return f, nil
}

// Provider returns the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// State returns the current connection state.
func (f *Feed) State() State { return State(f.state.Load()) }

func (f *Feed) setState(s State) {
	if State(f.state.Swap(int32(s))) == s {
		return
	}
	metrics.FeedState.WithLabelValues(f.provider).Set(float64(s))
	f.log.Debug().Str("provider", f.provider).Str("state", s.String()).Msg("feed state")
	if f.onState != nil {
		f.onState(s)
	}
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
// The new list is subscribed on the next connection.
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	defer f.setState(StateDisconnected)
	if f.provider == ProviderStub {
		return f.runStub(ctx, out)
	}
	return f.runStream(ctx, out)
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.Tick, tick signal.Tick) error {
	select {
	case out <- tick:
		metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()
	f.setState(StateConnected)

	var step float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			for _, s := range f.snapshotSymbols() {
				base := stubBase(s)
				px := base + 0.1*step
				tick := signal.Tick{
					Symbol:    s,
					Price:     signal.Float(px),
					Change24h: signal.Float((px - base) / base * 100),
					Volume24h: signal.Float(1000 + step),
					Ts:        ts,
				}
				if err := f.emit(ctx, out, tick); err != nil {
					return err
				}
			}
		}
	}
}

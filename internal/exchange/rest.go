package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"oracle-go/internal/candles"
	"oracle-go/internal/signal"
)

// SnapshotSource fetches a full 24h ticker for one instrument.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, symbol string) (signal.Tick, error)
}

// BookSource fetches aggregated order book depth.
type BookSource interface {
	FetchOrderBook(ctx context.Context, symbol string) (signal.BookImbalance, error)
}

// SentimentSource fetches the market-wide sentiment index.
type SentimentSource interface {
	FetchSentiment(ctx context.Context) (signal.Sentiment, error)
}

// MarketSource bundles every per-instrument REST query.
type MarketSource interface {
	candles.Source
	SnapshotSource
	BookSource
}

const (
	defaultBookDepth   = 50
	defaultHTTPTimeout = 10 * time.Second
	userAgent          = "oracle-go/1.0"
)

// NewMarketSource returns the REST collaborator for provider. An empty baseURL
// selects the provider's public endpoint.
func NewMarketSource(provider, baseURL, apiKey, apiSecret string) (MarketSource, error) {
	switch strings.ToLower(provider) {
	case ProviderStub, "":
		return NewStubSource(), nil
	case ProviderBybit:
		return NewBybitREST(baseURL), nil
	case ProviderBinance:
		return NewBinanceREST(baseURL, apiKey, apiSecret), nil
	default:
		return nil, fmt.Errorf("unknown market provider %q", provider)
	}
}

// Retry runs op up to attempts times, sleeping with jittered exponential
// backoff between failures. It gives up early when ctx ends.
func Retry[T any](ctx context.Context, attempts int, minDelay, maxDelay time.Duration, op func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{Min: minDelay, Max: maxDelay, Factor: 2, Jitter: true}
	var (
		zero T
		err  error
	)
	for i := 0; i < attempts; i++ {
		var v T
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, err)
}

package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/sync/errgroup"

	"oracle-go/internal/signal"
)

// BinanceREST queries USDT-M futures market data through go-binance.
type BinanceREST struct {
	client *futures.Client
	depth  int
}

// NewBinanceREST builds a client. Public endpoints work without credentials.
func NewBinanceREST(baseURL, apiKey, apiSecret string) *BinanceREST {
	client := binance.NewFuturesClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &BinanceREST{client: client, depth: defaultBookDepth}
}

// FetchCandles returns ascending klines for h.
func (b *BinanceREST) FetchCandles(ctx context.Context, symbol string, h signal.Horizon, limit int) ([]signal.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(binanceInterval(h)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, h.Key, err)
	}
	out := make([]signal.Candle, 0, len(klines))
	for _, k := range klines {
		c, ok := candleFromStrings(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if !ok {
			return nil, fmt.Errorf("binance klines %s %s: unparseable bar at %d", symbol, h.Key, k.OpenTime)
		}
		out = append(out, c)
	}
	return out, nil
}

// FetchSnapshot merges the 24h ticker with the premium index funding rate.
func (b *BinanceREST) FetchSnapshot(ctx context.Context, symbol string) (signal.Tick, error) {
	symbol = strings.ToUpper(symbol)
	var (
		stats   []*futures.PriceChangeStats
		premium []*futures.PremiumIndex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		premium, err = b.client.NewPremiumIndexService().Symbol(symbol).Do(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return signal.Tick{}, fmt.Errorf("binance snapshot %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return signal.Tick{}, fmt.Errorf("binance snapshot %s: empty ticker", symbol)
	}
	s := stats[0]
	tick := signal.Tick{
		Symbol:    symbol,
		Price:     parseNumber(s.LastPrice),
		Change24h: parseNumber(s.PriceChangePercent),
		High24h:   parseNumber(s.HighPrice),
		Low24h:    parseNumber(s.LowPrice),
		Volume24h: parseNumber(s.Volume),
	}
	if s.CloseTime > 0 {
		tick.Ts = time.UnixMilli(s.CloseTime).UTC()
	}
	for _, p := range premium {
		if strings.EqualFold(p.Symbol, symbol) {
			tick.FundingRate = parseNumber(p.LastFundingRate)
		}
	}
	return tick, nil
}

// FetchOrderBook sums bid and ask quantity over the top levels.
func (b *BinanceREST) FetchOrderBook(ctx context.Context, symbol string) (signal.BookImbalance, error) {
	res, err := b.client.NewDepthService().Symbol(strings.ToUpper(symbol)).Limit(b.depth).Do(ctx)
	if err != nil {
		return signal.BookImbalance{}, fmt.Errorf("binance depth %s: %w", symbol, err)
	}
	var book signal.BookImbalance
	for _, bid := range res.Bids {
		if q, ok := mustNumber(bid.Quantity); ok {
			book.BidVolume += q
		}
	}
	for _, ask := range res.Asks {
		if q, ok := mustNumber(ask.Quantity); ok {
			book.AskVolume += q
		}
	}
	return book, nil
}

func binanceInterval(h signal.Horizon) string {
	switch {
	case h.Duration >= 24*time.Hour:
		return "1d"
	case h.Duration >= time.Hour:
		return fmt.Sprintf("%dh", int(h.Duration/time.Hour))
	default:
		return fmt.Sprintf("%dm", max(1, int(h.Duration/time.Minute)))
	}
}

func candleFromStrings(openMs int64, o, h, l, c, v string) (signal.Candle, bool) {
	var (
		bar signal.Candle
		ok  bool
	)
	bar.OpenTime = time.UnixMilli(openMs).UTC()
	if bar.Open, ok = mustNumber(o); !ok {
		return bar, false
	}
	if bar.High, ok = mustNumber(h); !ok {
		return bar, false
	}
	if bar.Low, ok = mustNumber(l); !ok {
		return bar, false
	}
	if bar.Close, ok = mustNumber(c); !ok {
		return bar, false
	}
	if bar.Volume, ok = mustNumber(v); !ok {
		return bar, false
	}
	return bar, true
}

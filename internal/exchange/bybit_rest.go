package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"oracle-go/internal/signal"
)

const bybitRESTURL = "https://api.bybit.com"

// BybitREST queries Bybit v5 linear market endpoints.
type BybitREST struct {
	client  *http.Client
	baseURL string
	depth   int
}

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type bybitKlineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type bybitTickerResult struct {
	List []bybitTickerData `json:"list"`
}

type bybitBookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

// NewBybitREST builds a client against baseURL, or the public API when empty.
func NewBybitREST(baseURL string) *BybitREST {
	if baseURL == "" {
		baseURL = bybitRESTURL
	}
	return &BybitREST{
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		depth:   defaultBookDepth,
	}
}

// FetchCandles returns ascending klines. Bybit lists newest first.
func (b *BybitREST) FetchCandles(ctx context.Context, symbol string, h signal.Horizon, limit int) ([]signal.Candle, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", bybitInterval(h))
	q.Set("limit", strconv.Itoa(limit))
	var res bybitKlineResult
	if _, err := getBybit(ctx, b, "/v5/market/kline", q, &res); err != nil {
		return nil, fmt.Errorf("bybit klines %s %s: %w", symbol, h.Key, err)
	}
	out := make([]signal.Candle, 0, len(res.List))
	for _, row := range res.List {
		if len(row) < 6 {
			return nil, fmt.Errorf("bybit klines %s %s: short row %v", symbol, h.Key, row)
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit klines %s %s: start %q: %w", symbol, h.Key, row[0], err)
		}
		c, ok := candleFromStrings(start, row[1], row[2], row[3], row[4], row[5])
		if !ok {
			return nil, fmt.Errorf("bybit klines %s %s: unparseable bar at %d", symbol, h.Key, start)
		}
		out = append(out, c)
	}
	slices.Reverse(out)
	return out, nil
}

// FetchSnapshot returns the full linear ticker including funding.
func (b *BybitREST) FetchSnapshot(ctx context.Context, symbol string) (signal.Tick, error) {
	symbol = strings.ToUpper(symbol)
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	var res bybitTickerResult
	serverTime, err := getBybit(ctx, b, "/v5/market/tickers", q, &res)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("bybit ticker %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return signal.Tick{}, fmt.Errorf("bybit ticker %s: empty list", symbol)
	}
	d := res.List[0]
	tick := signal.Tick{
		Symbol:      symbol,
		Price:       parseNumber(d.LastPrice),
		High24h:     parseNumber(d.HighPrice24h),
		Low24h:      parseNumber(d.LowPrice24h),
		Volume24h:   parseNumber(d.Volume24h),
		FundingRate: parseNumber(d.FundingRate),
		Ts:          serverTime,
	}
	if pct := parseNumber(d.Price24hPcnt); pct != nil {
		tick.Change24h = signal.Float(*pct * 100)
	}
	return tick, nil
}

// FetchOrderBook sums resting size over the top levels.
func (b *BybitREST) FetchOrderBook(ctx context.Context, symbol string) (signal.BookImbalance, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(b.depth))
	var res bybitBookResult
	if _, err := getBybit(ctx, b, "/v5/market/orderbook", q, &res); err != nil {
		return signal.BookImbalance{}, fmt.Errorf("bybit orderbook %s: %w", symbol, err)
	}
	return signal.BookImbalance{BidVolume: sumLevels(res.Bids), AskVolume: sumLevels(res.Asks)}, nil
}

// getBybit decodes the result into out and returns the server timestamp,
// zero when the response carries none.
func getBybit[T any](ctx context.Context, b *BybitREST, path string, q url.Values, out *T) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := b.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, fmt.Errorf("read body: %w", err)
	}
	var env bybitResponse[T]
	if err := sonic.Unmarshal(body, &env); err != nil {
		return time.Time{}, fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != 0 {
		return time.Time{}, fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}
	*out = env.Result
	if env.Time <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(env.Time).UTC(), nil
}

func sumLevels(levels [][]string) float64 {
	var total float64
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		if size, ok := mustNumber(lvl[1]); ok {
			total += size
		}
	}
	return total
}

func bybitInterval(h signal.Horizon) string {
	switch {
	case h.Duration >= 24*time.Hour:
		return "D"
	default:
		return strconv.Itoa(max(1, int(h.Duration/time.Minute)))
	}
}

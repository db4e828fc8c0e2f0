package exchange

import (
	"context"
	"math"
	"strings"
	"time"

	"oracle-go/internal/signal"
)

// StubSource serves deterministic synthetic market data for offline runs.
type StubSource struct {
	now func() time.Time
}

// NewStubSource returns a StubSource anchored to the wall clock.
func NewStubSource() *StubSource {
	return &StubSource{now: time.Now}
}

func stubBase(symbol string) float64 {
	var h uint32 = 2166136261
	for _, c := range strings.ToUpper(symbol) {
		h = (h ^ uint32(c)) * 16777619
	}
	return 10 + float64(h%1000)
}

// FetchCandles returns limit bars ending at the current horizon boundary.
func (s *StubSource) FetchCandles(_ context.Context, symbol string, h signal.Horizon, limit int) ([]signal.Candle, error) {
	base := stubBase(symbol)
	step := h.Duration
	if step <= 0 {
		step = time.Minute
	}
	end := s.now().UTC().Truncate(step)
	out := make([]signal.Candle, limit)
	for i := 0; i < limit; i++ {
		x := float64(i)
		open := base * (1 + 0.01*math.Sin(x/5))
		closePx := base * (1 + 0.01*math.Sin((x+1)/5))
		out[i] = signal.Candle{
			OpenTime: end.Add(-time.Duration(limit-i) * step),
			Open:     open,
			High:     math.Max(open, closePx) * 1.001,
			Low:      math.Min(open, closePx) * 0.999,
			Close:    closePx,
			Volume:   1000 + 10*x,
		}
	}
	return out, nil
}

// FetchSnapshot returns a flat ticker around the symbol's base price.
func (s *StubSource) FetchSnapshot(_ context.Context, symbol string) (signal.Tick, error) {
	base := stubBase(symbol)
	return signal.Tick{
		Symbol:      strings.ToUpper(symbol),
		Price:       signal.Float(base),
		Change24h:   signal.Float(0),
		High24h:     signal.Float(base * 1.02),
		Low24h:      signal.Float(base * 0.98),
		Volume24h:   signal.Float(1e6),
		FundingRate: signal.Float(0.0001),
		Ts:          s.now().UTC(),
	}, nil
}

// FetchOrderBook returns a mildly bid-heavy book.
func (s *StubSource) FetchOrderBook(context.Context, string) (signal.BookImbalance, error) {
	return signal.BookImbalance{BidVolume: 60, AskVolume: 40}, nil
}

// FetchSentiment returns a neutral reading.
func (s *StubSource) FetchSentiment(context.Context) (signal.Sentiment, error) {
	return signal.Sentiment{Value: 50, Label: "Neutral", UpdatedAt: s.now().UTC()}, nil
}

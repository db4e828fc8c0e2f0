package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"oracle-go/internal/signal"
)

const bybitStreamURL = "wss://stream.bybit.com/v5/public/linear"

type bybitCodec struct{}

type bybitSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitMessage struct {
	Op      string           `json:"op"`
	Success *bool            `json:"success"`
	RetMsg  string           `json:"ret_msg"`
	Topic   string           `json:"topic"`
	Type    string           `json:"type"`
	Ts      int64            `json:"ts"`
	Data    *bybitTickerData `json:"data"`
}

type bybitTickerData struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
	FundingRate  string `json:"fundingRate"`
}

func (bybitCodec) URL() string { return bybitStreamURL }

func (bybitCodec) SubscribeMessage(symbols []string) ([]byte, error) {
	args := make([]string, len(symbols))
	for i, sym := range symbols {
		args[i] = "tickers." + strings.ToUpper(sym)
	}
	return sonic.Marshal(bybitSubscribe{Op: "subscribe", Args: args})
}

func (bybitCodec) Decode(msg []byte) ([]signal.Tick, error) {
	var m bybitMessage
	if err := sonic.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			return nil, fmt.Errorf("bybit %s rejected: %s", m.Op, m.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Topic, "tickers.") {
		return nil, nil
	}
	if m.Data == nil {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformed, m.Topic)
	}
	d := m.Data
	symbol := d.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(m.Topic, "tickers.")
	}
	tick := signal.Tick{
		Symbol:      strings.ToUpper(symbol),
		Price:       parseNumber(d.LastPrice),
		High24h:     parseNumber(d.HighPrice24h),
		Low24h:      parseNumber(d.LowPrice24h),
		Volume24h:   parseNumber(d.Volume24h),
		FundingRate: parseNumber(d.FundingRate),
		Ts:          time.UnixMilli(m.Ts),
	}
	// bybit reports the daily change as a fraction
	if pct := parseNumber(d.Price24hPcnt); pct != nil {
		tick.Change24h = signal.Float(*pct * 100)
	}
	return []signal.Tick{tick}, nil
}

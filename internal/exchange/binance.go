package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"oracle-go/internal/signal"
)

const binanceStreamURL = "wss://fstream.binance.com/ws"

type binanceCodec struct{}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// binanceEvent covers both 24hrTicker and markPriceUpdate payloads. Binance
// reuses letters with different case, so every variant is declared to keep
// the decoder from folding them together.
type binanceEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`

	Close       string `json:"c"`
	CloseTime   int64  `json:"C"`
	ChangeRaw   string `json:"p"`
	ChangePct   string `json:"P"`
	High        string `json:"h"`
	Low         string `json:"l"`
	LastTradeID int64  `json:"L"`
	Volume      string `json:"v"`
	FundingRate string `json:"r"`

	ID     *int64 `json:"id"`
	Result any    `json:"result"`
}

func (binanceCodec) URL() string { return binanceStreamURL }

func (binanceCodec) SubscribeMessage(symbols []string) ([]byte, error) {
	params := make([]string, 0, 2*len(symbols))
	for _, sym := range symbols {
		s := strings.ToLower(sym)
		params = append(params, s+"@ticker", s+"@markPrice")
	}
	return sonic.Marshal(binanceSubscribe{Method: "SUBSCRIBE", Params: params, ID: 1})
}

func (binanceCodec) Decode(msg []byte) ([]signal.Tick, error) {
	var ev binanceEvent
	if err := sonic.Unmarshal(msg, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.ID != nil {
		return nil, nil
	}
	if ev.Symbol == "" {
		return nil, fmt.Errorf("%w: event %q without symbol", ErrMalformed, ev.Event)
	}
	tick := signal.Tick{Symbol: strings.ToUpper(ev.Symbol), Ts: time.UnixMilli(ev.EventTime)}
	switch ev.Event {
	case "24hrTicker":
		tick.Price = parseNumber(ev.Close)
		tick.Change24h = parseNumber(ev.ChangePct)
		tick.High24h = parseNumber(ev.High)
		tick.Low24h = parseNumber(ev.Low)
		tick.Volume24h = parseNumber(ev.Volume)
	case "markPriceUpdate":
		tick.FundingRate = parseNumber(ev.FundingRate)
	default:
		return nil, nil
	}
	return []signal.Tick{tick}, nil
}

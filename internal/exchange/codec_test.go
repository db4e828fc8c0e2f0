package exchange

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bytedance/sonic"
)

func TestBybitDecodeSnapshot(t *testing.T) {
	msg := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT","lastPrice":"43000.5","price24hPcnt":"0.0125","highPrice24h":"44000","lowPrice24h":"42000","volume24h":"1234.5","fundingRate":"0.0001"}}`)
	ticks, err := bybitCodec{}.Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected one tick, got %d", len(ticks))
	}
	tk := ticks[0]
	if tk.Symbol != "BTCUSDT" || *tk.Price != 43000.5 || *tk.High24h != 44000 || *tk.Low24h != 42000 {
		t.Fatalf("unexpected tick %+v", tk)
	}
	if got := *tk.Change24h; got < 1.2499 || got > 1.2501 {
		t.Fatalf("expected change in percent, got %v", got)
	}
	if *tk.FundingRate != 0.0001 || *tk.Volume24h != 1234.5 {
		t.Fatalf("unexpected funding/volume %+v", tk)
	}
	if tk.Ts.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected ts %v", tk.Ts)
	}
}

func TestBybitDecodeDeltaCarriesOnlyPresentFields(t *testing.T) {
	msg := []byte(`{"topic":"tickers.ETHUSDT","type":"delta","ts":1,"data":{"symbol":"ETHUSDT","lastPrice":"2200","fundingRate":"bogus"}}`)
	ticks, err := bybitCodec{}.Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tk := ticks[0]
	if tk.Price == nil || *tk.Price != 2200 {
		t.Fatalf("expected price, got %+v", tk)
	}
	if tk.Change24h != nil || tk.High24h != nil || tk.Low24h != nil || tk.Volume24h != nil || tk.FundingRate != nil {
		t.Fatalf("absent or unparseable fields must stay nil: %+v", tk)
	}
}

func TestBybitDecodeControlAndMalformed(t *testing.T) {
	c := bybitCodec{}
	ticks, err := c.Decode([]byte(`{"op":"pong","success":true}`))
	if err != nil || ticks != nil {
		t.Fatalf("expected ack to be ignored, got %v %v", ticks, err)
	}
	if _, err := c.Decode([]byte(`{"op":"subscribe","success":false,"ret_msg":"bad topic"}`)); err == nil {
		t.Fatal("expected rejected subscription to error")
	}
	if _, err := c.Decode([]byte(`{"topic":`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := c.Decode([]byte(`{"topic":"tickers.BTCUSDT","type":"delta"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing data, got %v", err)
	}
}

func TestBinanceSubscribeMessage(t *testing.T) {
	raw, err := binanceCodec{}.SubscribeMessage([]string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var sub binanceSubscribe
	if err := sonic.Unmarshal(raw, &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"btcusdt@ticker", "btcusdt@markPrice", "ethusdt@ticker", "ethusdt@markPrice"}
	if sub.Method != "SUBSCRIBE" || !reflect.DeepEqual(sub.Params, want) {
		t.Fatalf("unexpected subscribe %+v", sub)
	}
}

func TestBinanceDecodeEvents(t *testing.T) {
	c := binanceCodec{}
	ticker := []byte(`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","p":"500.0","P":"1.180","w":"42500","c":"43000.10","Q":"0.01","o":"42500","h":"43500","l":"42000","v":"9876.5","q":"1","O":0,"C":1700000000000,"F":1,"L":99,"n":99}`)
	ticks, err := c.Decode(ticker)
	if err != nil {
		t.Fatalf("decode ticker: %v", err)
	}
	tk := ticks[0]
	if tk.Symbol != "BTCUSDT" || *tk.Price != 43000.10 || *tk.Change24h != 1.18 || *tk.High24h != 43500 || *tk.Low24h != 42000 || *tk.Volume24h != 9876.5 {
		t.Fatalf("unexpected ticker tick %+v", tk)
	}
	if tk.FundingRate != nil {
		t.Fatal("ticker events carry no funding")
	}

	mark := []byte(`{"e":"markPriceUpdate","E":1700000001000,"s":"BTCUSDT","p":"43001.0","i":"43000.0","P":"43002.0","r":"-0.00025","T":1700006400000}`)
	ticks, err = c.Decode(mark)
	if err != nil {
		t.Fatalf("decode mark: %v", err)
	}
	tk = ticks[0]
	if tk.FundingRate == nil || *tk.FundingRate != -0.00025 {
		t.Fatalf("expected funding rate, got %+v", tk)
	}
	if tk.Price != nil || tk.Change24h != nil {
		t.Fatalf("mark price events only carry funding: %+v", tk)
	}

	ticks, err = c.Decode([]byte(`{"result":null,"id":1}`))
	if err != nil || ticks != nil {
		t.Fatalf("expected ack to be ignored, got %v %v", ticks, err)
	}
	if _, err := c.Decode([]byte(`[1,2`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

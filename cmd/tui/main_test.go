package main

import (
	"bufio"
	"strings"
	"testing"

	"oracle-go/internal/config"
)

func TestPromptFloatKeepsCurrentOnBlankOrGarbage(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\nabc\n2.5\n"))
	if got := promptFloat(r, "x", 1); got != 1 {
		t.Fatalf("blank input should keep current, got %v", got)
	}
	if got := promptFloat(r, "x", 1); got != 1 {
		t.Fatalf("invalid input should keep current, got %v", got)
	}
	if got := promptFloat(r, "x", 1); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
}

func TestEditInstrumentsNormalizes(t *testing.T) {
	cfg := config.Default()
	r := bufio.NewReader(strings.NewReader("Binance\n btcusdt, solusdt ,\n"))
	editInstruments(r, cfg)
	if cfg.Exchange.Provider != "binance" {
		t.Fatalf("unexpected provider %q", cfg.Exchange.Provider)
	}
	if strings.Join(cfg.Exchange.Symbols, ",") != "BTCUSDT,SOLUSDT" {
		t.Fatalf("unexpected symbols %v", cfg.Exchange.Symbols)
	}
}

func TestAPIBase(t *testing.T) {
	if got := apiBase(":8080"); got != "http://localhost:8080" {
		t.Fatalf("unexpected base %q", got)
	}
	if got := apiBase("10.0.0.1:9000"); got != "http://10.0.0.1:9000" {
		t.Fatalf("unexpected base %q", got)
	}
}

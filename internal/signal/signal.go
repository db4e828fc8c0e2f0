// Package signal standardizes payloads shared between data ingestion, scoring, and prediction layers.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// Tick models a partial market update. Nil fields were not carried by the source message.
type Tick struct {
	Symbol      string
	Price       *float64
	Change24h   *float64 // percent
	High24h     *float64
	Low24h      *float64
	Volume24h   *float64
	FundingRate *float64
	Ts          time.Time
}

// Float returns a pointer to v for building ticks.
func Float(v float64) *float64 { return &v }

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Horizon is a fixed lookahead defining one prediction slot per instrument.
type Horizon struct {
	Key      string        `json:"key"`
	Duration time.Duration `json:"duration"`
}

// Seconds returns the horizon length in seconds.
func (h Horizon) Seconds() float64 { return h.Duration.Seconds() }

// Direction is the directional bias of a classified score.
type Direction int

const (
	Neutral Direction = 0
	Long    Direction = 1
	Short   Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "NEUTRAL"
	}
}

// Sign returns +1 for long, -1 for short and 0 for neutral.
func (d Direction) Sign() float64 { return float64(d) }

// MarshalText renders the direction as its upper-case name.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText parses LONG, SHORT or NEUTRAL.
func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "LONG":
		*d = Long
	case "SHORT":
		*d = Short
	case "NEUTRAL", "":
		*d = Neutral
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// Sentiment is an instrument-independent 0-100 market mood index.
type Sentiment struct {
	Value     float64   `json:"value"`
	Label     string    `json:"label"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookImbalance aggregates resting volume on each side of an order book.
type BookImbalance struct {
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
}

// Ratio returns (bid-ask)/(bid+ask), or false when the book is empty.
func (b BookImbalance) Ratio() (float64, bool) {
	total := b.BidVolume + b.AskVolume
	if total <= 0 {
		return 0, false
	}
	return (b.BidVolume - b.AskVolume) / total, true
}

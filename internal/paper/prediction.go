package paper

import (
	"time"

	"oracle-go/internal/signal"
)

// Status is the lifecycle state of a Prediction.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusWon    Status = "WON"
	StatusLost   Status = "LOST"
)

// Prediction is a directional call on one (instrument, horizon) slot.
type Prediction struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Horizon     string           `json:"horizon"`
	EntryPrice  float64          `json:"entry_price"`
	TargetPrice float64          `json:"target_price"`
	Direction   signal.Direction `json:"direction"`
	Confidence  float64          `json:"confidence"`
	CPS         float64          `json:"cps"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Status      Status           `json:"status"`
	ExitPrice   float64          `json:"exit_price,omitempty"`
	PL          float64          `json:"pl"`
	Accuracy    float64          `json:"accuracy"`
}

// PredictedChange is the fractional move implied by the target.
func (p Prediction) PredictedChange() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.TargetPrice - p.EntryPrice) / p.EntryPrice
}

// Remaining returns the time left until expiry, floored at zero.
func (p Prediction) Remaining(now time.Time) time.Duration {
	if d := p.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TradeRecord is the immutable outcome of a settled prediction.
type TradeRecord struct {
	Prediction
	SettledAt time.Time `json:"settled_at"`
}

// Won reports whether the trade closed with non-negative P&L.
func (r TradeRecord) Won() bool { return r.Status == StatusWon }

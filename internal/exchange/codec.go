package exchange

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"oracle-go/internal/signal"
)

// ErrMalformed marks a stream message that could not be decoded.
var ErrMalformed = errors.New("malformed stream message")

// Codec translates between a provider's websocket dialect and ticks.
type Codec interface {
	// URL is the provider's default public stream endpoint.
	URL() string
	// SubscribeMessage builds one subscription request covering every symbol.
	SubscribeMessage(symbols []string) ([]byte, error)
	// Decode returns the ticks carried by msg. Control frames (acks, pongs)
	// decode to nil ticks and a nil error.
	Decode(msg []byte) ([]signal.Tick, error)
}

// parseNumber reads an exchange decimal string. Empty or non-finite values are absent.
func parseNumber(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func mustNumber(raw string) (float64, bool) {
	v := parseNumber(raw)
	if v == nil {
		return 0, false
	}
	return *v, true
}

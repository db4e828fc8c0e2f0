// Package candles caches fixed-size OHLCV windows per (instrument, horizon).
package candles

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"oracle-go/internal/signal"
)

// DefaultCapacity is the number of candles kept per entry.
const DefaultCapacity = 100

var (
	// ErrInvalidWindow reports a fetched window that failed validation.
	ErrInvalidWindow = errors.New("invalid candle window")
	// ErrStale reports a refresh result superseded by a newer one.
	ErrStale = errors.New("stale candle refresh")
)

// Source fetches ascending OHLCV history.
type Source interface {
	FetchCandles(ctx context.Context, symbol string, h signal.Horizon, limit int) ([]signal.Candle, error)
}

// Series exposes the cached window as parallel slices, oldest first.
type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Close) }

type key struct {
	symbol  string
	horizon string
}

type entry struct {
	candles   []signal.Candle
	issued    uint64
	applied   uint64
	updatedAt time.Time
}

// Cache holds validated candle windows. Entries are replaced wholesale.
type Cache struct {
	mu       sync.RWMutex
	source   Source
	capacity int
	entries  map[key]*entry
}

// NewCache builds a cache backed by source. Capacity <= 0 selects DefaultCapacity.
func NewCache(source Source, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{source: source, capacity: capacity, entries: make(map[key]*entry)}
}

// Capacity returns the window size requested on refresh.
func (c *Cache) Capacity() int { return c.capacity }

func (c *Cache) entryLocked(k key) *entry {
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	return e
}

// Refresh fetches a new window and swaps it in once validated. On any failure
// the previous window stays in place. A result that completes after a newer
// refresh of the same key was applied is discarded with ErrStale.
func (c *Cache) Refresh(ctx context.Context, symbol string, h signal.Horizon) error {
	k := key{symbol, h.Key}
	c.mu.Lock()
	e := c.entryLocked(k)
	e.issued++
	seq := e.issued
	c.mu.Unlock()

	bars, err := c.source.FetchCandles(ctx, symbol, h, c.capacity)
	if err != nil {
		return fmt.Errorf("fetch candles %s/%s: %w", symbol, h.Key, err)
	}
	bars, err = c.prepare(bars)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", symbol, h.Key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= e.applied {
		return ErrStale
	}
	e.candles = bars
	e.applied = seq
	e.updatedAt = time.Now()
	return nil
}

// Replace validates and installs bars directly.
func (c *Cache) Replace(symbol string, h signal.Horizon, bars []signal.Candle) error {
	bars, err := c.prepare(bars)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key{symbol, h.Key})
	e.issued++
	e.applied = e.issued
	e.candles = bars
	e.updatedAt = time.Now()
	return nil
}

func (c *Cache) prepare(bars []signal.Candle) ([]signal.Candle, error) {
	if err := Validate(bars); err != nil {
		return nil, err
	}
	if len(bars) > c.capacity {
		bars = bars[len(bars)-c.capacity:]
	}
	out := make([]signal.Candle, len(bars))
	copy(out, bars)
	return out, nil
}

// Validate checks ordering and numeric sanity of a window.
func Validate(bars []signal.Candle) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidWindow)
	}
	for i, b := range bars {
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: bar %d has non-positive price", ErrInvalidWindow, i)
			}
		}
		if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
			return fmt.Errorf("%w: bar %d has bad volume", ErrInvalidWindow, i)
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: bar %d high below low", ErrInvalidWindow, i)
		}
		if i > 0 && !b.OpenTime.After(bars[i-1].OpenTime) {
			return fmt.Errorf("%w: bar %d out of order", ErrInvalidWindow, i)
		}
	}
	return nil
}

// Series returns the cached window as slices, empty when not populated.
func (c *Cache) Series(symbol string, h signal.Horizon) Series {
	c.mu.RLock()
	e, ok := c.entries[key{symbol, h.Key}]
	var bars []signal.Candle
	if ok {
		bars = e.candles
	}
	c.mu.RUnlock()
	return Series{
		Open:   lo.Map(bars, func(b signal.Candle, _ int) float64 { return b.Open }),
		High:   lo.Map(bars, func(b signal.Candle, _ int) float64 { return b.High }),
		Low:    lo.Map(bars, func(b signal.Candle, _ int) float64 { return b.Low }),
		Close:  lo.Map(bars, func(b signal.Candle, _ int) float64 { return b.Close }),
		Volume: lo.Map(bars, func(b signal.Candle, _ int) float64 { return b.Volume }),
	}
}

// Candles returns a copy of the cached bars.
func (c *Cache) Candles(symbol string, h signal.Horizon) []signal.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{symbol, h.Key}]
	if !ok {
		return nil
	}
	out := make([]signal.Candle, len(e.candles))
	copy(out, e.candles)
	return out
}

// UpdatedAt reports when the entry was last replaced.
func (c *Cache) UpdatedAt(symbol string, h signal.Horizon) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{symbol, h.Key}]
	if !ok || e.updatedAt.IsZero() {
		return time.Time{}, false
	}
	return e.updatedAt, true
}

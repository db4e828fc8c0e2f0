// Package market keeps the latest per-instrument snapshot merged from partial updates.
package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"oracle-go/internal/signal"
)

// Snapshot is the merged view of one instrument. Zero means "never received".
type Snapshot struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Change24h   float64   `json:"change_24h"`
	High24h     float64   `json:"high_24h"`
	Low24h      float64   `json:"low_24h"`
	Volume24h   float64   `json:"volume_24h"`
	FundingRate float64   `json:"funding_rate"`
	HasFunding  bool      `json:"has_funding"`
	LastUpdate  time.Time `json:"last_update"`
}

// Store owns every Snapshot. Writers go through ApplyTick only.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
	// newest source timestamp merged per symbol; untimed ticks do not move it
	sourceTs map[string]time.Time
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		snaps:    make(map[string]*Snapshot),
		sourceTs: make(map[string]time.Time),
		now:      time.Now,
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func positive(p *float64) (float64, bool) {
	if p == nil || !finite(*p) || *p <= 0 {
		return 0, false
	}
	return *p, true
}

func nonNegative(p *float64) (float64, bool) {
	if p == nil || !finite(*p) || *p < 0 {
		return 0, false
	}
	return *p, true
}

func anyFinite(p *float64) (float64, bool) {
	if p == nil || !finite(*p) {
		return 0, false
	}
	return *p, true
}

// ApplyTick merges the valid fields of tick into the instrument snapshot.
// Invalid or absent fields never overwrite stored values. A tick carrying no
// valid field is a no-op and does not create a snapshot. A timestamped tick
// older than the newest timestamped tick already merged is a no-op as well.
func (s *Store) ApplyTick(tick signal.Tick) (Snapshot, bool) {
	if tick.Symbol == "" {
		return Snapshot{}, false
	}

	price, okPrice := positive(tick.Price)
	high, okHigh := positive(tick.High24h)
	low, okLow := positive(tick.Low24h)
	vol, okVol := nonNegative(tick.Volume24h)
	chg, okChg := anyFinite(tick.Change24h)
	fund, okFund := anyFinite(tick.FundingRate)
	if !(okPrice || okHigh || okLow || okVol || okChg || okFund) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if snap, ok := s.snaps[tick.Symbol]; ok {
			return *snap, false
		}
		return Snapshot{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[tick.Symbol]
	if ok && !tick.Ts.IsZero() && tick.Ts.Before(s.sourceTs[tick.Symbol]) {
		return *snap, false
	}
	if !tick.Ts.IsZero() {
		s.sourceTs[tick.Symbol] = tick.Ts
	}
	if !ok {
		snap = &Snapshot{Symbol: tick.Symbol}
		s.snaps[tick.Symbol] = snap
	}
	if okPrice {
		snap.Price = price
	}
	if okHigh {
		snap.High24h = high
	}
	if okLow {
		snap.Low24h = low
	}
	if okVol {
		snap.Volume24h = vol
	}
	if okChg {
		snap.Change24h = chg
	}
	if okFund {
		snap.FundingRate = fund
		snap.HasFunding = true
	}
	ts := tick.Ts
	if ts.IsZero() {
		ts = s.now()
	}
	if ts.After(snap.LastUpdate) {
		snap.LastUpdate = ts
	}
	return *snap, true
}

// Get returns a copy of the snapshot, or false when the instrument is unloaded.
func (s *Store) Get(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Price returns the last valid price for symbol.
func (s *Store) Price(symbol string) (float64, bool) {
	snap, ok := s.Get(symbol)
	if !ok || snap.Price <= 0 {
		return 0, false
	}
	return snap.Price, true
}

// Funding returns the last funding rate if one was ever received.
func (s *Store) Funding(symbol string) (float64, bool) {
	snap, ok := s.Get(symbol)
	if !ok || !snap.HasFunding {
		return 0, false
	}
	return snap.FundingRate, true
}

// All returns every snapshot sorted by symbol.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, *snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

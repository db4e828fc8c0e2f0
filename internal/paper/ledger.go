package paper

import (
	"sync"

	"github.com/rs/zerolog"

	"oracle-go/internal/metrics"
)

// DefaultHistorySize bounds the in-memory trade history.
const DefaultHistorySize = 20

// Stats are running aggregates over every settlement ever recorded.
type Stats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	TotalPL float64 `json:"total_pl"`
}

// WinRate returns wins as a percentage of total settlements.
func (s Stats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total) * 100
}

// TradeRecorder receives every settlement after the ledger has counted it.
type TradeRecorder interface {
	Record(rec TradeRecord, stats Stats) error
}

// Ledger stores a bounded, newest-first trade history plus unbounded statistics.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	history  []TradeRecord
	stats    Stats
	sinks    []TradeRecorder
	log      zerolog.Logger
}

// NewLedger creates an empty ledger. Capacity <= 0 selects DefaultHistorySize.
func NewLedger(capacity int, log zerolog.Logger, sinks ...TradeRecorder) *Ledger {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Ledger{
		capacity: capacity,
		history:  make([]TradeRecord, 0, capacity),
		sinks:    sinks,
		log:      log,
	}
}

// AddSink attaches another recorder.
func (l *Ledger) AddSink(sink TradeRecorder) {
	l.mu.Lock()
	l.sinks = append(l.sinks, sink)
	l.mu.Unlock()
}

// Record prepends rec, evicts beyond capacity, and updates stats in one step.
// Sinks run afterwards; their failures are logged and never undo the count.
func (l *Ledger) Record(rec TradeRecord) {
	l.mu.Lock()
	l.history = append(l.history, TradeRecord{})
	copy(l.history[1:], l.history)
	l.history[0] = rec
	if len(l.history) > l.capacity {
		l.history = l.history[:l.capacity]
	}
	l.stats.Total++
	if rec.Won() {
		l.stats.Wins++
	} else {
		l.stats.Losses++
	}
	l.stats.TotalPL += rec.PL
	stats := l.stats
	sinks := append([]TradeRecorder(nil), l.sinks...)
	l.mu.Unlock()

	metrics.SettledPL.Set(stats.TotalPL)
	for _, sink := range sinks {
		if err := sink.Record(rec, stats); err != nil {
			l.log.Warn().Err(err).Str("id", rec.ID).Msg("trade sink failed")
		}
	}
}

// History returns a copy of the retained records, newest first.
func (l *Ledger) History() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Stats returns the running aggregates.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Restore seeds the ledger from durable storage. History must be newest first.
func (l *Ledger) Restore(stats Stats, history []TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = stats
	if len(history) > l.capacity {
		history = history[:l.capacity]
	}
	l.history = append(l.history[:0], history...)
	metrics.SettledPL.Set(stats.TotalPL)
}


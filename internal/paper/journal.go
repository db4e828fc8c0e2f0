package paper

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"oracle-go/internal/signal"
)

// Journal persists settled trades to SQLite so statistics survive restarts.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens (or creates) a SQLite journal database.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS settlements (
		id           TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		horizon      TEXT NOT NULL,
		direction    TEXT NOT NULL,
		entry_price  REAL NOT NULL,
		target_price REAL NOT NULL,
		exit_price   REAL NOT NULL,
		confidence   REAL NOT NULL,
		cps          REAL NOT NULL,
		pl           REAL NOT NULL,
		accuracy     REAL NOT NULL,
		status       TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		expires_at   TEXT NOT NULL,
		settled_at   TEXT NOT NULL,
		seq          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_symbol ON settlements(symbol, horizon);
	CREATE INDEX IF NOT EXISTS idx_settlements_seq ON settlements(seq);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record inserts rec. Replaying the same prediction id is ignored.
func (j *Journal) Record(rec TradeRecord, _ Stats) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO settlements
		 (id, symbol, horizon, direction, entry_price, target_price, exit_price, confidence, cps, pl, accuracy, status, created_at, expires_at, settled_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM settlements))`,
		rec.ID,
		rec.Symbol,
		rec.Horizon,
		rec.Direction.String(),
		rec.EntryPrice,
		rec.TargetPrice,
		rec.ExitPrice,
		rec.Confidence,
		rec.CPS,
		rec.PL,
		rec.Accuracy,
		string(rec.Status),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		rec.SettledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", rec.ID, err)
	}
	return nil
}

// Stats aggregates every journaled settlement.
func (j *Journal) Stats() (Stats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var s Stats
	err := j.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(pl), 0)
		 FROM settlements`, string(StatusWon)).Scan(&s.Total, &s.Wins, &s.TotalPL)
	if err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}
	s.Losses = s.Total - s.Wins
	return s, nil
}

// Recent returns the last limit trades, newest first.
func (j *Journal) Recent(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, symbol, horizon, direction, entry_price, target_price, exit_price, confidence, cps, pl, accuracy, status, created_at, expires_at, settled_at
		 FROM settlements ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			rec                         TradeRecord
			dir, status                 string
			created, expires, settledAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Horizon, &dir, &rec.EntryPrice, &rec.TargetPrice,
			&rec.ExitPrice, &rec.Confidence, &rec.CPS, &rec.PL, &rec.Accuracy, &status, &created, &expires, &settledAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		var d signal.Direction
		if err := d.UnmarshalText([]byte(dir)); err != nil {
			return nil, err
		}
		rec.Direction = d
		rec.Status = Status(status)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		rec.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
		rec.SettledAt, _ = time.Parse(time.RFC3339Nano, settledAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RestoreInto seeds ledger with the journaled statistics and most recent trades.
func (j *Journal) RestoreInto(ledger *Ledger, limit int) error {
	stats, err := j.Stats()
	if err != nil {
		return err
	}
	recent, err := j.Recent(limit)
	if err != nil {
		return err
	}
	ledger.Restore(stats, recent)
	return nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

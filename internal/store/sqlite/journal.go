package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"pivotwatch/internal/model"
)

// Journal records every alert delivery in SQLite for audit. It wraps another
// notifier and passes its outcome through unchanged.
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	next model.Notifier
}

// NewJournal creates the alerts table on db and wraps next. A nil next is
// enough for reading the journal with Recent.
func NewJournal(db *sql.DB, next model.Notifier) (*Journal, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		symbol      TEXT NOT NULL,
		tf          TEXT NOT NULL,
		pattern     TEXT NOT NULL,
		pivot_index INTEGER NOT NULL,
		price_close REAL NOT NULL,
		delivered   INTEGER NOT NULL,
		message     TEXT,
		payload     TEXT NOT NULL,
		ts_utc      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol, tf);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] recording alerts")
	return &Journal{db: db, next: next}, nil
}

func (j *Journal) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	ok, msg := false, "no notifier configured"
	if j.next != nil {
		ok, msg = j.next.Deliver(ctx, alert)
	}
	if err := j.record(ctx, alert, ok, msg); err != nil {
		log.Printf("[journal] record %s failed: %v", alert.ID, err)
	}
	return ok, msg
}

func (j *Journal) record(ctx context.Context, a model.Alert, ok bool, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	pivotIndex := -1
	if n := len(a.PivotsTail); n > 0 {
		pivotIndex = a.PivotsTail[n-1].Index
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (id, symbol, tf, pattern, pivot_index, price_close, delivered, message, payload, ts_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Symbol,
		a.Timeframe,
		strings.Join(a.MatchedPattern, ","),
		pivotIndex,
		a.PriceClose,
		ok,
		msg,
		string(a.JSON()),
		a.TSUTC,
	)
	return err
}

// AlertRecord represents a row from the alerts table.
type AlertRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Pattern    string    `json:"pattern"`
	PivotIndex int       `json:"pivot_index"`
	PriceClose float64   `json:"price_close"`
	Delivered  bool      `json:"delivered"`
	Message    string    `json:"message"`
	At         time.Time `json:"ts_utc"`
}

// Recent returns the newest limit journal rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, symbol, tf, pattern, pivot_index, price_close, delivered, message, ts_utc
		FROM alerts
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var r AlertRecord
		var msg sql.NullString
		var ts string
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Timeframe, &r.Pattern, &r.PivotIndex,
			&r.PriceClose, &r.Delivered, &msg, &ts); err != nil {
			return nil, err
		}
		r.Message = msg.String
		r.At, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

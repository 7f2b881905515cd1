package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"pivotwatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// BarStore keeps historical bars and instrument point sizes in SQLite.
// It implements model.BarSource.
type BarStore struct {
	db *sql.DB
}

// Open opens (or creates) the bar database with WAL mode and schema.
func Open(dbPath string) (*BarStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; readers share the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &BarStore{db: db}, nil
}

// DB returns the underlying sql.DB for health checks and the journal.
func (s *BarStore) DB() *sql.DB { return s.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			tf     TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS symbols (
			symbol TEXT PRIMARY KEY,
			point  REAL NOT NULL DEFAULT 0
		);
	`)
	return err
}

// SaveBars upserts bars for symbol/timeframe in a single transaction and
// registers the symbol if it is new.
func (s *BarStore) SaveBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO symbols (symbol, point) VALUES (?, 0)`, symbol); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, symbol, string(tf), b.Time.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SetPointSize records the minimum price increment of symbol.
func (s *BarStore) SetPointSize(ctx context.Context, symbol string, point float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (symbol, point) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET point = excluded.point
	`, symbol, point)
	if err != nil {
		return fmt.Errorf("sqlite set point: %w", err)
	}
	return nil
}

// PointSize returns the stored point size, 0 when the symbol is known but has
// none recorded, and model.ErrSymbolUnknown when the symbol was never stored.
func (s *BarStore) PointSize(ctx context.Context, symbol string) (float64, error) {
	var point float64
	err := s.db.QueryRowContext(ctx, `SELECT point FROM symbols WHERE symbol = ?`, symbol).Scan(&point)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", model.ErrSymbolUnknown, symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite read point: %w", err)
	}
	return point, nil
}

// FetchRecentBars returns the newest count bars, oldest first, indexed from 0.
func (s *BarStore) FetchRecentBars(ctx context.Context, symbol string, tf model.Timeframe, count int) ([]model.Bar, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: bar count %d", model.ErrDataUnavailable, count)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, string(tf), count)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query bars: %v", model.ErrDataUnavailable, err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan bars: %v", model.ErrDataUnavailable, err)
		}
		b.Time = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDataUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s %s", model.ErrDataUnavailable, symbol, tf)
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	model.Reindex(bars)
	return bars, nil
}

// Symbols lists every stored symbol.
func (s *BarStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *BarStore) Close() error {
	return s.db.Close()
}

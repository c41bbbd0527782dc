// Package journal records execution events. Fills land in a sqlite table
// keyed by a deterministic ID, so replays and restarts can re-submit the
// same event without duplicating it; completed round-trips also append to a
// flat CSV consumed by the EOD tooling.
package journal

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/probedge/probedge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id      TEXT PRIMARY KEY,
	day     TEXT NOT NULL,
	mode    TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	side    TEXT NOT NULL,
	qty     INTEGER NOT NULL,
	price   REAL NOT NULL,
	ts      TEXT NOT NULL,
	reason  TEXT NOT NULL,
	pnl_rs  REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_fills_day ON fills(day);
CREATE INDEX IF NOT EXISTS idx_fills_day_symbol ON fills(day, symbol);
`

// fillNamespace scopes the deterministic fill IDs.
var fillNamespace = uuid.MustParse("7b69d3a4-52a6-4f1e-9f30-5a1dca4e8d11")

// Journal is the append-only fill store.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the sqlite journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	// Single writer; sqlite handles its own locking.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// FillID derives the deterministic ID for a fill: the same event on a
// replayed or restarted day maps to the same row.
func FillID(day, symbol string, side models.Side, reason models.FillReason, ts string, qty int) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%s|%d", day, symbol, side, reason, ts, qty)
	return uuid.NewSHA1(fillNamespace, []byte(name)).String()
}

// Record inserts a fill if its ID is new. Returns true when the row was
// inserted, false when an identical fill was already journaled.
func (j *Journal) Record(f models.Fill) (bool, error) {
	if f.ID == "" {
		return false, errors.New("journal: fill without id")
	}
	res, err := j.db.Exec(
		`INSERT OR IGNORE INTO fills (id, day, mode, symbol, side, qty, price, ts, reason, pnl_rs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Day, f.Mode, f.Symbol, string(f.Side), f.Qty, f.Price, f.TS, string(f.Reason), f.PnLRs,
	)
	if err != nil {
		return false, fmt.Errorf("recording fill %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording fill %s: %w", f.ID, err)
	}
	return n > 0, nil
}

// Fills returns a day's fills ordered by (ts, symbol, reason).
func (j *Journal) Fills(day string) ([]models.Fill, error) {
	rows, err := j.db.Query(
		`SELECT id, day, mode, symbol, side, qty, price, ts, reason, pnl_rs
		 FROM fills WHERE day = ? ORDER BY ts, symbol, reason`, day)
	if err != nil {
		return nil, fmt.Errorf("querying fills for %s: %w", day, err)
	}
	defer rows.Close()

	var out []models.Fill
	for rows.Next() {
		var f models.Fill
		var side, reason string
		if err := rows.Scan(&f.ID, &f.Day, &f.Mode, &f.Symbol, &side, &f.Qty, &f.Price, &f.TS, &reason, &f.PnLRs); err != nil {
			return nil, fmt.Errorf("scanning fill: %w", err)
		}
		f.Side = models.Side(side)
		f.Reason = models.FillReason(reason)
		out = append(out, f)
	}
	return out, rows.Err()
}

// HasEntry reports whether a symbol's entry fill is already journaled for
// the day, which is how restart reconciliation avoids double-recording.
func (j *Journal) HasEntry(day, symbol string) (bool, error) {
	var n int
	err := j.db.QueryRow(
		`SELECT COUNT(1) FROM fills WHERE day = ? AND symbol = ? AND reason = ?`,
		day, symbol, string(models.FillEntry)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking entry fill: %w", err)
	}
	return n > 0, nil
}

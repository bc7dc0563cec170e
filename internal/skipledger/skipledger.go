// Package skipledger is an optional, local sqlite index of
// (ccn, last_success_utc) consulted before the worker's mtime-based
// incremental-skip check. This is additive: the mtime check against
// data/<STATE>/<CCN>.jsonl remains authoritative, so a ledger hit alone
// never skips a hospital whose output file is missing or stale, and the
// ledger is entirely disabled whenever its path is empty or the file can't
// be opened.
package skipledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is a thin wrapper over a sqlite connection. A nil *Ledger is valid
// and every method on it is a no-op, so callers don't need to branch on
// whether the ledger is configured.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite ledger at path. An empty
// path returns (nil, nil): the ledger is simply absent.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("skipledger: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("skipledger: init schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_success (
	ccn TEXT PRIMARY KEY,
	last_success_utc TEXT NOT NULL,
	sha256_of_bytes TEXT NOT NULL DEFAULT ''
)`

// Close releases the underlying connection. Safe to call on a nil Ledger.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// LastSuccess returns the last recorded successful-scrape time for ccn, or
// the zero time if the ledger is unset or has no row for it.
func (l *Ledger) LastSuccess(ccn string) time.Time {
	if l == nil {
		return time.Time{}
	}
	var raw string
	err := l.db.QueryRow(`SELECT last_success_utc FROM scrape_success WHERE ccn = ?`, ccn).Scan(&raw)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecordSuccess upserts ccn's last-success timestamp and content hash. A
// no-op on a nil Ledger; write failures are returned so callers can log
// them, but the ledger is a fast pre-check, never authoritative, so
// callers should not fail a scrape over a ledger write error.
func (l *Ledger) RecordSuccess(ccn string, at time.Time, sha256Hex string) error {
	if l == nil {
		return nil
	}
	_, err := l.db.Exec(
		`INSERT INTO scrape_success (ccn, last_success_utc, sha256_of_bytes) VALUES (?, ?, ?)
		 ON CONFLICT(ccn) DO UPDATE SET last_success_utc = excluded.last_success_utc, sha256_of_bytes = excluded.sha256_of_bytes`,
		ccn, at.UTC().Format(time.RFC3339), sha256Hex,
	)
	if err != nil {
		return fmt.Errorf("skipledger: record %s: %w", ccn, err)
	}
	return nil
}

// Package ledger provides SQLite-backed persistence for dispatched alerts.
//
// The ledger is the dedup authority: a signal already recorded here is never
// notified again, across process restarts. Identity granularity is a policy
// choice (see Policy) because "same alert" is genuinely ambiguous for
// option-flow data.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/blockzenith/scanner/internal/models"
)

// Policy selects the identity under which alerts are deduplicated.
type Policy string

const (
	// PolicyValueTuple treats a SignalKey plus its (volume, oi) pair as one
	// alert; any change in either value is fresh activity and fires again.
	PolicyValueTuple Policy = "value-tuple"
	// PolicyKeyOnly fires at most once per SignalKey until the ledger is
	// reset, regardless of later value changes.
	PolicyKeyOnly Policy = "key-only"
)

// Ledger wraps a SQLite database holding every dispatched alert.
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	policy Policy
}

// New opens or creates the ledger database at dbPath. ":memory:" is accepted
// for tests. The scan loop is the only writer, but Reset may arrive from the
// arming path concurrently, so all access is serialized internally.
func New(dbPath string, policy Policy) (*Ledger, error) {
	switch policy {
	case PolicyValueTuple, PolicyKeyOnly:
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", policy)
	}
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "blockzenith", "ledger.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	l := &Ledger{db: db, policy: policy}
	if err := l.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id                TEXT PRIMARY KEY,
			instrument        TEXT NOT NULL,
			strike            TEXT NOT NULL,
			side              TEXT NOT NULL,
			volume            INTEGER NOT NULL,
			oi                INTEGER NOT NULL,
			price             REAL NOT NULL,
			first_detected_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_identity ON alerts(instrument, strike, side)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// HasFired reports whether an alert with rec's identity was already recorded.
func (l *Ledger) HasFired(rec *models.AlertRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var row *sql.Row
	if l.policy == PolicyKeyOnly {
		row = l.db.QueryRow(
			`SELECT COUNT(1) FROM alerts WHERE instrument=? AND strike=? AND side=?`,
			rec.Key.Instrument, rec.Key.Strike, string(rec.Key.Side))
	} else {
		row = l.db.QueryRow(
			`SELECT COUNT(1) FROM alerts WHERE instrument=? AND strike=? AND side=? AND volume=? AND oi=?`,
			rec.Key.Instrument, rec.Key.Strike, string(rec.Key.Side), rec.Volume, rec.OpenInterest)
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query alerts: %w", err)
	}
	return n > 0, nil
}

// Record persists rec. An empty ID is assigned; FirstDetectedAt defaults to
// now when unset.
func (l *Ledger) Record(rec *models.AlertRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid alert record: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FirstDetectedAt.IsZero() {
		rec.FirstDetectedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO alerts (id, instrument, strike, side, volume, oi, price, first_detected_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Key.Instrument, rec.Key.Strike, string(rec.Key.Side),
		rec.Volume, rec.OpenInterest, rec.Price, rec.FirstDetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Reset drops every recorded alert. Invoked when the operator arms a new
// credential: a new trading session warrants fresh detection.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(`DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	return nil
}

// Count returns the number of recorded alerts.
func (l *Ledger) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	if err := l.db.QueryRow(`SELECT COUNT(1) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// Package anomaly implements the Anomaly Ledger (L): a durable,
// write-mostly record of the two conditions the decode pipeline treats
// as notable but non-fatal: a frame whose byte count doesn't match its
// declared length, and an FC03 response with no pending request.
package anomaly

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/commatea/modbus-sniffer/pkg/metrics"
)

// Kind names why a record was written.
type Kind string

const (
	KindFrameSemanticInconsistent Kind = "frame_semantic_inconsistent"
	KindCorrelationMissed         Kind = "correlation_missed"
)

// Record is one durable anomaly entry.
type Record struct {
	ID        string
	Kind      Kind
	Hub       string
	Unit      byte
	Detail    string
	Raw       []byte
	CreatedAt time.Time
}

// Ledger persists Records to sqlite. One Ledger is shared by every
// Capture Hub in the process.
type Ledger struct {
	db *sql.DB
}

// Open creates or reuses the sqlite file at path and ensures its schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	l := &Ledger{db: db}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		hub TEXT NOT NULL,
		unit INTEGER NOT NULL,
		detail TEXT,
		raw BLOB,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_anomalies_kind_created ON anomalies(kind, created_at);
	`
	_, err := l.db.Exec(query)
	return err
}

// Write persists one Record, stamping ID/CreatedAt if they're unset,
// and increments the corresponding metrics counter.
func (l *Ledger) Write(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `INSERT INTO anomalies (id, kind, hub, unit, detail, raw, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.Exec(query, r.ID, string(r.Kind), r.Hub, r.Unit, r.Detail, r.Raw, r.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	metrics.IncAnomaly(string(r.Kind))
	return r, nil
}

// Recent returns the most recent n records, newest first, optionally
// filtered to one Kind (pass "" for all kinds).
func (l *Ledger) Recent(kind Kind, n int) ([]Record, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = l.db.Query(`SELECT id, kind, hub, unit, detail, raw, created_at FROM anomalies ORDER BY created_at DESC LIMIT ?`, n)
	} else {
		rows, err = l.db.Query(`SELECT id, kind, hub, unit, detail, raw, created_at FROM anomalies WHERE kind = ? ORDER BY created_at DESC LIMIT ?`, string(kind), n)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kindStr string
		var unit int
		if err := rows.Scan(&r.ID, &kindStr, &r.Hub, &unit, &r.Detail, &r.Raw, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = Kind(kindStr)
		r.Unit = byte(unit)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS anomaly_events (
	event_id      TEXT PRIMARY KEY,
	layer         TEXT NOT NULL,
	anomaly_type  TEXT NOT NULL,
	severity      REAL NOT NULL,
	risk_before   REAL NOT NULL,
	risk_after    REAL NOT NULL,
	block_height  INTEGER,
	txid          TEXT,
	was_mitigated INTEGER NOT NULL,
	details       TEXT,
	decision      TEXT,
	request_id    TEXT,
	context_hash  TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS anomaly_events_created ON anomaly_events(created_at);

CREATE TABLE IF NOT EXISTS event_feedback (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id      TEXT NOT NULL,
	label         TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (event_id) REFERENCES anomaly_events(event_id)
);
`

// Feedback labels accepted by Ledger.Feedback.
const (
	TruePositive  = "TRUE_POSITIVE"
	FalsePositive = "FALSE_POSITIVE"
	MissedAttack  = "MISSED_ATTACK"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrEventNotFound = errors.New("events: event not found")
	ErrUnknownLabel  = errors.New("events: unknown feedback label")
)

// Ledger persists events in SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLedger opens the database at path and creates the schema.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Emit inserts e. Re-emitting an existing ID is an error.
func (l *Ledger) Emit(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO anomaly_events (event_id, layer, anomaly_type, severity, risk_before, risk_after,
			block_height, txid, was_mitigated, details, decision, request_id, context_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Layer, e.AnomalyType, e.Severity, e.RiskBefore, e.RiskAfter,
		e.BlockHeight, e.TxID, e.WasMitigated, nullIfEmpty(e.Details), nullIfEmpty(e.Decision),
		nullIfEmpty(e.RequestID), nullIfEmpty(e.ContextHash), e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, layer, anomaly_type, severity, risk_before, risk_after, block_height, txid,
			was_mitigated, details, decision, request_id, context_hash, created_at
		 FROM anomaly_events ORDER BY created_at DESC, event_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one event by ID.
func (l *Ledger) Get(ctx context.Context, id string) (Event, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT event_id, layer, anomaly_type, severity, risk_before, risk_after, block_height, txid,
			was_mitigated, details, decision, request_id, context_hash, created_at
		 FROM anomaly_events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return e, err
}

// Feedback attaches an operator label to a recorded event.
func (l *Ledger) Feedback(ctx context.Context, eventID, label string) error {
	label = strings.ToUpper(strings.TrimSpace(label))
	switch label {
	case TruePositive, FalsePositive, MissedAttack:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if _, err := l.Get(ctx, eventID); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO event_feedback (event_id, label, created_at) VALUES (?, ?, ?)`,
		eventID, label, l.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// Labels returns the feedback labels for an event in insertion order.
func (l *Ledger) Labels(ctx context.Context, eventID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT label FROM event_feedback WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		e                                       Event
		height                                  sql.NullInt64
		txid, details, decision, reqID, ctxHash sql.NullString
		created                                 string
	)
	err := s.Scan(&e.ID, &e.Layer, &e.AnomalyType, &e.Severity, &e.RiskBefore, &e.RiskAfter,
		&height, &txid, &e.WasMitigated, &details, &decision, &reqID, &ctxHash, &created)
	if err != nil {
		return Event{}, err
	}
	if height.Valid {
		h := height.Int64
		e.BlockHeight = &h
	}
	if txid.Valid {
		tx := txid.String
		e.TxID = &tx
	}
	e.Details = details.String
	e.Decision = decision.String
	e.RequestID = reqID.String
	e.ContextHash = ctxHash.String
	e.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return Event{}, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

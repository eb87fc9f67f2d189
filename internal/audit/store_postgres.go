package audit

import (
	"context"
	"database/sql"
	"fmt"

	"medvault/internal/domain"
	txcontext "medvault/pkg/platform/tx"
)

// PostgresStore persists audit entries. Expected schema:
//
//	CREATE TABLE audit_entries (
//	    seq        BIGSERIAL PRIMARY KEY,
//	    ts         TIMESTAMPTZ NOT NULL,
//	    actor      TEXT NOT NULL,
//	    action     TEXT NOT NULL,
//	    record_id  BIGINT NOT NULL DEFAULT 0,
//	    subject    TEXT NOT NULL DEFAULT '',
//	    request_id TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_entries_record_idx ON audit_entries (record_id, seq);
//
// BIGSERIAL keeps sequence numbers strictly increasing across appends.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
        INSERT INTO audit_entries (ts, actor, action, record_id, subject, request_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq`,
		entry.Timestamp, entry.Actor.String(), string(entry.Action),
		entry.RecordID, entry.Subject, entry.RequestID,
	)
	if err := row.Scan(&entry.Sequence); err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListByRecord(ctx context.Context, recordID uint64) ([]Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
        SELECT seq, ts, actor, action, record_id, subject, request_id
        FROM audit_entries
        WHERE record_id = $1
        ORDER BY seq`,
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var actor, action string
		if err := rows.Scan(&e.Sequence, &e.Timestamp, &actor, &action, &e.RecordID, &e.Subject, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Actor = domain.Identity(actor)
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Length(ctx context.Context) (uint64, error) {
	var n uint64
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

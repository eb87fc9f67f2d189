package access

import (
	"context"
	"database/sql"
	"fmt"

	"medvault/internal/domain"
	txcontext "medvault/pkg/platform/tx"
)

// PostgresStore persists grant history.
//
// Schema:
//
//	CREATE TABLE access_grants (
//	    id         BIGSERIAL PRIMARY KEY,
//	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
//	    grantee    TEXT NOT NULL,
//	    level      TEXT NOT NULL,
//	    granted_by TEXT NOT NULL,
//	    granted_at TIMESTAMPTZ NOT NULL,
//	    revoked    BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE INDEX access_grants_pair_idx ON access_grants (record_id, grantee, id);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, grant Grant) (Grant, error) {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO access_grants (record_id, grantee, level, granted_by, granted_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, grant.RecordID, grant.Grantee.String(), grant.Level.String(),
		grant.GrantedBy.String(), grant.GrantedAt, grant.Revoked,
	).Scan(&grant.ID)
	if err != nil {
		return Grant{}, fmt.Errorf("insert access grant: %w", err)
	}
	return grant, nil
}

func (s *PostgresStore) History(ctx context.Context, recordID uint64, grantee domain.Identity) ([]Grant, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, record_id, grantee, level, granted_by, granted_at, revoked
		FROM access_grants
		WHERE record_id = $1 AND grantee = $2
		ORDER BY id
	`, recordID, grantee.String())
	if err != nil {
		return nil, fmt.Errorf("query grant history: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *PostgresStore) ListByRecord(ctx context.Context, recordID uint64) ([]Grant, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, record_id, grantee, level, granted_by, granted_at, revoked
		FROM access_grants
		WHERE record_id = $1
		ORDER BY id
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query record grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]Grant, error) {
	var grants []Grant
	for rows.Next() {
		var (
			grant   Grant
			grantee string
			level   string
			by      string
		)
		if err := rows.Scan(&grant.ID, &grant.RecordID, &grantee, &level, &by, &grant.GrantedAt, &grant.Revoked); err != nil {
			return nil, fmt.Errorf("scan access grant: %w", err)
		}
		grant.Grantee = domain.Identity(grantee)
		grant.GrantedBy = domain.Identity(by)
		// Revocation entries carry level "none", which is not a grantable level.
		if level != domain.AccessNone.String() {
			parsed, err := domain.ParseAccessLevel(level)
			if err != nil {
				return nil, fmt.Errorf("grant %d has unknown level %q", grant.ID, level)
			}
			grant.Level = parsed
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access grants: %w", err)
	}
	return grants, nil
}

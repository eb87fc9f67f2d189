// Package postgres opens the shared database handle and installs the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS principal_roles (
	    identity   TEXT PRIMARY KEY,
	    role       TEXT NOT NULL,
	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patient_records (
	    id         BIGSERIAL PRIMARY KEY,
	    owner      TEXT NOT NULL,
	    fields     JSONB NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS medical_tests (
	    id         BIGSERIAL PRIMARY KEY,
	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
	    fields     JSONB NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
	    id         BIGSERIAL PRIMARY KEY,
	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
	    fields     JSONB NOT NULL,
	    expires_at TIMESTAMPTZ,
	    created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_grants (
	    id         BIGSERIAL PRIMARY KEY,
	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
	    grantee    TEXT NOT NULL,
	    level      TEXT NOT NULL,
	    granted_by TEXT NOT NULL,
	    granted_at TIMESTAMPTZ NOT NULL,
	    revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS access_grants_pair_idx ON access_grants (record_id, grantee, id)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
	    seq        BIGSERIAL PRIMARY KEY,
	    ts         TIMESTAMPTZ NOT NULL,
	    actor      TEXT NOT NULL,
	    action     TEXT NOT NULL,
	    record_id  BIGINT NOT NULL DEFAULT 0,
	    subject    TEXT NOT NULL DEFAULT '',
	    request_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_record_idx ON audit_entries (record_id, seq)`,
}

// EnsureSchema installs all registry tables. Statements are idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

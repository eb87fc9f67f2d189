package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medvault/internal/domain"
	txcontext "medvault/pkg/platform/tx"
)

// PostgresStore persists role assignments.
//
// Schema:
//
//	CREATE TABLE principal_roles (
//	    identity   TEXT PRIMARY KEY,
//	    role       TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, id domain.Identity) (domain.Role, error) {
	var role string
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT role FROM principal_roles WHERE identity = $1`, id.String(),
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RoleNone, nil
		}
		return domain.RoleNone, fmt.Errorf("get role: %w", err)
	}
	return domain.Role(role), nil
}

func (s *PostgresStore) Set(ctx context.Context, id domain.Identity, role domain.Role) error {
	if role == domain.RoleNone {
		if _, err := s.execer(ctx).ExecContext(ctx,
			`DELETE FROM principal_roles WHERE identity = $1`, id.String(),
		); err != nil {
			return fmt.Errorf("clear role: %w", err)
		}
		return nil
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO principal_roles (identity, role, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identity) DO UPDATE SET role = EXCLUDED.role, updated_at = now()
	`, id.String(), string(role))
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

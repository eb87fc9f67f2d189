package access

import (
	"context"
	"time"

	"medvault/internal/domain"
	dErrors "medvault/pkg/domain-errors"
)

// AdminChecker resolves whether a principal currently holds the Admin role.
// Satisfied by roles.Service.
type AdminChecker interface {
	IsAdmin(ctx context.Context, id domain.Identity) bool
}

// Ledger tracks per-record access grants and resolves a principal's effective
// level. Record existence is checked by the registry core before any call
// reaches the ledger; the ledger receives the record owner alongside the id.
type Ledger struct {
	store  Store
	admins AdminChecker
}

func NewLedger(store Store, admins AdminChecker) *Ledger {
	return &Ledger{store: store, admins: admins}
}

// Grant appends a new grant for (recordID, grantee). The caller must be the
// record owner or hold Admin. Prior grants are never edited; the new entry
// supersedes them by creation order.
func (l *Ledger) Grant(ctx context.Context, caller domain.Identity, recordID uint64, owner, grantee domain.Identity, level domain.AccessLevel, at time.Time) (Grant, error) {
	if err := l.requireOwnerOrAdmin(ctx, caller, owner); err != nil {
		return Grant{}, err
	}
	if !level.AtLeast(domain.AccessViewOnly) {
		return Grant{}, dErrors.New(dErrors.CodeInvalidInput, "grant level must be view_only, restricted, or full")
	}
	grant := Grant{
		RecordID:  recordID,
		Grantee:   grantee,
		Level:     level,
		GrantedBy: caller,
		GrantedAt: at,
	}
	stored, err := l.store.Append(ctx, grant)
	if err != nil {
		return Grant{}, dErrors.Wrap(err, dErrors.CodeInternal, "append access grant")
	}
	return stored, nil
}

// Revoke appends a revocation entry dated after all prior grants for the
// pair, superseding them. Revoking a grantee with no history is a no-op that
// still records the revocation.
func (l *Ledger) Revoke(ctx context.Context, caller domain.Identity, recordID uint64, owner, grantee domain.Identity, at time.Time) (Grant, error) {
	if err := l.requireOwnerOrAdmin(ctx, caller, owner); err != nil {
		return Grant{}, err
	}
	grant := Grant{
		RecordID:  recordID,
		Grantee:   grantee,
		Level:     domain.AccessNone,
		GrantedBy: caller,
		GrantedAt: at,
		Revoked:   true,
	}
	stored, err := l.store.Append(ctx, grant)
	if err != nil {
		return Grant{}, dErrors.Wrap(err, dErrors.CodeInternal, "append revocation")
	}
	return stored, nil
}

// Effective resolves the caller's access level on a record. The record owner
// and Admins implicitly hold Full; everyone else resolves to the most recently
// created non-revoked grant, by creation order rather than level value.
func (l *Ledger) Effective(ctx context.Context, recordID uint64, owner, id domain.Identity) (domain.AccessLevel, error) {
	if id == owner {
		return domain.AccessFull, nil
	}
	if l.admins.IsAdmin(ctx, id) {
		return domain.AccessFull, nil
	}
	history, err := l.store.History(ctx, recordID, id)
	if err != nil {
		return domain.AccessNone, dErrors.Wrap(err, dErrors.CodeInternal, "load grant history")
	}
	if len(history) == 0 {
		return domain.AccessNone, nil
	}
	latest := history[len(history)-1]
	if latest.Revoked {
		return domain.AccessNone, nil
	}
	return latest.Level, nil
}

// ListByRecord returns the full grant history for a record in creation order.
func (l *Ledger) ListByRecord(ctx context.Context, recordID uint64) ([]Grant, error) {
	return l.store.ListByRecord(ctx, recordID)
}

func (l *Ledger) requireOwnerOrAdmin(ctx context.Context, caller, owner domain.Identity) error {
	if caller == owner || l.admins.IsAdmin(ctx, caller) {
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "caller is neither record owner nor admin")
}

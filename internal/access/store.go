package access

import (
	"context"

	"medvault/internal/domain"
)

// Store persists grant history. Append assigns the entry ID; History returns
// entries for a (record, grantee) pair in creation order, which is the order
// resolution depends on — a later Restricted grant supersedes an earlier Full.
type Store interface {
	Append(ctx context.Context, grant Grant) (Grant, error)
	History(ctx context.Context, recordID uint64, grantee domain.Identity) ([]Grant, error)
	ListByRecord(ctx context.Context, recordID uint64) ([]Grant, error)
}

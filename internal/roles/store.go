package roles

import (
	"context"

	"medvault/internal/domain"
)

// Store tracks which principal holds which privileged role. Absent principals
// resolve to domain.RoleNone; Get never fails on a missing row.
type Store interface {
	Get(ctx context.Context, id domain.Identity) (domain.Role, error)
	Set(ctx context.Context, id domain.Identity, role domain.Role) error
}

package roles

import (
	"context"

	"medvault/internal/domain"
	dErrors "medvault/pkg/domain-errors"
)

// Service enforces who may assign privileged roles. Only an Admin may register
// or revoke; queries are open to any caller and reflect the latest assignment.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Seed installs bootstrap Admin identities. Called once at startup before the
// server accepts traffic; registration requires an existing Admin, so at least
// one seed must be configured.
func (s *Service) Seed(ctx context.Context, admins []domain.Identity) error {
	for _, admin := range admins {
		if err := s.store.Set(ctx, admin, domain.RoleAdmin); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "seed admin role")
		}
	}
	return nil
}

// RegisterRole assigns role to target. Re-registering the current role is a
// successful no-op; the returned changed flag tells the caller whether state
// moved, so no audit entry is written for redundant registrations.
func (s *Service) RegisterRole(ctx context.Context, admin, target domain.Identity, role domain.Role) (changed bool, err error) {
	if err := s.requireAdmin(ctx, admin); err != nil {
		return false, err
	}
	current, err := s.store.Get(ctx, target)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load current role")
	}
	if current == role {
		return false, nil
	}
	if err := s.store.Set(ctx, target, role); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "store role")
	}
	return true, nil
}

// RevokeRole sets target's role to none under the same authorization rule.
func (s *Service) RevokeRole(ctx context.Context, admin, target domain.Identity) (changed bool, err error) {
	if err := s.requireAdmin(ctx, admin); err != nil {
		return false, err
	}
	current, err := s.store.Get(ctx, target)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load current role")
	}
	if current == domain.RoleNone {
		return false, nil
	}
	if err := s.store.Set(ctx, target, domain.RoleNone); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "clear role")
	}
	return true, nil
}

// RoleOf returns the latest registered role for id.
func (s *Service) RoleOf(ctx context.Context, id domain.Identity) (domain.Role, error) {
	return s.store.Get(ctx, id)
}

// IsAuthorizedDoctor reports whether id currently holds the Doctor role.
func (s *Service) IsAuthorizedDoctor(ctx context.Context, id domain.Identity) bool {
	role, err := s.store.Get(ctx, id)
	return err == nil && role == domain.RoleDoctor
}

// IsAuthorizedLab reports whether id currently holds the Lab role.
func (s *Service) IsAuthorizedLab(ctx context.Context, id domain.Identity) bool {
	role, err := s.store.Get(ctx, id)
	return err == nil && role == domain.RoleLab
}

// IsAdmin reports whether id currently holds the Admin role.
func (s *Service) IsAdmin(ctx context.Context, id domain.Identity) bool {
	role, err := s.store.Get(ctx, id)
	return err == nil && role == domain.RoleAdmin
}

func (s *Service) requireAdmin(ctx context.Context, id domain.Identity) error {
	role, err := s.store.Get(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load admin role")
	}
	if role != domain.RoleAdmin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not an admin")
	}
	return nil
}

package domain

import (
	"strings"

	dErrors "medvault/pkg/domain-errors"
)

// Identity is the opaque principal handle resolved by the external identity
// provider. The registry assumes nothing beyond equality and stable ordering.
type Identity string

// ParseIdentity validates an identity string at the trust boundary.
func ParseIdentity(s string) (Identity, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must not be empty")
	}
	return Identity(s), nil
}

func (i Identity) String() string {
	return string(i)
}

// IsNil reports whether the identity is unset.
func (i Identity) IsNil() bool {
	return i == ""
}

// Role is the privileged capability class held by a principal. A principal
// holds at most one privileged role; registration overwrites.
type Role string

const (
	RoleNone   Role = "none"
	RoleDoctor Role = "doctor"
	RoleLab    Role = "lab"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role string at the trust boundary. RoleNone is not a
// registrable role; revocation is a separate operation.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDoctor, RoleLab, RoleAdmin:
		return Role(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
}

package domain

import (
	"strings"

	dErrors "medvault/pkg/domain-errors"
)

// AccessLevel is the grant granularity on a single record. Levels form a total
// order used only for capability comparison, never for merging grants.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessViewOnly
	AccessRestricted
	AccessFull
)

var accessLevelNames = map[AccessLevel]string{
	AccessNone:       "none",
	AccessViewOnly:   "view_only",
	AccessRestricted: "restricted",
	AccessFull:       "full",
}

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return "none"
}

// MarshalJSON encodes the level as its name so transport payloads never carry
// ordinal values.
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "none" {
		*l = AccessNone
		return nil
	}
	parsed, err := ParseAccessLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AtLeast reports whether l grants at least the capability of other.
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l >= other
}

// ParseAccessLevel validates a grantable level string. AccessNone is not
// grantable; revocation is a separate operation.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "view_only":
		return AccessViewOnly, nil
	case "restricted":
		return AccessRestricted, nil
	case "full":
		return AccessFull, nil
	default:
		return AccessNone, dErrors.New(dErrors.CodeInvalidInput, "unknown access level: "+s)
	}
}

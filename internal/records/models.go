package records

import (
	"time"

	"medvault/internal/domain"
)

// PatientRecord is the root entity of the registry. Immutable once created
// except for attachment of sub-records and access grants; a correction is a
// new sub-record, never an in-place edit.
type PatientRecord struct {
	ID        uint64
	Owner     domain.Identity
	Fields    domain.EncryptedFieldSet
	CreatedAt time.Time
}

// MedicalTest is an append-only child of a PatientRecord.
type MedicalTest struct {
	ID        uint64
	RecordID  uint64
	Fields    domain.EncryptedFieldSet
	CreatedAt time.Time
}

// Prescription is an append-only child of a PatientRecord. ExpiresAt is
// informational at read time; expiry never blocks a write.
type Prescription struct {
	ID        uint64
	RecordID  uint64
	Fields    domain.EncryptedFieldSet
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the prescription has lapsed at the given time.
func (p Prescription) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

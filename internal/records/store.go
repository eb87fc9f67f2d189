package records

import (
	"context"
	"time"

	"medvault/internal/domain"
)

// Store holds records and their append-only sub-records. IDs are allocated by
// the store at creation time, monotonically per kind, and never reused; a
// rejected operation allocates nothing. Missing entities surface as
// sentinel.ErrNotFound.
type Store interface {
	CreateRecord(ctx context.Context, owner domain.Identity, fields domain.EncryptedFieldSet, createdAt time.Time) (PatientRecord, error)
	GetRecord(ctx context.Context, id uint64) (PatientRecord, error)

	AddTest(ctx context.Context, recordID uint64, fields domain.EncryptedFieldSet, createdAt time.Time) (MedicalTest, error)
	GetTest(ctx context.Context, id uint64) (MedicalTest, error)

	AddPrescription(ctx context.Context, recordID uint64, fields domain.EncryptedFieldSet, expiresAt, createdAt time.Time) (Prescription, error)
	GetPrescription(ctx context.Context, id uint64) (Prescription, error)
}

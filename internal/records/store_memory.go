package records

import (
	"context"
	"sync"
	"time"

	"medvault/internal/domain"
	"medvault/pkg/platform/sentinel"
)

// InMemoryStore keeps records and sub-records in mutex-guarded maps. State is
// append-only, so readers under RLock always observe fully committed entities.
type InMemoryStore struct {
	mu sync.RWMutex

	records       map[uint64]PatientRecord
	tests         map[uint64]MedicalTest
	prescriptions map[uint64]Prescription

	nextRecordID       uint64
	nextTestID         uint64
	nextPrescriptionID uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:       make(map[uint64]PatientRecord),
		tests:         make(map[uint64]MedicalTest),
		prescriptions: make(map[uint64]Prescription),
	}
}

func (s *InMemoryStore) CreateRecord(_ context.Context, owner domain.Identity, fields domain.EncryptedFieldSet, createdAt time.Time) (PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecordID++
	record := PatientRecord{
		ID:        s.nextRecordID,
		Owner:     owner,
		Fields:    fields.Clone(),
		CreatedAt: createdAt,
	}
	s.records[record.ID] = record
	return record, nil
}

func (s *InMemoryStore) GetRecord(_ context.Context, id uint64) (PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[id]; ok {
		return record, nil
	}
	return PatientRecord{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) AddTest(_ context.Context, recordID uint64, fields domain.EncryptedFieldSet, createdAt time.Time) (MedicalTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[recordID]; !ok {
		return MedicalTest{}, sentinel.ErrNotFound
	}
	s.nextTestID++
	test := MedicalTest{
		ID:        s.nextTestID,
		RecordID:  recordID,
		Fields:    fields.Clone(),
		CreatedAt: createdAt,
	}
	s.tests[test.ID] = test
	return test, nil
}

func (s *InMemoryStore) GetTest(_ context.Context, id uint64) (MedicalTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if test, ok := s.tests[id]; ok {
		return test, nil
	}
	return MedicalTest{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) AddPrescription(_ context.Context, recordID uint64, fields domain.EncryptedFieldSet, expiresAt, createdAt time.Time) (Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[recordID]; !ok {
		return Prescription{}, sentinel.ErrNotFound
	}
	s.nextPrescriptionID++
	prescription := Prescription{
		ID:        s.nextPrescriptionID,
		RecordID:  recordID,
		Fields:    fields.Clone(),
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
	s.prescriptions[prescription.ID] = prescription
	return prescription, nil
}

func (s *InMemoryStore) GetPrescription(_ context.Context, id uint64) (Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prescription, ok := s.prescriptions[id]; ok {
		return prescription, nil
	}
	return Prescription{}, sentinel.ErrNotFound
}

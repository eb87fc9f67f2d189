package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medvault/internal/domain"
	"medvault/pkg/platform/sentinel"
	txcontext "medvault/pkg/platform/tx"
)

// PostgresStore persists records and sub-records.
//
// Schema:
//
//	CREATE TABLE patient_records (
//	    id         BIGSERIAL PRIMARY KEY,
//	    owner      TEXT NOT NULL,
//	    fields     JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE medical_tests (
//	    id         BIGSERIAL PRIMARY KEY,
//	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
//	    fields     JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE prescriptions (
//	    id         BIGSERIAL PRIMARY KEY,
//	    record_id  BIGINT NOT NULL REFERENCES patient_records(id),
//	    fields     JSONB NOT NULL,
//	    expires_at TIMESTAMPTZ,
//	    created_at TIMESTAMPTZ NOT NULL
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

type storedField struct {
	Ciphertext []byte `json:"ciphertext"`
	Proof      []byte `json:"proof"`
}

func marshalFields(fields domain.EncryptedFieldSet) ([]byte, error) {
	out := make(map[string]storedField, len(fields))
	for name, field := range fields {
		out[name] = storedField{Ciphertext: field.Ciphertext, Proof: field.Proof}
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return payload, nil
}

func unmarshalFields(payload []byte) (domain.EncryptedFieldSet, error) {
	var raw map[string]storedField
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	fields := make(domain.EncryptedFieldSet, len(raw))
	for name, field := range raw {
		fields[name] = domain.EncryptedField{Ciphertext: field.Ciphertext, Proof: field.Proof}
	}
	return fields, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, owner domain.Identity, fields domain.EncryptedFieldSet, createdAt time.Time) (PatientRecord, error) {
	payload, err := marshalFields(fields)
	if err != nil {
		return PatientRecord{}, err
	}
	var id uint64
	err = s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO patient_records (owner, fields, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, owner.String(), payload, createdAt).Scan(&id)
	if err != nil {
		return PatientRecord{}, fmt.Errorf("insert patient record: %w", err)
	}
	return PatientRecord{ID: id, Owner: owner, Fields: fields.Clone(), CreatedAt: createdAt}, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uint64) (PatientRecord, error) {
	var (
		owner     string
		payload   []byte
		createdAt time.Time
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT owner, fields, created_at FROM patient_records WHERE id = $1`, id,
	).Scan(&owner, &payload, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PatientRecord{}, sentinel.ErrNotFound
		}
		return PatientRecord{}, fmt.Errorf("get patient record: %w", err)
	}
	fields, err := unmarshalFields(payload)
	if err != nil {
		return PatientRecord{}, err
	}
	return PatientRecord{ID: id, Owner: domain.Identity(owner), Fields: fields, CreatedAt: createdAt}, nil
}

func (s *PostgresStore) AddTest(ctx context.Context, recordID uint64, fields domain.EncryptedFieldSet, createdAt time.Time) (MedicalTest, error) {
	if err := s.recordExists(ctx, recordID); err != nil {
		return MedicalTest{}, err
	}
	payload, err := marshalFields(fields)
	if err != nil {
		return MedicalTest{}, err
	}
	var id uint64
	err = s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO medical_tests (record_id, fields, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, recordID, payload, createdAt).Scan(&id)
	if err != nil {
		return MedicalTest{}, fmt.Errorf("insert medical test: %w", err)
	}
	return MedicalTest{ID: id, RecordID: recordID, Fields: fields.Clone(), CreatedAt: createdAt}, nil
}

func (s *PostgresStore) GetTest(ctx context.Context, id uint64) (MedicalTest, error) {
	var (
		recordID  uint64
		payload   []byte
		createdAt time.Time
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT record_id, fields, created_at FROM medical_tests WHERE id = $1`, id,
	).Scan(&recordID, &payload, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MedicalTest{}, sentinel.ErrNotFound
		}
		return MedicalTest{}, fmt.Errorf("get medical test: %w", err)
	}
	fields, err := unmarshalFields(payload)
	if err != nil {
		return MedicalTest{}, err
	}
	return MedicalTest{ID: id, RecordID: recordID, Fields: fields, CreatedAt: createdAt}, nil
}

func (s *PostgresStore) AddPrescription(ctx context.Context, recordID uint64, fields domain.EncryptedFieldSet, expiresAt, createdAt time.Time) (Prescription, error) {
	if err := s.recordExists(ctx, recordID); err != nil {
		return Prescription{}, err
	}
	payload, err := marshalFields(fields)
	if err != nil {
		return Prescription{}, err
	}
	var expires sql.NullTime
	if !expiresAt.IsZero() {
		expires = sql.NullTime{Time: expiresAt, Valid: true}
	}
	var id uint64
	err = s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO prescriptions (record_id, fields, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, recordID, payload, expires, createdAt).Scan(&id)
	if err != nil {
		return Prescription{}, fmt.Errorf("insert prescription: %w", err)
	}
	return Prescription{ID: id, RecordID: recordID, Fields: fields.Clone(), ExpiresAt: expiresAt, CreatedAt: createdAt}, nil
}

func (s *PostgresStore) GetPrescription(ctx context.Context, id uint64) (Prescription, error) {
	var (
		recordID  uint64
		payload   []byte
		expires   sql.NullTime
		createdAt time.Time
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT record_id, fields, expires_at, created_at FROM prescriptions WHERE id = $1`, id,
	).Scan(&recordID, &payload, &expires, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Prescription{}, sentinel.ErrNotFound
		}
		return Prescription{}, fmt.Errorf("get prescription: %w", err)
	}
	fields, err := unmarshalFields(payload)
	if err != nil {
		return Prescription{}, err
	}
	prescription := Prescription{ID: id, RecordID: recordID, Fields: fields, CreatedAt: createdAt}
	if expires.Valid {
		prescription.ExpiresAt = expires.Time
	}
	return prescription, nil
}

func (s *PostgresStore) recordExists(ctx context.Context, recordID uint64) error {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient_records WHERE id = $1)`, recordID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check record exists: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return nil
}

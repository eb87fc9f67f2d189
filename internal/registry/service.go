// Package registry composes the role registry, proof gate, record store,
// access ledger and audit log into the registry's operation surface. All
// mutating operations serialize through a single mutex so committed effects
// form one global order; reads take no registry-level lock and observe the
// last committed state.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"medvault/internal/access"
	"medvault/internal/audit"
	"medvault/internal/domain"
	"medvault/internal/proof"
	"medvault/internal/records"
	"medvault/internal/registry/metrics"
	"medvault/internal/roles"
	dErrors "medvault/pkg/domain-errors"
	"medvault/pkg/platform/sentinel"
	"medvault/pkg/requestcontext"
)

// Mutation operation names, used for metrics and idempotency records.
const (
	OpRegisterRole    = "register_role"
	OpRevokeRole      = "revoke_role"
	OpCreateRecord    = "create_record"
	OpAddTest         = "add_test"
	OpAddPrescription = "add_prescription"
	OpGrantAccess     = "grant_access"
	OpRevokeAccess    = "revoke_access"
)

const (
	outcomeCommitted = "committed"
	outcomeNoop      = "noop"
	outcomeRejected  = "rejected"
	outcomeReplayed  = "replayed"
)

type Service struct {
	mu sync.Mutex

	roles  *roles.Service
	store  records.Store
	ledger *access.Ledger
	gate   *proof.Gate
	audit  *audit.Log
	idem   IdempotencyStore

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewService(
	roleSvc *roles.Service,
	store records.Store,
	ledger *access.Ledger,
	gate *proof.Gate,
	auditLog *audit.Log,
	idem IdempotencyStore,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		roles:   roleSvc,
		store:   store,
		ledger:  ledger,
		gate:    gate,
		audit:   auditLog,
		idem:    idem,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("medvault/registry"),
	}
}

// RegisterRole grants target a privileged role. Re-registering the current
// role succeeds as a no-op and leaves the audit log untouched.
func (s *Service) RegisterRole(ctx context.Context, caller, target domain.Identity, role domain.Role) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "registry.RegisterRole")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpRegisterRole); err != nil {
		return false, err
	} else if ok {
		return result.Changed, nil
	}

	changed, err := s.roles.RegisterRole(ctx, caller, target, role)
	if err != nil {
		s.metrics.IncrementMutation(OpRegisterRole, outcomeRejected)
		return false, err
	}
	if !changed {
		s.metrics.IncrementMutation(OpRegisterRole, outcomeNoop)
		s.record(ctx, OpRegisterRole, Result{Changed: false})
		return false, nil
	}
	if err := s.appendAudit(ctx, audit.Entry{
		Actor:   caller,
		Action:  audit.ActionRoleRegistered,
		Subject: target.String(),
	}); err != nil {
		return false, err
	}
	s.metrics.IncrementMutation(OpRegisterRole, outcomeCommitted)
	s.record(ctx, OpRegisterRole, Result{Changed: true})
	return true, nil
}

// RevokeRole resets target to an unprivileged principal.
func (s *Service) RevokeRole(ctx context.Context, caller, target domain.Identity) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "registry.RevokeRole")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpRevokeRole); err != nil {
		return false, err
	} else if ok {
		return result.Changed, nil
	}

	changed, err := s.roles.RevokeRole(ctx, caller, target)
	if err != nil {
		s.metrics.IncrementMutation(OpRevokeRole, outcomeRejected)
		return false, err
	}
	if !changed {
		s.metrics.IncrementMutation(OpRevokeRole, outcomeNoop)
		s.record(ctx, OpRevokeRole, Result{Changed: false})
		return false, nil
	}
	if err := s.appendAudit(ctx, audit.Entry{
		Actor:   caller,
		Action:  audit.ActionRoleRevoked,
		Subject: target.String(),
	}); err != nil {
		return false, err
	}
	s.metrics.IncrementMutation(OpRevokeRole, outcomeCommitted)
	s.record(ctx, OpRevokeRole, Result{Changed: true})
	return true, nil
}

func (s *Service) IsAuthorizedDoctor(ctx context.Context, id domain.Identity) bool {
	return s.roles.IsAuthorizedDoctor(ctx, id)
}

func (s *Service) IsAuthorizedLab(ctx context.Context, id domain.Identity) bool {
	return s.roles.IsAuthorizedLab(ctx, id)
}

// CreatePatientRecord stores a new record owned by owner. Only principals
// holding the Doctor or Lab role may originate records; every field must pass
// proof verification before anything is written.
func (s *Service) CreatePatientRecord(ctx context.Context, caller, owner domain.Identity, fields domain.EncryptedFieldSet) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CreatePatientRecord")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpCreateRecord); err != nil {
		return 0, err
	} else if ok {
		return result.SubjectID, nil
	}

	if err := s.requireClinicalRole(ctx, caller); err != nil {
		s.metrics.IncrementMutation(OpCreateRecord, outcomeRejected)
		return 0, err
	}
	if owner.IsNil() {
		s.metrics.IncrementMutation(OpCreateRecord, outcomeRejected)
		return 0, dErrors.New(dErrors.CodeInvalidInput, "record owner is required")
	}
	if err := s.verifyFields(ctx, fields); err != nil {
		s.metrics.IncrementMutation(OpCreateRecord, outcomeRejected)
		return 0, err
	}

	record, err := s.store.CreateRecord(ctx, owner, fields, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementMutation(OpCreateRecord, outcomeRejected)
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "create record")
	}
	span.SetAttributes(attribute.Int64("record.id", int64(record.ID)))

	if err := s.appendAudit(ctx, audit.Entry{
		Actor:    caller,
		Action:   audit.ActionRecordCreated,
		RecordID: record.ID,
		Subject:  strconv.FormatUint(record.ID, 10),
	}); err != nil {
		return 0, err
	}
	s.metrics.IncrementMutation(OpCreateRecord, outcomeCommitted)
	s.record(ctx, OpCreateRecord, Result{SubjectID: record.ID})
	return record.ID, nil
}

// AddMedicalTest appends a test to an existing record. The caller needs the
// Doctor or Lab role, or Full effective access to the record.
func (s *Service) AddMedicalTest(ctx context.Context, caller domain.Identity, recordID uint64, fields domain.EncryptedFieldSet) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "registry.AddMedicalTest")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpAddTest); err != nil {
		return 0, err
	} else if ok {
		return result.SubjectID, nil
	}

	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		s.metrics.IncrementMutation(OpAddTest, outcomeRejected)
		return 0, err
	}
	if err := s.requireWriteAccess(ctx, caller, record); err != nil {
		s.metrics.IncrementMutation(OpAddTest, outcomeRejected)
		return 0, err
	}
	if err := s.verifyFields(ctx, fields); err != nil {
		s.metrics.IncrementMutation(OpAddTest, outcomeRejected)
		return 0, err
	}

	test, err := s.store.AddTest(ctx, recordID, fields, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementMutation(OpAddTest, outcomeRejected)
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "add test")
	}

	if err := s.appendAudit(ctx, audit.Entry{
		Actor:    caller,
		Action:   audit.ActionTestAdded,
		RecordID: recordID,
		Subject:  strconv.FormatUint(test.ID, 10),
	}); err != nil {
		return 0, err
	}
	s.metrics.IncrementMutation(OpAddTest, outcomeCommitted)
	s.record(ctx, OpAddTest, Result{SubjectID: test.ID})
	return test.ID, nil
}

// AddPrescription appends a prescription to an existing record. Same
// authorization and proof rules as AddMedicalTest; expiresAt is informational
// and surfaces as an expired flag on reads.
func (s *Service) AddPrescription(ctx context.Context, caller domain.Identity, recordID uint64, fields domain.EncryptedFieldSet, expiresAt time.Time) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "registry.AddPrescription")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpAddPrescription); err != nil {
		return 0, err
	} else if ok {
		return result.SubjectID, nil
	}

	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		s.metrics.IncrementMutation(OpAddPrescription, outcomeRejected)
		return 0, err
	}
	if err := s.requireWriteAccess(ctx, caller, record); err != nil {
		s.metrics.IncrementMutation(OpAddPrescription, outcomeRejected)
		return 0, err
	}
	if err := s.verifyFields(ctx, fields); err != nil {
		s.metrics.IncrementMutation(OpAddPrescription, outcomeRejected)
		return 0, err
	}

	prescription, err := s.store.AddPrescription(ctx, recordID, fields, expiresAt, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementMutation(OpAddPrescription, outcomeRejected)
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "add prescription")
	}

	if err := s.appendAudit(ctx, audit.Entry{
		Actor:    caller,
		Action:   audit.ActionPrescriptionAdded,
		RecordID: recordID,
		Subject:  strconv.FormatUint(prescription.ID, 10),
	}); err != nil {
		return 0, err
	}
	s.metrics.IncrementMutation(OpAddPrescription, outcomeCommitted)
	s.record(ctx, OpAddPrescription, Result{SubjectID: prescription.ID})
	return prescription.ID, nil
}

// GrantAccess appends a grant for grantee on the record. Only the record
// owner or an admin may grant.
func (s *Service) GrantAccess(ctx context.Context, caller domain.Identity, recordID uint64, grantee domain.Identity, level domain.AccessLevel) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "registry.GrantAccess")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpGrantAccess); err != nil {
		return 0, err
	} else if ok {
		return result.SubjectID, nil
	}

	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		s.metrics.IncrementMutation(OpGrantAccess, outcomeRejected)
		return 0, err
	}

	grant, err := s.ledger.Grant(ctx, caller, recordID, record.Owner, grantee, level, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementMutation(OpGrantAccess, outcomeRejected)
		return 0, err
	}

	if err := s.appendAudit(ctx, audit.Entry{
		Actor:    caller,
		Action:   audit.ActionAccessGranted,
		RecordID: recordID,
		Subject:  grantee.String(),
	}); err != nil {
		return 0, err
	}
	s.metrics.IncrementMutation(OpGrantAccess, outcomeCommitted)
	s.record(ctx, OpGrantAccess, Result{SubjectID: grant.ID})
	return grant.ID, nil
}

// RevokeAccess appends a revocation entry superseding all prior grants for
// the (record, grantee) pair.
func (s *Service) RevokeAccess(ctx context.Context, caller domain.Identity, recordID uint64, grantee domain.Identity) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "registry.RevokeAccess")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok, err := s.replay(ctx, OpRevokeAccess); err != nil {
		return 0, err
	} else if ok {
		return result.SubjectID, nil
	}

	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		s.metrics.IncrementMutation(OpRevokeAccess, outcomeRejected)
		return 0, err
	}

	grant, err := s.ledger.Revoke(ctx, caller, recordID, record.Owner, grantee, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementMutation(OpRevokeAccess, outcomeRejected)
		return 0, err
	}

	if err := s.appendAudit(ctx, audit.Entry{
		Actor:    caller,
		Action:   audit.ActionAccessRevoked,
		RecordID: recordID,
		Subject:  grantee.String(),
	}); err != nil {
		return 0, err
	}
	s.metrics.IncrementMutation(OpRevokeAccess, outcomeCommitted)
	s.record(ctx, OpRevokeAccess, Result{SubjectID: grant.ID})
	return grant.ID, nil
}

// GetRecordInfo returns the record scoped to the caller's effective access
// level. Callers with no access receive Unauthorized, never a redacted
// payload.
func (s *Service) GetRecordInfo(ctx context.Context, caller domain.Identity, recordID uint64) (records.View, error) {
	ctx, span := s.tracer.Start(ctx, "registry.GetRecordInfo")
	defer span.End()

	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return records.View{}, err
	}
	level, err := s.readLevel(ctx, caller, record)
	if err != nil {
		return records.View{}, err
	}
	return records.RecordView(record, level), nil
}

// GetTestInfo returns a test scoped to the caller's effective access level on
// the parent record.
func (s *Service) GetTestInfo(ctx context.Context, caller domain.Identity, testID uint64) (records.View, error) {
	ctx, span := s.tracer.Start(ctx, "registry.GetTestInfo")
	defer span.End()

	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return records.View{}, mapStoreErr(err, "test not found")
	}
	record, err := s.loadRecord(ctx, test.RecordID)
	if err != nil {
		return records.View{}, err
	}
	level, err := s.readLevel(ctx, caller, record)
	if err != nil {
		return records.View{}, err
	}
	return records.TestView(test, level), nil
}

// GetPrescriptionInfo returns a prescription scoped to the caller's effective
// access level on the parent record.
func (s *Service) GetPrescriptionInfo(ctx context.Context, caller domain.Identity, prescriptionID uint64) (records.View, error) {
	ctx, span := s.tracer.Start(ctx, "registry.GetPrescriptionInfo")
	defer span.End()

	prescription, err := s.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return records.View{}, mapStoreErr(err, "prescription not found")
	}
	record, err := s.loadRecord(ctx, prescription.RecordID)
	if err != nil {
		return records.View{}, err
	}
	level, err := s.readLevel(ctx, caller, record)
	if err != nil {
		return records.View{}, err
	}
	return records.PrescriptionView(prescription, level, requestcontext.Now(ctx)), nil
}

// ListAccess returns the full grant history of a record, owner or admin only.
func (s *Service) ListAccess(ctx context.Context, caller domain.Identity, recordID uint64) ([]access.Grant, error) {
	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(ctx, caller, record.Owner); err != nil {
		return nil, err
	}
	return s.ledger.ListByRecord(ctx, recordID)
}

// AuditTrail returns the audit entries for a record in creation order, owner
// or admin only.
func (s *Service) AuditTrail(ctx context.Context, caller domain.Identity, recordID uint64) ([]audit.Entry, error) {
	record, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(ctx, caller, record.Owner); err != nil {
		return nil, err
	}
	return s.audit.ListByRecord(ctx, recordID)
}

// AuditLength reports the total number of audit entries.
func (s *Service) AuditLength(ctx context.Context) (uint64, error) {
	return s.audit.Length(ctx)
}

func (s *Service) loadRecord(ctx context.Context, recordID uint64) (records.PatientRecord, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return records.PatientRecord{}, mapStoreErr(err, "record not found")
	}
	return record, nil
}

func (s *Service) requireClinicalRole(ctx context.Context, caller domain.Identity) error {
	if s.roles.IsAuthorizedDoctor(ctx, caller) || s.roles.IsAuthorizedLab(ctx, caller) {
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "caller lacks a clinical role")
}

// requireWriteAccess admits clinical principals and grantees with Full
// effective access on the record.
func (s *Service) requireWriteAccess(ctx context.Context, caller domain.Identity, record records.PatientRecord) error {
	if s.roles.IsAuthorizedDoctor(ctx, caller) || s.roles.IsAuthorizedLab(ctx, caller) {
		return nil
	}
	level, err := s.ledger.Effective(ctx, record.ID, record.Owner, caller)
	if err != nil {
		return err
	}
	if level == domain.AccessFull {
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "caller may not extend this record")
}

// readLevel resolves the level a read is scoped to. Clinical principals read
// at Full; everyone else needs an effective grant, ownership, or admin.
func (s *Service) readLevel(ctx context.Context, caller domain.Identity, record records.PatientRecord) (domain.AccessLevel, error) {
	if s.roles.IsAuthorizedDoctor(ctx, caller) || s.roles.IsAuthorizedLab(ctx, caller) {
		return domain.AccessFull, nil
	}
	level, err := s.ledger.Effective(ctx, record.ID, record.Owner, caller)
	if err != nil {
		return domain.AccessNone, err
	}
	if level == domain.AccessNone {
		return domain.AccessNone, dErrors.New(dErrors.CodeUnauthorized, "caller has no access to this record")
	}
	return level, nil
}

func (s *Service) requireOwnerOrAdmin(ctx context.Context, caller, owner domain.Identity) error {
	if caller == owner || s.roles.IsAdmin(ctx, caller) {
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "caller is neither record owner nor admin")
}

func (s *Service) verifyFields(ctx context.Context, fields domain.EncryptedFieldSet) error {
	start := time.Now()
	err := s.gate.VerifyFields(ctx, fields)
	s.metrics.ObserveProofLatency(time.Since(start))
	return err
}

// replay looks up a previously committed result for the request id carried in
// ctx. A request id reused across different operations is rejected.
func (s *Service) replay(ctx context.Context, op string) (Result, bool, error) {
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		return Result{}, false, nil
	}
	result, ok, err := s.idem.Get(ctx, requestID)
	if err != nil {
		return Result{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup failed")
	}
	if !ok {
		return Result{}, false, nil
	}
	if result.Op != op {
		return Result{}, false, dErrors.New(dErrors.CodeConflict, "request id already used by another operation")
	}
	s.metrics.IncrementMutation(op, outcomeReplayed)
	s.metrics.IncrementReplay()
	s.logger.InfoContext(ctx, "replayed committed mutation",
		"op", op,
		"request_id", requestID,
	)
	return result, true, nil
}

// record stores the committed result for the request id. The mutation is
// already applied; a failure here only weakens dedup, so it is logged and
// swallowed.
func (s *Service) record(ctx context.Context, op string, result Result) {
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		return
	}
	result.Op = op
	if err := s.idem.Put(ctx, requestID, result); err != nil {
		s.logger.WarnContext(ctx, "failed to record idempotency entry",
			"op", op,
			"request_id", requestID,
			"error", err,
		)
	}
}

// appendAudit writes the audit entry for an applied mutation. The write and
// the audit append must land together; an append failure after the state
// write is an invariant violation, not a retryable condition.
func (s *Service) appendAudit(ctx context.Context, entry audit.Entry) error {
	entry.Timestamp = requestcontext.Now(ctx)
	entry.RequestID = requestcontext.RequestID(ctx)
	if _, err := s.audit.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed after state write",
			"action", string(entry.Action),
			"record_id", entry.RecordID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "audit append failed")
	}
	return nil
}

func mapStoreErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
}

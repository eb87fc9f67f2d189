package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"medvault/internal/access"
	"medvault/internal/audit"
	"medvault/internal/domain"
	"medvault/internal/proof"
	proofmocks "medvault/internal/proof/mocks"
	"medvault/internal/records"
	"medvault/internal/roles"
	dErrors "medvault/pkg/domain-errors"
	"medvault/pkg/requestcontext"
)

const (
	adminID   = domain.Identity("0xadmin")
	doctorID  = domain.Identity("0xdoctor")
	labID     = domain.Identity("0xlab")
	patientID = domain.Identity("0xpatient")
	viewerID  = domain.Identity("0xviewer")
	nobodyID  = domain.Identity("0xnobody")
)

type RegistrySuite struct {
	suite.Suite

	ctx       context.Context
	svc       *Service
	roleSvc   *roles.Service
	generator *proof.Generator
}

func (s *RegistrySuite) SetupTest() {
	generator, err := proof.NewGenerator()
	s.Require().NoError(err)
	s.generator = generator

	verifier := proof.NewEd25519Verifier(proof.WithTrustedKeys(generator.PublicKey()))
	s.svc = s.newService(verifier)
	s.ctx = context.Background()

	s.Require().NoError(s.roleSvc.Seed(s.ctx, []domain.Identity{adminID}))
}

func (s *RegistrySuite) newService(verifier proof.Verifier) *Service {
	logger := slog.New(slog.NewTextHandler(suiteWriter{s.T()}, nil))
	roleSvc := roles.NewService(roles.NewInMemoryStore())
	ledger := access.NewLedger(access.NewInMemoryStore(), roleSvc)
	gate := proof.NewGate(verifier, 100*time.Millisecond)
	auditLog := audit.NewLog(audit.NewInMemoryStore())
	idem := NewInMemoryIdempotencyStore(time.Hour)
	s.roleSvc = roleSvc
	return NewService(roleSvc, records.NewInMemoryStore(), ledger, gate, auditLog, idem, logger, nil)
}

func (s *RegistrySuite) fields(values map[string]string) domain.EncryptedFieldSet {
	fields, err := s.generator.FieldSet(values)
	s.Require().NoError(err)
	return fields
}

func (s *RegistrySuite) recordFields() domain.EncryptedFieldSet {
	return s.fields(map[string]string{
		"name":      "Ada",
		"diagnosis": "hypertension",
		"bloodType": "0+",
	})
}

func (s *RegistrySuite) auditLength() uint64 {
	length, err := s.svc.AuditLength(s.ctx)
	s.Require().NoError(err)
	return length
}

func (s *RegistrySuite) registerDoctor() {
	changed, err := s.svc.RegisterRole(s.ctx, adminID, doctorID, domain.RoleDoctor)
	s.Require().NoError(err)
	s.Require().True(changed)
}

func (s *RegistrySuite) createRecord(owner domain.Identity) uint64 {
	id, err := s.svc.CreatePatientRecord(s.ctx, doctorID, owner, s.recordFields())
	s.Require().NoError(err)
	return id
}

func (s *RegistrySuite) TestRoleLifecycle() {
	s.Run("unregistered identity is not a doctor", func() {
		s.False(s.svc.IsAuthorizedDoctor(s.ctx, doctorID))
	})

	s.Run("registration flips the check immediately", func() {
		s.registerDoctor()
		s.True(s.svc.IsAuthorizedDoctor(s.ctx, doctorID))
		s.Equal(uint64(1), s.auditLength())
	})

	s.Run("revocation flips it back", func() {
		changed, err := s.svc.RevokeRole(s.ctx, adminID, doctorID)
		s.Require().NoError(err)
		s.True(changed)
		s.False(s.svc.IsAuthorizedDoctor(s.ctx, doctorID))
		s.Equal(uint64(2), s.auditLength())
	})
}

func (s *RegistrySuite) TestRegisterRole_NoopLeavesAuditUntouched() {
	s.registerDoctor()
	before := s.auditLength()

	changed, err := s.svc.RegisterRole(s.ctx, adminID, doctorID, domain.RoleDoctor)
	s.Require().NoError(err)
	s.False(changed)
	s.Equal(before, s.auditLength())
}

func (s *RegistrySuite) TestRegisterRole_NonAdminRejected() {
	before := s.auditLength()

	_, err := s.svc.RegisterRole(s.ctx, nobodyID, doctorID, domain.RoleDoctor)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(before, s.auditLength())
}

func (s *RegistrySuite) TestCreatePatientRecord_RequiresClinicalRole() {
	before := s.auditLength()

	_, err := s.svc.CreatePatientRecord(s.ctx, nobodyID, patientID, s.recordFields())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(before, s.auditLength())
}

func (s *RegistrySuite) TestCreatePatientRecord_InvalidProofLeavesNoTrace() {
	s.registerDoctor()
	before := s.auditLength()

	fields := s.recordFields()
	tampered := fields["diagnosis"]
	tampered.Ciphertext = append(append([]byte{}, tampered.Ciphertext...), 0xff)
	fields["diagnosis"] = tampered

	_, err := s.svc.CreatePatientRecord(s.ctx, doctorID, patientID, fields)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))
	s.Equal(before, s.auditLength())

	// Nothing was written: the next record still gets id 1.
	id := s.createRecord(patientID)
	s.Equal(uint64(1), id)
}

func (s *RegistrySuite) TestAddMedicalTest_ViewOnlyGranteeRejected() {
	s.registerDoctor()
	recordID := s.createRecord(patientID)

	_, err := s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessViewOnly)
	s.Require().NoError(err)
	before := s.auditLength()

	_, err = s.svc.AddMedicalTest(s.ctx, viewerID, recordID, s.fields(map[string]string{
		"testName": "lipid panel",
		"result":   "borderline",
	}))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(before, s.auditLength())
}

func (s *RegistrySuite) TestAddMedicalTest_MissingRecord() {
	s.registerDoctor()
	before := s.auditLength()

	_, err := s.svc.AddMedicalTest(s.ctx, doctorID, 42, s.fields(map[string]string{"testName": "cbc"}))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(before, s.auditLength())
}

func (s *RegistrySuite) TestGrantRevoke_ResolutionByCreationOrder() {
	s.registerDoctor()
	recordID := s.createRecord(patientID)

	_, err := s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessFull)
	s.Require().NoError(err)
	_, err = s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessViewOnly)
	s.Require().NoError(err)

	_, err = s.svc.RevokeAccess(s.ctx, patientID, recordID, viewerID)
	s.Require().NoError(err)

	// History retained, latest entry wins: the viewer is locked out.
	_, err = s.svc.GetRecordInfo(s.ctx, viewerID, recordID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	grants, err := s.svc.ListAccess(s.ctx, patientID, recordID)
	s.Require().NoError(err)
	s.Len(grants, 3)
}

func (s *RegistrySuite) TestReads_LevelScoped() {
	s.registerDoctor()
	recordID := s.createRecord(patientID)

	_, err := s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessViewOnly)
	s.Require().NoError(err)

	s.Run("view-only sees summary metadata without ciphertext", func() {
		view, err := s.svc.GetRecordInfo(s.ctx, viewerID, recordID)
		s.Require().NoError(err)
		s.Equal(domain.AccessViewOnly.String(), view.Level)
		s.Nil(view.Fields)
		s.Equal(3, view.FieldCount)
	})

	s.Run("restricted hides the sensitive subset", func() {
		_, err := s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessRestricted)
		s.Require().NoError(err)

		view, err := s.svc.GetRecordInfo(s.ctx, viewerID, recordID)
		s.Require().NoError(err)
		s.Contains(view.Fields, "name")
		s.NotContains(view.Fields, "diagnosis")
	})

	s.Run("owner reads at full", func() {
		view, err := s.svc.GetRecordInfo(s.ctx, patientID, recordID)
		s.Require().NoError(err)
		s.Equal(domain.AccessFull.String(), view.Level)
		s.Contains(view.Fields, "diagnosis")
	})

	s.Run("stranger gets unauthorized, not a redacted payload", func() {
		_, err := s.svc.GetRecordInfo(s.ctx, nobodyID, recordID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *RegistrySuite) TestPrescriptionExpiryFlag() {
	s.registerDoctor()
	recordID := s.createRecord(patientID)

	id, err := s.svc.AddPrescription(s.ctx, doctorID, recordID, s.fields(map[string]string{
		"medicationName": "lisinopril",
		"instructions":   "once daily",
	}), time.Now().Add(-time.Hour))
	s.Require().NoError(err)

	view, err := s.svc.GetPrescriptionInfo(s.ctx, patientID, id)
	s.Require().NoError(err)
	s.Require().NotNil(view.Expired)
	s.True(*view.Expired)
}

func (s *RegistrySuite) TestRetryAfterTimeoutCommitsOnce() {
	ctrl := gomock.NewController(s.T())
	verifier := proofmocks.NewMockVerifier(ctrl)
	svc := s.newService(verifier)
	ctx := requestCtx(uuid.NewString())

	s.Require().NoError(s.roleSvc.Seed(ctx, []domain.Identity{adminID}))
	_, err := svc.RegisterRole(ctx, adminID, doctorID, domain.RoleDoctor)
	s.Require().NoError(err)

	fields := domain.EncryptedFieldSet{
		"name": {Ciphertext: []byte("ct"), Proof: []byte("pf")},
	}

	// First attempt: the verifier never answers inside the gate timeout.
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _, _ []byte) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	)

	requestID := uuid.NewString()
	attempt := requestCtxWith(ctx, requestID)
	_, err = svc.CreatePatientRecord(attempt, doctorID, patientID, fields)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	length, err := svc.AuditLength(ctx)
	s.Require().NoError(err)
	auditBefore := length

	// Retry with the same request id: the verifier has recovered.
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	first, err := svc.CreatePatientRecord(attempt, doctorID, patientID, fields)
	s.Require().NoError(err)

	// A further retry replays the committed result without re-verifying.
	second, err := svc.CreatePatientRecord(attempt, doctorID, patientID, fields)
	s.Require().NoError(err)
	s.Equal(first, second)

	length, err = svc.AuditLength(ctx)
	s.Require().NoError(err)
	s.Equal(auditBefore+1, length)
}

func (s *RegistrySuite) TestRequestIDReuseAcrossOperationsRejected() {
	s.registerDoctor()

	requestID := uuid.NewString()
	ctx := requestCtx(requestID)
	recordID, err := s.svc.CreatePatientRecord(ctx, doctorID, patientID, s.recordFields())
	s.Require().NoError(err)

	_, err = s.svc.AddMedicalTest(ctx, doctorID, recordID, s.fields(map[string]string{"testName": "cbc"}))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *RegistrySuite) TestAuditTrail_OwnerSeesCreationOrder() {
	s.registerDoctor()
	recordID := s.createRecord(patientID)

	_, err := s.svc.AddMedicalTest(s.ctx, doctorID, recordID, s.fields(map[string]string{"testName": "cbc"}))
	s.Require().NoError(err)
	_, err = s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessViewOnly)
	s.Require().NoError(err)

	trail, err := s.svc.AuditTrail(s.ctx, patientID, recordID)
	s.Require().NoError(err)
	s.Require().Len(trail, 3)
	s.Equal(audit.ActionRecordCreated, trail[0].Action)
	s.Equal(audit.ActionTestAdded, trail[1].Action)
	s.Equal(audit.ActionAccessGranted, trail[2].Action)

	_, err = s.svc.AuditTrail(s.ctx, viewerID, recordID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

// TestEndToEndScenario walks the canonical flow: admin registers a doctor,
// the doctor creates a record and a test, a stranger is rejected, and a
// view-only grantee sees metadata only.
func (s *RegistrySuite) TestEndToEndScenario() {
	s.registerDoctor()
	s.Equal(uint64(1), s.auditLength())

	recordID, err := s.svc.CreatePatientRecord(s.ctx, doctorID, patientID, s.recordFields())
	s.Require().NoError(err)
	s.Equal(uint64(1), recordID)
	s.Equal(uint64(2), s.auditLength())

	_, err = s.svc.AddMedicalTest(s.ctx, doctorID, recordID, s.fields(map[string]string{
		"testName": "cbc",
		"result":   "normal",
	}))
	s.Require().NoError(err)
	s.Equal(uint64(3), s.auditLength())

	_, err = s.svc.AddMedicalTest(s.ctx, nobodyID, recordID, s.fields(map[string]string{"testName": "cbc"}))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(uint64(3), s.auditLength())

	_, err = s.svc.GrantAccess(s.ctx, patientID, recordID, viewerID, domain.AccessViewOnly)
	s.Require().NoError(err)
	s.Equal(uint64(4), s.auditLength())

	view, err := s.svc.GetRecordInfo(s.ctx, viewerID, recordID)
	s.Require().NoError(err)
	s.Nil(view.Fields)
	s.Equal(records.KindPatientRecord, view.Kind)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func requestCtx(requestID string) context.Context {
	return requestCtxWith(context.Background(), requestID)
}

func requestCtxWith(ctx context.Context, requestID string) context.Context {
	return requestcontext.WithRequestID(ctx, requestID)
}

type suiteWriter struct{ t *testing.T }

func (w suiteWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"medvault/internal/access"
	"medvault/internal/audit"
	"medvault/internal/domain"
	"medvault/internal/jwttoken"
	"medvault/internal/proof"
	"medvault/internal/records"
	"medvault/internal/registry"
	"medvault/internal/roles"
	"medvault/pkg/testutil"
)

const signingKey = "test-signing-key-0123456789abcdef"

type testEnv struct {
	router    chi.Router
	jwt       *jwttoken.JWTService
	generator *proof.Generator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	generator, err := proof.NewGenerator()
	if err != nil {
		t.Fatalf("create proof generator: %v", err)
	}
	verifier := proof.NewEd25519Verifier(proof.WithTrustedKeys(generator.PublicKey()))

	roleSvc := roles.NewService(roles.NewInMemoryStore())
	if err := roleSvc.Seed(context.Background(), []domain.Identity{"0xadmin"}); err != nil {
		t.Fatalf("seed admins: %v", err)
	}
	svc := registry.NewService(
		roleSvc,
		records.NewInMemoryStore(),
		access.NewLedger(access.NewInMemoryStore(), roleSvc),
		proof.NewGate(verifier, time.Second),
		audit.NewLog(audit.NewInMemoryStore()),
		registry.NewInMemoryIdempotencyStore(time.Hour),
		logger,
		nil,
	)

	jwtSvc := jwttoken.NewJWTService(signingKey, "medvault", "medvault-api")
	router := chi.NewRouter()
	New(svc, logger, nil, jwttoken.NewAdapter(jwtSvc)).Register(router)

	return &testEnv{router: router, jwt: jwtSvc, generator: generator}
}

func (e *testEnv) do(t *testing.T, method, path, subject string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	req := testutil.NewJSONRequest(t, method, path, payload)
	if subject != "" {
		token, err := e.jwt.GenerateAccessToken(subject, time.Hour)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(e.router, req)
}

func (e *testEnv) fields(t *testing.T, values map[string]string) map[string]map[string][]byte {
	t.Helper()
	set, err := e.generator.FieldSet(values)
	if err != nil {
		t.Fatalf("generate field set: %v", err)
	}
	out := make(map[string]map[string][]byte, len(set))
	for name, field := range set {
		out[name] = map[string][]byte{"ciphertext": field.Ciphertext, "proof": field.Proof}
	}
	return out
}

func (e *testEnv) registerDoctor(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/roles", "0xadmin", map[string]string{
		"target": "0xdoctor",
		"role":   "doctor",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 registering doctor, got %d: %s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) createRecord(t *testing.T) uint64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/records", "0xdoctor", map[string]any{
		"owner":  "0xpatient",
		"fields": e.fields(t, map[string]string{"name": "Ada", "diagnosis": "hypertension"}),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating record, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := testutil.UnmarshalResponse[struct {
		ID uint64 `json:"id"`
	}](t, rec)
	return resp.ID
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/records/1", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRegisterRole_NonAdminForbidden(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/roles", "0xnobody", map[string]string{
		"target": "0xdoctor",
		"role":   "doctor",
	})
	testutil.AssertStatus(t, rec, http.StatusForbidden)
	testutil.AssertErrorCode(t, rec, "unauthorized")
}

func TestCreateAndReadRecordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerDoctor(t)
	recordID := env.createRecord(t)
	if recordID != 1 {
		t.Fatalf("expected first record id 1, got %d", recordID)
	}

	// Owner reads at full level.
	rec := env.do(t, http.MethodGet, "/records/1", "0xpatient", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reading as owner, got %d: %s", rec.Code, rec.Body.String())
	}
	view := testutil.UnmarshalResponse[struct {
		Level  string                     `json:"level"`
		Owner  string                     `json:"owner"`
		Fields map[string]json.RawMessage `json:"fields"`
	}](t, rec)
	if view.Level != "full" || view.Owner != "0xpatient" {
		t.Fatalf("expected full view for owner, got level %q owner %q", view.Level, view.Owner)
	}
	if _, ok := view.Fields["diagnosis"]; !ok {
		t.Fatalf("expected diagnosis field in full view")
	}

	// Stranger is locked out.
	rec = env.do(t, http.MethodGet, "/records/1", "0xnobody", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}

	// Missing record is 404.
	rec = env.do(t, http.MethodGet, "/records/42", "0xpatient", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing record, got %d", rec.Code)
	}
}

func TestViewOnlyGrantFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerDoctor(t)
	env.createRecord(t)

	rec := env.do(t, http.MethodPost, "/records/1/access", "0xpatient", map[string]string{
		"grantee": "0xviewer",
		"level":   "view_only",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 granting access, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/records/1", "0xviewer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for view-only grantee, got %d", rec.Code)
	}
	view := testutil.UnmarshalResponse[struct {
		Level      string                     `json:"level"`
		FieldCount int                        `json:"field_count"`
		Fields     map[string]json.RawMessage `json:"fields"`
	}](t, rec)
	if view.Level != "view_only" || view.Fields != nil || view.FieldCount != 2 {
		t.Fatalf("expected metadata-only view, got %+v", *view)
	}

	// The grantee cannot extend the record.
	rec = env.do(t, http.MethodPost, "/records/1/tests", "0xviewer", map[string]any{
		"fields": env.fields(t, map[string]string{"testName": "cbc"}),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for view-only test add, got %d", rec.Code)
	}

	// Revocation locks the grantee out again.
	rec = env.do(t, http.MethodPost, "/records/1/access/revoke", "0xpatient", map[string]string{
		"grantee": "0xviewer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 revoking access, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/records/1", "0xviewer", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after revocation, got %d", rec.Code)
	}
}

func TestAddTestInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	env.registerDoctor(t)
	env.createRecord(t)

	req := httptest.NewRequest(http.MethodPost, "/records/1/tests", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	token, err := env.jwt.GenerateAccessToken("0xdoctor", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.registerDoctor(t)
	env.createRecord(t)

	rec := env.do(t, http.MethodPost, "/records/1/tests", "0xdoctor", map[string]any{
		"fields": env.fields(t, map[string]string{"testName": "cbc", "result": "normal"}),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 adding test, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/records/1/audit", "0xpatient", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reading audit trail as owner, got %d", rec.Code)
	}
	trail := testutil.UnmarshalResponse[[]struct {
		Sequence uint64 `json:"sequence"`
		Action   string `json:"action"`
	}](t, rec)
	if len(*trail) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(*trail))
	}

	rec = env.do(t, http.MethodGet, "/records/1/audit", "0xviewer", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading audit trail as stranger, got %d", rec.Code)
	}
}

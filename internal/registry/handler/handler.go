// Package handler exposes the registry's operation surface over HTTP. It is a
// thin transport layer: request decoding, identity extraction and error
// translation live here, authorization and state transitions do not.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"medvault/internal/access"
	"medvault/internal/audit"
	"medvault/internal/domain"
	platformmetrics "medvault/internal/platform/metrics"
	"medvault/internal/platform/middleware"
	"medvault/internal/records"
	dErrors "medvault/pkg/domain-errors"
	"medvault/pkg/platform/httputil"
)

// Service defines the registry operations the transport layer needs.
type Service interface {
	RegisterRole(ctx context.Context, caller, target domain.Identity, role domain.Role) (bool, error)
	RevokeRole(ctx context.Context, caller, target domain.Identity) (bool, error)
	IsAuthorizedDoctor(ctx context.Context, id domain.Identity) bool
	IsAuthorizedLab(ctx context.Context, id domain.Identity) bool

	CreatePatientRecord(ctx context.Context, caller, owner domain.Identity, fields domain.EncryptedFieldSet) (uint64, error)
	AddMedicalTest(ctx context.Context, caller domain.Identity, recordID uint64, fields domain.EncryptedFieldSet) (uint64, error)
	AddPrescription(ctx context.Context, caller domain.Identity, recordID uint64, fields domain.EncryptedFieldSet, expiresAt time.Time) (uint64, error)

	GrantAccess(ctx context.Context, caller domain.Identity, recordID uint64, grantee domain.Identity, level domain.AccessLevel) (uint64, error)
	RevokeAccess(ctx context.Context, caller domain.Identity, recordID uint64, grantee domain.Identity) (uint64, error)

	GetRecordInfo(ctx context.Context, caller domain.Identity, recordID uint64) (records.View, error)
	GetTestInfo(ctx context.Context, caller domain.Identity, testID uint64) (records.View, error)
	GetPrescriptionInfo(ctx context.Context, caller domain.Identity, prescriptionID uint64) (records.View, error)
	ListAccess(ctx context.Context, caller domain.Identity, recordID uint64) ([]access.Grant, error)
	AuditTrail(ctx context.Context, caller domain.Identity, recordID uint64) ([]audit.Entry, error)
}

// Handler handles registry endpoints.
type Handler struct {
	logger       *slog.Logger
	registry     Service
	metrics      *platformmetrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new registry Handler.
func New(
	registry Service,
	logger *slog.Logger,
	metrics *platformmetrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		registry:     registry,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the registry routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	registryRouter := chi.NewRouter()
	registryRouter.Use(middleware.Recovery(h.logger))
	registryRouter.Use(middleware.RequestID)
	registryRouter.Use(middleware.RequestTime)
	registryRouter.Use(middleware.Logger(h.logger))
	registryRouter.Use(middleware.Timeout(30 * time.Second))
	registryRouter.Use(middleware.ContentTypeJSON)
	registryRouter.Use(middleware.LatencyMiddleware(h.metrics))
	registryRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	registryRouter.Post("/roles", h.handleRegisterRole)
	registryRouter.Post("/roles/revoke", h.handleRevokeRole)
	registryRouter.Get("/roles/doctor/{id}", h.handleIsDoctor)
	registryRouter.Get("/roles/lab/{id}", h.handleIsLab)

	registryRouter.Post("/records", h.handleCreateRecord)
	registryRouter.Get("/records/{id}", h.handleGetRecord)
	registryRouter.Post("/records/{id}/tests", h.handleAddTest)
	registryRouter.Post("/records/{id}/prescriptions", h.handleAddPrescription)
	registryRouter.Post("/records/{id}/access", h.handleGrantAccess)
	registryRouter.Post("/records/{id}/access/revoke", h.handleRevokeAccess)
	registryRouter.Get("/records/{id}/access", h.handleListAccess)
	registryRouter.Get("/records/{id}/audit", h.handleAuditTrail)

	registryRouter.Get("/tests/{id}", h.handleGetTest)
	registryRouter.Get("/prescriptions/{id}", h.handleGetPrescription)

	r.Mount("/", registryRouter)
}

type fieldPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Proof      []byte `json:"proof"`
}

func toFieldSet(in map[string]fieldPayload) domain.EncryptedFieldSet {
	out := make(domain.EncryptedFieldSet, len(in))
	for name, field := range in {
		out[name] = domain.EncryptedField{Ciphertext: field.Ciphertext, Proof: field.Proof}
	}
	return out
}

type registerRoleRequest struct {
	Target string `json:"target"`
	Role   string `json:"role"`
}

type revokeRoleRequest struct {
	Target string `json:"target"`
}

type createRecordRequest struct {
	Owner  string                  `json:"owner"`
	Fields map[string]fieldPayload `json:"fields"`
}

type addSubRecordRequest struct {
	Fields    map[string]fieldPayload `json:"fields"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
}

type grantAccessRequest struct {
	Grantee string `json:"grantee"`
	Level   string `json:"level"`
}

type revokeAccessRequest struct {
	Grantee string `json:"grantee"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type authorizedResponse struct {
	Authorized bool `json:"authorized"`
}

func (h *Handler) handleRegisterRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}

	var req registerRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid register role request", err)
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		h.writeError(ctx, w, "register role", err)
		return
	}
	target, err := domain.ParseIdentity(req.Target)
	if err != nil {
		h.writeError(ctx, w, "register role", err)
		return
	}

	changed, err := h.registry.RegisterRole(ctx, caller, target, role)
	if err != nil {
		h.writeError(ctx, w, "register role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}

	var req revokeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid revoke role request", err)
		return
	}
	target, err := domain.ParseIdentity(req.Target)
	if err != nil {
		h.writeError(ctx, w, "revoke role", err)
		return
	}

	changed, err := h.registry.RevokeRole(ctx, caller, target)
	if err != nil {
		h.writeError(ctx, w, "revoke role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) handleIsDoctor(w http.ResponseWriter, r *http.Request) {
	h.handleRoleCheck(w, r, h.registry.IsAuthorizedDoctor)
}

func (h *Handler) handleIsLab(w http.ResponseWriter, r *http.Request) {
	h.handleRoleCheck(w, r, h.registry.IsAuthorizedLab)
}

func (h *Handler) handleRoleCheck(w http.ResponseWriter, r *http.Request, check func(context.Context, domain.Identity) bool) {
	ctx := r.Context()
	id, err := domain.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "role check", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, authorizedResponse{Authorized: check(ctx, id)})
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid create record request", err)
		return
	}
	owner, err := domain.ParseIdentity(req.Owner)
	if err != nil {
		h.writeError(ctx, w, "create record", err)
		return
	}

	id, err := h.registry.CreatePatientRecord(ctx, caller, owner, toFieldSet(req.Fields))
	if err != nil {
		h.writeError(ctx, w, "create record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleAddTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req addSubRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid add test request", err)
		return
	}

	id, err := h.registry.AddMedicalTest(ctx, caller, recordID, toFieldSet(req.Fields))
	if err != nil {
		h.writeError(ctx, w, "add test", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleAddPrescription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req addSubRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid add prescription request", err)
		return
	}
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	id, err := h.registry.AddPrescription(ctx, caller, recordID, toFieldSet(req.Fields), expiresAt)
	if err != nil {
		h.writeError(ctx, w, "add prescription", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req grantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid grant access request", err)
		return
	}
	grantee, err := domain.ParseIdentity(req.Grantee)
	if err != nil {
		h.writeError(ctx, w, "grant access", err)
		return
	}
	level, err := domain.ParseAccessLevel(req.Level)
	if err != nil {
		h.writeError(ctx, w, "grant access", err)
		return
	}

	id, err := h.registry.GrantAccess(ctx, caller, recordID, grantee, level)
	if err != nil {
		h.writeError(ctx, w, "grant access", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req revokeAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "invalid revoke access request", err)
		return
	}
	grantee, err := domain.ParseIdentity(req.Grantee)
	if err != nil {
		h.writeError(ctx, w, "revoke access", err)
		return
	}

	id, err := h.registry.RevokeAccess(ctx, caller, recordID, grantee)
	if err != nil {
		h.writeError(ctx, w, "revoke access", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	h.handleRead(w, r, h.registry.GetRecordInfo)
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	h.handleRead(w, r, h.registry.GetTestInfo)
}

func (h *Handler) handleGetPrescription(w http.ResponseWriter, r *http.Request) {
	h.handleRead(w, r, h.registry.GetPrescriptionInfo)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, read func(context.Context, domain.Identity, uint64) (records.View, error)) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	view, err := read(ctx, caller, id)
	if err != nil {
		h.writeError(ctx, w, "read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleListAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	grants, err := h.registry.ListAccess(ctx, caller, recordID)
	if err != nil {
		h.writeError(ctx, w, "list access", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	recordID, ok := h.pathID(ctx, w, r)
	if !ok {
		return
	}

	trail, err := h.registry.AuditTrail(ctx, caller, recordID)
	if err != nil {
		h.writeError(ctx, w, "audit trail", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trail)
}

// caller extracts the authenticated identity set by RequireAuth.
func (h *Handler) caller(ctx context.Context, w http.ResponseWriter) (domain.Identity, bool) {
	raw := middleware.GetCaller(ctx)
	if raw == "" {
		h.logger.ErrorContext(ctx, "caller missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return domain.Identity(raw), true
}

func (h *Handler) pathID(ctx context.Context, w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.badRequest(ctx, w, "invalid id path parameter", err)
		return 0, false
	}
	return id, true
}

func (h *Handler) badRequest(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	requestID := middleware.GetRequestID(ctx)
	switch {
	case dErrors.Is(err, dErrors.CodeInternal), dErrors.Is(err, dErrors.CodeInvariantViolation):
		h.logger.ErrorContext(ctx, "registry operation failed",
			"op", op,
			"request_id", requestID,
			"error", err.Error(),
		)
	default:
		h.logger.WarnContext(ctx, "registry operation rejected",
			"op", op,
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

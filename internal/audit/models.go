package audit

import (
	"time"

	"medvault/internal/domain"
)

// Action names the mutation an audit entry records.
type Action string

const (
	ActionRoleRegistered    Action = "role_registered"
	ActionRoleRevoked       Action = "role_revoked"
	ActionRecordCreated     Action = "record_created"
	ActionTestAdded         Action = "test_added"
	ActionPrescriptionAdded Action = "prescription_added"
	ActionAccessGranted     Action = "access_granted"
	ActionAccessRevoked     Action = "access_revoked"
)

// Entry captures one committed mutation. Keep it transport-agnostic so
// stores and sinks can fan out.
type Entry struct {
	// Sequence is assigned by the store on append and is strictly
	// increasing across the whole log.
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     domain.Identity `json:"actor"`
	Action    Action          `json:"action"`
	// RecordID is the patient record the mutation touched. Zero for
	// role operations, which are not scoped to a record.
	RecordID uint64 `json:"record_id,omitempty"`
	// Subject identifies what the action produced or targeted: a
	// sub-record id for test/prescription additions, the grantee for
	// access changes, the target principal for role changes.
	Subject   string `json:"subject,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

package access

import (
	"time"

	"medvault/internal/domain"
)

// Grant is one entry in the append-only grant history for a (record, grantee)
// pair. Only the most recently created entry is authoritative; revocation is a
// new entry with Revoked set, never an edit of a prior one.
type Grant struct {
	ID        uint64             `json:"id"`
	RecordID  uint64             `json:"record_id"`
	Grantee   domain.Identity    `json:"grantee"`
	Level     domain.AccessLevel `json:"level"`
	GrantedBy domain.Identity    `json:"granted_by"`
	GrantedAt time.Time          `json:"granted_at"`
	Revoked   bool               `json:"revoked,omitempty"`
}

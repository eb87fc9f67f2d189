package domain

import (
	"sort"

	dErrors "medvault/pkg/domain-errors"
)

// EncryptedField pairs a ciphertext with the proof attesting its provenance.
// The registry never decrypts; it only verifies proofs and stores the pair.
type EncryptedField struct {
	Ciphertext []byte
	Proof      []byte
}

// EncryptedFieldSet maps a field name to its encrypted payload.
type EncryptedFieldSet map[string]EncryptedField

// Validate rejects empty sets and fields with missing parts before any
// verification work is attempted.
func (s EncryptedFieldSet) Validate() error {
	if len(s) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one encrypted field is required")
	}
	for name, field := range s {
		if name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "field name must not be empty")
		}
		if len(field.Ciphertext) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "field "+name+" has no ciphertext")
		}
		if len(field.Proof) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "field "+name+" has no proof")
		}
	}
	return nil
}

// Names returns the field names in stable order so verification and audit
// output are deterministic.
func (s EncryptedFieldSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Stores copy on write so callers can never mutate
// committed state through a retained map reference.
func (s EncryptedFieldSet) Clone() EncryptedFieldSet {
	if s == nil {
		return nil
	}
	out := make(EncryptedFieldSet, len(s))
	for name, field := range s {
		out[name] = EncryptedField{
			Ciphertext: append([]byte(nil), field.Ciphertext...),
			Proof:      append([]byte(nil), field.Proof...),
		}
	}
	return out
}

package records

import (
	"time"

	"medvault/internal/domain"
)

// restrictedExcluded names the sensitive fields withheld from Restricted
// reads. Field names follow the submission vocabulary; unknown fields are
// treated as sensitive and withheld.
var restrictedExcluded = map[string]struct{}{
	"diagnosis":    {},
	"treatment":    {},
	"result":       {},
	"instructions": {},
}

var restrictedVisible = map[string]struct{}{
	"name":           {},
	"age":            {},
	"weight":         {},
	"height":         {},
	"bloodType":      {},
	"testName":       {},
	"testType":       {},
	"isNormal":       {},
	"description":    {},
	"medicationName": {},
	"medicationId":   {},
	"dosage":         {},
	"frequency":      {},
}

// visibleAtRestricted reports whether a field survives a Restricted read.
func visibleAtRestricted(name string) bool {
	if _, excluded := restrictedExcluded[name]; excluded {
		return false
	}
	_, known := restrictedVisible[name]
	return known
}

// FieldView is the read-path shape of one encrypted field.
type FieldView struct {
	Ciphertext []byte `json:"ciphertext"`
	Proof      []byte `json:"proof"`
}

// View is the level-scoped response for any record or sub-record read. Fields
// is nil for ViewOnly callers; Owner is disclosed only at Full.
type View struct {
	ID         uint64               `json:"id"`
	Kind       string               `json:"kind"`
	RecordID   uint64               `json:"record_id,omitempty"`
	Level      string               `json:"level"`
	CreatedAt  time.Time            `json:"created_at"`
	Owner      string               `json:"owner,omitempty"`
	FieldCount int                  `json:"field_count"`
	Fields     map[string]FieldView `json:"fields,omitempty"`
	Expired    *bool                `json:"expired,omitempty"`
}

const (
	KindPatientRecord = "patient_record"
	KindMedicalTest   = "medical_test"
	KindPrescription  = "prescription"
)

func scopedFields(fields domain.EncryptedFieldSet, level domain.AccessLevel) map[string]FieldView {
	if level == domain.AccessViewOnly {
		return nil
	}
	out := make(map[string]FieldView)
	for name, field := range fields {
		if level == domain.AccessRestricted && !visibleAtRestricted(name) {
			continue
		}
		out[name] = FieldView{
			Ciphertext: append([]byte(nil), field.Ciphertext...),
			Proof:      append([]byte(nil), field.Proof...),
		}
	}
	return out
}

// RecordView shapes a patient record for the given access level. The caller
// is responsible for having resolved the level; AccessNone never reaches here.
func RecordView(record PatientRecord, level domain.AccessLevel) View {
	view := View{
		ID:         record.ID,
		Kind:       KindPatientRecord,
		Level:      level.String(),
		CreatedAt:  record.CreatedAt,
		FieldCount: len(record.Fields),
		Fields:     scopedFields(record.Fields, level),
	}
	if level == domain.AccessFull {
		view.Owner = record.Owner.String()
	}
	return view
}

// TestView shapes a medical test for the given access level.
func TestView(test MedicalTest, level domain.AccessLevel) View {
	return View{
		ID:         test.ID,
		Kind:       KindMedicalTest,
		RecordID:   test.RecordID,
		Level:      level.String(),
		CreatedAt:  test.CreatedAt,
		FieldCount: len(test.Fields),
		Fields:     scopedFields(test.Fields, level),
	}
}

// PrescriptionView shapes a prescription for the given access level. Expiry
// is informational: reads past ExpiresAt still succeed, flagged expired.
func PrescriptionView(prescription Prescription, level domain.AccessLevel, now time.Time) View {
	expired := prescription.Expired(now)
	return View{
		ID:         prescription.ID,
		Kind:       KindPrescription,
		RecordID:   prescription.RecordID,
		Level:      level.String(),
		CreatedAt:  prescription.CreatedAt,
		FieldCount: len(prescription.Fields),
		Fields:     scopedFields(prescription.Fields, level),
		Expired:    &expired,
	}
}

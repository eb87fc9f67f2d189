package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medvault/internal/domain"
)

func TestRecordView_Scoping(t *testing.T) {
	record := PatientRecord{
		ID:        1,
		Owner:     "0xpatient",
		Fields:    testFields("name", "age", "bloodType", "diagnosis", "treatment"),
		CreatedAt: time.Now(),
	}

	t.Run("full returns every ciphertext and the owner", func(t *testing.T) {
		view := RecordView(record, domain.AccessFull)
		assert.Equal(t, "full", view.Level)
		assert.Equal(t, "0xpatient", view.Owner)
		assert.Len(t, view.Fields, 5)
		assert.Equal(t, []byte("ct-diagnosis"), view.Fields["diagnosis"].Ciphertext)
	})

	t.Run("restricted withholds sensitive fields and the owner", func(t *testing.T) {
		view := RecordView(record, domain.AccessRestricted)
		assert.Empty(t, view.Owner)
		assert.Contains(t, view.Fields, "name")
		assert.Contains(t, view.Fields, "bloodType")
		assert.NotContains(t, view.Fields, "diagnosis")
		assert.NotContains(t, view.Fields, "treatment")
	})

	t.Run("restricted withholds unknown field names", func(t *testing.T) {
		withUnknown := record
		withUnknown.Fields = testFields("name", "geneticMarkers")
		view := RecordView(withUnknown, domain.AccessRestricted)
		assert.NotContains(t, view.Fields, "geneticMarkers")
	})

	t.Run("view-only returns summary metadata without ciphertext", func(t *testing.T) {
		view := RecordView(record, domain.AccessViewOnly)
		assert.Equal(t, KindPatientRecord, view.Kind)
		assert.Equal(t, 5, view.FieldCount)
		assert.Nil(t, view.Fields)
		assert.Empty(t, view.Owner)
	})
}

func TestPrescriptionView_Expiry(t *testing.T) {
	now := time.Now()
	prescription := Prescription{
		ID:        7,
		RecordID:  1,
		Fields:    testFields("medicationName", "instructions"),
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now.Add(-48 * time.Hour),
	}

	view := PrescriptionView(prescription, domain.AccessFull, now)
	if assert.NotNil(t, view.Expired) {
		assert.True(t, *view.Expired)
	}
	assert.Contains(t, view.Fields, "instructions")

	restricted := PrescriptionView(prescription, domain.AccessRestricted, now)
	assert.NotContains(t, restricted.Fields, "instructions")
	assert.Contains(t, restricted.Fields, "medicationName")
}

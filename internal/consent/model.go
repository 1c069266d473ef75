package consent

import (
	"time"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Consent is the current data-sharing decision of one patient.
type Consent struct {
	PatientID   types.ID  `json:"patient_id"`
	Granted     bool      `json:"granted"`
	IsImplied   bool      `json:"is_implied"`
	LastUpdated time.Time `json:"last_updated"`
}

// Implied is the consent recorded for a patient who cannot give it, such
// as an unidentified emergency admission.
func Implied(patientID types.ID, now time.Time) *Consent {
	return &Consent{
		PatientID:   patientID,
		Granted:     true,
		IsImplied:   true,
		LastUpdated: now,
	}
}

package patient

import (
	"fmt"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Demographics holds patient demographic data. DateOfBirth is free text
// because temporary identities record it as "N/A".
type Demographics struct {
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Email       string `json:"email"`
}

// Identity is a patient known to the network. Identities are never deleted.
type Identity struct {
	ID                   types.ID     `json:"patient_id"`
	Name                 string       `json:"name"`
	Demographics         Demographics `json:"demographics"`
	PrimaryInstitution   types.ID     `json:"primary_institution"`
	IsTemporary          bool         `json:"is_temporary"`
	Active               bool         `json:"active"`
	Notes                string       `json:"notes,omitempty"`
	CreatedByInstitution types.ID     `json:"created_by_institution,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}

// NewTemporary builds the identity issued for an unidentified emergency patient.
func NewTemporary(id types.ID, institutionID types.ID, notes string, now time.Time) *Identity {
	return &Identity{
		ID:   id,
		Name: fmt.Sprintf("Unidentified Patient (%s)", id),
		Demographics: Demographics{
			DateOfBirth: "N/A",
			Gender:      "Unknown",
			Email:       fmt.Sprintf("%s@swasthyasetu.local", id),
		},
		PrimaryInstitution:   institutionID,
		IsTemporary:          true,
		Active:               true,
		Notes:                notes,
		CreatedByInstitution: institutionID,
		CreatedAt:            now,
	}
}

package record

import (
	"sort"
	"strings"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// InstitutionRecord is one institution's view of a patient. At most one
// exists per (patient, institution).
type InstitutionRecord struct {
	ID            types.ID  `json:"record_id"`
	PatientID     types.ID  `json:"patient_id"`
	InstitutionID types.ID  `json:"institution_id"`
	BloodGroup    string    `json:"blood_group"`
	Conditions    []string  `json:"conditions"`
	Medications   []string  `json:"medications"`
	Allergies     []string  `json:"allergies"`
	LabSummaries  []string  `json:"lab_summaries"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Normalize trims entries and stores every set sorted and de-duplicated.
func (r *InstitutionRecord) Normalize() {
	r.BloodGroup = strings.TrimSpace(r.BloodGroup)
	r.Conditions = NormalizeSet(r.Conditions)
	r.Medications = NormalizeSet(r.Medications)
	r.Allergies = NormalizeSet(r.Allergies)
	r.LabSummaries = NormalizeSet(r.LabSummaries)
	r.LastUpdated = r.LastUpdated.UTC()
}

// NormalizeSet trims, drops blanks, de-duplicates and sorts. Never returns nil.
func NormalizeSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

package aggregator

import (
	"strings"
	"time"

	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// FullView is returned for consented, normal-mode access
type FullView struct {
	PatientID    types.ID   `json:"patient_id"`
	Name         string     `json:"name"`
	BloodGroup   string     `json:"blood_group"`
	Conditions   []string   `json:"conditions"`
	Medications  []string   `json:"medications"`
	Allergies    []string   `json:"allergies"`
	LabSummaries []string   `json:"lab_summaries"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	Sources      []types.ID `json:"sources"`
}

// CriticalView is returned for emergency access. It has no medication or
// lab fields.
type CriticalView struct {
	PatientID         types.ID   `json:"patient_id"`
	Name              string     `json:"name"`
	BloodGroup        string     `json:"blood_group"`
	Allergies         []string   `json:"allergies"`
	ChronicConditions []string   `json:"chronic_conditions"`
	EmergencyAccess   bool       `json:"emergency_access"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
}

// NewFullView shapes u for a normal-mode response
func NewFullView(p *patient.Identity, u UnifiedRecord) *FullView {
	return &FullView{
		PatientID:    p.ID,
		Name:         p.Name,
		BloodGroup:   u.BloodGroup,
		Conditions:   nonNil(u.Conditions),
		Medications:  nonNil(u.Medications),
		Allergies:    nonNil(u.Allergies),
		LabSummaries: nonNil(u.LabSummaries),
		LastUpdated:  timePtr(u.LastUpdated),
		Sources:      append([]types.ID{}, u.Sources...),
	}
}

// NewCriticalView shapes u for an emergency response
func NewCriticalView(p *patient.Identity, u UnifiedRecord) *CriticalView {
	return &CriticalView{
		PatientID:         p.ID,
		Name:              p.Name,
		BloodGroup:        u.BloodGroup,
		Allergies:         nonNil(u.Allergies),
		ChronicConditions: ChronicConditions(u.Conditions),
		EmergencyAccess:   true,
		LastUpdated:       timePtr(u.LastUpdated),
	}
}

// ChronicConditions filters out conditions an institution flagged as acute:
// an "Acute " or "Acute:" prefix, or an "(acute)" suffix, in any letter case.
// Everything else counts as chronic.
func ChronicConditions(conditions []string) []string {
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if !isAcute(c) {
			out = append(out, c)
		}
	}
	return out
}

func isAcute(condition string) bool {
	c := strings.ToLower(strings.TrimSpace(condition))
	return strings.HasPrefix(c, "acute ") ||
		strings.HasPrefix(c, "acute:") ||
		strings.HasSuffix(c, "(acute)")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s...)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

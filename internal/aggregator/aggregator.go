// Package aggregator merges per-institution records into one unified record.
// Everything here is pure: the same set of inputs, in any order, gives the
// same output.
package aggregator

import (
	"time"

	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// UnifiedRecord is derived from a patient's InstitutionRecords at request
// time. It is never persisted.
type UnifiedRecord struct {
	BloodGroup   string     `json:"blood_group"`
	Conditions   []string   `json:"conditions"`
	Medications  []string   `json:"medications"`
	Allergies    []string   `json:"allergies"`
	LabSummaries []string   `json:"lab_summaries"`
	LastUpdated  time.Time  `json:"last_updated"`
	Sources      []types.ID `json:"sources"`
}

// Aggregate merges records. Set fields are unions, blood group comes from
// the most recently updated record that has one (ties go to the lowest
// institution id), and LastUpdated is the latest input timestamp.
// An empty input yields an empty record.
func Aggregate(records []record.InstitutionRecord) UnifiedRecord {
	var conditions, medications, allergies, labs []string
	sources := make([]string, 0, len(records))

	var (
		latest    time.Time
		bloodFrom *record.InstitutionRecord
	)

	for i := range records {
		r := &records[i]
		conditions = append(conditions, r.Conditions...)
		medications = append(medications, r.Medications...)
		allergies = append(allergies, r.Allergies...)
		labs = append(labs, r.LabSummaries...)
		sources = append(sources, r.InstitutionID.String())

		if r.LastUpdated.After(latest) {
			latest = r.LastUpdated
		}
		if r.BloodGroup != "" && newerBloodGroup(r, bloodFrom) {
			bloodFrom = r
		}
	}

	u := UnifiedRecord{
		Conditions:   record.NormalizeSet(conditions),
		Medications:  record.NormalizeSet(medications),
		Allergies:    record.NormalizeSet(allergies),
		LabSummaries: record.NormalizeSet(labs),
		Sources:      toIDs(record.NormalizeSet(sources)),
	}
	if !latest.IsZero() {
		u.LastUpdated = latest.UTC()
	}
	if bloodFrom != nil {
		u.BloodGroup = bloodFrom.BloodGroup
	}
	return u
}

// newerBloodGroup reports whether candidate should replace current as the
// blood group source. The ordering is total so input order never matters.
func newerBloodGroup(candidate, current *record.InstitutionRecord) bool {
	if current == nil {
		return true
	}
	if !candidate.LastUpdated.Equal(current.LastUpdated) {
		return candidate.LastUpdated.After(current.LastUpdated)
	}
	if candidate.InstitutionID != current.InstitutionID {
		return candidate.InstitutionID < current.InstitutionID
	}
	return candidate.BloodGroup < current.BloodGroup
}

func toIDs(ss []string) []types.ID {
	out := make([]types.ID, len(ss))
	for i, s := range ss {
		out[i] = types.ID(s)
	}
	return out
}

// Package his imports institution records from hospital information systems.
// A Source reads one institution's HIS; the Importer writes what it returns
// as that institution's InstitutionRecords.
package his

import (
	"context"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Source reads clinical summaries from one HIS
type Source interface {
	// Name identifies the HIS product, e.g. "heliant"
	Name() string

	// FetchRecords returns summaries of patients changed at or after since
	FetchRecords(ctx context.Context, since time.Time) ([]Record, error)

	Health(ctx context.Context) error
	Close() error
}

// Record is one patient's summary as held by the HIS. PatientID is the
// network patient id the HIS has on file for the patient.
type Record struct {
	ExternalID   string    `json:"external_id"`
	PatientID    types.ID  `json:"patient_id"`
	BloodGroup   string    `json:"blood_group"`
	Conditions   []string  `json:"conditions"`
	Medications  []string  `json:"medications"`
	Allergies    []string  `json:"allergies"`
	LabSummaries []string  `json:"lab_summaries"`
	LastUpdated  time.Time `json:"last_updated"`
}

// StaticSource serves a fixed set of records. Used for tests and demos.
type StaticSource struct {
	Records []Record
	Err     error
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) FetchRecords(_ context.Context, since time.Time) ([]Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []Record
	for _, r := range s.Records {
		if !r.LastUpdated.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *StaticSource) Health(context.Context) error { return s.Err }

func (s *StaticSource) Close() error { return nil }

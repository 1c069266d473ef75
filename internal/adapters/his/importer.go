package his

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Store is the part of the record store the importer writes to
type Store interface {
	GetPatient(ctx context.Context, id types.ID) (*patient.Identity, error)
	UpsertRecord(ctx context.Context, r *record.InstitutionRecord) error
}

// Result summarises one import run
type Result struct {
	Fetched  int       `json:"fetched"`
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
	Latest   time.Time `json:"latest"`
}

// Importer writes a Source's records for exactly one owning institution.
// Records never carry an institution id from the HIS itself.
type Importer struct {
	source        Source
	store         Store
	institutionID types.ID
	logger        zerolog.Logger
}

func NewImporter(source Source, store Store, institutionID types.ID, logger zerolog.Logger) *Importer {
	return &Importer{
		source:        source,
		store:         store,
		institutionID: institutionID,
		logger: logger.With().
			Str("component", "his").
			Str("source", source.Name()).
			Str("institution_id", institutionID.String()).
			Logger(),
	}
}

// Import fetches records changed since the given time and upserts them.
// Records for patients unknown to the network are skipped.
func (i *Importer) Import(ctx context.Context, since time.Time) (*Result, error) {
	fetched, err := i.source.FetchRecords(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch HIS records")
	}

	res := &Result{Fetched: len(fetched), Latest: since}
	for _, hr := range fetched {
		if hr.LastUpdated.After(res.Latest) {
			res.Latest = hr.LastUpdated
		}

		if _, err := i.store.GetPatient(ctx, hr.PatientID); err != nil {
			if errors.IsNotFound(err) {
				res.Skipped++
				i.logger.Warn().Str("external_id", hr.ExternalID).Msg("HIS record for unknown patient skipped")
				continue
			}
			return res, errors.Wrap(err, "failed to look up patient")
		}

		r := &record.InstitutionRecord{
			ID:            types.NewDeterministicID("his", i.institutionID.String()+":"+hr.PatientID.String()),
			PatientID:     hr.PatientID,
			InstitutionID: i.institutionID,
			BloodGroup:    hr.BloodGroup,
			Conditions:    hr.Conditions,
			Medications:   hr.Medications,
			Allergies:     hr.Allergies,
			LabSummaries:  hr.LabSummaries,
			LastUpdated:   hr.LastUpdated,
		}
		r.Normalize()

		if err := i.store.UpsertRecord(ctx, r); err != nil {
			return res, errors.Wrap(err, "failed to upsert HIS record")
		}
		res.Imported++
	}

	metrics.RecordImported(i.institutionID.String(), res.Imported)
	i.logger.Info().
		Int("fetched", res.Fetched).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Msg("HIS import finished")
	return res, nil
}

// Poll imports every interval until ctx is done. Each run starts from the
// newest LastUpdated seen so far.
func (i *Importer) Poll(ctx context.Context, interval time.Duration, since time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := i.Import(ctx, since)
		if err != nil {
			i.logger.Error().Err(err).Msg("HIS import failed")
		}
		if res != nil {
			since = res.Latest
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

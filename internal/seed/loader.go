// Package seed loads the demo dataset: institutions, API credentials,
// patients, consents, institution records and historical access log entries.
package seed

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/audit"
	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

//go:embed demo.json
var demoJSON []byte

// Dataset is the on-disk seed format
type Dataset struct {
	Version       string            `json:"version"`
	Institutions  []institutionSeed `json:"institutions"`
	Credentials   []credentialSeed  `json:"credentials"`
	Patients      []patientSeed     `json:"patients"`
	Consents      []consent.Consent `json:"consents"`
	Records       []recordSeed      `json:"records"`
	AccessHistory []accessSeed      `json:"access_history"`
}

type institutionSeed struct {
	ID        types.ID  `json:"institution_id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type credentialSeed struct {
	ID            types.ID  `json:"credential_id"`
	InstitutionID types.ID  `json:"institution_id"`
	APIKey        string    `json:"api_key"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

type patientSeed struct {
	ID                 types.ID `json:"patient_id"`
	Name               string   `json:"name"`
	DateOfBirth        string   `json:"dob"`
	Gender             string   `json:"gender"`
	Email              string   `json:"email"`
	PrimaryInstitution types.ID `json:"primary_institution"`
}

type recordSeed struct {
	ID            types.ID  `json:"record_id"`
	PatientID     types.ID  `json:"patient_id"`
	InstitutionID types.ID  `json:"institution_id"`
	BloodGroup    string    `json:"blood_group"`
	Conditions    []string  `json:"conditions"`
	Medications   []string  `json:"medications"`
	Allergies     []string  `json:"allergies"`
	LabReports    []string  `json:"lab_reports"`
	LastUpdated   time.Time `json:"last_updated"`
}

type accessSeed struct {
	LogID         string     `json:"log_id"`
	PatientID     types.ID   `json:"patient_id"`
	InstitutionID types.ID   `json:"institution_id"`
	AccessorRole  string     `json:"accessor_role"`
	AccessMode    string     `json:"access_mode"`
	Reason        string     `json:"reason"`
	Sources       []types.ID `json:"sources"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Demo returns the embedded demo dataset
func Demo() (*Dataset, error) {
	return Parse(demoJSON)
}

// Parse decodes and checks a dataset
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if ds.Version == "" {
		return nil, fmt.Errorf("seed has no version")
	}
	for _, inst := range ds.Institutions {
		if _, ok := institution.ParseStatus(inst.Status); !ok {
			return nil, fmt.Errorf("institution %s: unknown status %q", inst.ID, inst.Status)
		}
	}
	return &ds, nil
}

// Store is the write side of the record store used by the loader
type Store interface {
	PutInstitution(ctx context.Context, inst *institution.Institution) error
	PutCredential(ctx context.Context, cred *institution.Credential) error
	PutPatient(ctx context.Context, p *patient.Identity) error
	PutConsent(ctx context.Context, c *consent.Consent) error
	UpsertRecord(ctx context.Context, r *record.InstitutionRecord) error
	SeedApplied(ctx context.Context, version string) (bool, error)
	RecordSeed(ctx context.Context, version string) (bool, error)
}

// AccessWriter appends access log entries. *audit.Writer implements it.
type AccessWriter interface {
	Record(ctx context.Context, a audit.Access) (*audit.AccessLogEntry, error)
}

// EntryFinder looks up access log entries. audit.Repository implements it.
type EntryFinder interface {
	FindByID(ctx context.Context, id types.ID) (*audit.AccessLogEntry, error)
}

// Result summarises a Load
type Result struct {
	Version      string `json:"version"`
	Skipped      bool   `json:"skipped"`
	Institutions int    `json:"institutions"`
	Credentials  int    `json:"credentials"`
	Patients     int    `json:"patients"`
	Records      int    `json:"records"`
	AccessLogs   int    `json:"access_logs"`
}

// Loader applies a dataset once per version
type Loader struct {
	store   Store
	writer  AccessWriter
	entries EntryFinder
	logger  zerolog.Logger
}

func NewLoader(store Store, writer AccessWriter, entries EntryFinder, logger zerolog.Logger) *Loader {
	return &Loader{
		store:   store,
		writer:  writer,
		entries: entries,
		logger:  logger.With().Str("component", "seed").Logger(),
	}
}

// Load writes ds unless its version was already applied. Every write is an
// upsert and historical log entries carry fixed ids, so a load interrupted
// before the version marker is written can simply be run again.
func (l *Loader) Load(ctx context.Context, ds *Dataset) (*Result, error) {
	res := &Result{Version: ds.Version}

	applied, err := l.store.SeedApplied(ctx, ds.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check seed marker")
	}
	if applied {
		res.Skipped = true
		l.logger.Info().Str("version", ds.Version).Msg("seed already applied")
		return res, nil
	}

	for _, s := range ds.Institutions {
		status, _ := institution.ParseStatus(s.Status)
		inst := &institution.Institution{
			ID: s.ID, Name: s.Name, City: s.City, State: s.State,
			Status: status, CreatedAt: s.CreatedAt.UTC(),
		}
		if err := l.store.PutInstitution(ctx, inst); err != nil {
			return nil, errors.Wrap(err, "failed to seed institution "+s.ID.String())
		}
		res.Institutions++
	}

	for _, s := range ds.Credentials {
		cred := &institution.Credential{
			ID:            s.ID,
			InstitutionID: s.InstitutionID,
			KeyHash:       institution.HashKey(s.APIKey),
			Enabled:       s.Enabled,
			CreatedAt:     s.CreatedAt.UTC(),
		}
		if err := l.store.PutCredential(ctx, cred); err != nil {
			return nil, errors.Wrap(err, "failed to seed credential "+s.ID.String())
		}
		res.Credentials++
	}

	for _, s := range ds.Patients {
		p := &patient.Identity{
			ID:   s.ID,
			Name: s.Name,
			Demographics: patient.Demographics{
				DateOfBirth: s.DateOfBirth,
				Gender:      s.Gender,
				Email:       s.Email,
			},
			PrimaryInstitution: s.PrimaryInstitution,
			Active:             true,
		}
		if err := l.store.PutPatient(ctx, p); err != nil {
			return nil, errors.Wrap(err, "failed to seed patient "+s.ID.String())
		}
		res.Patients++
	}

	for i := range ds.Consents {
		c := ds.Consents[i]
		c.LastUpdated = c.LastUpdated.UTC()
		if err := l.store.PutConsent(ctx, &c); err != nil {
			return nil, errors.Wrap(err, "failed to seed consent "+c.PatientID.String())
		}
	}

	for _, s := range ds.Records {
		r := &record.InstitutionRecord{
			ID:            s.ID,
			PatientID:     s.PatientID,
			InstitutionID: s.InstitutionID,
			BloodGroup:    s.BloodGroup,
			Conditions:    s.Conditions,
			Medications:   s.Medications,
			Allergies:     s.Allergies,
			LabSummaries:  s.LabReports,
			LastUpdated:   s.LastUpdated,
		}
		r.Normalize()
		if err := l.store.UpsertRecord(ctx, r); err != nil {
			return nil, errors.Wrap(err, "failed to seed record "+s.ID.String())
		}
		res.Records++
	}

	for _, s := range ds.AccessHistory {
		written, err := l.access(ctx, s)
		if err != nil {
			return nil, err
		}
		if written {
			res.AccessLogs++
		}
	}

	if _, err := l.store.RecordSeed(ctx, ds.Version); err != nil {
		return nil, errors.Wrap(err, "failed to record seed marker")
	}

	l.logger.Info().
		Str("version", ds.Version).
		Int("institutions", res.Institutions).
		Int("patients", res.Patients).
		Int("records", res.Records).
		Int("access_logs", res.AccessLogs).
		Msg("seed applied")
	return res, nil
}

// access replays one historical entry through the audit writer, keeping the
// original timestamp. The entry id is derived from the log id.
func (l *Loader) access(ctx context.Context, s accessSeed) (bool, error) {
	id := types.NewDeterministicID("seed", s.LogID)

	if _, err := l.entries.FindByID(ctx, id); err == nil {
		return false, nil
	} else if !errors.IsNotFound(err) {
		return false, errors.Wrap(err, "failed to look up seeded access "+s.LogID)
	}

	_, err := l.writer.Record(ctx, audit.Access{
		ID:            id,
		Timestamp:     s.Timestamp,
		PatientID:     s.PatientID,
		InstitutionID: s.InstitutionID,
		AccessorRole:  s.AccessorRole,
		Mode:          audit.AccessMode(s.AccessMode),
		Reason:        s.Reason,
		Sources:       s.Sources,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to seed access "+s.LogID)
	}
	return true, nil
}

// Package store is the record store adapter: typed reads, queries and
// batch writes over patients, consents, institution records, institutions
// and API credentials.
package store

import (
	"context"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Store is implemented by MemoryStore and PostgresStore. Lookups of missing
// entities return a NotFound error from internal/shared/errors.
type Store interface {
	GetPatient(ctx context.Context, id types.ID) (*patient.Identity, error)
	PutPatient(ctx context.Context, p *patient.Identity) error
	// CreatePatientWithConsent writes both or neither. Conflict if the
	// patient id is taken.
	CreatePatientWithConsent(ctx context.Context, p *patient.Identity, c *consent.Consent) error

	GetConsent(ctx context.Context, patientID types.ID) (*consent.Consent, error)
	PutConsent(ctx context.Context, c *consent.Consent) error

	ListRecordsByPatient(ctx context.Context, patientID types.ID) ([]record.InstitutionRecord, error)
	// UpsertRecord replaces the record for (PatientID, InstitutionID).
	UpsertRecord(ctx context.Context, r *record.InstitutionRecord) error

	GetInstitution(ctx context.Context, id types.ID) (*institution.Institution, error)
	PutInstitution(ctx context.Context, inst *institution.Institution) error
	GetCredentialByKeyHash(ctx context.Context, keyHash string) (*institution.Credential, error)
	PutCredential(ctx context.Context, cred *institution.Credential) error

	// SeedApplied reports whether a seed version was recorded.
	SeedApplied(ctx context.Context, version string) (bool, error)
	// RecordSeed marks a seed version as applied. It returns false if the
	// version was already recorded.
	RecordSeed(ctx context.Context, version string) (bool, error)

	Health(ctx context.Context) error
}

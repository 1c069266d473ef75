package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
)

var now = time.Date(2026, 1, 27, 2, 15, 0, 0, time.UTC)

func TestCreatePatientWithConsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := patient.NewTemporary("TEMP-AARO-1", "INST_001", "", now)
	require.NoError(t, s.CreatePatientWithConsent(ctx, p, consent.Implied(p.ID, now)))

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTemporary)

	c, err := s.GetConsent(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, c.Granted)
	assert.True(t, c.IsImplied)

	err = s.CreatePatientWithConsent(ctx, p, consent.Implied(p.ID, now))
	assert.True(t, errors.IsConflict(err))
}

func TestCreatePatientWithConsentIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.FailWritesAfter(1)

	p := patient.NewTemporary("TEMP-AARO-2", "INST_001", "", now)
	err := s.CreatePatientWithConsent(ctx, p, consent.Implied(p.ID, now))
	require.Error(t, err)

	patients, consents := s.Counts()
	assert.Zero(t, patients)
	assert.Zero(t, consents)
}

func TestUpsertRecordKeepsOnePerInstitution(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := &record.InstitutionRecord{ID: "REC_001", PatientID: "PAT_001", InstitutionID: "INST_001", BloodGroup: "O+", LastUpdated: now}
	require.NoError(t, s.UpsertRecord(ctx, r))

	updated := *r
	updated.ID = "REC_NEW"
	updated.Conditions = []string{"Hypertension"}
	require.NoError(t, s.UpsertRecord(ctx, &updated))

	require.NoError(t, s.UpsertRecord(ctx, &record.InstitutionRecord{ID: "REC_002", PatientID: "PAT_001", InstitutionID: "INST_002", LastUpdated: now}))

	records, err := s.ListRecordsByPatient(ctx, "PAT_001")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "REC_001", records[0].ID.String())
	assert.Equal(t, []string{"Hypertension"}, records[0].Conditions)
}

func TestRecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := &record.InstitutionRecord{ID: "REC_001", PatientID: "PAT_001", InstitutionID: "INST_001", Allergies: []string{"Penicillin"}}
	require.NoError(t, s.UpsertRecord(ctx, r))
	r.Allergies[0] = "changed"

	records, err := s.ListRecordsByPatient(ctx, "PAT_001")
	require.NoError(t, err)
	assert.Equal(t, []string{"Penicillin"}, records[0].Allergies)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetPatient(ctx, "PAT_404")
	assert.True(t, errors.IsNotFound(err))
	_, err = s.GetConsent(ctx, "PAT_404")
	assert.True(t, errors.IsNotFound(err))
	_, err = s.GetInstitution(ctx, "INST_404")
	assert.True(t, errors.IsNotFound(err))
	_, err = s.GetCredentialByKeyHash(ctx, "deadbeef")
	assert.True(t, errors.IsNotFound(err))
}

func TestSeedMarker(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	applied, err := s.SeedApplied(ctx, "demo-v1")
	require.NoError(t, err)
	assert.False(t, applied)

	first, err := s.RecordSeed(ctx, "demo-v1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.RecordSeed(ctx, "demo-v1")
	require.NoError(t, err)
	assert.False(t, again)

	applied, err = s.SeedApplied(ctx, "demo-v1")
	require.NoError(t, err)
	assert.True(t, applied)
}

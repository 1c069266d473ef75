package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swasthyasetu/platform/internal/audit"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/seed"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/store"
)

func newLoader(s *store.MemoryStore, repo *audit.MemoryRepository) *seed.Loader {
	writer := audit.NewWriter(repo, types.NewFixedClock(time.Now()), audit.WriterConfig{RetryBackoff: time.Millisecond}, zerolog.Nop())
	return seed.NewLoader(s, writer, repo, zerolog.Nop())
}

func TestDemoDataset(t *testing.T) {
	ds, err := seed.Demo()
	require.NoError(t, err)
	assert.Len(t, ds.Institutions, 10)
	assert.Len(t, ds.Credentials, 10)
	assert.Len(t, ds.Patients, 2)
	assert.Len(t, ds.Records, 3)
	assert.Len(t, ds.AccessHistory, 1)
}

func TestLoadDemo(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := audit.NewMemoryRepository()
	ds, err := seed.Demo()
	require.NoError(t, err)

	res, err := newLoader(s, repo).Load(ctx, ds)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 10, res.Institutions)
	assert.Equal(t, 1, res.AccessLogs)

	inst, err := s.GetInstitution(ctx, "INST_006")
	require.NoError(t, err)
	assert.Equal(t, institution.StatusSuspended, inst.Status)

	cred, err := s.GetCredentialByKeyHash(ctx, institution.HashKey("APIKEY_JEEVANRAKSHA_911"))
	require.NoError(t, err)
	assert.Equal(t, types.ID("INST_008"), cred.InstitutionID)
	assert.True(t, cred.Enabled)

	cred, err = s.GetCredentialByKeyHash(ctx, institution.HashKey("APIKEY_HOPE_118"))
	require.NoError(t, err)
	assert.False(t, cred.Enabled)

	c, err := s.GetConsent(ctx, "PAT_002")
	require.NoError(t, err)
	assert.True(t, c.Granted)
	assert.False(t, c.IsImplied)

	records, err := s.ListRecordsByPatient(ctx, "PAT_001")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	entries, total, err := repo.List(ctx, audit.ListFilter{PatientID: "PAT_001"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, audit.ModeEmergency, entries[0].AccessMode)
	assert.Equal(t, "Patient unconscious in ER", entries[0].Reason)
	assert.True(t, time.Date(2026, 1, 27, 2, 15, 0, 0, time.UTC).Equal(entries[0].Timestamp))
}

func TestLoadRunsOncePerVersion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := audit.NewMemoryRepository()
	loader := newLoader(s, repo)
	ds, err := seed.Demo()
	require.NoError(t, err)

	_, err = loader.Load(ctx, ds)
	require.NoError(t, err)

	res, err := loader.Load(ctx, ds)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	count, _ := repo.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestInterruptedLoadDoesNotDuplicateHistory(t *testing.T) {
	ctx := context.Background()
	repo := audit.NewMemoryRepository()
	ds, err := seed.Demo()
	require.NoError(t, err)

	// First run wrote the history but died before the version marker
	_, err = newLoader(store.NewMemoryStore(), repo).Load(ctx, ds)
	require.NoError(t, err)

	res, err := newLoader(store.NewMemoryStore(), repo).Load(ctx, ds)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.AccessLogs)

	count, _ := repo.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestParseRejectsUnknownStatus(t *testing.T) {
	_, err := seed.Parse([]byte(`{"version":"x","institutions":[{"institution_id":"I","status":"closed"}]}`))
	assert.Error(t, err)

	_, err = seed.Parse([]byte(`{"institutions":[]}`))
	assert.Error(t, err)
}

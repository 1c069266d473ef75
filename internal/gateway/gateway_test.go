package gateway_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/audit"
	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/gateway"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/store"
)

var (
	t1 = time.Date(2026, 1, 26, 14, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
)

type fixture struct {
	store    *store.MemoryStore
	log      *audit.MemoryRepository
	recorder *events.Recorder
	gateway  *gateway.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemoryStore()
	require.NoError(t, s.PutPatient(ctx, &patient.Identity{ID: "PAT_001", Name: "Rohit Verma", Active: true}))
	require.NoError(t, s.PutPatient(ctx, &patient.Identity{ID: "PAT_002", Name: "Anita Kulkarni", Active: true}))
	require.NoError(t, s.PutConsent(ctx, &consent.Consent{PatientID: "PAT_001", Granted: true, LastUpdated: t1}))

	require.NoError(t, s.UpsertRecord(ctx, &record.InstitutionRecord{
		ID: "REC_A", PatientID: "PAT_001", InstitutionID: "INST_001",
		BloodGroup: "O+", Conditions: []string{"Hypertension"}, LastUpdated: t1,
	}))
	require.NoError(t, s.UpsertRecord(ctx, &record.InstitutionRecord{
		ID: "REC_B", PatientID: "PAT_001", InstitutionID: "INST_004",
		BloodGroup: "O+", Conditions: []string{"Diabetes"}, Medications: []string{"Metformin"},
		LabSummaries: []string{"HbA1c: 7.8%"}, LastUpdated: t2,
	}))

	f := &fixture{
		store:    s,
		log:      audit.NewMemoryRepository(),
		recorder: events.NewRecorder(),
	}
	writer := audit.NewWriter(f.log, types.NewFixedClock(t2), audit.WriterConfig{
		WriteTimeout: time.Second,
		MaxAttempts:  5,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())
	f.gateway = gateway.New(s, writer, f.recorder, zerolog.Nop())
	return f
}

func (f *fixture) entries(t *testing.T) []audit.AccessLogEntry {
	t.Helper()
	entries, _, err := f.log.List(context.Background(), audit.ListFilter{})
	require.NoError(t, err)
	return entries
}

func normal(patientID types.ID) gateway.Request {
	return gateway.Request{PatientID: patientID, InstitutionID: "INST_008", Role: authz.RoleHealthcareProvider}
}

func emergency(patientID types.ID, reason string) gateway.Request {
	req := normal(patientID)
	req.Emergency = true
	req.Reason = reason
	return req
}

func TestNormalAccessAggregates(t *testing.T) {
	f := newFixture(t)

	resp, err := f.gateway.FetchRecord(context.Background(), normal("PAT_001"))
	require.NoError(t, err)
	require.NotNil(t, resp.Full)
	assert.Nil(t, resp.Critical)
	assert.Equal(t, audit.ModeNormal, resp.Mode)

	view := resp.Full
	assert.Equal(t, "O+", view.BloodGroup)
	assert.Equal(t, []string{"Diabetes", "Hypertension"}, view.Conditions)
	assert.Equal(t, []string{"Metformin"}, view.Medications)
	require.NotNil(t, view.LastUpdated)
	assert.True(t, t2.Equal(*view.LastUpdated))
	assert.Equal(t, []types.ID{"INST_001", "INST_004"}, view.Sources)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ModeNormal, entries[0].AccessMode)
	assert.Equal(t, types.ID("PAT_001"), entries[0].PatientID)
	assert.Equal(t, types.ID("INST_008"), entries[0].InstitutionID)
	assert.Equal(t, []string{"INST_001", "INST_004"}, entries[0].AccessedInstitutionSources)
	assert.Equal(t, resp.EntryID, entries[0].ID)
	assert.Empty(t, f.recorder.Events())
}

func TestRevokedConsentDeniesAndLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutConsent(ctx, &consent.Consent{PatientID: "PAT_001", Granted: false, LastUpdated: t2}))

	resp, err := f.gateway.FetchRecord(ctx, normal("PAT_001"))
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ModeDenied, entries[0].AccessMode)
	assert.Empty(t, entries[0].AccessedInstitutionSources)
}

func TestMissingConsentDenies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.UpsertRecord(ctx, &record.InstitutionRecord{
		ID: "REC_C", PatientID: "PAT_002", InstitutionID: "INST_002", BloodGroup: "B+", LastUpdated: t1,
	}))

	_, err := f.gateway.FetchRecord(ctx, normal("PAT_002"))
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ModeDenied, entries[0].AccessMode)
	assert.Equal(t, types.ID("PAT_002"), entries[0].PatientID)
}

func TestEmergencyIgnoresRevokedConsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutConsent(ctx, &consent.Consent{PatientID: "PAT_001", Granted: false, LastUpdated: t2}))

	resp, err := f.gateway.FetchRecord(ctx, emergency("PAT_001", "unconscious"))
	require.NoError(t, err)
	require.NotNil(t, resp.Critical)
	assert.Nil(t, resp.Full)

	view := resp.Critical
	assert.Equal(t, "O+", view.BloodGroup)
	assert.Equal(t, []string{"Diabetes", "Hypertension"}, view.ChronicConditions)
	assert.True(t, view.EmergencyAccess)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ModeEmergency, entries[0].AccessMode)
	assert.Equal(t, "unconscious", entries[0].Reason)
	assert.Equal(t, []string{"INST_001", "INST_004"}, entries[0].AccessedInstitutionSources)

	emitted := f.recorder.OfType(events.TypeEmergencyAccess)
	require.Len(t, emitted, 1)
	assert.Equal(t, types.ID("INST_008"), emitted[0].ActorID)
}

func TestEmergencyWithoutConsentRecord(t *testing.T) {
	f := newFixture(t)

	resp, err := f.gateway.FetchRecord(context.Background(), emergency("PAT_002", "Road accident"))
	require.NoError(t, err)

	view := resp.Critical
	require.NotNil(t, view)
	assert.Empty(t, view.BloodGroup)
	assert.Empty(t, view.ChronicConditions)
	assert.Nil(t, view.LastUpdated)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ModeEmergency, entries[0].AccessMode)
	assert.Empty(t, entries[0].AccessedInstitutionSources)
}

func TestEmergencyRequiresReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\t\n"} {
		f := newFixture(t)

		resp, err := f.gateway.FetchRecord(context.Background(), emergency("PAT_001", reason))
		assert.Nil(t, resp)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "reason %q", reason)
		assert.Zero(t, f.log.AppendCalls())
	}
}

func TestReasonCheckedBeforePatientLookup(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.FetchRecord(context.Background(), emergency("PAT_404", ""))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestUnknownPatient(t *testing.T) {
	for _, req := range []gateway.Request{normal("PAT_404"), emergency("PAT_404", "unconscious")} {
		f := newFixture(t)

		_, err := f.gateway.FetchRecord(context.Background(), req)
		assert.True(t, errors.IsNotFound(err))
		assert.Zero(t, f.log.AppendCalls())
	}
}

func TestNormalWithoutRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutConsent(ctx, &consent.Consent{PatientID: "PAT_002", Granted: true, LastUpdated: t1}))

	_, err := f.gateway.FetchRecord(ctx, normal("PAT_002"))
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, f.entries(t))
}

func TestAuditFailureWithholdsData(t *testing.T) {
	for _, req := range []gateway.Request{normal("PAT_001"), emergency("PAT_001", "unconscious")} {
		f := newFixture(t)
		f.log.FailAppends(-1, fmt.Errorf("audit store unavailable"))

		resp, err := f.gateway.FetchRecord(context.Background(), req)
		assert.Nil(t, resp)
		appErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeInternal, appErr.Code)
		assert.Empty(t, f.recorder.Events())
	}
}

func TestDeniedAuditFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutConsent(ctx, &consent.Consent{PatientID: "PAT_001", Granted: false, LastUpdated: t2}))
	f.log.FailAppends(-1, fmt.Errorf("audit store unavailable"))

	_, err := f.gateway.FetchRecord(ctx, normal("PAT_001"))
	assert.False(t, errors.Is(err, errors.ErrForbidden))
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInternal, appErr.Code)
}

func TestAuditBackpressureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.log.FailAppends(2, fmt.Errorf("too many connections"))

	resp, err := f.gateway.FetchRecord(context.Background(), normal("PAT_001"))
	require.NoError(t, err)
	assert.NotNil(t, resp.Full)
	assert.Equal(t, 3, f.log.AppendCalls())
	assert.Len(t, f.entries(t), 1)
}

func TestStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.store.FailReads(fmt.Errorf("connection refused"))

	_, err := f.gateway.FetchRecord(context.Background(), normal("PAT_001"))
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInternal, appErr.Code)
	assert.Zero(t, f.log.AppendCalls())
}

func TestEventFailureDoesNotFailEmergency(t *testing.T) {
	f := newFixture(t)
	f.recorder.FailWith(fmt.Errorf("event store down"))

	resp, err := f.gateway.FetchRecord(context.Background(), emergency("PAT_001", "cardiac arrest"))
	require.NoError(t, err)
	assert.NotNil(t, resp.Critical)
	assert.Len(t, f.entries(t), 1)
}

func TestExactlyOneEntryPerDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	requests := []gateway.Request{
		normal("PAT_001"),
		normal("PAT_002"),
		emergency("PAT_002", "seizure"),
		emergency("PAT_001", "unconscious"),
		normal("PAT_404"),
		emergency("PAT_001", ""),
	}
	for _, req := range requests {
		f.gateway.FetchRecord(ctx, req)
	}

	entries := f.entries(t)
	require.Len(t, entries, 4)
	assert.Equal(t, audit.ModeEmergency, entries[0].AccessMode)
	assert.Equal(t, audit.ModeEmergency, entries[1].AccessMode)
	assert.Equal(t, audit.ModeDenied, entries[2].AccessMode)
	assert.Equal(t, audit.ModeNormal, entries[3].AccessMode)

	result, err := f.log.VerifyChain(ctx, 0, false)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

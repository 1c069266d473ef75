package consent_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/store"
)

var start = time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.MemoryStore
	clock    *types.FixedClock
	recorder *events.Recorder
	registry *consent.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutPatient(context.Background(), &patient.Identity{ID: "PAT_001", Name: "Rohit Verma", Active: true}))

	f := &fixture{
		store:    s,
		clock:    types.NewFixedClock(start),
		recorder: events.NewRecorder(),
	}
	f.registry = consent.NewRegistry(s, f.clock, f.recorder, zerolog.Nop())
	return f
}

func TestGetWithoutRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Get(context.Background(), "PAT_001")
	assert.True(t, errors.IsNotFound(err))
}

func TestSetStampsAndClearsImplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.PutConsent(ctx, consent.Implied("PAT_001", start)))

	f.clock.Advance(time.Hour)
	c, err := f.registry.Set(ctx, "PAT_001", false)
	require.NoError(t, err)

	assert.False(t, c.Granted)
	assert.False(t, c.IsImplied)
	assert.Equal(t, start.Add(time.Hour), c.LastUpdated)

	stored, err := f.registry.Get(ctx, "PAT_001")
	require.NoError(t, err)
	assert.Equal(t, c, stored)
}

func TestSetIsIdempotentExceptTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.registry.Set(ctx, "PAT_001", true)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.registry.Set(ctx, "PAT_001", true)
	require.NoError(t, err)

	assert.Equal(t, first.Granted, second.Granted)
	assert.Equal(t, first.IsImplied, second.IsImplied)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
	assert.Len(t, f.recorder.OfType(events.TypeConsentUpdated), 2)
}

func TestSetUnknownPatient(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Set(context.Background(), "PAT_404", true)
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, f.recorder.Events())
}

func TestSetSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.recorder.FailWith(assert.AnError)

	c, err := f.registry.Set(context.Background(), "PAT_001", true)
	require.NoError(t, err)
	assert.True(t, c.Granted)
}

func TestSetConsentHandler(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Mount("/consent", consent.NewHandler(f.registry).Routes())

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"grant", "/consent/PAT_001", `{"granted":true}`, http.StatusOK},
		{"revoke", "/consent/PAT_001", `{"granted":false}`, http.StatusOK},
		{"missing field", "/consent/PAT_001", `{}`, http.StatusBadRequest},
		{"bad json", "/consent/PAT_001", `{`, http.StatusBadRequest},
		{"unknown patient", "/consent/PAT_404", `{"granted":true}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	c, err := f.registry.Get(context.Background(), "PAT_001")
	require.NoError(t, err)
	assert.False(t, c.Granted)
}

package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

func newTestRouter(t *testing.T) (http.Handler, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	appendEntry(t, repo, Access{PatientID: "PAT_001", InstitutionID: "INST_001", Mode: ModeNormal, Sources: []types.ID{"INST_001"}})
	appendEntry(t, repo, Access{PatientID: "PAT_001", InstitutionID: "INST_002", Mode: ModeDenied})
	appendEntry(t, repo, Access{PatientID: "PAT_002", InstitutionID: "INST_002", Mode: ModeNormal, Sources: []types.ID{"INST_002"}})
	appendEntry(t, repo, Access{PatientID: "PAT_001", InstitutionID: "INST_008", Mode: ModeEmergency, Reason: "Road accident", Sources: []types.ID{"INST_001", "INST_004"}})

	h := NewHandler(repo, NewCheckpointService(repo, nil, types.NewFixedClock(t0)))
	r := chi.NewRouter()
	r.Get("/access-logs/{patient_id}", h.PatientLogs)
	r.Mount("/audit", h.AdminRoutes())
	r.Get("/institution/access-logs", h.InstitutionLogs)
	return r, repo
}

func get(t *testing.T, h http.Handler, req *http.Request, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestPatientLogs(t *testing.T) {
	h, _ := newTestRouter(t)

	var page LogPage
	code := get(t, h, httptest.NewRequest(http.MethodGet, "/access-logs/PAT_001", nil), &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 3)
	assert.Equal(t, ModeEmergency, page.Data[0].AccessMode)
	assert.Equal(t, []string{"INST_001", "INST_004"}, page.Data[0].AccessedInstitutionSources)
	assert.Equal(t, ModeDenied, page.Data[1].AccessMode)
	assert.Empty(t, page.Data[1].AccessedInstitutionSources)

	code = get(t, h, httptest.NewRequest(http.MethodGet, "/access-logs/PAT_001?limit=1&offset=1", nil), &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, ModeDenied, page.Data[0].AccessMode)

	var empty map[string]any
	code = get(t, h, httptest.NewRequest(http.MethodGet, "/access-logs/PAT_404", nil), &empty)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, empty["data"])

	code = get(t, h, httptest.NewRequest(http.MethodGet, "/access-logs/PAT_001?limit=-1", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInstitutionLogs(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/institution/access-logs", nil)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, req, nil))

	ac := &credential.AuthContext{InstitutionID: "INST_002", Role: authz.RoleInstitutionAdmin}

	req = httptest.NewRequest(http.MethodGet, "/institution/access-logs", nil)
	req = req.WithContext(credential.WithAuthContext(req.Context(), ac))
	var page LogPage
	require.Equal(t, http.StatusOK, get(t, h, req, &page))
	assert.Equal(t, 2, page.Total)
	for _, e := range page.Data {
		assert.Equal(t, types.ID("INST_002"), e.InstitutionID)
	}

	req = httptest.NewRequest(http.MethodGet, "/institution/access-logs?access_mode=denied", nil)
	req = req.WithContext(credential.WithAuthContext(req.Context(), ac))
	require.Equal(t, http.StatusOK, get(t, h, req, &page))
	assert.Equal(t, 1, page.Total)

	req = httptest.NewRequest(http.MethodGet, "/institution/access-logs?access_mode=bogus", nil)
	req = req.WithContext(credential.WithAuthContext(req.Context(), ac))
	assert.Equal(t, http.StatusBadRequest, get(t, h, req, nil))
}

func TestVerifyEndpoint(t *testing.T) {
	h, repo := newTestRouter(t)

	var result VerifyResult
	require.Equal(t, http.StatusOK, get(t, h, httptest.NewRequest(http.MethodGet, "/audit/verify", nil), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 4, result.Checked)

	repo.mu.Lock()
	repo.entries[1].Reason = "edited"
	repo.mu.Unlock()

	result = VerifyResult{}
	require.Equal(t, http.StatusOK, get(t, h, httptest.NewRequest(http.MethodGet, "/audit/verify?details=true", nil), &result))
	assert.False(t, result.Valid)
	assert.Len(t, result.Entries, 4)
}

func TestCheckpointEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	var cp Checkpoint
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/audit/checkpoints", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))

	var result CheckpointVerifyResult
	code := get(t, h, httptest.NewRequest(http.MethodGet, "/audit/checkpoints/"+cp.ID.String()+"/verify", nil), &result)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, result.Valid)

	var entry AccessLogEntry
	code = get(t, h, httptest.NewRequest(http.MethodGet, "/audit/entries/"+cp.LastEntryID.String(), nil), &entry)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ModeEmergency, entry.AccessMode)

	code = get(t, h, httptest.NewRequest(http.MethodGet, "/audit/entries/nope", nil), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

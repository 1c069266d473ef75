package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/shared/auth"
	"github.com/swasthyasetu/platform/internal/shared/config"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

const providerKey = "APIKEY_AAROGYANOVA_123"

func newTestServer(t *testing.T) (http.Handler, *config.Config) {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	app, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	_, err = app.LoadSeed(context.Background())
	require.NoError(t, err)

	return newRouter(app), cfg
}

func sessionToken(t *testing.T, cfg *config.Config, subject string, role authz.Role) string {
	t.Helper()
	token, _, err := auth.IssueToken(cfg.Auth, authz.DefaultSessionConfig(), types.ID(subject), role, time.Now())
	require.NoError(t, err)
	return token
}

type call struct {
	method, path string
	body         any
	headers      map[string]string
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func provider(key string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + key,
		"X-User-Role":   string(authz.RoleHealthcareProvider),
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestServer(t)

	rec, body := do(t, h, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/ready"})
	assert.Equal(t, http.StatusOK, rec.Code)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ready", checks["store"])
	assert.Equal(t, "ready", checks["audit"])
	assert.Equal(t, "not configured", checks["event_bus"])
}

func TestFetchThroughRouter(t *testing.T) {
	h, _ := newTestServer(t)

	rec, body := do(t, h, call{
		method:  http.MethodPost,
		path:    "/api/v1/records/fetch",
		body:    map[string]any{"patient_id": "PAT_001"},
		headers: provider(providerKey),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAT_001", body["patient_id"])
	assert.ElementsMatch(t, []any{"INST_001", "INST_004"}, body["sources"])
	assert.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))

	rec, _ = do(t, h, call{
		method: http.MethodPost,
		path:   "/api/v1/records/fetch",
		body:   map[string]any{"patient_id": "PAT_001"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// INST_005's key is disabled in the demo data
	rec, _ = do(t, h, call{
		method:  http.MethodPost,
		path:    "/api/v1/records/fetch",
		body:    map[string]any{"patient_id": "PAT_001"},
		headers: provider("APIKEY_AROGYADEEP_112"),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPatientRoutesRequireSelf(t *testing.T) {
	h, cfg := newTestServer(t)
	token := sessionToken(t, cfg, "PAT_001", authz.RolePatient)

	rec, body := do(t, h, call{
		method:  http.MethodGet,
		path:    "/api/v1/access-logs/PAT_001",
		headers: bearer(token),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["total"])

	rec, _ = do(t, h, call{
		method:  http.MethodGet,
		path:    "/api/v1/access-logs/PAT_002",
		headers: bearer(token),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/v1/access-logs/PAT_001"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := sessionToken(t, cfg, "ADMIN_1", authz.RolePlatformAdmin)
	rec, _ = do(t, h, call{
		method:  http.MethodPut,
		path:    "/api/v1/consent/PAT_001",
		body:    map[string]any{"granted": false},
		headers: bearer(admin),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevokedConsentDeniesFetch(t *testing.T) {
	h, cfg := newTestServer(t)
	token := sessionToken(t, cfg, "PAT_001", authz.RolePatient)

	rec, body := do(t, h, call{
		method:  http.MethodPut,
		path:    "/api/v1/consent/PAT_001",
		body:    map[string]any{"granted": false},
		headers: bearer(token),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["granted"])

	rec, _ = do(t, h, call{
		method:  http.MethodPost,
		path:    "/api/v1/records/fetch",
		body:    map[string]any{"patient_id": "PAT_001"},
		headers: provider(providerKey),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = do(t, h, call{
		method:  http.MethodGet,
		path:    "/api/v1/access-logs/PAT_001",
		headers: bearer(token),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	newest := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "denied", newest["access_mode"])
}

func TestAdminAndInstitutionAuditRoutes(t *testing.T) {
	h, cfg := newTestServer(t)

	admin := sessionToken(t, cfg, "ADMIN_1", authz.RolePlatformAdmin)
	rec, body := do(t, h, call{
		method:  http.MethodGet,
		path:    "/api/v1/audit/verify",
		headers: bearer(admin),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["valid"])

	patient := sessionToken(t, cfg, "PAT_001", authz.RolePatient)
	rec, _ = do(t, h, call{
		method:  http.MethodGet,
		path:    "/api/v1/audit/verify",
		headers: bearer(patient),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = do(t, h, call{
		method: http.MethodGet,
		path:   "/api/v1/institution/access-logs",
		headers: map[string]string{
			"Authorization": "Bearer " + providerKey,
			"X-User-Role":   string(authz.RoleInstitutionAdmin),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["total"])
}

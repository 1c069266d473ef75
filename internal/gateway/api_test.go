package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/gateway"
)

func newRouter(f *fixture, ac *credential.AuthContext) http.Handler {
	r := chi.NewRouter()
	if ac != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(credential.WithAuthContext(req.Context(), ac)))
			})
		})
	}
	r.Mount("/records", gateway.NewHandler(f.gateway).Routes())
	return r
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/records/fetch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

var provider = &credential.AuthContext{
	CredentialID:  "CRED_008",
	InstitutionID: "INST_008",
	Role:          authz.RoleHealthcareProvider,
}

func TestFetchHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		absentKey  string
	}{
		{"normal", `{"patient_id":"PAT_001"}`, http.StatusOK, "medications", "emergency_access"},
		{"emergency", `{"patient_id":"PAT_001","emergency":true,"reason":"unconscious"}`, http.StatusOK, "chronic_conditions", "medications"},
		{"emergency without reason", `{"patient_id":"PAT_001","emergency":true}`, http.StatusBadRequest, "error", ""},
		{"no consent", `{"patient_id":"PAT_002"}`, http.StatusForbidden, "error", ""},
		{"unknown patient", `{"patient_id":"PAT_404"}`, http.StatusNotFound, "error", ""},
		{"missing patient", `{}`, http.StatusBadRequest, "error", ""},
		{"bad patient id", `{"patient_id":"PAT 001"}`, http.StatusBadRequest, "error", ""},
		{"malformed body", `{"patient_id":`, http.StatusBadRequest, "error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := post(newRouter(f, provider), tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body, tt.wantKey)
			if tt.absentKey != "" {
				assert.NotContains(t, body, tt.absentKey)
			}
		})
	}
}

func TestFetchHandlerRequiresCredential(t *testing.T) {
	f := newFixture(t)
	rec := post(newRouter(f, nil), `{"patient_id":"PAT_001"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, f.log.AppendCalls())
}

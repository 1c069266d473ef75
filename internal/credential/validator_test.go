package credential_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/store"
)

var providerOnly = []authz.Role{authz.RoleHealthcareProvider}

func newValidator(t *testing.T) (*credential.Validator, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	institutions := []institution.Institution{
		{ID: "INST_001", Name: "AarogyaNova Hospital", Status: institution.StatusActive},
		{ID: "INST_003", Name: "SwasthiCare General Hospital", Status: institution.StatusPending},
		{ID: "INST_006", Name: "JeevanRekha Rural Health Centre", Status: institution.StatusSuspended},
	}
	for i := range institutions {
		require.NoError(t, s.PutInstitution(ctx, &institutions[i]))
	}

	creds := []struct {
		id, inst, key string
		enabled       bool
	}{
		{"CRED_001", "INST_001", "APIKEY_AAROGYANOVA_123", true},
		{"CRED_003", "INST_003", "APIKEY_SWASTHICARE_789", true},
		{"CRED_006", "INST_006", "APIKEY_JEEVANREKHA_131", true},
		{"CRED_009", "INST_001", "APIKEY_DISABLED_118", false},
		{"CRED_404", "INST_404", "APIKEY_ORPHAN_000", true},
	}
	for _, c := range creds {
		require.NoError(t, s.PutCredential(ctx, &institution.Credential{
			ID:            types.ID(c.id),
			InstitutionID: types.ID(c.inst),
			KeyHash:       institution.HashKey(c.key),
			Enabled:       c.enabled,
		}))
	}

	return credential.NewValidator(s, zerolog.Nop()), s
}

func TestValidate(t *testing.T) {
	v, _ := newValidator(t)

	tests := []struct {
		name    string
		in      credential.Presented
		allowed []authz.Role
		wantErr error
	}{
		{"valid", credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "healthcare_provider"}, providerOnly, nil},
		{"valid with matching institution", credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "healthcare_provider", InstitutionID: "INST_001"}, providerOnly, nil},
		{"missing key", credential.Presented{Role: "healthcare_provider"}, providerOnly, errors.ErrUnauthenticated},
		{"malformed key", credential.Presented{BearerKey: "APIKEY WITH SPACE", Role: "healthcare_provider"}, providerOnly, errors.ErrUnauthenticated},
		{"unknown key", credential.Presented{BearerKey: "APIKEY_NOPE", Role: "healthcare_provider"}, providerOnly, errors.ErrUnauthenticated},
		{"disabled key", credential.Presented{BearerKey: "APIKEY_DISABLED_118", Role: "healthcare_provider"}, providerOnly, errors.ErrUnauthenticated},
		{"key for missing institution", credential.Presented{BearerKey: "APIKEY_ORPHAN_000", Role: "healthcare_provider"}, providerOnly, errors.ErrUnauthenticated},
		{"role not allowed", credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "institution_admin"}, providerOnly, errors.ErrForbidden},
		{"unknown role", credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "janitor"}, providerOnly, errors.ErrForbidden},
		{"institution mismatch", credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "healthcare_provider", InstitutionID: "INST_002"}, providerOnly, errors.ErrForbidden},
		{"pending institution", credential.Presented{BearerKey: "APIKEY_SWASTHICARE_789", Role: "healthcare_provider"}, providerOnly, errors.ErrForbidden},
		{"suspended institution", credential.Presented{BearerKey: "APIKEY_JEEVANREKHA_131", Role: "healthcare_provider"}, providerOnly, errors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac, err := v.Validate(context.Background(), tt.in, tt.allowed)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, ac)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.ID("INST_001"), ac.InstitutionID)
			assert.Equal(t, authz.RoleHealthcareProvider, ac.Role)
			assert.Equal(t, "AarogyaNova Hospital", ac.InstitutionName)
		})
	}
}

func TestValidateStoreFailureIsInternal(t *testing.T) {
	v, s := newValidator(t)
	s.FailReads(assert.AnError)

	_, err := v.Validate(context.Background(),
		credential.Presented{BearerKey: "APIKEY_AAROGYANOVA_123", Role: "healthcare_provider"}, providerOnly)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrUnauthenticated))

	status, code, _, _ := errors.Public(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, errors.CodeInternal, code)
}

func TestMiddleware(t *testing.T) {
	v, _ := newValidator(t)

	var seen *credential.AuthContext
	h := credential.Middleware(v, authz.RoleHealthcareProvider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = credential.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		auth, role string
		wantStatus int
	}{
		{"ok", "Bearer APIKEY_AAROGYANOVA_123", "healthcare_provider", http.StatusNoContent},
		{"lower-case scheme", "bearer APIKEY_AAROGYANOVA_123", "healthcare_provider", http.StatusNoContent},
		{"no header", "", "healthcare_provider", http.StatusUnauthorized},
		{"basic scheme", "Basic APIKEY_AAROGYANOVA_123", "healthcare_provider", http.StatusUnauthorized},
		{"wrong role", "Bearer APIKEY_AAROGYANOVA_123", "patient", http.StatusForbidden},
		{"suspended", "Bearer APIKEY_JEEVANREKHA_131", "healthcare_provider", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/records/fetch", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			req.Header.Set(credential.HeaderRole, tt.role)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, types.ID("INST_001"), seen.InstitutionID)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"code"`)
			}
		})
	}
}

// Package credential validates institution API keys. It decides who is
// calling and under which role; it never records audit entries.
package credential

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

const maxKeyLength = 256

// Repository is the slice of the record store the validator reads
type Repository interface {
	GetCredentialByKeyHash(ctx context.Context, keyHash string) (*institution.Credential, error)
	GetInstitution(ctx context.Context, id types.ID) (*institution.Institution, error)
}

// Presented is what the caller sent
type Presented struct {
	BearerKey string
	Role      string
	// InstitutionID is optional; when set it must match the key's institution
	InstitutionID string
}

// AuthContext identifies a validated caller
type AuthContext struct {
	CredentialID    types.ID   `json:"credential_id"`
	InstitutionID   types.ID   `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	Role            authz.Role `json:"role"`
}

// Validator checks API credentials against the store
type Validator struct {
	repo   Repository
	logger zerolog.Logger
}

func NewValidator(repo Repository, logger zerolog.Logger) *Validator {
	return &Validator{repo: repo, logger: logger}
}

// Validate returns the caller's AuthContext. Unknown, malformed or disabled
// keys are Unauthenticated; a role outside allowed, an institution mismatch
// or an institution that is not active is Forbidden.
func (v *Validator) Validate(ctx context.Context, p Presented, allowed []authz.Role) (*AuthContext, error) {
	ac, err := v.validate(ctx, p, allowed)
	metrics.RecordCredentialValidation(outcome(err))
	if err != nil {
		if !errors.Is(err, errors.ErrUnauthenticated) && !errors.Is(err, errors.ErrForbidden) {
			v.logger.Error().Err(err).Msg("credential validation failed")
		}
		return nil, err
	}
	return ac, nil
}

func (v *Validator) validate(ctx context.Context, p Presented, allowed []authz.Role) (*AuthContext, error) {
	key := strings.TrimSpace(p.BearerKey)
	if key == "" {
		return nil, errors.Unauthenticated("missing API key")
	}
	if !wellFormedKey(key) {
		return nil, errors.Unauthenticated("malformed API key")
	}

	cred, err := v.repo.GetCredentialByKeyHash(ctx, institution.HashKey(key))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Unauthenticated("invalid API key")
		}
		return nil, errors.Internal(err)
	}
	if !cred.Enabled {
		return nil, errors.Unauthenticated("API key is disabled")
	}

	role, known := authz.ParseRole(strings.TrimSpace(p.Role))
	if !known || !authz.HasAnyRole(role, allowed...) {
		return nil, errors.Forbidden("role is not permitted for this operation")
	}

	if claimed := strings.TrimSpace(p.InstitutionID); claimed != "" && types.ID(claimed) != cred.InstitutionID {
		return nil, errors.Forbidden("institution does not match API key")
	}

	inst, err := v.repo.GetInstitution(ctx, cred.InstitutionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Unauthenticated("API key references an unknown institution")
		}
		return nil, errors.Internal(err)
	}
	if !inst.IsActive() {
		return nil, errors.Forbidden("institution is " + string(inst.Status))
	}

	return &AuthContext{
		CredentialID:    cred.ID,
		InstitutionID:   inst.ID,
		InstitutionName: inst.Name,
		Role:            role,
	}, nil
}

// wellFormedKey rejects keys with whitespace or control characters
func wellFormedKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for _, c := range key {
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errors.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, errors.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

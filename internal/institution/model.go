package institution

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Status defines the onboarding status of an institution
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRejected  Status = "rejected"
)

// ParseStatus accepts any letter case, e.g. "ACTIVE".
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusActive, StatusSuspended, StatusRejected:
		return st, true
	}
	return "", false
}

// Institution represents a hospital or clinic participating in the network
type Institution struct {
	ID        types.ID  `json:"institution_id"`
	Name      string    `json:"name"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsActive reports whether the institution may call institution endpoints
func (i *Institution) IsActive() bool {
	return i.Status == StatusActive
}

// Code returns the short institution code used in temporary patient ids:
// the first four characters of the name, upper-cased, with anything that is
// not a letter dropped. Falls back to "INST" when nothing is left.
func (i *Institution) Code() string {
	runes := []rune(i.Name)
	if len(runes) > 4 {
		runes = runes[:4]
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(string(runes)) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "INST"
	}
	return b.String()
}

// Credential is an institution API key. Only the SHA-256 of the key
// material is stored.
type Credential struct {
	ID            types.ID  `json:"credential_id"`
	InstitutionID types.ID  `json:"institution_id"`
	KeyHash       string    `json:"-"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// HashKey returns the hex SHA-256 of an API key as stored in Credential.KeyHash
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

package auth

import (
	"time"
)

// SessionConfig defines lifetimes of issued session tokens.
type SessionConfig struct {
	PatientTokenTTL time.Duration
	AdminTokenTTL   time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PatientTokenTTL: 15 * time.Minute,
		AdminTokenTTL:   8 * time.Hour,
	}
}

// TTLFor returns the token lifetime for a session role. Unknown roles get
// the shorter patient lifetime.
func (c SessionConfig) TTLFor(role Role) time.Duration {
	if role == RolePlatformAdmin {
		return c.AdminTokenTTL
	}
	return c.PatientTokenTTL
}

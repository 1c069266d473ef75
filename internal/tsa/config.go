// Package tsa provides an internal RFC 3161 Time Stamping Authority used to
// witness audit checkpoints without calling an external service.
package tsa

import (
	"crypto"
	"crypto/x509"
	"time"
)

// Config holds TSA server configuration.
type Config struct {
	Enabled bool

	// PolicyOID identifies the policy under which timestamps are issued
	PolicyOID string

	Certificate *x509.Certificate

	// PrivateKey signs timestamp tokens. In production this should come from an HSM.
	PrivateKey crypto.Signer

	HashAlgorithm crypto.Hash

	// Accuracy is the claimed accuracy of issued timestamps
	Accuracy time.Duration
}

// DefaultConfig returns a configuration without key material.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		PolicyOID:     "1.3.6.1.4.1.99999.7.1",
		HashAlgorithm: crypto.SHA256,
		Accuracy:      time.Second,
	}
}

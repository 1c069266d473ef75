package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digitorus/timestamp"
)

// Server issues and verifies RFC 3161 timestamp tokens.
type Server struct {
	config *Config
	policy asn1.ObjectIdentifier
	mu     sync.RWMutex
	now    func() time.Time
}

// NewServer creates a new TSA server with the given configuration.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.HashAlgorithm == 0 {
		config.HashAlgorithm = crypto.SHA256
	}

	policy, err := parseOID(config.PolicyOID)
	if err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		policy: policy,
		now:    time.Now,
	}, nil
}

// NewServerWithGeneratedCert creates a TSA server with a self-signed ECDSA
// certificate. Suitable for development; production deployments load a
// certificate issued by their PKI.
func NewServerWithGeneratedCert(orgName string) (*Server, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization:       []string{orgName},
			OrganizationalUnit: []string{"Time Stamping Authority"},
			Country:            []string{"IN"},
			CommonName:         fmt.Sprintf("%s TSA", orgName),
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	config := DefaultConfig()
	config.Certificate = cert
	config.PrivateKey = privateKey
	return NewServer(config)
}

// Timestamp creates an RFC 3161 timestamp token for the given digest.
func (s *Server) Timestamp(ctx context.Context, digest []byte) (*TimestampResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.config.Enabled {
		return nil, fmt.Errorf("TSA is not enabled")
	}
	if s.config.Certificate == nil || s.config.PrivateKey == nil {
		return nil, fmt.Errorf("TSA certificate or private key not configured")
	}
	if len(digest) != s.config.HashAlgorithm.Size() {
		return nil, fmt.Errorf("digest length %d does not match %s", len(digest), s.config.HashAlgorithm)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	ts := timestamp.Timestamp{
		HashAlgorithm:     s.config.HashAlgorithm,
		HashedMessage:     digest,
		Time:              now,
		Accuracy:          s.config.Accuracy,
		Policy:            s.policy,
		AddTSACertificate: true,
	}

	token, err := ts.CreateResponseWithOpts(s.config.Certificate, s.config.PrivateKey, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp token: %w", err)
	}

	// The library assigns its own random serial; report what was signed
	issued, err := timestamp.ParseResponse(token)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued token: %w", err)
	}

	return &TimestampResponse{
		SerialNumber:  serialString(issued.SerialNumber),
		Timestamp:     issued.Time,
		HashAlgorithm: s.config.HashAlgorithm.String(),
		HashedMessage: hex.EncodeToString(digest),
		Token:         token,
		PolicyOID:     s.config.PolicyOID,
		Issuer:        s.config.Certificate.Subject.CommonName,
	}, nil
}

// TimestampHash creates a timestamp for a hex-encoded digest.
func (s *Server) TimestampHash(ctx context.Context, hashHex string) (*TimestampResponse, error) {
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hash hex: %w", err)
	}
	return s.Timestamp(ctx, digest)
}

// Verify checks that token is a valid response signed by this TSA for digest.
// A token that fails to parse or was issued for other data yields an invalid
// result rather than an error.
func (s *Server) Verify(ctx context.Context, token []byte, digest []byte) (*VerifyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, err := timestamp.ParseResponse(token)
	if err != nil {
		return &VerifyResult{Message: fmt.Sprintf("failed to parse timestamp token: %v", err)}, nil
	}

	if !bytes.Equal(ts.HashedMessage, digest) {
		return &VerifyResult{Message: "hash mismatch: timestamp was created for different data"}, nil
	}

	if s.config.Certificate != nil {
		issued := false
		for _, cert := range ts.Certificates {
			if cert.Equal(s.config.Certificate) {
				issued = true
				break
			}
		}
		if !issued {
			return &VerifyResult{Message: "timestamp was not issued by this authority"}, nil
		}
	}

	result := &VerifyResult{
		Valid:     true,
		Message:   "timestamp verified successfully",
		Timestamp: ts.Time,
	}
	result.SerialNumber = serialString(ts.SerialNumber)
	if s.config.Certificate != nil {
		result.Issuer = s.config.Certificate.Subject.CommonName
	}
	return result, nil
}

// GetCertificate returns the TSA certificate.
func (s *Server) GetCertificate() *x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Certificate
}

// serialString renders a token serial in decimal. Serials are up to 160 bits.
func serialString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid policy OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid policy OID %q", s)
		}
		oid[i] = n
	}
	return oid, nil
}

// TimestampResponse contains the result of a timestamp operation.
type TimestampResponse struct {
	SerialNumber  string    `json:"serial_number"`
	Timestamp     time.Time `json:"timestamp"`
	HashAlgorithm string    `json:"hash_algorithm"`
	HashedMessage string    `json:"hashed_message"`
	Token         []byte    `json:"token"`
	PolicyOID     string    `json:"policy_oid"`
	Issuer        string    `json:"issuer"`
}

// VerifyResult contains the result of timestamp verification.
type VerifyResult struct {
	Valid        bool      `json:"valid"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
}

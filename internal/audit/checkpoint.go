package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/tsa"
)

// WitnessType defines the type of external witness
type WitnessType string

const (
	WitnessTypeLocal      WitnessType = "local"       // Local storage only (dev)
	WitnessTypeRFC3161TSA WitnessType = "rfc3161_tsa" // Internal RFC 3161 TSA
)

// WitnessStatus defines the status of witness confirmation
type WitnessStatus string

const (
	WitnessStatusPending   WitnessStatus = "pending"
	WitnessStatusConfirmed WitnessStatus = "confirmed"
	WitnessStatusFailed    WitnessStatus = "failed"
)

// Checkpoint pins the chain head at a point in time. A witness proof makes
// later rewriting of everything before the checkpoint detectable.
type Checkpoint struct {
	ID             types.ID      `json:"id"`
	CheckpointHash string        `json:"checkpoint_hash"`
	LastHash       string        `json:"last_hash"`
	LastSequence   int64         `json:"last_sequence"`
	LastEntryID    types.ID      `json:"last_entry_id"`
	EntryCount     int           `json:"entry_count"`
	WitnessType    WitnessType   `json:"witness_type"`
	WitnessProof   []byte        `json:"witness_proof,omitempty"`
	WitnessStatus  WitnessStatus `json:"witness_status"`
	CreatedAt      time.Time     `json:"created_at"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
}

func computeCheckpointHash(lastHash string, sequence int64, count int, createdAt time.Time) string {
	data := fmt.Sprintf("%s:%d:%d:%d", lastHash, sequence, count, createdAt.UnixNano())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Witness timestamps checkpoint hashes
type Witness interface {
	Type() WitnessType

	// Timestamp submits a hash to the witness and returns proof
	Timestamp(ctx context.Context, hash string) (proof []byte, err error)

	// Verify checks that proof was issued for hash
	Verify(ctx context.Context, hash string, proof []byte) (bool, error)
}

// LocalWitness records a digest of the checkpoint hash. It proves nothing to
// a third party and exists for development.
type LocalWitness struct{}

func NewLocalWitness() *LocalWitness {
	return &LocalWitness{}
}

func (w *LocalWitness) Type() WitnessType {
	return WitnessTypeLocal
}

func (w *LocalWitness) Timestamp(ctx context.Context, hash string) ([]byte, error) {
	proof := sha256.Sum256([]byte("LOCAL_WITNESS:" + hash))
	return proof[:], nil
}

func (w *LocalWitness) Verify(ctx context.Context, hash string, proof []byte) (bool, error) {
	want, _ := w.Timestamp(ctx, hash)
	return bytes.Equal(want, proof), nil
}

// RFC3161Witness uses the internal RFC 3161 TSA.
type RFC3161Witness struct {
	tsaServer *tsa.Server
}

func NewRFC3161Witness(tsaServer *tsa.Server) *RFC3161Witness {
	return &RFC3161Witness{tsaServer: tsaServer}
}

func (w *RFC3161Witness) Type() WitnessType {
	return WitnessTypeRFC3161TSA
}

func (w *RFC3161Witness) Timestamp(ctx context.Context, hash string) ([]byte, error) {
	if w.tsaServer == nil {
		return nil, fmt.Errorf("TSA server not configured")
	}

	resp, err := w.tsaServer.TimestampHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("TSA timestamp failed: %w", err)
	}
	return resp.Token, nil
}

func (w *RFC3161Witness) Verify(ctx context.Context, hash string, proof []byte) (bool, error) {
	if w.tsaServer == nil {
		return false, fmt.Errorf("TSA server not configured")
	}

	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("invalid hash: %w", err)
	}

	result, err := w.tsaServer.Verify(ctx, proof, hashBytes)
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// CheckpointService manages audit checkpoints
type CheckpointService struct {
	repo    Repository
	witness Witness
	clock   types.Clock
}

func NewCheckpointService(repo Repository, witness Witness, clock types.Clock) *CheckpointService {
	if witness == nil {
		witness = NewLocalWitness()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &CheckpointService{repo: repo, witness: witness, clock: clock}
}

// CreateCheckpoint witnesses the current chain head
func (s *CheckpointService) CreateCheckpoint(ctx context.Context) (*Checkpoint, error) {
	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain head")
	}
	if head.LastHash == "" {
		return nil, errors.InvalidRequest("no audit entries to checkpoint")
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count audit entries")
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	cpHash := computeCheckpointHash(head.LastHash, head.Sequence, count, now)

	proof, err := s.witness.Timestamp(ctx, cpHash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get witness timestamp")
	}

	cp := &Checkpoint{
		ID:             types.NewID(),
		CheckpointHash: cpHash,
		LastHash:       head.LastHash,
		LastSequence:   head.Sequence,
		LastEntryID:    head.LastEntryID,
		EntryCount:     count,
		WitnessType:    s.witness.Type(),
		WitnessProof:   proof,
		WitnessStatus:  WitnessStatusConfirmed,
		CreatedAt:      now,
		ConfirmedAt:    &now,
	}

	if err := s.repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, errors.Wrap(err, "failed to save checkpoint")
	}
	return cp, nil
}

func (s *CheckpointService) GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	return s.repo.GetLatestCheckpoint(ctx)
}

// VerifyCheckpoint checks the checkpoint against the current chain: its hash
// still matches its recorded fields, the pinned entry is unchanged, no
// entries have disappeared, and the witness proof holds.
func (s *CheckpointService) VerifyCheckpoint(ctx context.Context, checkpointID types.ID) (*CheckpointVerifyResult, error) {
	cp, err := s.repo.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	result := &CheckpointVerifyResult{
		Checkpoint:    cp,
		ChainValid:    true,
		WitnessValid:  true,
		EntriesIntact: true,
	}

	if computeCheckpointHash(cp.LastHash, cp.LastSequence, cp.EntryCount, cp.CreatedAt) != cp.CheckpointHash {
		result.ChainValid = false
		result.Violations = append(result.Violations, "checkpoint hash does not match its recorded fields")
	}

	pinned, err := s.repo.FindByID(ctx, cp.LastEntryID)
	switch {
	case errors.IsNotFound(err):
		result.EntriesIntact = false
		result.Violations = append(result.Violations, fmt.Sprintf("checkpointed entry %s is missing", cp.LastEntryID))
	case err != nil:
		return nil, err
	case pinned.Hash != cp.LastHash || !pinned.VerifyHash():
		result.ChainValid = false
		result.Violations = append(result.Violations, fmt.Sprintf("checkpointed entry %s has changed", cp.LastEntryID))
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count < cp.EntryCount {
		result.EntriesIntact = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("entry count shrank: checkpoint recorded %d, found %d", cp.EntryCount, count))
	}

	if s.witness.Type() == cp.WitnessType {
		valid, err := s.witness.Verify(ctx, cp.CheckpointHash, cp.WitnessProof)
		if err != nil || !valid {
			result.WitnessValid = false
			result.Violations = append(result.Violations, "witness proof verification failed")
		}
	} else {
		result.Violations = append(result.Violations,
			fmt.Sprintf("witness %s not available to verify proof", cp.WitnessType))
	}

	result.Valid = result.ChainValid && result.WitnessValid && result.EntriesIntact
	return result, nil
}

// ListCheckpoints returns the newest checkpoints first
func (s *CheckpointService) ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListCheckpoints(ctx, limit)
}

// CheckpointVerifyResult contains checkpoint verification results
type CheckpointVerifyResult struct {
	Checkpoint    *Checkpoint `json:"checkpoint"`
	Valid         bool        `json:"valid"`
	ChainValid    bool        `json:"chain_valid"`
	WitnessValid  bool        `json:"witness_valid"`
	EntriesIntact bool        `json:"entries_intact"`
	Violations    []string    `json:"violations,omitempty"`
}

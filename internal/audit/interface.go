package audit

import (
	"context"

	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Repository is append-only storage for the access log. Implementations
// assign PrevHash, Hash and Sequence inside Append so that concurrent
// appends still produce a single linear chain.
type Repository interface {
	// Initialize loads the chain head from storage
	Initialize(ctx context.Context) error

	// Append chains and stores the entry. On error nothing was stored.
	Append(ctx context.Context, entry *AccessLogEntry) error

	FindByID(ctx context.Context, id types.ID) (*AccessLogEntry, error)

	// List returns matching entries newest first and the total match count
	List(ctx context.Context, filter ListFilter) ([]AccessLogEntry, int, error)

	// VerifyChain checks content hashes and linkage of the newest limit entries
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)

	Head(ctx context.Context) (ChainHead, error)
	Count(ctx context.Context) (int, error)

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error)
	GetCheckpoint(ctx context.Context, id types.ID) (*Checkpoint, error)
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*KurrentDBRepository)(nil)
)

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// MemoryRepository keeps the access log in process memory. It is the default
// backend for development and tests, and supports fault injection so callers
// can exercise the writer's retry path.
type MemoryRepository struct {
	mu          sync.Mutex
	entries     []AccessLogEntry // oldest first
	checkpoints []Checkpoint     // oldest first

	failRemaining int
	failErr       error
	appendDelay   time.Duration
	appendCalls   int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// FailAppends makes the next n appends fail with err. A negative n fails
// every append until FailAppends(0, nil) is called.
func (r *MemoryRepository) FailAppends(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failRemaining = n
	r.failErr = err
}

// DelayAppends makes each append wait d or until its context is done
func (r *MemoryRepository) DelayAppends(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendDelay = d
}

// AppendCalls returns how many times Append was called, including failures
func (r *MemoryRepository) AppendCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendCalls
}

func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Append(ctx context.Context, entry *AccessLogEntry) error {
	r.mu.Lock()
	r.appendCalls++
	delay := r.appendDelay
	if r.failRemaining != 0 {
		if r.failRemaining > 0 {
			r.failRemaining--
		}
		err := r.failErr
		r.mu.Unlock()
		if err == nil {
			err = errors.ErrInternal
		}
		return errors.Wrap(err, "failed to append audit entry")
	}
	r.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "failed to append audit entry")
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == entry.ID {
			return errors.Conflict("audit entry already exists")
		}
	}

	prevHash := ""
	if n := len(r.entries); n > 0 {
		prevHash = r.entries[n-1].Hash
	}
	entry.chain(prevHash)
	entry.Sequence = int64(len(r.entries)) + 1

	r.entries = append(r.entries, copyEntry(entry))
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*AccessLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == id {
			e := copyEntry(&r.entries[i])
			return &e, nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]AccessLogEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]AccessLogEntry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.matches(&r.entries[i]) {
			matched = append(matched, copyEntry(&r.entries[i]))
		}
	}
	sortNewestFirst(matched)
	return filter.page(matched), len(matched), nil
}

func (r *MemoryRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	limit = clampVerifyLimit(limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	newest := make([]AccessLogEntry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(newest) < limit; i-- {
		newest = append(newest, copyEntry(&r.entries[i]))
	}
	return verifyEntries(newest, includeDetails, len(newest) == len(r.entries)), nil
}

func (r *MemoryRepository) Head(ctx context.Context) (ChainHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return ChainHead{}, nil
	}
	last := r.entries[len(r.entries)-1]
	return ChainHead{LastHash: last.Hash, Sequence: last.Sequence, LastEntryID: last.ID}, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

func (r *MemoryRepository) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, *cp)
	return nil
}

func (r *MemoryRepository) GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.checkpoints) == 0 {
		return nil, errors.NotFound("checkpoint", "latest")
	}
	cp := r.checkpoints[len(r.checkpoints)-1]
	return &cp, nil
}

func (r *MemoryRepository) ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Checkpoint, 0, len(r.checkpoints))
	for i := len(r.checkpoints) - 1; i >= 0; i-- {
		out = append(out, r.checkpoints[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetCheckpoint(ctx context.Context, id types.ID) (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cp := range r.checkpoints {
		if cp.ID == id {
			return &cp, nil
		}
	}
	return nil, errors.NotFound("checkpoint", id.String())
}

func copyEntry(e *AccessLogEntry) AccessLogEntry {
	out := *e
	out.AccessedInstitutionSources = append([]string{}, e.AccessedInstitutionSources...)
	return out
}

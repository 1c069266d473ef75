package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/swasthyasetu/platform/internal/kurrentdb"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

const (
	// AccessLogEventType is the event type for access log entries
	AccessLogEventType = "AccessLogEntry"
	// CheckpointEventType is the event type for checkpoints
	CheckpointEventType = "AuditCheckpoint"

	maxStreamRead = 100000
)

// KurrentDBRepository stores the access log as events in a single stream.
// KurrentDB is append-only: events cannot be modified or deleted.
type KurrentDBRepository struct {
	client *kurrentdb.Client
	stream string

	mu       sync.Mutex
	lastHash string
	sequence int64
	lastID   types.ID
	// revision of the last event in the stream; nil when the stream is empty
	revision *uint64
}

// NewKurrentDBRepository creates a repository writing to "<prefix>-access-log"
func NewKurrentDBRepository(client *kurrentdb.Client, prefix string) *KurrentDBRepository {
	if prefix == "" {
		prefix = "swasthya"
	}
	return &KurrentDBRepository{client: client, stream: prefix + "-access-log"}
}

func (r *KurrentDBRepository) checkpointStream() string {
	return r.stream + "-checkpoints"
}

// Initialize loads the last hash, sequence and stream revision
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadHead(ctx)
}

func (r *KurrentDBRepository) loadHead(ctx context.Context) error {
	events, err := r.read(ctx, r.stream, esdb.Backwards, 1)
	if err != nil {
		return errors.Wrap(err, "failed to read audit stream")
	}

	r.lastHash, r.sequence, r.lastID, r.revision = "", 0, "", nil
	if len(events) == 0 {
		return nil
	}

	recorded := events[0].Event
	var entry AccessLogEntry
	if err := json.Unmarshal(recorded.Data, &entry); err != nil {
		return errors.Wrap(err, "failed to decode last audit entry")
	}
	rev := recorded.EventNumber
	r.lastHash = entry.Hash
	r.sequence = entry.Sequence
	r.lastID = entry.ID
	r.revision = &rev
	return nil
}

// Append appends with an expected revision. If another writer got there
// first the head is reloaded and the error returned, so a retry re-chains.
func (r *KurrentDBRepository) Append(ctx context.Context, entry *AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.chain(r.lastHash)
	entry.Sequence = r.sequence + 1

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	opts := esdb.AppendToStreamOptions{ExpectedRevision: esdb.NoStream{}}
	if r.revision != nil {
		opts.ExpectedRevision = esdb.Revision(*r.revision)
	}

	// A stable event ID makes a retried append after a lost response idempotent
	eventData := esdb.EventData{
		EventID:     eventID(entry.ID),
		EventType:   AccessLogEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    []byte(fmt.Sprintf(`{"sequence":%d,"hash":%q}`, entry.Sequence, entry.Hash)),
	}

	result, err := r.client.DB().AppendToStream(ctx, r.stream, opts, eventData)
	if err != nil {
		if isWrongExpectedVersion(err) {
			if reloadErr := r.loadHead(ctx); reloadErr != nil {
				return reloadErr
			}
		}
		return errors.Wrap(err, "failed to append audit entry")
	}

	rev := result.NextExpectedVersion
	r.revision = &rev
	r.lastHash = entry.Hash
	r.sequence = entry.Sequence
	r.lastID = entry.ID
	return nil
}

func eventID(id types.ID) uuid.UUID {
	if u, err := uuid.Parse(id.String()); err == nil {
		return u
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("access-log:"+id.String()))
}

func isWrongExpectedVersion(err error) bool {
	var esdbErr *esdb.Error
	return stderrors.As(err, &esdbErr) && esdbErr.Code() == esdb.ErrorCodeWrongExpectedVersion
}

func (r *KurrentDBRepository) read(ctx context.Context, streamName string, dir esdb.Direction, count uint64) ([]*esdb.ResolvedEvent, error) {
	return r.client.ReadEvents(ctx, streamName, dir, count)
}

// entries decodes access log events, newest first
func (r *KurrentDBRepository) entries(ctx context.Context, count uint64) ([]AccessLogEntry, error) {
	events, err := r.read(ctx, r.stream, esdb.Backwards, count)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit stream")
	}

	out := make([]AccessLogEntry, 0, len(events))
	for _, event := range events {
		if event.Event.EventType != AccessLogEventType {
			continue
		}
		var entry AccessLogEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			return nil, errors.Wrap(err, "failed to decode audit entry")
		}
		out = append(out, entry)
	}
	return out, nil
}

// FindByID scans the stream. Volumes are modest; a projection would be
// needed for large deployments.
func (r *KurrentDBRepository) FindByID(ctx context.Context, id types.ID) (*AccessLogEntry, error) {
	all, err := r.entries(ctx, maxStreamRead)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

func (r *KurrentDBRepository) List(ctx context.Context, filter ListFilter) ([]AccessLogEntry, int, error) {
	all, err := r.entries(ctx, maxStreamRead)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]AccessLogEntry, 0)
	for i := range all {
		if filter.matches(&all[i]) {
			matched = append(matched, all[i])
		}
	}
	sortNewestFirst(matched)
	return filter.page(matched), len(matched), nil
}

func (r *KurrentDBRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	limit = clampVerifyLimit(limit)

	newest, err := r.entries(ctx, uint64(limit))
	if err != nil {
		return nil, err
	}
	complete := len(newest) > 0 && newest[len(newest)-1].Sequence == 1
	return verifyEntries(newest, includeDetails, complete), nil
}

func (r *KurrentDBRepository) Head(ctx context.Context) (ChainHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ChainHead{LastHash: r.lastHash, Sequence: r.sequence, LastEntryID: r.lastID}, nil
}

// Count returns the number of entries. Sequence numbers are dense, so the
// head's sequence is the count.
func (r *KurrentDBRepository) Count(ctx context.Context) (int, error) {
	events, err := r.read(ctx, r.stream, esdb.Backwards, 1)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read audit stream")
	}
	if len(events) == 0 {
		return 0, nil
	}
	var entry AccessLogEntry
	if err := json.Unmarshal(events[0].Event.Data, &entry); err != nil {
		return 0, errors.Wrap(err, "failed to decode audit entry")
	}
	return int(entry.Sequence), nil
}

// SaveCheckpoint saves a checkpoint to KurrentDB
func (r *KurrentDBRepository) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	eventData := esdb.EventData{
		EventID:     eventID(cp.ID),
		EventType:   CheckpointEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
	}

	_, err = r.client.DB().AppendToStream(ctx, r.checkpointStream(), esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	return nil
}

func (r *KurrentDBRepository) GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	checkpoints, err := r.ListCheckpoints(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, errors.NotFound("checkpoint", "latest")
	}
	return &checkpoints[0], nil
}

func (r *KurrentDBRepository) ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	count := uint64(maxStreamRead)
	if limit > 0 {
		count = uint64(limit)
	}

	events, err := r.read(ctx, r.checkpointStream(), esdb.Backwards, count)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoints stream")
	}

	checkpoints := make([]Checkpoint, 0, len(events))
	for _, event := range events {
		if event.Event.EventType != CheckpointEventType {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(event.Event.Data, &cp); err != nil {
			return nil, errors.Wrap(err, "failed to decode checkpoint")
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

func (r *KurrentDBRepository) GetCheckpoint(ctx context.Context, id types.ID) (*Checkpoint, error) {
	checkpoints, err := r.ListCheckpoints(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, cp := range checkpoints {
		if cp.ID == id {
			return &cp, nil
		}
	}
	return nil, errors.NotFound("checkpoint", id.String())
}

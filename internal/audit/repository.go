package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swasthyasetu/platform/internal/shared/database"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// appendLockKey serializes appends across every process sharing the database
const appendLockKey = 7243_1101

const entryColumns = `id, sequence, timestamp, hash, prev_hash,
	patient_id, institution_id, accessor_role, access_mode, reason,
	accessed_institution_sources, request_id`

// PostgresRepository stores the access log in audit.access_log. Rows are
// protected by an append-only trigger.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Initialize checks the audit tables are reachable. The head is read inside
// every append, so no state is cached.
func (r *PostgresRepository) Initialize(ctx context.Context) error {
	_, err := r.loadHead(ctx, r.pool)
	return err
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) loadHead(ctx context.Context, q queryRower) (ChainHead, error) {
	var head ChainHead
	err := q.QueryRow(ctx, `
		SELECT hash, sequence, id FROM audit.access_log
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&head.LastHash, &head.Sequence, &head.LastEntryID)
	if err != nil && !database.IsNoRows(err) {
		return ChainHead{}, errors.Wrap(err, "failed to get last audit hash")
	}
	return head, nil
}

// Append chains the entry to the current head inside a transaction holding
// an advisory lock, so several server processes still build one chain.
func (r *PostgresRepository) Append(ctx context.Context, entry *AccessLogEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin audit transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(appendLockKey)); err != nil {
		return errors.Wrap(err, "failed to lock audit chain")
	}

	// A previous attempt may have committed even though the caller saw an error
	if existing, err := r.findByID(ctx, tx, entry.ID); err == nil {
		entry.chain(existing.PrevHash)
		if existing.Hash != entry.Hash {
			return errors.Conflict("audit entry already exists with different content")
		}
		entry.Sequence = existing.Sequence
		return tx.Commit(ctx)
	} else if !errors.IsNotFound(err) {
		return err
	}

	head, err := r.loadHead(ctx, tx)
	if err != nil {
		return err
	}
	entry.chain(head.LastHash)

	err = tx.QueryRow(ctx, `
		INSERT INTO audit.access_log (
			id, timestamp, hash, prev_hash,
			patient_id, institution_id, accessor_role, access_mode, reason,
			accessed_institution_sources, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.PatientID, entry.InstitutionID, entry.AccessorRole, entry.AccessMode, entry.Reason,
		nonNil(entry.AccessedInstitutionSources), entry.RequestID,
	).Scan(&entry.Sequence)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit audit entry")
	}
	return nil
}

// List lists access log entries newest first (read-only)
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]AccessLogEntry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if !filter.PatientID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", argNum))
		args = append(args, filter.PatientID)
		argNum++
	}
	if !filter.InstitutionID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("institution_id = $%d", argNum))
		args = append(args, filter.InstitutionID)
		argNum++
	}
	if filter.Mode != "" {
		conditions = append(conditions, fmt.Sprintf("access_mode = $%d", argNum))
		args = append(args, filter.Mode)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit.access_log "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	query := fmt.Sprintf(`SELECT %s FROM audit.access_log %s ORDER BY timestamp DESC, sequence DESC`, entryColumns, whereClause)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	entries, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*AccessLogEntry, error) {
	return r.findByID(ctx, r.pool, id)
}

func (r *PostgresRepository) findByID(ctx context.Context, q queryRower, id types.ID) (*AccessLogEntry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit.access_log WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("audit entry", id.String())
		}
		return nil, errors.Wrap(err, "failed to find audit entry")
	}
	return e, nil
}

// VerifyChain verifies the newest limit entries. Performs two checks:
// content (recomputed hash equals stored hash) and linkage (each entry's
// hash is the next entry's prev_hash).
func (r *PostgresRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	limit = clampVerifyLimit(limit)

	entries, err := r.query(ctx,
		`SELECT `+entryColumns+` FROM audit.access_log ORDER BY sequence DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}

	total, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails, len(entries) == total), nil
}

func (r *PostgresRepository) Head(ctx context.Context) (ChainHead, error) {
	return r.loadHead(ctx, r.pool)
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit.access_log`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count audit entries")
	}
	return count, nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]AccessLogEntry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	entries := make([]AccessLogEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list audit entries")
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*AccessLogEntry, error) {
	var e AccessLogEntry
	err := row.Scan(
		&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &e.PrevHash,
		&e.PatientID, &e.InstitutionID, &e.AccessorRole, &e.AccessMode, &e.Reason,
		&e.AccessedInstitutionSources, &e.RequestID,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.AccessedInstitutionSources = nonNil(e.AccessedInstitutionSources)
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- Checkpoints ---

const checkpointColumns = `id, checkpoint_hash, last_hash, last_sequence, last_entry_id, entry_count,
	witness_type, witness_proof, witness_status, created_at, confirmed_at`

func (r *PostgresRepository) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit.checkpoints (`+checkpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cp.ID, cp.CheckpointHash, cp.LastHash, cp.LastSequence, cp.LastEntryID, cp.EntryCount,
		cp.WitnessType, cp.WitnessProof, cp.WitnessStatus, cp.CreatedAt, cp.ConfirmedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	return nil
}

func (r *PostgresRepository) GetLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+checkpointColumns+` FROM audit.checkpoints ORDER BY created_at DESC LIMIT 1`)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("checkpoint", "latest")
		}
		return nil, errors.Wrap(err, "failed to get checkpoint")
	}
	return cp, nil
}

func (r *PostgresRepository) ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM audit.checkpoints ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	defer rows.Close()

	checkpoints := make([]Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan checkpoint")
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

func (r *PostgresRepository) GetCheckpoint(ctx context.Context, id types.ID) (*Checkpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+checkpointColumns+` FROM audit.checkpoints WHERE id = $1`, id)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, errors.NotFound("checkpoint", id.String())
		}
		return nil, errors.Wrap(err, "failed to get checkpoint")
	}
	return cp, nil
}

func scanCheckpoint(row pgx.Row) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(
		&cp.ID, &cp.CheckpointHash, &cp.LastHash, &cp.LastSequence, &cp.LastEntryID, &cp.EntryCount,
		&cp.WitnessType, &cp.WitnessProof, &cp.WitnessStatus, &cp.CreatedAt, &cp.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.CreatedAt = cp.CreatedAt.UTC()
	return &cp, nil
}

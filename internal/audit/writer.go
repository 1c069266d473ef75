package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// WriterConfig bounds how long a request may wait for its audit entry
type WriterConfig struct {
	WriteTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DefaultWriterConfig matches the configuration defaults
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  5,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Writer appends access log entries on behalf of request handlers. Record
// returns only after the entry is durably stored or the attempt budget is
// spent; callers must not release data when it fails.
type Writer struct {
	repo   Repository
	clock  types.Clock
	cfg    WriterConfig
	logger zerolog.Logger
}

func NewWriter(repo Repository, clock types.Clock, cfg WriterConfig, logger zerolog.Logger) *Writer {
	def := DefaultWriterConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Writer{repo: repo, clock: clock, cfg: cfg, logger: logger}
}

// Record validates and appends one entry. Validation failures are returned
// as InvalidRequest; storage failures after retries as Internal.
func (w *Writer) Record(ctx context.Context, a Access) (*AccessLogEntry, error) {
	entry, err := NewAccessLogEntry(a, w.clock.Now())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	backoff := w.cfg.RetryBackoff
	attempt := 0
	for {
		attempt++
		err = w.repo.Append(ctx, entry)
		if err == nil {
			metrics.RecordAuditWrite(time.Since(start))
			metrics.RecordAuditEntry(string(entry.AccessMode))
			return entry, nil
		}

		// Content errors will not succeed on retry
		if errors.Is(err, errors.ErrInvalidRequest) {
			metrics.RecordAuditFailure()
			return nil, err
		}
		if attempt >= w.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		metrics.RecordAuditRetry()
		w.logger.Warn().Err(err).
			Int("attempt", attempt).
			Str("entry_id", entry.ID.String()).
			Msg("audit append failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
	}

	metrics.RecordAuditFailure()
	w.logger.Error().Err(err).
		Int("attempts", attempt).
		Str("entry_id", entry.ID.String()).
		Str("patient_id", entry.PatientID.String()).
		Str("access_mode", string(entry.AccessMode)).
		Msg("audit append failed")
	return nil, errors.Internal(fmt.Errorf("audit write failed after %d attempts: %w", attempt, err))
}

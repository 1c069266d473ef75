// Package tempid issues temporary identities for emergency patients who
// cannot be identified on arrival.
package tempid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

const (
	maxAttempts   = 5
	maxNotesRunes = 2000
)

// Repository writes an identity and its consent in one batch
type Repository interface {
	CreatePatientWithConsent(ctx context.Context, p *patient.Identity, c *consent.Consent) error
}

// Issuer creates temporary patients
type Issuer struct {
	repo      Repository
	clock     types.Clock
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewIssuer(repo Repository, clock types.Clock, publisher events.Publisher, logger zerolog.Logger) *Issuer {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Issuer{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		logger:    logger.With().Str("component", "tempid").Logger(),
	}
}

// FormatID builds TEMP-<code>-<unix millis>
func FormatID(code string, at time.Time) types.ID {
	return types.ID(fmt.Sprintf("TEMP-%s-%d", code, at.UnixMilli()))
}

// CreateTemporaryPatient writes a temporary identity with implied consent
// and returns its id. Each call creates a new identity; an id collision
// moves the timestamp forward one millisecond and tries again.
func (i *Issuer) CreateTemporaryPatient(ctx context.Context, inst *institution.Institution, notes string) (types.ID, error) {
	if inst == nil || inst.ID.IsZero() {
		return "", errors.InvalidRequest("institution is required")
	}
	notes = strings.TrimSpace(notes)
	if len([]rune(notes)) > maxNotesRunes {
		return "", errors.Validation("notes are too long", map[string]string{"notes": fmt.Sprintf("at most %d characters", maxNotesRunes)})
	}

	now := i.clock.Now().UTC()
	code := inst.Code()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := FormatID(code, now.Add(time.Duration(attempt)*time.Millisecond))

		p := patient.NewTemporary(id, inst.ID, notes, now)
		c := consent.Implied(id, now)

		err := i.repo.CreatePatientWithConsent(ctx, p, c)
		if err == nil {
			i.created(ctx, inst, id)
			return id, nil
		}
		if !errors.IsConflict(err) {
			return "", errors.Wrap(err, "failed to create temporary patient")
		}
		lastErr = err
	}

	return "", errors.Internal(fmt.Errorf("no free temporary id after %d attempts: %w", maxAttempts, lastErr))
}

func (i *Issuer) created(ctx context.Context, inst *institution.Institution, id types.ID) {
	metrics.RecordTemporaryPatient()
	i.logger.Info().
		Str("patient_id", id.String()).
		Str("institution_id", inst.ID.String()).
		Msg("temporary patient created")

	event := events.NewEvent(events.TypeTemporaryPatientCreated, "tempid", map[string]any{
		"patient_id":     id,
		"institution_id": inst.ID,
	}).WithActor(inst.ID, "healthcare_provider")
	events.Emit(ctx, i.publisher, i.logger, event)
}

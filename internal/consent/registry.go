package consent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Repository is the part of the record store the registry needs
type Repository interface {
	GetPatient(ctx context.Context, id types.ID) (*patient.Identity, error)
	GetConsent(ctx context.Context, patientID types.ID) (*Consent, error)
	PutConsent(ctx context.Context, c *Consent) error
}

// Registry holds the current consent state per patient
type Registry struct {
	repo      Repository
	clock     types.Clock
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewRegistry creates a consent registry
func NewRegistry(repo Repository, clock types.Clock, publisher events.Publisher, logger zerolog.Logger) *Registry {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Registry{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		logger:    logger.With().Str("component", "consent").Logger(),
	}
}

// Get returns the consent of a patient, or NotFound if none was recorded
func (r *Registry) Get(ctx context.Context, patientID types.ID) (*Consent, error) {
	return r.repo.GetConsent(ctx, patientID)
}

// Set records an explicit consent decision. It always stamps LastUpdated,
// even when granted is unchanged, and clears IsImplied.
func (r *Registry) Set(ctx context.Context, patientID types.ID, granted bool) (*Consent, error) {
	if _, err := r.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	var previous *bool
	if existing, err := r.repo.GetConsent(ctx, patientID); err == nil {
		previous = &existing.Granted
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	c := &Consent{
		PatientID:   patientID,
		Granted:     granted,
		IsImplied:   false,
		LastUpdated: r.clock.Now().UTC(),
	}
	if err := r.repo.PutConsent(ctx, c); err != nil {
		return nil, err
	}

	metrics.RecordConsentChange(granted)
	r.logger.Info().
		Str("patient_id", patientID.String()).
		Bool("granted", granted).
		Msg("consent updated")

	event := events.NewEvent(events.TypeConsentUpdated, "consent", map[string]any{
		"patient_id":       patientID,
		"granted":          granted,
		"previous_granted": previous,
		"last_updated":     c.LastUpdated,
	}).WithActor(patientID, "patient")
	events.Emit(ctx, r.publisher, r.logger, event)

	return c, nil
}

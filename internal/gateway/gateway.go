// Package gateway is the access gateway: it decides between normal, denied
// and emergency access to a patient's unified record and makes sure every
// decision is in the access log before any data leaves the process.
package gateway

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/aggregator"
	"github.com/swasthyasetu/platform/internal/audit"
	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Repository is the read side of the record store used by the gateway
type Repository interface {
	GetPatient(ctx context.Context, id types.ID) (*patient.Identity, error)
	GetConsent(ctx context.Context, patientID types.ID) (*consent.Consent, error)
	ListRecordsByPatient(ctx context.Context, patientID types.ID) ([]record.InstitutionRecord, error)
}

// AuditWriter appends access log entries. *audit.Writer implements it and
// returns Internal once its retries are spent.
type AuditWriter interface {
	Record(ctx context.Context, a audit.Access) (*audit.AccessLogEntry, error)
}

// Request is one fetch attempt by an authenticated institution
type Request struct {
	PatientID     types.ID
	InstitutionID types.ID
	Role          authz.Role
	Emergency     bool
	Reason        string
	RequestID     string
}

// Response carries exactly one of Full or Critical
type Response struct {
	Mode     audit.AccessMode
	Full     *aggregator.FullView
	Critical *aggregator.CriticalView
	EntryID  types.ID
}

// View returns the view that is sent to the caller
func (r *Response) View() any {
	if r.Critical != nil {
		return r.Critical
	}
	return r.Full
}

// Gateway serves record fetches
type Gateway struct {
	repo      Repository
	audit     AuditWriter
	publisher events.Publisher
	logger    zerolog.Logger
}

// New creates a gateway. A nil publisher disables emergency notifications.
func New(repo Repository, writer AuditWriter, publisher events.Publisher, logger zerolog.Logger) *Gateway {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Gateway{
		repo:      repo,
		audit:     writer,
		publisher: publisher,
		logger:    logger.With().Str("component", "gateway").Logger(),
	}
}

// FetchRecord runs the access decision for one request. Data is returned only
// after its access log entry has been stored; an audit failure fails the
// request with Internal.
func (g *Gateway) FetchRecord(ctx context.Context, req Request) (*Response, error) {
	if req.Emergency && strings.TrimSpace(req.Reason) == "" {
		return nil, errors.Validation("reason is required for emergency access", map[string]string{"reason": "required"})
	}
	if req.PatientID.IsZero() {
		return nil, errors.Validation("patient_id is required", map[string]string{"patient_id": "required"})
	}

	p, err := g.repo.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, storeError(err, "failed to load patient")
	}

	if req.Emergency {
		return g.emergency(ctx, req, p)
	}
	return g.normal(ctx, req, p)
}

func (g *Gateway) normal(ctx context.Context, req Request, p *patient.Identity) (*Response, error) {
	granted := false
	c, err := g.repo.GetConsent(ctx, p.ID)
	switch {
	case errors.IsNotFound(err):
		// no consent on record is treated as refused
	case err != nil:
		return nil, storeError(err, "failed to load consent")
	default:
		granted = c.Granted
	}

	if !granted {
		if _, err := g.record(ctx, req, audit.ModeDenied, nil); err != nil {
			return nil, err
		}
		metrics.RecordAccessDecision(string(audit.ModeDenied))
		g.logger.Info().
			Str("patient_id", p.ID.String()).
			Str("institution_id", req.InstitutionID.String()).
			Msg("access denied: no consent")
		return nil, errors.Forbidden("patient has not granted consent")
	}

	records, err := g.repo.ListRecordsByPatient(ctx, p.ID)
	if err != nil {
		return nil, storeError(err, "failed to load records")
	}
	if len(records) == 0 {
		return nil, errors.NotFound("health records", p.ID.String())
	}

	unified := aggregator.Aggregate(records)
	entry, err := g.record(ctx, req, audit.ModeNormal, unified.Sources)
	if err != nil {
		return nil, err
	}
	metrics.RecordAccessDecision(string(audit.ModeNormal))

	return &Response{
		Mode:    audit.ModeNormal,
		Full:    aggregator.NewFullView(p, unified),
		EntryID: entry.ID,
	}, nil
}

// emergency bypasses consent. The critical view may be empty when no
// institution holds records for the patient.
func (g *Gateway) emergency(ctx context.Context, req Request, p *patient.Identity) (*Response, error) {
	records, err := g.repo.ListRecordsByPatient(ctx, p.ID)
	if err != nil {
		return nil, storeError(err, "failed to load records")
	}

	unified := aggregator.Aggregate(records)
	entry, err := g.record(ctx, req, audit.ModeEmergency, unified.Sources)
	if err != nil {
		return nil, err
	}
	metrics.RecordAccessDecision(string(audit.ModeEmergency))

	g.logger.Warn().
		Str("patient_id", p.ID.String()).
		Str("institution_id", req.InstitutionID.String()).
		Str("reason", entry.Reason).
		Str("entry_id", entry.ID.String()).
		Msg("emergency access")

	event := events.NewEvent(events.TypeEmergencyAccess, "gateway", map[string]any{
		"patient_id":     p.ID,
		"institution_id": req.InstitutionID,
		"reason":         entry.Reason,
		"entry_id":       entry.ID,
		"sources":        unified.Sources,
	}).WithActor(req.InstitutionID, string(req.Role)).WithCorrelation(req.RequestID)
	events.Emit(ctx, g.publisher, g.logger, event)

	return &Response{
		Mode:     audit.ModeEmergency,
		Critical: aggregator.NewCriticalView(p, unified),
		EntryID:  entry.ID,
	}, nil
}

func (g *Gateway) record(ctx context.Context, req Request, mode audit.AccessMode, sources []types.ID) (*audit.AccessLogEntry, error) {
	a := audit.Access{
		PatientID:     req.PatientID,
		InstitutionID: req.InstitutionID,
		AccessorRole:  string(req.Role),
		Mode:          mode,
		Sources:       sources,
		RequestID:     req.RequestID,
	}
	if mode == audit.ModeEmergency {
		a.Reason = req.Reason
	}

	return g.audit.Record(ctx, a)
}

func storeError(err error, message string) error {
	if errors.IsNotFound(err) {
		return err
	}
	return errors.Wrap(err, message)
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/database"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func observe(op string, start time.Time) {
	metrics.RecordDBQuery(op, time.Since(start))
}

// --- Patients ---

const patientColumns = `patient_id, name, date_of_birth, gender, email, primary_institution,
	is_temporary, active, notes, created_by_institution, created_at`

func (s *PostgresStore) GetPatient(ctx context.Context, id types.ID) (*patient.Identity, error) {
	defer observe("get_patient", time.Now())

	p := &patient.Identity{}
	err := s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Demographics.DateOfBirth, &p.Demographics.Gender, &p.Demographics.Email,
		&p.PrimaryInstitution, &p.IsTemporary, &p.Active, &p.Notes, &p.CreatedByInstitution, &p.CreatedAt,
	)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get patient")
	}
	return p, nil
}

func (s *PostgresStore) PutPatient(ctx context.Context, p *patient.Identity) error {
	defer observe("put_patient", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (`+patientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (patient_id) DO UPDATE SET
			name = EXCLUDED.name,
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			email = EXCLUDED.email,
			primary_institution = EXCLUDED.primary_institution,
			active = EXCLUDED.active,
			notes = EXCLUDED.notes`,
		patientArgs(p)...,
	)
	if err != nil {
		return errors.Wrap(err, "failed to put patient")
	}
	return nil
}

func (s *PostgresStore) CreatePatientWithConsent(ctx context.Context, p *patient.Identity, c *consent.Consent) error {
	defer observe("create_patient_with_consent", time.Now())

	if c.PatientID != p.ID {
		return errors.InvalidRequest("consent does not belong to patient")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patients (`+patientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		patientArgs(p)...,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict(fmt.Sprintf("patient %s already exists", p.ID))
		}
		return errors.Wrap(err, "failed to insert patient")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO consents (patient_id, granted, is_implied, last_updated)
		VALUES ($1, $2, $3, $4)`,
		c.PatientID, c.Granted, c.IsImplied, c.LastUpdated,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert consent")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit patient")
	}
	return nil
}

func patientArgs(p *patient.Identity) []any {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		p.ID, p.Name, p.Demographics.DateOfBirth, p.Demographics.Gender, p.Demographics.Email,
		p.PrimaryInstitution.String(), p.IsTemporary, p.Active, p.Notes, p.CreatedByInstitution.String(), createdAt,
	}
}

// --- Consents ---

func (s *PostgresStore) GetConsent(ctx context.Context, patientID types.ID) (*consent.Consent, error) {
	defer observe("get_consent", time.Now())

	c := &consent.Consent{}
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id, granted, is_implied, last_updated
		FROM consents WHERE patient_id = $1`, patientID,
	).Scan(&c.PatientID, &c.Granted, &c.IsImplied, &c.LastUpdated)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("consent", patientID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get consent")
	}
	return c, nil
}

func (s *PostgresStore) PutConsent(ctx context.Context, c *consent.Consent) error {
	defer observe("put_consent", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO consents (patient_id, granted, is_implied, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id) DO UPDATE SET
			granted = EXCLUDED.granted,
			is_implied = EXCLUDED.is_implied,
			last_updated = EXCLUDED.last_updated`,
		c.PatientID, c.Granted, c.IsImplied, c.LastUpdated,
	)
	if err != nil {
		return errors.Wrap(err, "failed to put consent")
	}
	return nil
}

// --- Institution records ---

func (s *PostgresStore) ListRecordsByPatient(ctx context.Context, patientID types.ID) ([]record.InstitutionRecord, error) {
	defer observe("list_records", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT record_id, patient_id, institution_id, blood_group,
			conditions, medications, allergies, lab_summaries, last_updated
		FROM institution_records
		WHERE patient_id = $1
		ORDER BY institution_id`, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var out []record.InstitutionRecord
	for rows.Next() {
		var r record.InstitutionRecord
		if err := rows.Scan(
			&r.ID, &r.PatientID, &r.InstitutionID, &r.BloodGroup,
			&r.Conditions, &r.Medications, &r.Allergies, &r.LabSummaries, &r.LastUpdated,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read records")
	}
	return out, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, r *record.InstitutionRecord) error {
	defer observe("upsert_record", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO institution_records (
			record_id, patient_id, institution_id, blood_group,
			conditions, medications, allergies, lab_summaries, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (patient_id, institution_id) DO UPDATE SET
			blood_group = EXCLUDED.blood_group,
			conditions = EXCLUDED.conditions,
			medications = EXCLUDED.medications,
			allergies = EXCLUDED.allergies,
			lab_summaries = EXCLUDED.lab_summaries,
			last_updated = EXCLUDED.last_updated`,
		r.ID, r.PatientID, r.InstitutionID, r.BloodGroup,
		nonNil(r.Conditions), nonNil(r.Medications), nonNil(r.Allergies), nonNil(r.LabSummaries), r.LastUpdated,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert record")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- Institutions and credentials ---

func (s *PostgresStore) GetInstitution(ctx context.Context, id types.ID) (*institution.Institution, error) {
	defer observe("get_institution", time.Now())

	inst := &institution.Institution{}
	err := s.pool.QueryRow(ctx, `
		SELECT institution_id, name, city, state, status, created_at
		FROM institutions WHERE institution_id = $1`, id,
	).Scan(&inst.ID, &inst.Name, &inst.City, &inst.State, &inst.Status, &inst.CreatedAt)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("institution", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get institution")
	}
	return inst, nil
}

func (s *PostgresStore) PutInstitution(ctx context.Context, inst *institution.Institution) error {
	defer observe("put_institution", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO institutions (institution_id, name, city, state, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (institution_id) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			status = EXCLUDED.status`,
		inst.ID, inst.Name, inst.City, inst.State, string(inst.Status), inst.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to put institution")
	}
	return nil
}

func (s *PostgresStore) GetCredentialByKeyHash(ctx context.Context, keyHash string) (*institution.Credential, error) {
	defer observe("get_credential", time.Now())

	cred := &institution.Credential{}
	err := s.pool.QueryRow(ctx, `
		SELECT credential_id, institution_id, key_hash, enabled, created_at
		FROM api_credentials WHERE key_hash = $1`, keyHash,
	).Scan(&cred.ID, &cred.InstitutionID, &cred.KeyHash, &cred.Enabled, &cred.CreatedAt)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("credential", "")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get credential")
	}
	return cred, nil
}

func (s *PostgresStore) PutCredential(ctx context.Context, cred *institution.Credential) error {
	defer observe("put_credential", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_credentials (credential_id, institution_id, key_hash, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (credential_id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			enabled = EXCLUDED.enabled`,
		cred.ID, cred.InstitutionID, cred.KeyHash, cred.Enabled, cred.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to put credential")
	}
	return nil
}

// --- Seed marker ---

func (s *PostgresStore) SeedApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM seed_runs WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check seed version")
	}
	return exists, nil
}

func (s *PostgresStore) RecordSeed(ctx context.Context, version string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seed_runs (version) VALUES ($1)
		ON CONFLICT (version) DO NOTHING`, version)
	if err != nil {
		return false, errors.Wrap(err, "failed to record seed version")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

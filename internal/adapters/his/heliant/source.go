// Package heliant reads patient summaries from a Heliant HIS database on
// SQL Server.
package heliant

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/swasthyasetu/platform/internal/adapters/his"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Config holds Heliant connection and table settings
type Config struct {
	Host      string
	Port      int
	Database  string
	User      string
	Password  string
	Encrypt   bool
	BatchSize int

	PatientTable      string
	DiagnosisTable    string
	PrescriptionTable string
	AllergyTable      string
	LabResultTable    string
}

// DefaultConfig returns the stock Heliant schema names
func DefaultConfig() Config {
	return Config{
		Port:              1433,
		BatchSize:         500,
		PatientTable:      "dbo.Patients",
		DiagnosisTable:    "dbo.Diagnoses",
		PrescriptionTable: "dbo.Prescriptions",
		AllergyTable:      "dbo.Allergies",
		LabResultTable:    "dbo.LabResults",
	}
}

// DSN builds a sqlserver:// connection URL
func (c Config) DSN() string {
	q := url.Values{}
	q.Set("database", c.Database)
	if c.Encrypt {
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Source implements his.Source for Heliant
type Source struct {
	db  *sql.DB
	cfg Config
}

// Open connects to the Heliant database
func Open(ctx context.Context, cfg Config) (*Source, error) {
	db, err := sql.Open("sqlserver", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Source{db: db, cfg: cfg}, nil
}

func (s *Source) Name() string { return "heliant" }

func (s *Source) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Source) Close() error {
	return s.db.Close()
}

// FetchRecords returns patients with a network id whose row changed since
// the given time, with their active diagnoses, prescriptions, allergies and
// recent lab results.
func (s *Source) FetchRecords(ctx context.Context, since time.Time) ([]his.Record, error) {
	query := fmt.Sprintf(`
		SELECT TOP (@batch)
			PatientID,
			NetworkPatientID,
			BloodGroup,
			LastModified
		FROM %s
		WHERE NetworkPatientID IS NOT NULL
		  AND LastModified >= @since
		ORDER BY LastModified ASC
	`, s.cfg.PatientTable)

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("batch", s.cfg.BatchSize),
		sql.Named("since", since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}

	var (
		records  []his.Record
		localIDs []int64
	)
	for rows.Next() {
		var (
			r          his.Record
			localID    int64
			networkID  string
			bloodGroup sql.NullString
		)
		if err := rows.Scan(&localID, &networkID, &bloodGroup, &r.LastUpdated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		r.ExternalID = fmt.Sprintf("heliant:%d", localID)
		r.PatientID = types.ID(strings.TrimSpace(networkID))
		r.BloodGroup = bloodGroup.String
		records = append(records, r)
		localIDs = append(localIDs, localID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read patients: %w", err)
	}
	rows.Close()

	for i := range records {
		if err := s.fillDetails(ctx, localIDs[i], &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Source) fillDetails(ctx context.Context, localID int64, r *his.Record) error {
	var err error
	r.Conditions, err = s.strings(ctx, fmt.Sprintf(`
		SELECT Description FROM %s
		WHERE PatientID = @pid AND (ResolvedDate IS NULL OR IsChronic = 1)`, s.cfg.DiagnosisTable), localID)
	if err != nil {
		return fmt.Errorf("failed to query diagnoses: %w", err)
	}

	r.Medications, err = s.strings(ctx, fmt.Sprintf(`
		SELECT DrugName FROM %s
		WHERE PatientID = @pid AND Status = 'active'`, s.cfg.PrescriptionTable), localID)
	if err != nil {
		return fmt.Errorf("failed to query prescriptions: %w", err)
	}

	r.Allergies, err = s.strings(ctx, fmt.Sprintf(`
		SELECT Allergen FROM %s WHERE PatientID = @pid`, s.cfg.AllergyTable), localID)
	if err != nil {
		return fmt.Errorf("failed to query allergies: %w", err)
	}

	r.LabSummaries, err = s.strings(ctx, fmt.Sprintf(`
		SELECT TOP 10 CONCAT(TestName, ': ', ResultValue, COALESCE(' ' + Unit, '')) FROM %s
		WHERE PatientID = @pid AND Status = 'final'
		ORDER BY ResultDate DESC`, s.cfg.LabResultTable), localID)
	if err != nil {
		return fmt.Errorf("failed to query lab results: %w", err)
	}
	return nil
}

func (s *Source) strings(ctx context.Context, query string, localID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, sql.Named("pid", localID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

var _ his.Source = (*Source)(nil)

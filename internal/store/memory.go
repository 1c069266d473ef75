package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/patient"
	"github.com/swasthyasetu/platform/internal/record"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

type recordKey struct {
	patientID     types.ID
	institutionID types.ID
}

// MemoryStore keeps everything in maps behind one lock. Values are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	patients     map[types.ID]patient.Identity
	consents     map[types.ID]consent.Consent
	records      map[recordKey]record.InstitutionRecord
	institutions map[types.ID]institution.Institution
	credentials  map[string]institution.Credential
	seeds        map[string]time.Time

	// failAfter > 0 makes the batch write that would exceed it fail
	failAfter   int
	writeCount  int
	readFailure error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:     make(map[types.ID]patient.Identity),
		consents:     make(map[types.ID]consent.Consent),
		records:      make(map[recordKey]record.InstitutionRecord),
		institutions: make(map[types.ID]institution.Institution),
		credentials:  make(map[string]institution.Credential),
		seeds:        make(map[string]time.Time),
	}
}

// FailWritesAfter makes the store fail once n more staged writes have
// succeeded. n <= 0 disables the failure. Staged batch writes count
// individually, so FailWritesAfter(1) fails a two-write batch halfway.
func (s *MemoryStore) FailWritesAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.writeCount = 0
}

// FailReads makes every read return err until called with nil
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFailure = err
}

// stageWrite must be called with the write lock held
func (s *MemoryStore) stageWrite() error {
	if s.failAfter <= 0 {
		return nil
	}
	if s.writeCount >= s.failAfter {
		return errors.Internal(fmt.Errorf("injected write failure"))
	}
	s.writeCount++
	return nil
}

func (s *MemoryStore) readErr() error {
	if s.readFailure != nil {
		return errors.Internal(s.readFailure)
	}
	return nil
}

func (s *MemoryStore) GetPatient(_ context.Context, id types.ID) (*patient.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	p, ok := s.patients[id]
	if !ok {
		return nil, errors.NotFound("patient", id.String())
	}
	return &p, nil
}

func (s *MemoryStore) PutPatient(_ context.Context, p *patient.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageWrite(); err != nil {
		return err
	}
	s.patients[p.ID] = *p
	return nil
}

func (s *MemoryStore) CreatePatientWithConsent(_ context.Context, p *patient.Identity, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patients[p.ID]; exists {
		return errors.Conflict(fmt.Sprintf("patient %s already exists", p.ID))
	}
	if c.PatientID != p.ID {
		return errors.InvalidRequest("consent does not belong to patient")
	}

	// Stage both writes, then apply. Nothing is visible unless both staged.
	if err := s.stageWrite(); err != nil {
		return err
	}
	if err := s.stageWrite(); err != nil {
		return err
	}

	s.patients[p.ID] = *p
	s.consents[c.PatientID] = *c
	return nil
}

func (s *MemoryStore) GetConsent(_ context.Context, patientID types.ID) (*consent.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	c, ok := s.consents[patientID]
	if !ok {
		return nil, errors.NotFound("consent", patientID.String())
	}
	return &c, nil
}

func (s *MemoryStore) PutConsent(_ context.Context, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageWrite(); err != nil {
		return err
	}
	s.consents[c.PatientID] = *c
	return nil
}

func (s *MemoryStore) ListRecordsByPatient(_ context.Context, patientID types.ID) ([]record.InstitutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}

	var out []record.InstitutionRecord
	for key, r := range s.records {
		if key.patientID == patientID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstitutionID < out[j].InstitutionID })
	return out, nil
}

func (s *MemoryStore) UpsertRecord(_ context.Context, r *record.InstitutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageWrite(); err != nil {
		return err
	}

	key := recordKey{patientID: r.PatientID, institutionID: r.InstitutionID}
	stored := copyRecord(*r)
	if existing, ok := s.records[key]; ok {
		stored.ID = existing.ID
	}
	s.records[key] = stored
	return nil
}

func (s *MemoryStore) GetInstitution(_ context.Context, id types.ID) (*institution.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	inst, ok := s.institutions[id]
	if !ok {
		return nil, errors.NotFound("institution", id.String())
	}
	return &inst, nil
}

func (s *MemoryStore) PutInstitution(_ context.Context, inst *institution.Institution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageWrite(); err != nil {
		return err
	}
	s.institutions[inst.ID] = *inst
	return nil
}

func (s *MemoryStore) GetCredentialByKeyHash(_ context.Context, keyHash string) (*institution.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	cred, ok := s.credentials[keyHash]
	if !ok {
		return nil, errors.NotFound("credential", "")
	}
	return &cred, nil
}

func (s *MemoryStore) PutCredential(_ context.Context, cred *institution.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stageWrite(); err != nil {
		return err
	}
	s.credentials[cred.KeyHash] = *cred
	return nil
}

func (s *MemoryStore) SeedApplied(_ context.Context, version string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, done := s.seeds[version]
	return done, nil
}

func (s *MemoryStore) RecordSeed(_ context.Context, version string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.seeds[version]; done {
		return false, nil
	}
	s.seeds[version] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Health(context.Context) error {
	return nil
}

// Counts returns the number of patients and consents. Used by tests that
// check batch atomicity.
func (s *MemoryStore) Counts() (patients, consents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients), len(s.consents)
}

func copyRecord(r record.InstitutionRecord) record.InstitutionRecord {
	r.Conditions = append([]string(nil), r.Conditions...)
	r.Medications = append([]string(nil), r.Medications...)
	r.Allergies = append([]string(nil), r.Allergies...)
	r.LabSummaries = append([]string(nil), r.LabSummaries...)
	return r
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL may hand back values in a
// different shape, so the hash input is always re-encoded with sorted keys.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// AccessMode classifies a record access attempt
type AccessMode string

const (
	ModeNormal    AccessMode = "normal"
	ModeEmergency AccessMode = "emergency"
	ModeDenied    AccessMode = "denied"
)

// Valid reports whether m is a known access mode
func (m AccessMode) Valid() bool {
	switch m {
	case ModeNormal, ModeEmergency, ModeDenied:
		return true
	}
	return false
}

// AccessLogEntry is an immutable record of one access attempt against a
// patient's records. Entries are hash-chained: Hash covers the content and
// PrevHash, and PrevHash is the Hash of the entry appended before it.
type AccessLogEntry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	PatientID     types.ID   `json:"patient_id"`
	InstitutionID types.ID   `json:"institution_id"`
	AccessorRole  string     `json:"accessor_role"`
	AccessMode    AccessMode `json:"access_mode"`
	Reason        string     `json:"reason,omitempty"`

	// AccessedInstitutionSources lists the institutions whose records were
	// returned. Empty for denied attempts.
	AccessedInstitutionSources []string `json:"accessed_institution_sources"`

	RequestID string `json:"request_id,omitempty"`
}

// Access describes an access attempt to be logged
type Access struct {
	// ID and Timestamp are normally assigned by the writer. Seeded history
	// sets them so re-runs produce the same entry.
	ID        types.ID
	Timestamp time.Time

	PatientID     types.ID
	InstitutionID types.ID
	AccessorRole  string
	Mode          AccessMode
	Reason        string
	Sources       []types.ID
	RequestID     string
}

// NewAccessLogEntry validates an access and builds an unchained entry.
// PrevHash and Hash are set by the repository on append.
func NewAccessLogEntry(a Access, now time.Time) (*AccessLogEntry, error) {
	if a.PatientID.IsZero() {
		return nil, errors.Validation("patient_id is required", map[string]string{"field": "patient_id"})
	}
	if a.InstitutionID.IsZero() {
		return nil, errors.Validation("institution_id is required", map[string]string{"field": "institution_id"})
	}
	if !a.Mode.Valid() {
		return nil, errors.Validation("access_mode must be normal, emergency or denied", map[string]string{"field": "access_mode"})
	}

	reason := strings.TrimSpace(a.Reason)
	if a.Mode == ModeEmergency && reason == "" {
		return nil, errors.Validation("reason is required for emergency access", map[string]string{"field": "reason"})
	}

	sources := make([]string, 0, len(a.Sources))
	if a.Mode != ModeDenied {
		seen := make(map[types.ID]bool, len(a.Sources))
		for _, s := range a.Sources {
			if s.IsZero() || seen[s] {
				continue
			}
			seen[s] = true
			sources = append(sources, s.String())
		}
		sort.Strings(sources)
	}

	id := a.ID
	if id.IsZero() {
		id = types.NewID()
	}
	ts := a.Timestamp
	if ts.IsZero() {
		ts = now
	}
	// PostgreSQL keeps microseconds; the hash must survive a round trip
	ts = ts.UTC().Truncate(time.Microsecond)

	return &AccessLogEntry{
		ID:                         id,
		Timestamp:                  ts,
		PatientID:                  a.PatientID,
		InstitutionID:              a.InstitutionID,
		AccessorRole:               a.AccessorRole,
		AccessMode:                 a.Mode,
		Reason:                     reason,
		AccessedInstitutionSources: sources,
		RequestID:                  a.RequestID,
	}, nil
}

// chain links the entry to prevHash and seals it
func (e *AccessLogEntry) chain(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = e.calculateHash()
}

// calculateHash hashes the canonical JSON form of every content field plus
// PrevHash. Sequence is excluded: it is assigned by storage after sealing.
func (e *AccessLogEntry) calculateHash() string {
	sources := e.AccessedInstitutionSources
	if sources == nil {
		sources = []string{}
	}

	data := map[string]any{
		"id":                           e.ID,
		"timestamp":                    e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":                    e.PrevHash,
		"patient_id":                   e.PatientID,
		"institution_id":               e.InstitutionID,
		"accessor_role":                e.AccessorRole,
		"access_mode":                  e.AccessMode,
		"reason":                       e.Reason,
		"accessed_institution_sources": sources,
		"request_id":                   e.RequestID,
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the entry content
func (e *AccessLogEntry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash returns the hash the entry's content should have
func (e *AccessLogEntry) ComputeHash() string {
	return e.calculateHash()
}

// ListFilter selects access log entries. Results are ordered by timestamp,
// newest first, with later appends first among equal timestamps.
type ListFilter struct {
	PatientID     types.ID   `json:"patient_id,omitempty"`
	InstitutionID types.ID   `json:"institution_id,omitempty"`
	Mode          AccessMode `json:"access_mode,omitempty"`
	// Limit of zero returns every matching entry
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (f ListFilter) matches(e *AccessLogEntry) bool {
	if !f.PatientID.IsZero() && e.PatientID != f.PatientID {
		return false
	}
	if !f.InstitutionID.IsZero() && e.InstitutionID != f.InstitutionID {
		return false
	}
	if f.Mode != "" && e.AccessMode != f.Mode {
		return false
	}
	return true
}

// sortNewestFirst orders entries for listing. Append order can differ from
// timestamp order when a write is retried or history is imported.
func sortNewestFirst(entries []AccessLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Sequence > entries[j].Sequence
	})
}

// page applies offset and limit to a newest-first slice
func (f ListFilter) page(entries []AccessLogEntry) []AccessLogEntry {
	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			return []AccessLogEntry{}
		}
		entries = entries[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(entries) {
		entries = entries[:f.Limit]
	}
	return entries
}

// ChainHead describes the newest entry of the chain
type ChainHead struct {
	LastHash    string   `json:"last_hash"`
	Sequence    int64    `json:"sequence"`
	LastEntryID types.ID `json:"last_entry_id,omitempty"`
}

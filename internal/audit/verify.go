package audit

import "fmt"

const (
	defaultVerifyLimit = 100
	maxVerifyLimit     = 10000
)

// VerifyResult contains detailed verification results
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Checked        int                 `json:"checked"`
	ContentValid   int                 `json:"content_valid"`
	ContentInvalid int                 `json:"content_invalid"`
	LinkageValid   int                 `json:"linkage_valid"`
	LinkageInvalid int                 `json:"linkage_invalid"`
	Violations     []string            `json:"violations,omitempty"`
	Entries        []VerifyEntryResult `json:"entries,omitempty"`
}

// VerifyEntryResult contains verification result for a single entry
type VerifyEntryResult struct {
	ID            string     `json:"id"`
	Sequence      int64      `json:"sequence"`
	Hash          string     `json:"hash"`
	ComputedHash  string     `json:"computed_hash,omitempty"`
	PrevHash      string     `json:"prev_hash"`
	Valid         bool       `json:"valid"`
	ContentValid  bool       `json:"content_valid"`
	LinkageValid  bool       `json:"linkage_valid"`
	AccessMode    AccessMode `json:"access_mode"`
	ViolationType string     `json:"violation_type,omitempty"` // "content", "linkage" or "both"
}

func clampVerifyLimit(limit int) int {
	if limit <= 0 {
		return defaultVerifyLimit
	}
	if limit > maxVerifyLimit {
		return maxVerifyLimit
	}
	return limit
}

// verifyEntries checks newest-first entries. Content: the stored hash must
// match the recomputed hash. Linkage: each entry's hash must equal the
// prev_hash of the entry appended after it. When complete is set the slice
// reaches back to the genesis entry, which must have an empty prev_hash.
func verifyEntries(entries []AccessLogEntry, includeDetails, complete bool) *VerifyResult {
	result := &VerifyResult{Valid: true}

	for i := range entries {
		e := &entries[i]
		ve := VerifyEntryResult{
			ID:           e.ID.String(),
			Sequence:     e.Sequence,
			Hash:         e.Hash,
			PrevHash:     e.PrevHash,
			AccessMode:   e.AccessMode,
			ContentValid: true,
			LinkageValid: true,
			Valid:        true,
		}

		computed := e.ComputeHash()
		ve.ComputedHash = computed
		if computed != e.Hash {
			ve.ContentValid = false
			ve.ViolationType = "content"
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("CONTENT TAMPERED: entry %s (seq %d) stored hash does not match content", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		linkChecked, linkOK := false, true
		if i > 0 {
			linkChecked = true
			linkOK = entries[i-1].PrevHash == e.Hash
		}
		if complete && i == len(entries)-1 {
			linkChecked = true
			linkOK = linkOK && e.PrevHash == ""
		}

		if linkChecked {
			if linkOK {
				result.LinkageValid++
			} else {
				ve.LinkageValid = false
				if ve.ViolationType == "content" {
					ve.ViolationType = "both"
				} else {
					ve.ViolationType = "linkage"
				}
				result.LinkageInvalid++
				result.Violations = append(result.Violations,
					fmt.Sprintf("CHAIN BROKEN: entry %s (seq %d) is not linked to its neighbour", e.ID, e.Sequence))
			}
		}

		ve.Valid = ve.ContentValid && ve.LinkageValid
		if !ve.Valid {
			result.Valid = false
		}
		if includeDetails {
			result.Entries = append(result.Entries, ve)
		}
		result.Checked++
	}

	return result
}

package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies platform entities. Seeded and institution-issued identifiers
// such as "PAT_001" or "TEMP-AARO-1769500000123" are valid IDs alongside UUIDs.
type ID string

const maxIDLength = 128

// NewID generates a new random ID
func NewID() ID {
	return ID(uuid.New().String())
}

// NewDeterministicID generates a UUIDv5 ID for namespace+name. Used where a
// re-run must produce the same identifier (seeded audit history).
func NewDeterministicID(namespace, name string) ID {
	return ID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+":"+name)).String())
}

// ParseID validates an externally supplied identifier. Only ASCII letters,
// digits, '-', '_' and '.' are accepted.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("invalid ID: empty")
	}
	if len(s) > maxIDLength {
		return "", fmt.Errorf("invalid ID: longer than %d characters", maxIDLength)
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return "", fmt.Errorf("invalid ID: unexpected character %q", c)
		}
	}
	return ID(s), nil
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsZero checks if the ID is empty
func (id ID) IsZero() bool {
	return id == ""
}

// Value implements driver.Valuer for database serialization
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner for database deserialization
func (id *ID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}

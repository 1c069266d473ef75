package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"PAT_001", false},
		{"TEMP-AARO-1769500000123", false},
		{NewID().String(), false},
		{"", true},
		{"PAT 001", true},
		{"../etc/passwd", true},
		{"PAT_001;DROP", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, id.String())
		})
	}
}

func TestNewDeterministicID(t *testing.T) {
	a := NewDeterministicID("seed", "ELOG_001")
	b := NewDeterministicID("seed", "ELOG_001")
	c := NewDeterministicID("seed", "ELOG_002")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIDScan(t *testing.T) {
	var id ID
	require.NoError(t, id.Scan("INST_001"))
	assert.Equal(t, ID("INST_001"), id)

	require.NoError(t, id.Scan([]byte("INST_002")))
	assert.Equal(t, ID("INST_002"), id)

	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())

	assert.Error(t, id.Scan(42))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 27, 2, 15, 0, 0, time.UTC)
	clock := NewFixedClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), clock.Now())
}

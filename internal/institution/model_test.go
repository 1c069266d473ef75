package institution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"AarogyaNova Hospital", "AARO"},
		{"JeevanPath Medical Center", "JEEV"},
		{"St. Mary's", "ST"},
		{"A1 B2 C3 D4", "AB"},
		{"Om", "OM"},
		{"1234", "INST"},
		{"", "INST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := &Institution{Name: tt.name}
			assert.Equal(t, tt.want, inst.Code())
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("SUSPENDED")
	assert.True(t, ok)
	assert.Equal(t, StatusSuspended, st)

	_, ok = ParseStatus("closed")
	assert.False(t, ok)
}

func TestHashKey(t *testing.T) {
	h := HashKey("APIKEY_AAROGYANOVA_123")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("APIKEY_AAROGYANOVA_123"))
	assert.NotEqual(t, h, HashKey("APIKEY_AAROGYANOVA_124"))
}

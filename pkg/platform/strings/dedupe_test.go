package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "single identifier",
			input:    []string{"ZE184226B"},
			expected: []string{"ZE184226B"},
		},
		{
			name:     "trims form whitespace",
			input:    []string{"  ZE184226B  ", "NIN-7731  ", "  TAX-0092"},
			expected: []string{"ZE184226B", "NIN-7731", "TAX-0092"},
		},
		{
			name:     "repeated entry keeps first occurrence",
			input:    []string{"ZE184226B", "NIN-7731", "ZE184226B"},
			expected: []string{"ZE184226B", "NIN-7731"},
		},
		{
			name:     "blank entries disappear",
			input:    []string{"ZE184226B", "", "  ", "NIN-7731"},
			expected: []string{"ZE184226B", "NIN-7731"},
		},
		{
			name:     "case differences are distinct identifiers",
			input:    []string{"ze184226b", "ZE184226B"},
			expected: []string{"ze184226b", "ZE184226B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

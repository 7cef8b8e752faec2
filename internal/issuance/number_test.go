package issuance

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentNumberPattern = regexp.MustCompile(`^[A-Z][0-9]{8}$`)

func TestNewDocumentNumber_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		number, err := newDocumentNumber()
		require.NoError(t, err)
		assert.Regexp(t, documentNumberPattern, number)
	}
}

func TestRandBelow_CoversFullRangeWithoutOverflow(t *testing.T) {
	for _, n := range []int{10, 26} {
		seen := make(map[byte]bool)
		for i := 0; i < 5000; i++ {
			v, err := randBelow(n)
			require.NoError(t, err)
			require.Less(t, int(v), n)
			seen[v] = true
		}
		// Rejection sampling keeps the edges reachable; a modulo fold would
		// still pass this, but a truncated range would not.
		assert.Len(t, seen, n, "all %d values drawn", n)
	}
}

package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cachet/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseApplicationID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseApplicationID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseApplicantID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseDocumentID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, DocumentID(valid), id)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety between ID
// kinds. If this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	applicantID := ApplicantID(uuid.New())
	applicationID := ApplicationID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ ApplicantID = applicationID // compile error
	// var _ ApplicationID = applicantID // compile error

	assert.NotEqual(t, uuid.UUID(applicantID), uuid.UUID(applicationID))
}

func TestIsNil(t *testing.T) {
	assert.True(t, ApplicationID{}.IsNil())
	assert.False(t, NewApplicationID().IsNil())
}

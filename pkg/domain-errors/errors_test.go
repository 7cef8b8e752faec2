package domainerrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cachet/pkg/domain-errors"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := dErrors.New(dErrors.CodeIllegalTransition, "predicate unmet")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
		assert.False(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		inner := dErrors.New(dErrors.CodeConcurrentModification, "stale version")
		err := fmt.Errorf("advance application: %w", inner)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConcurrentModification))
	})

	t.Run("uncoded error has no code", func(t *testing.T) {
		assert.False(t, dErrors.HasCode(errors.New("plain"), dErrors.CodeInternal))
		assert.Equal(t, dErrors.CodeInternal, dErrors.CodeOf(errors.New("plain")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := dErrors.Wrap(dErrors.CodeValidatorUnavailable, "population registry unreachable", cause)

	require.True(t, dErrors.HasCode(err, dErrors.CodeValidatorUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeInvalidInput:           http.StatusBadRequest,
		dErrors.CodeIllegalTransition:      http.StatusBadRequest,
		dErrors.CodeConcurrentModification: http.StatusConflict,
		dErrors.CodeValidatorUnavailable:   http.StatusServiceUnavailable,
		dErrors.CodeNotFound:               http.StatusNotFound,
		dErrors.CodeInternal:               http.StatusInternalServerError,
		dErrors.CodeSignatureKeyUnavailable: http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, dErrors.ToHTTPStatus(code), "code %s", code)
	}
}

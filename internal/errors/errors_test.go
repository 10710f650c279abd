package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("message without cause", func(t *testing.T) {
		err := NewConfigError("weights must sum to 1.0", nil)
		assert.Equal(t, "[CONFIG] weights must sum to 1.0", err.Error())
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := fmt.Errorf("strconv: parsing failure")
		err := NewInputError("non-numeric result value", cause)
		assert.Contains(t, err.Error(), "[INPUT]")
		assert.Contains(t, err.Error(), "strconv")
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("wrapped cause is found by errors.Is", func(t *testing.T) {
		cause := fmt.Errorf("boom")
		err := fmt.Errorf("loading site: %w", NewParsingError("bad row", cause))

		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, ErrTypeParsing, appErr.Type)
	})

	t.Run("context accumulates", func(t *testing.T) {
		err := NewComputationError("zscore", "zero variance").
			WithContext("site_id", "SITE001").
			WithContext("test_code", "GLUC")
		assert.Equal(t, "SITE001", err.Context["site_id"])
		assert.Equal(t, "zscore", err.Context["method"])
	})
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		typ  ErrorType
	}{
		{"input", NewInputError("missing subject id", nil), ErrTypeInput},
		{"insufficient", NewInsufficientDataError("grubbs", 7, 4), ErrTypeInsufficientData},
		{"config", NewConfigError("negative threshold", nil), ErrTypeConfig},
		{"computation", NewComputationError("mad", "zero MAD"), ErrTypeComputation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, TypeOf(tt.err))
		})
	}

	t.Run("wrapped errors keep their type", func(t *testing.T) {
		err := fmt.Errorf("cell SITE001|GLUC: %w", NewInsufficientDataError("dbscan", 30, 12))
		assert.True(t, IsInsufficientData(err))
		assert.False(t, IsComputation(err))
	})

	t.Run("plain errors have no type", func(t *testing.T) {
		assert.Equal(t, ErrorType(""), TypeOf(fmt.Errorf("plain")))
		assert.False(t, IsConfig(nil))
	})
}

func TestInsufficientDataErrorMessage(t *testing.T) {
	err := NewInsufficientDataError("isolation_forest", 20, 11)
	assert.Equal(t, "[INSUFFICIENT_DATA] isolation_forest requires at least 20 observations, got 11", err.Error())
	assert.Equal(t, 20, err.Context["required"])
	assert.Equal(t, 11, err.Context["got"])
}

package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rpattn/shiprecon/internal/errors"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		err := fmt.Errorf("load: %w", errors.NewNotFoundError("container", "MSKU1234567"))
		assert.True(t, stderrors.Is(err, errors.ErrNotFound))
		assert.Contains(t, err.Error(), "MSKU1234567")
	})

	t.Run("config", func(t *testing.T) {
		err := errors.NewConfigError("oracle", "api key missing", nil)
		assert.True(t, stderrors.Is(err, errors.ErrConfig))
		assert.Equal(t, "configuration error in oracle: api key missing", err.Error())
	})

	t.Run("oracle keeps wrapped cause", func(t *testing.T) {
		err := errors.NewOracleError("mapHeaders", 3, errors.ErrOracleMalformed)
		assert.True(t, stderrors.Is(err, errors.ErrOracleUnavailable))
		assert.True(t, stderrors.Is(err, errors.ErrOracleMalformed))
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("validation", func(t *testing.T) {
		err := errors.NewValidationError("eta", "soon", "not a date")
		assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
	})
}

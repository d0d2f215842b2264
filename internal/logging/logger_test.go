package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/rpattn/shiprecon/internal/logging"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, logging.Default(), logging.FromContext(context.Background()))
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logging.WithLogger(context.Background(), &logger)
	ctx = logging.With(ctx, map[string]string{"batch_id": "b-1"})

	logging.FromContext(ctx).Info().Msg("archived")

	assert.Contains(t, buf.String(), `"batch_id":"b-1"`)
	assert.Contains(t, buf.String(), `"message":"archived"`)
}

func TestNewLoggerFromConfigRespectsLevel(t *testing.T) {
	logger := logging.NewLoggerFromConfig(&logging.Config{Level: "warn", Output: "discard"})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

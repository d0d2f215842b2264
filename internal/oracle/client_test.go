package oracle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/config"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

func fastOptions() Options {
	return Options{Timeout: 50 * time.Millisecond, MaxAttempts: 3, BaseBackoff: time.Millisecond}
}

func scripted(answers ...string) (Completer, *int32) {
	var calls int32
	return CompleterFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(answers) {
			n = len(answers) - 1
		}
		return []byte(answers[n]), nil
	}), &calls
}

func TestMapHeadersDecodesAnswer(t *testing.T) {
	completer, calls := scripted(`{"mapping": {"Cntr": "container_number"}, "confidence": 0.9}`)
	client := NewClient(completer, fastOptions())

	got, err := client.MapHeaders(context.Background(), HeaderRequest{Headers: []string{"Cntr"}})
	require.NoError(t, err)
	assert.Equal(t, "container_number", got.Mapping["Cntr"])
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestMalformedAnswerIsRetried(t *testing.T) {
	completer, calls := scripted(`not json`, `{"stage_code": "ARRIVED"}`)
	client := NewClient(completer, fastOptions())

	got, err := client.ClassifyStatus(context.Background(), StatusRequest{Text: "arrived at port"})
	require.NoError(t, err)
	assert.Equal(t, "ARRIVED", got.StageCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestMissingRequiredKeyExhaustsAttempts(t *testing.T) {
	completer, calls := scripted(`{"lost": []}`)
	client := NewClient(completer, fastOptions())

	_, err := client.AuditRecord(context.Background(), AuditRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOracleUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrOracleMalformed)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))

	var oracleErr *apperrors.OracleError
	require.ErrorAs(t, err, &oracleErr)
	assert.Equal(t, OpAuditRecord, oracleErr.Operation)
	assert.Equal(t, 3, oracleErr.Attempts)
}

func TestStuckCallIsAbandonedAfterTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := CompleterFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		<-release
		return nil, nil
	})
	opts := fastOptions()
	opts.MaxAttempts = 2
	client := NewClient(stuck, opts)

	start := time.Now()
	_, err := client.JudgeRecord(context.Background(), JudgeRequest{ContainerNumber: "MSKU1234567"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDeadlineBoundsRetries(t *testing.T) {
	var calls int32
	slow := CompleterFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	opts := fastOptions()
	opts.MaxAttempts = 10
	opts.Deadline = 120 * time.Millisecond
	client := NewClient(slow, opts)

	start := time.Now()
	_, err := client.ClassifyStatus(context.Background(), StatusRequest{Text: "pending"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Less(t, atomic.LoadInt32(&calls), int32(10))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	var calls int32
	failing := CompleterFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	opts := fastOptions()
	opts.Timeout = time.Second
	client := NewClient(failing, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SuggestField(ctx, SuggestRequest{Header: "Ship"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDecodeRejectsNullRequiredKey(t *testing.T) {
	var out FieldSuggestion
	err := decode(OpSuggestField, []byte(`{"field": null, "confidence": 0.4}`), &out)
	assert.ErrorIs(t, err, apperrors.ErrOracleMalformed)
}

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	o, err := New(context.Background(), config.OracleConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, o)
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
)

// Completer sends one prompt to a model and returns its raw JSON answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) ([]byte, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) ([]byte, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

// Options bounds every oracle call. Timeout bounds one attempt; Deadline
// bounds the whole call, retries and rate-limit waits included.
type Options struct {
	Timeout           time.Duration
	MaxAttempts       int
	BaseBackoff       time.Duration
	Deadline          time.Duration
	RequestsPerSecond float64
}

// DefaultOptions returns the production bounds.
func DefaultOptions() Options {
	return Options{
		Timeout:           20 * time.Second,
		MaxAttempts:       3,
		BaseBackoff:       500 * time.Millisecond,
		Deadline:          45 * time.Second,
		RequestsPerSecond: 2,
	}
}

// Client implements Oracle over a Completer with rate limiting, a per-attempt
// timeout and bounded exponential backoff.
type Client struct {
	completer Completer
	opts      Options
	limiter   *rate.Limiter
}

var _ Oracle = (*Client)(nil)

// NewClient wraps completer. Zero options fall back to DefaultOptions values.
func NewClient(completer Completer, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaults.BaseBackoff
	}
	if opts.Deadline <= 0 {
		opts.Deadline = time.Duration(opts.MaxAttempts) * opts.Timeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		completer: completer,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// MapHeaders implements Oracle.
func (c *Client) MapHeaders(ctx context.Context, req HeaderRequest) (HeaderMapping, error) {
	var out HeaderMapping
	err := c.call(ctx, OpMapHeaders, req, &out)
	return out, err
}

// ClassifyStatus implements Oracle.
func (c *Client) ClassifyStatus(ctx context.Context, req StatusRequest) (StatusAnswer, error) {
	var out StatusAnswer
	err := c.call(ctx, OpClassifyStatus, req, &out)
	return out, err
}

// AuditRecord implements Oracle.
func (c *Client) AuditRecord(ctx context.Context, req AuditRequest) (AuditAnswer, error) {
	var out AuditAnswer
	err := c.call(ctx, OpAuditRecord, req, &out)
	return out, err
}

// JudgeRecord implements Oracle.
func (c *Client) JudgeRecord(ctx context.Context, req JudgeRequest) (Judgement, error) {
	var out Judgement
	err := c.call(ctx, OpJudgeRecord, req, &out)
	return out, err
}

// SuggestField implements Oracle.
func (c *Client) SuggestField(ctx context.Context, req SuggestRequest) (FieldSuggestion, error) {
	var out FieldSuggestion
	err := c.call(ctx, OpSuggestField, req, &out)
	return out, err
}

func (c *Client) call(parent context.Context, op string, request any, out any) error {
	prompt, err := buildPrompt(op, request)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, c.opts.Deadline)
	defer cancel()

	logger := logging.FromContext(ctx)
	var lastErr error
	attempts := 0
	for attempts < c.opts.MaxAttempts {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		data, err := c.attempt(ctx, prompt)
		if err == nil {
			if err = decode(op, data, out); err == nil {
				return nil
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempts).
			Msg("Oracle call failed")

		if attempts < c.opts.MaxAttempts {
			if !sleepWithContext(ctx, c.backoff(attempts)) {
				break
			}
		}
	}
	switch {
	case parent.Err() != nil:
		lastErr = parent.Err()
	case ctx.Err() != nil:
		lastErr = fmt.Errorf("%w: no answer within %s over %d attempts", apperrors.ErrTimeout, c.opts.Deadline, attempts)
	}
	return apperrors.NewOracleError(op, attempts, lastErr)
}

// attempt races one completion against the per-call timeout. A completer that
// ignores cancellation is abandoned; its goroutine exits when it returns.
func (c *Client) attempt(ctx context.Context, prompt string) ([]byte, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.completer.Complete(callCtx, prompt)
		done <- result{data: data, err: err}
	}()

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.data, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer within %s", apperrors.ErrTimeout, c.opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.opts.BaseBackoff * time.Duration(1<<(attempt-1))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func buildPrompt(op string, request any) (string, error) {
	instruction, ok := instructions[op]
	if !ok {
		return "", fmt.Errorf("unknown oracle operation %q", op)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	return instruction + "\n\nRequest:\n" + string(payload), nil
}

var instructions = map[string]string{
	OpMapHeaders: `You map spreadsheet column headers of container shipment reports to canonical field names.
Use only names from canonical_fields. Leave a header out of "mapping" when no field fits and
explain it in "unmapped_field_insights". Answer with a JSON object:
{"mapping": {"<header>": "<canonical field>"}, "unmapped_field_insights": {"<header>": "<note>"}, "confidence": <0..1>}`,

	OpClassifyStatus: `You normalize a free-text container status into exactly one stage code from "stages".
Answer with a JSON object: {"stage_code": "<code>"}. Use "UNKNOWN" when nothing fits.`,

	OpAuditRecord: `You audit a reconciled container record against the raw row it was built from.
List raw values that are missing from the record ("lost"), values that were mapped to the wrong
field ("wrong") and raw columns not represented anywhere ("unmapped"). Propose corrections keyed by
field name; facts that have no canonical field may use any descriptive key.
Answer with a JSON object:
{"result": "PASS"|"FAIL", "lost": [], "wrong": [], "unmapped": [], "recommended_corrections": {},
 "capture_rate": <0..1>, "recommendation": "AUTO_CORRECT"|"MANUAL_REVIEW"|"NONE"}`,

	OpJudgeRecord: `You judge whether a container record shows an operational anomaly that needs an owner
(for example a missed milestone or inconsistent dates), given today's date.
Answer with a JSON object: {"exception": true|false, "type": "<short code>", "owner": "<team>", "reason": "<one sentence>"}`,

	OpSuggestField: `You propose the canonical field carried by an unmapped spreadsheet header, given sample values.
Use only names from canonical_fields, or "" when none fits.
Answer with a JSON object: {"field": "<canonical field>", "confidence": <0..1>, "reason": "<one sentence>"}`,
}

package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/rpattn/shiprecon/internal/config"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

// Gemini is a Completer backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini completer. The API key is required.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperrors.NewConfigError("oracle", "API key required for the Gemini API - set SHIPRECON_ORACLE_API_KEY or GEMINI_API_KEY", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, apperrors.NewConfigError("oracle", "failed to create Gemini client", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty response from %s", apperrors.ErrOracleMalformed, g.model)
	}
	return []byte(text), nil
}

// New builds the configured oracle. It returns a nil Oracle when the oracle is
// disabled so callers wire their heuristic strategies instead.
func New(ctx context.Context, cfg config.OracleConfig) (Oracle, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	completer, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return NewClient(completer, Options{
		Timeout:           cfg.Timeout,
		MaxAttempts:       cfg.MaxAttempts,
		BaseBackoff:       cfg.BaseBackoff,
		Deadline:          cfg.Deadline,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}), nil
}

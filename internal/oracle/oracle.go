// Package oracle is the client side of the classification oracle: header
// mapping, status normalization, record auditing, anomaly judgement and
// synonym suggestions. Every answer is a JSON object validated against the
// keys its operation requires.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

// Oracle is the capability consumed by mapping, auditing, exception
// classification and the improvement loop. A nil Oracle means "not configured"
// and callers fall back to their heuristic strategy.
type Oracle interface {
	MapHeaders(ctx context.Context, req HeaderRequest) (HeaderMapping, error)
	ClassifyStatus(ctx context.Context, req StatusRequest) (StatusAnswer, error)
	AuditRecord(ctx context.Context, req AuditRequest) (AuditAnswer, error)
	JudgeRecord(ctx context.Context, req JudgeRequest) (Judgement, error)
	SuggestField(ctx context.Context, req SuggestRequest) (FieldSuggestion, error)
}

// HeaderRequest asks for a header to canonical field mapping.
type HeaderRequest struct {
	Headers         []string         `json:"headers"`
	SampleRows      []map[string]any `json:"sample_rows"`
	CanonicalFields []string         `json:"canonical_fields"`
}

// HeaderMapping maps source headers to canonical fields.
type HeaderMapping struct {
	Mapping               map[string]string `json:"mapping"`
	UnmappedFieldInsights map[string]string `json:"unmapped_field_insights,omitempty"`
	Confidence            float64           `json:"confidence"`
}

// StatusRequest asks for the stage code of a free-text status.
type StatusRequest struct {
	Text   string   `json:"text"`
	Stages []string `json:"stages"`
}

// StatusAnswer carries the proposed stage code. Callers must validate it
// against the vocabulary.
type StatusAnswer struct {
	StageCode string `json:"stage_code"`
}

// AuditRequest pairs a persisted record with the raw row it came from.
type AuditRequest struct {
	RawRow  map[string]any    `json:"raw_row"`
	Mapping map[string]string `json:"mapping"`
	Record  map[string]any    `json:"record"`
}

// AuditAnswer is the verdict of a record audit.
type AuditAnswer struct {
	Result                 string         `json:"result"`
	Lost                   []string       `json:"lost"`
	Wrong                  []string       `json:"wrong"`
	Unmapped               []string       `json:"unmapped"`
	RecommendedCorrections map[string]any `json:"recommended_corrections"`
	CaptureRate            float64        `json:"capture_rate"`
	Recommendation         string         `json:"recommendation"`
}

// JudgeRequest asks whether a record shows an operational anomaly.
type JudgeRequest struct {
	ContainerNumber string         `json:"container_number"`
	Stage           string         `json:"stage"`
	Record          map[string]any `json:"record"`
	Today           string         `json:"today"`
}

// Judgement is the oracle's anomaly verdict.
type Judgement struct {
	Exception bool   `json:"exception"`
	Type      string `json:"type,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SuggestRequest asks which canonical field an unmapped header carries.
type SuggestRequest struct {
	Header          string   `json:"header"`
	Samples         []string `json:"samples"`
	CanonicalFields []string `json:"canonical_fields"`
}

// FieldSuggestion is a proposed canonical field for one header.
type FieldSuggestion struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Operation names, also used as processing log and error labels.
const (
	OpMapHeaders     = "map_headers"
	OpClassifyStatus = "classify_status"
	OpAuditRecord    = "audit_record"
	OpJudgeRecord    = "judge_record"
	OpSuggestField   = "suggest_field"
)

var requiredKeys = map[string][]string{
	OpMapHeaders:     {"mapping", "confidence"},
	OpClassifyStatus: {"stage_code"},
	OpAuditRecord:    {"result", "capture_rate"},
	OpJudgeRecord:    {"exception"},
	OpSuggestField:   {"field", "confidence"},
}

// decode validates that data is a JSON object holding every required key of
// op and unmarshals it into out.
func decode(op string, data []byte, out any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrOracleMalformed, err)
	}
	for _, key := range requiredKeys[op] {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("%w: missing key %q", apperrors.ErrOracleMalformed, key)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrOracleMalformed, err)
	}
	return nil
}

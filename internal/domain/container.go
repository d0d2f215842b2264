package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMinIdentityLength is the shortest normalized container number accepted
// as an identity key.
const DefaultMinIdentityLength = 4

// MappingSource records where a header mapping came from.
type MappingSource string

const (
	MappingSourceDictionary MappingSource = "dictionary"
	MappingSourceOracle     MappingSource = "oracle"
	MappingSourceHeuristic  MappingSource = "heuristic"
	MappingSourceMixed      MappingSource = "mixed"
)

// AuditResultCode is the verdict of a record audit.
type AuditResultCode string

const (
	AuditPass AuditResultCode = "PASS"
	AuditFail AuditResultCode = "FAIL"
)

// Recommendation is the auditor's advice on what to do with a failed audit.
type Recommendation string

const (
	RecommendAutoCorrect  Recommendation = "AUTO_CORRECT"
	RecommendManualReview Recommendation = "MANUAL_REVIEW"
	RecommendNone         Recommendation = "NONE"
)

// AuditOutcome is the last audit verdict stored in the metadata envelope.
type AuditOutcome struct {
	Result         AuditResultCode `json:"result"`
	Lost           []string        `json:"lost,omitempty"`
	Wrong          []string        `json:"wrong,omitempty"`
	Unmapped       []string        `json:"unmapped,omitempty"`
	CaptureRate    float64         `json:"capture_rate"`
	Recommendation Recommendation  `json:"recommendation"`
	Applied        bool            `json:"applied"`
	Auditor        string          `json:"auditor"`
	AuditedAt      time.Time       `json:"audited_at"`
}

// Metadata is the provenance envelope carried by every container.
type Metadata struct {
	SourceBatchID     *uuid.UUID     `json:"source_batch_id,omitempty"`
	SourceRowID       *uuid.UUID     `json:"source_row_id,omitempty"`
	MappingConfidence float64        `json:"mapping_confidence"`
	MappingSource     MappingSource  `json:"mapping_source,omitempty"`
	NeedsReview       bool           `json:"needs_review"`
	ReviewReasons     []string       `json:"review_reasons,omitempty"`
	Audited           bool           `json:"audited"`
	AuditError        string         `json:"audit_error,omitempty"`
	Audit             *AuditOutcome  `json:"audit,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
	UnmappedColumns   map[string]any `json:"unmapped_columns,omitempty"`
}

// Clone returns a deep enough copy for safe mutation of maps and slices.
func (m Metadata) Clone() Metadata {
	out := m
	out.ReviewReasons = append([]string(nil), m.ReviewReasons...)
	if m.Extra != nil {
		out.Extra = copyProperties(m.Extra)
	}
	if m.UnmappedColumns != nil {
		out.UnmappedColumns = copyProperties(m.UnmappedColumns)
	}
	if m.Audit != nil {
		audit := *m.Audit
		out.Audit = &audit
	}
	return out
}

// ExceptionStatus is the state of the exception state machine.
type ExceptionStatus string

const (
	ExceptionNormal   ExceptionStatus = "NORMAL"
	ExceptionFlagged  ExceptionStatus = "FLAGGED"
	ExceptionResolved ExceptionStatus = "RESOLVED"
)

// ExceptionState is the operational anomaly flag of a container.
type ExceptionState struct {
	Status    ExceptionStatus `json:"status"`
	Type      string          `json:"type,omitempty"`
	Owner     string          `json:"owner,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Source    string          `json:"source,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Flagged reports whether an exception is currently raised.
func (e ExceptionState) Flagged() bool {
	return e.Status == ExceptionFlagged
}

// Container is the reconciled canonical record.
type Container struct {
	ID              uuid.UUID      `json:"id"`
	ContainerNumber string         `json:"container_number"`
	Fields          map[string]any `json:"fields"`
	Stage           Stage          `json:"stage"`
	LockedFields    []string       `json:"locked_fields"`
	Metadata        Metadata       `json:"metadata"`
	Exception       ExceptionState `json:"exception"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewContainer creates a container for a normalized identity key.
func NewContainer(number string) Container {
	now := time.Now().UTC()
	return Container{
		ID:              uuid.New(),
		ContainerNumber: number,
		Fields:          map[string]any{FieldContainerNumber: number},
		Stage:           StageUnknown,
		LockedFields:    []string{},
		Exception:       ExceptionState{Status: ExceptionNormal, UpdatedAt: now},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a copy that shares no maps or slices with c.
func (c Container) Clone() Container {
	out := c
	out.Fields = copyProperties(c.Fields)
	out.LockedFields = append([]string{}, c.LockedFields...)
	out.Metadata = c.Metadata.Clone()
	return out
}

// Field returns the value of a canonical field.
func (c Container) Field(name string) any {
	if c.Fields == nil {
		return nil
	}
	return c.Fields[name]
}

// DateField returns a date-typed field, accepting both time values and the
// RFC 3339 strings produced by a JSON round trip.
func (c Container) DateField(name string) (time.Time, bool) {
	switch v := c.Field(name).(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}

// IsLocked reports whether a human has locked the field.
func (c Container) IsLocked(field string) bool {
	for _, locked := range c.LockedFields {
		if locked == field {
			return true
		}
	}
	return false
}

// ApplyFields writes payload onto a copy of the container after removing every
// locked field. It returns the copy and the names of fields that changed.
func (c Container) ApplyFields(payload map[string]any) (Container, []string) {
	out := c.Clone()
	allowed := StripLocked(payload, c.LockedFields)
	var changed []string
	for key, value := range allowed {
		if value == nil {
			continue
		}
		if existing, ok := out.Fields[key]; ok && valuesEqual(existing, value) {
			continue
		}
		out.Fields[key] = value
		changed = append(changed, key)
	}
	sort.Strings(changed)
	if len(changed) > 0 {
		out.UpdatedAt = time.Now().UTC()
	}
	return out, changed
}

// WithLocks returns a copy with fields added to the lock set.
func (c Container) WithLocks(fields ...string) Container {
	out := c.Clone()
	out.LockedFields = mergeLocks(out.LockedFields, fields)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// WithoutLocks returns a copy with fields removed from the lock set.
func (c Container) WithoutLocks(fields ...string) Container {
	out := c.Clone()
	drop := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		drop[f] = struct{}{}
	}
	kept := out.LockedFields[:0]
	for _, f := range out.LockedFields {
		if _, ok := drop[f]; !ok {
			kept = append(kept, f)
		}
	}
	out.LockedFields = kept
	out.UpdatedAt = time.Now().UTC()
	return out
}

// StripLocked returns a copy of payload without any key listed in locked. It is
// the only filter automated writers use before touching a record.
func StripLocked(payload map[string]any, locked []string) map[string]any {
	out := make(map[string]any, len(payload))
	if len(locked) == 0 {
		for k, v := range payload {
			out[k] = v
		}
		return out
	}
	lockSet := make(map[string]struct{}, len(locked))
	for _, f := range locked {
		lockSet[f] = struct{}{}
	}
	for k, v := range payload {
		if _, isLocked := lockSet[k]; isLocked {
			continue
		}
		out[k] = v
	}
	return out
}

// NormalizeContainerNumber keeps ASCII letters and digits and uppercases them.
func NormalizeContainerNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IdentityKey normalizes a raw value into a container identity key. The second
// return is false when the key is shorter than minLength.
func IdentityKey(raw any, minLength int) (string, bool) {
	if minLength <= 0 {
		minLength = DefaultMinIdentityLength
	}
	var text string
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		text = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		text = strings.Trim(string(b), `"`)
	}
	key := NormalizeContainerNumber(text)
	if len(key) < minLength {
		return "", false
	}
	return key, true
}

func mergeLocks(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, f := range append(append([]string{}, existing...), add...) {
		if _, ok := seen[f]; ok || f == "" {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// copyProperties creates a shallow copy of a property map.
func copyProperties(properties map[string]any) map[string]any {
	out := make(map[string]any, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}

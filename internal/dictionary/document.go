// Package dictionary holds the versioned canonical dictionary: header synonyms
// per canonical field, confidence thresholds and the pending review queue.
package dictionary

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

// DefaultConfidenceThreshold applies to fields without their own threshold.
const DefaultConfidenceThreshold = 0.85

// LearnedGroup is the synonym group that receives accepted suggestions when a
// field's synonyms are grouped.
const LearnedGroup = "learned"

// Document is the on-disk form of the dictionary.
type Document struct {
	Version        string                  `yaml:"version"`
	RequiredFields map[string]FieldEntry   `yaml:"required_fields"`
	OptionalFields map[string]FieldEntry   `yaml:"optional_fields"`
	PendingFields  map[string]PendingEntry `yaml:"pending_fields"`
	StageSynonyms  map[string]Synonyms     `yaml:"stage_synonyms,omitempty"`
}

// FieldEntry lists the header spellings accepted for one canonical field.
type FieldEntry struct {
	HeaderSynonyms      Synonyms `yaml:"header_synonyms"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold,omitempty"`
}

// PendingEntry is a suggestion waiting for human review.
type PendingEntry struct {
	SuggestedField string    `yaml:"suggested_field"`
	Confidence     float64   `yaml:"confidence"`
	Samples        []string  `yaml:"samples,omitempty"`
	Occurrences    int       `yaml:"occurrences,omitempty"`
	SuggestedAt    time.Time `yaml:"suggested_at"`
}

// Synonyms is either a flat list of header spellings or a nested grouping of
// lists, e.g. by source system. Both forms round-trip unchanged.
type Synonyms struct {
	Items  []string
	Groups map[string]Synonyms
}

// NewSynonyms builds a flat synonym list.
func NewSynonyms(items ...string) Synonyms {
	return Synonyms{Items: append([]string(nil), items...)}
}

// UnmarshalYAML accepts a sequence, a mapping of nested synonyms or a scalar.
func (s *Synonyms) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := synonymsFrom(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func synonymsFrom(raw any) (Synonyms, error) {
	switch v := raw.(type) {
	case nil:
		return Synonyms{}, nil
	case string:
		return Synonyms{Items: []string{v}}, nil
	case []any:
		out := Synonyms{Items: make([]string, 0, len(v))}
		for _, item := range v {
			text, ok := item.(string)
			if !ok {
				text = fmt.Sprint(item)
			}
			out.Items = append(out.Items, text)
		}
		return out, nil
	case map[string]any:
		out := Synonyms{Groups: make(map[string]Synonyms, len(v))}
		for name, child := range v {
			group, err := synonymsFrom(child)
			if err != nil {
				return Synonyms{}, fmt.Errorf("group %q: %w", name, err)
			}
			out.Groups[name] = group
		}
		return out, nil
	default:
		return Synonyms{}, fmt.Errorf("header_synonyms must be a list or a grouping, got %T", raw)
	}
}

// MarshalYAML writes the list form when there are no groups.
func (s Synonyms) MarshalYAML() (any, error) {
	if len(s.Groups) == 0 {
		if s.Items == nil {
			return []string{}, nil
		}
		return s.Items, nil
	}
	out := make(map[string]any, len(s.Groups)+1)
	for name, group := range s.Groups {
		v, err := group.MarshalYAML()
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	if len(s.Items) > 0 {
		out[LearnedGroup] = s.Items
	}
	return out, nil
}

// All returns every spelling, flattened across groups, sorted.
func (s Synonyms) All() []string {
	var out []string
	out = append(out, s.Items...)
	for _, group := range s.Groups {
		out = append(out, group.All()...)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether a spelling with the same normalized form exists.
func (s Synonyms) Contains(header string) bool {
	key := NormalizeHeader(header)
	for _, existing := range s.All() {
		if NormalizeHeader(existing) == key {
			return true
		}
	}
	return false
}

// With returns a copy with header added. Grouped synonyms receive new spellings
// in the learned group.
func (s Synonyms) With(header string) Synonyms {
	out := s.clone()
	if out.Contains(header) {
		return out
	}
	if len(out.Groups) == 0 {
		out.Items = append(out.Items, header)
		return out
	}
	learned := out.Groups[LearnedGroup]
	learned.Items = append(learned.Items, header)
	out.Groups[LearnedGroup] = learned
	return out
}

func (s Synonyms) clone() Synonyms {
	out := Synonyms{Items: append([]string(nil), s.Items...)}
	if s.Groups != nil {
		out.Groups = make(map[string]Synonyms, len(s.Groups))
		for name, group := range s.Groups {
			out.Groups[name] = group.clone()
		}
	}
	return out
}

// Threshold returns the entry's confidence threshold or the default.
func (e FieldEntry) Threshold() float64 {
	if e.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *e.ConfidenceThreshold
}

func (e FieldEntry) clone() FieldEntry {
	out := FieldEntry{HeaderSynonyms: e.HeaderSynonyms.clone()}
	if e.ConfidenceThreshold != nil {
		t := *e.ConfidenceThreshold
		out.ConfidenceThreshold = &t
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := Document{
		Version:        d.Version,
		RequiredFields: make(map[string]FieldEntry, len(d.RequiredFields)),
		OptionalFields: make(map[string]FieldEntry, len(d.OptionalFields)),
		PendingFields:  make(map[string]PendingEntry, len(d.PendingFields)),
	}
	for k, v := range d.RequiredFields {
		out.RequiredFields[k] = v.clone()
	}
	for k, v := range d.OptionalFields {
		out.OptionalFields[k] = v.clone()
	}
	for k, v := range d.PendingFields {
		v.Samples = append([]string(nil), v.Samples...)
		out.PendingFields[k] = v
	}
	if d.StageSynonyms != nil {
		out.StageSynonyms = make(map[string]Synonyms, len(d.StageSynonyms))
		for k, v := range d.StageSynonyms {
			out.StageSynonyms[k] = v.clone()
		}
	}
	return out
}

// Entry returns the entry of a canonical field and whether it is required.
func (d Document) Entry(field string) (FieldEntry, bool, bool) {
	if e, ok := d.RequiredFields[field]; ok {
		return e, true, true
	}
	if e, ok := d.OptionalFields[field]; ok {
		return e, false, true
	}
	return FieldEntry{}, false, false
}

// Validate checks version syntax, field names, thresholds and stage codes.
func (d Document) Validate() error {
	if _, err := ParseVersion(d.Version); err != nil {
		return err
	}
	if _, ok := d.RequiredFields[domain.FieldContainerNumber]; !ok {
		return apperrors.NewValidationError("required_fields", nil, "container_number must be a required field")
	}
	for _, section := range []map[string]FieldEntry{d.RequiredFields, d.OptionalFields} {
		for name, entry := range section {
			if !domain.IsCanonicalField(name) {
				return apperrors.NewValidationError(name, nil, "not a canonical field")
			}
			if t := entry.Threshold(); t <= 0 || t > 1 {
				return apperrors.NewValidationError(name, t, "confidence_threshold must be in (0, 1]")
			}
		}
	}
	for name := range d.RequiredFields {
		if _, dup := d.OptionalFields[name]; dup {
			return apperrors.NewValidationError(name, nil, "field listed as both required and optional")
		}
	}
	for stage := range d.StageSynonyms {
		if _, ok := domain.ParseStage(stage); !ok {
			return apperrors.NewValidationError("stage_synonyms", stage, "unknown stage code")
		}
	}
	return nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode dictionary: %w", err)
	}
	if doc.RequiredFields == nil {
		doc.RequiredFields = map[string]FieldEntry{}
	}
	if doc.OptionalFields == nil {
		doc.OptionalFields = map[string]FieldEntry{}
	}
	if doc.PendingFields == nil {
		doc.PendingFields = map[string]PendingEntry{}
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Marshal encodes the document as YAML.
func (d Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dictionary: %w", err)
	}
	return data, nil
}

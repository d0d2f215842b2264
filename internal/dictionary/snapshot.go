package dictionary

import (
	"bytes"
	"sort"

	"github.com/rpattn/shiprecon/internal/domain"
)

// Snapshot is an immutable, indexed view of one dictionary version. Every
// mapping stage receives a snapshot and never sees later mutations.
type Snapshot struct {
	doc        Document
	index      map[string]string
	stageIndex map[string]domain.Stage
}

// NewSnapshot validates doc and builds a snapshot over a private copy of it.
func NewSnapshot(doc Document) (*Snapshot, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return buildSnapshot(doc.Clone()), nil
}

func buildSnapshot(doc Document) *Snapshot {
	s := &Snapshot{
		doc:        doc,
		index:      make(map[string]string),
		stageIndex: make(map[string]domain.Stage),
	}

	// Canonical names first so a synonym can never shadow another field's name.
	for _, spec := range domain.CanonicalSchema() {
		s.index[NormalizeHeader(spec.Name)] = spec.Name
	}
	for _, section := range []map[string]FieldEntry{doc.RequiredFields, doc.OptionalFields} {
		fields := make([]string, 0, len(section))
		for name := range section {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		for _, field := range fields {
			for _, synonym := range section[field].HeaderSynonyms.All() {
				key := NormalizeHeader(synonym)
				if _, taken := s.index[key]; !taken && key != "" {
					s.index[key] = field
				}
			}
		}
	}

	for code, synonyms := range doc.StageSynonyms {
		stage, ok := domain.ParseStage(code)
		if !ok {
			continue
		}
		for _, synonym := range synonyms.All() {
			s.stageIndex[NormalizeHeader(synonym)] = stage
		}
	}
	return s
}

// Version returns the document version.
func (s *Snapshot) Version() string {
	return s.doc.Version
}

// Document returns a deep copy of the underlying document.
func (s *Snapshot) Document() Document {
	return s.doc.Clone()
}

// Lookup resolves a source header to a canonical field by exact normalized match.
func (s *Snapshot) Lookup(header string) (string, bool) {
	field, ok := s.index[NormalizeHeader(header)]
	return field, ok
}

// LookupStage resolves a status text listed under stage_synonyms.
func (s *Snapshot) LookupStage(text string) (domain.Stage, bool) {
	stage, ok := s.stageIndex[NormalizeHeader(text)]
	return stage, ok
}

// Threshold returns the acceptance threshold for a canonical field.
func (s *Snapshot) Threshold(field string) float64 {
	if entry, _, ok := s.doc.Entry(field); ok {
		return entry.Threshold()
	}
	return DefaultConfidenceThreshold
}

// RequiredFields returns the required canonical fields, sorted.
func (s *Snapshot) RequiredFields() []string {
	return sortedKeys(s.doc.RequiredFields)
}

// OptionalFields returns the optional canonical fields, sorted.
func (s *Snapshot) OptionalFields() []string {
	return sortedKeys(s.doc.OptionalFields)
}

// Pending returns a copy of the review queue.
func (s *Snapshot) Pending() map[string]PendingEntry {
	return s.doc.Clone().PendingFields
}

// Equal reports whether two snapshots hold the same document.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	a, errA := s.doc.Marshal()
	b, errB := other.doc.Marshal()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// SameContent reports whether both snapshots hold the same document apart
// from the version string.
func (s *Snapshot) SameContent(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	a, b := s.doc.Clone(), other.doc.Clone()
	a.Version, b.Version = "", ""
	ja, errA := a.Marshal()
	jb, errB := b.Marshal()
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// SynonymCount returns the number of header spellings across all fields.
func (s *Snapshot) SynonymCount() int {
	n := 0
	for _, section := range []map[string]FieldEntry{s.doc.RequiredFields, s.doc.OptionalFields} {
		for _, entry := range section {
			n += len(entry.HeaderSynonyms.All())
		}
	}
	return n
}

func sortedKeys(m map[string]FieldEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package dictionary

import (
	"sort"
	"time"

	"github.com/rpattn/shiprecon/internal/domain"
)

// DefaultPendingFloor is the lowest confidence kept for human review.
const DefaultPendingFloor = 0.5

// maxPendingSamples bounds the sample values kept per pending entry.
const maxPendingSamples = 5

// Suggestion proposes a canonical field for an unmapped header.
type Suggestion struct {
	Header      string   `json:"header"`
	Field       string   `json:"field"`
	Confidence  float64  `json:"confidence"`
	Samples     []string `json:"samples,omitempty"`
	Occurrences int      `json:"occurrences,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// ApplyReport partitions suggestions by outcome.
type ApplyReport struct {
	Accepted  []Suggestion `json:"accepted"`
	Pending   []Suggestion `json:"pending"`
	Discarded []Suggestion `json:"discarded"`
}

// Changed reports whether the document was modified.
func (r ApplyReport) Changed() bool {
	return len(r.Accepted) > 0 || len(r.Pending) > 0
}

// ApplySuggestions writes suggestions into doc: at or above the field threshold
// the header becomes a synonym, at or above floor it joins the review queue,
// and anything lower or naming a non-canonical field is discarded.
func ApplySuggestions(doc *Document, suggestions []Suggestion, floor float64, now time.Time) ApplyReport {
	if floor <= 0 {
		floor = DefaultPendingFloor
	}
	if doc.PendingFields == nil {
		doc.PendingFields = map[string]PendingEntry{}
	}
	if doc.OptionalFields == nil {
		doc.OptionalFields = map[string]FieldEntry{}
	}

	ordered := append([]Suggestion(nil), suggestions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		return ordered[i].Header < ordered[j].Header
	})

	var report ApplyReport
	for _, sg := range ordered {
		if sg.Header == "" || !domain.IsCanonicalField(sg.Field) || alreadyMapped(doc, sg.Header) {
			report.Discarded = append(report.Discarded, sg)
			continue
		}

		entry, required, _ := doc.Entry(sg.Field)
		switch {
		case sg.Confidence >= entry.Threshold():
			entry.HeaderSynonyms = entry.HeaderSynonyms.With(sg.Header)
			if required {
				doc.RequiredFields[sg.Field] = entry
			} else {
				doc.OptionalFields[sg.Field] = entry
			}
			delete(doc.PendingFields, sg.Header)
			report.Accepted = append(report.Accepted, sg)
		case sg.Confidence >= floor:
			if prior, ok := doc.PendingFields[sg.Header]; ok && prior.Confidence > sg.Confidence && prior.SuggestedField == sg.Field {
				report.Discarded = append(report.Discarded, sg)
				continue
			}
			doc.PendingFields[sg.Header] = PendingEntry{
				SuggestedField: sg.Field,
				Confidence:     sg.Confidence,
				Samples:        truncateSamples(sg.Samples),
				Occurrences:    sg.Occurrences,
				SuggestedAt:    now.UTC(),
			}
			report.Pending = append(report.Pending, sg)
		default:
			report.Discarded = append(report.Discarded, sg)
		}
	}
	return report
}

func alreadyMapped(doc *Document, header string) bool {
	key := NormalizeHeader(header)
	for _, spec := range domain.CanonicalSchema() {
		if NormalizeHeader(spec.Name) == key {
			return true
		}
	}
	for _, section := range []map[string]FieldEntry{doc.RequiredFields, doc.OptionalFields} {
		for _, entry := range section {
			if entry.HeaderSynonyms.Contains(header) {
				return true
			}
		}
	}
	return false
}

func truncateSamples(samples []string) []string {
	if len(samples) > maxPendingSamples {
		samples = samples[:maxPendingSamples]
	}
	return append([]string(nil), samples...)
}

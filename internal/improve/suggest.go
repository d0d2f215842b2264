package improve

import (
	"context"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/mapping"
	"github.com/rpattn/shiprecon/internal/oracle"
)

// heuristicSuggestionConfidence puts keyword guesses in the review queue
// without ever promoting them to synonyms.
const heuristicSuggestionConfidence = 0.6

// Suggester proposes a canonical field for an unmapped header. The boolean
// is false when there is no proposal.
type Suggester interface {
	Suggest(ctx context.Context, header UnmappedHeader) (dictionary.Suggestion, bool, error)
}

// OracleSuggester asks the classification oracle.
type OracleSuggester struct {
	Oracle oracle.Oracle
}

// Suggest implements Suggester.
func (s OracleSuggester) Suggest(ctx context.Context, h UnmappedHeader) (dictionary.Suggestion, bool, error) {
	answer, err := s.Oracle.SuggestField(ctx, oracle.SuggestRequest{
		Header:          h.Header,
		Samples:         h.Samples,
		CanonicalFields: mapping.CanonicalFieldNames(),
	})
	if err != nil {
		return dictionary.Suggestion{}, false, err
	}
	if answer.Field == "" {
		return dictionary.Suggestion{}, false, nil
	}
	return dictionary.Suggestion{
		Header:      h.Header,
		Field:       answer.Field,
		Confidence:  answer.Confidence,
		Samples:     h.Samples,
		Occurrences: h.Occurrences,
		Source:      "oracle",
	}, true, nil
}

// HeuristicSuggester matches header keywords.
type HeuristicSuggester struct{}

// Suggest implements Suggester.
func (HeuristicSuggester) Suggest(_ context.Context, h UnmappedHeader) (dictionary.Suggestion, bool, error) {
	field, ok := mapping.GuessField(h.Header)
	if !ok {
		return dictionary.Suggestion{}, false, nil
	}
	return dictionary.Suggestion{
		Header:      h.Header,
		Field:       field,
		Confidence:  heuristicSuggestionConfidence,
		Samples:     h.Samples,
		Occurrences: h.Occurrences,
		Source:      "heuristic",
	}, true, nil
}

// NewSuggester picks the oracle when one is configured.
func NewSuggester(o oracle.Oracle) Suggester {
	if o == nil {
		return HeuristicSuggester{}
	}
	return OracleSuggester{Oracle: o}
}

// Package improve runs the benchmark corpus through the pipeline, scores the
// result and grows the canonical dictionary from unmapped headers.
package improve

import (
	"sort"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/reconcile"
)

// Score weights. They are fixed.
const (
	WeightCoverage     = 0.5
	WeightRequiredFill = 0.3
	WeightOptionalFill = 0.1
	WeightConfidence   = 0.1
)

// Metrics summarizes one evaluation of the corpus.
type Metrics struct {
	Rows           int     `json:"rows"`
	ValidRecords   int     `json:"valid_records"`
	Coverage       float64 `json:"coverage"`
	RequiredFill   float64 `json:"required_fill"`
	OptionalFill   float64 `json:"optional_fill"`
	MeanConfidence float64 `json:"mean_confidence"`
	Score          float64 `json:"score"`
}

// Score combines the component metrics with the fixed weights.
func Score(coverage, requiredFill, optionalFill, confidence float64) float64 {
	return WeightCoverage*coverage +
		WeightRequiredFill*requiredFill +
		WeightOptionalFill*optionalFill +
		WeightConfidence*confidence
}

// UnmappedHeader aggregates one unmapped header across the corpus.
type UnmappedHeader struct {
	Header      string   `json:"header"`
	Occurrences int      `json:"occurrences"`
	Samples     []string `json:"samples"`
}

// SourceResult is the pipeline outcome for one benchmark source.
type SourceResult struct {
	Name    string
	Result  reconcile.Result
	Records []domain.Container
}

// computeMetrics aggregates source results. Coverage is the share of rows
// that produced a record; fill rates are averaged over records.
func computeMetrics(results []SourceResult, required, optional []string) Metrics {
	var m Metrics
	var reqFilled, reqTotal, optFilled, optTotal int
	var confSum float64
	var confN int

	for _, sr := range results {
		m.Rows += sr.Result.Summary.TotalRows
		m.ValidRecords += sr.Result.Summary.Succeeded
		if sr.Result.Summary.TotalRows > 0 {
			confSum += sr.Result.Report.Confidence
			confN++
		}
		for _, record := range sr.Records {
			for _, f := range required {
				reqTotal++
				if filled(record.Field(f)) {
					reqFilled++
				}
			}
			for _, f := range optional {
				optTotal++
				if filled(record.Field(f)) {
					optFilled++
				}
			}
		}
	}
	m.Coverage = ratio(m.ValidRecords, m.Rows)
	m.RequiredFill = ratio(reqFilled, reqTotal)
	m.OptionalFill = ratio(optFilled, optTotal)
	if confN > 0 {
		m.MeanConfidence = confSum / float64(confN)
	}
	m.Score = Score(m.Coverage, m.RequiredFill, m.OptionalFill, m.MeanConfidence)
	return m
}

// aggregateUnmapped merges unmapped header statistics across sources, most
// frequent first.
func aggregateUnmapped(results []SourceResult) []UnmappedHeader {
	byHeader := make(map[string]*UnmappedHeader)
	for _, sr := range results {
		for header, stats := range sr.Result.Report.Unmapped {
			agg, ok := byHeader[header]
			if !ok {
				agg = &UnmappedHeader{Header: header}
				byHeader[header] = agg
			}
			agg.Occurrences += stats.Count
			for _, s := range stats.Samples {
				if len(agg.Samples) < 5 && !containsString(agg.Samples, s) {
					agg.Samples = append(agg.Samples, s)
				}
			}
		}
	}
	out := make([]UnmappedHeader, 0, len(byHeader))
	for _, agg := range byHeader {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Header < out[j].Header
	})
	return out
}

func filled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

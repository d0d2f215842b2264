// Package mapping resolves source headers to canonical fields and free-text
// statuses to stage codes. Each decision has a deterministic strategy; the
// oracle is consulted only where one is configured.
package mapping

import (
	"context"
	"sort"
	"strings"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
)

// HeuristicConfidence is the confidence assigned to keyword-matched headers.
const HeuristicConfidence = 0.35

// MaxSampleRows bounds the rows sent along with a header mapping request.
const MaxSampleRows = 3

// Result is the header mapping of one batch.
type Result struct {
	Mapping    map[string]string               `json:"mapping"`
	Sources    map[string]domain.MappingSource `json:"sources"`
	Scores     map[string]float64              `json:"scores"`
	Confidence float64                         `json:"confidence"`
	Source     domain.MappingSource            `json:"source"`
	Unmapped   []string                        `json:"unmapped"`
	Insights   map[string]string               `json:"insights,omitempty"`
	Version    string                          `json:"dictionary_version"`
}

func newResult() Result {
	return Result{
		Mapping: make(map[string]string),
		Sources: make(map[string]domain.MappingSource),
		Scores:  make(map[string]float64),
	}
}

func (r *Result) add(header, field string, source domain.MappingSource, score float64) {
	r.Mapping[header] = field
	r.Sources[header] = source
	r.Scores[header] = score
}

// finish computes the aggregate confidence, source and unmapped list.
func (r *Result) finish(headers []string) {
	r.Unmapped = r.Unmapped[:0]
	for _, h := range headers {
		if _, ok := r.Mapping[h]; !ok {
			r.Unmapped = append(r.Unmapped, h)
		}
	}

	if len(r.Mapping) == 0 {
		r.Confidence = 0
		r.Source = domain.MappingSourceHeuristic
		return
	}
	total := 0.0
	seen := map[domain.MappingSource]struct{}{}
	for header, score := range r.Scores {
		total += score
		seen[r.Sources[header]] = struct{}{}
	}
	r.Confidence = total / float64(len(r.Scores))
	if len(seen) == 1 {
		for s := range seen {
			r.Source = s
		}
	} else {
		r.Source = domain.MappingSourceMixed
	}
}

// HeaderMapper maps a set of headers to canonical fields. Headers it cannot
// place are left out of the result.
type HeaderMapper interface {
	MapHeaders(ctx context.Context, snap *dictionary.Snapshot, headers []string, samples []map[string]any) (Result, error)
}

// DictionaryMapper resolves headers by exact normalized match against the
// dictionary snapshot.
type DictionaryMapper struct{}

// MapHeaders implements HeaderMapper.
func (DictionaryMapper) MapHeaders(_ context.Context, snap *dictionary.Snapshot, headers []string, _ []map[string]any) (Result, error) {
	res := newResult()
	for _, header := range headers {
		if field, ok := snap.Lookup(header); ok {
			res.add(header, field, domain.MappingSourceDictionary, 1.0)
		}
	}
	res.finish(headers)
	return res, nil
}

type keywordRule struct {
	field    string
	keywords [][]string
}

// Order matters: the first matching rule wins, so specific phrases precede
// generic ones ("port of discharge" before "discharge").
var keywordRules = []keywordRule{
	{domain.FieldFinalDestination, [][]string{{"place", "delivery"}}},
	{domain.FieldContainerType, [][]string{{"container", "type"}, {"cntr", "type"}, {"size"}, {"equipment", "type"}}},
	{domain.FieldEmptyReturnDate, [][]string{{"empty", "return"}, {"mty"}}},
	{domain.FieldGateOutDate, [][]string{{"gate", "out"}, {"gated", "out"}, {"pickup"}}},
	{domain.FieldDeliveryDate, [][]string{{"deliver"}, {"pod", "date"}}},
	{domain.FieldLastFreeDay, [][]string{{"free"}, {"lfd"}}},
	{domain.FieldPortOfDischarge, [][]string{{"port", "disch"}, {"pod"}, {"destination", "port"}}},
	{domain.FieldPortOfLoading, [][]string{{"port", "load"}, {"pol"}, {"origin"}}},
	{domain.FieldDischargeDate, [][]string{{"discharg"}, {"unload"}}},
	{domain.FieldFinalDestination, [][]string{{"final"}, {"destination"}}},
	{domain.FieldETD, [][]string{{"etd"}, {"estimated", "depart"}}},
	{domain.FieldATD, [][]string{{"atd"}, {"actual", "depart"}, {"sailed"}}},
	{domain.FieldETA, [][]string{{"eta"}, {"estimated", "arriv"}}},
	{domain.FieldATA, [][]string{{"ata"}, {"actual", "arriv"}}},
	{domain.FieldBLNumber, [][]string{{"bl"}, {"bol"}, {"mbl"}, {"hbl"}, {"bill", "lading"}}},
	{domain.FieldBookingNumber, [][]string{{"booking"}, {"bkg"}}},
	{domain.FieldPONumber, [][]string{{"po"}, {"purchase", "order"}, {"order"}}},
	{domain.FieldContainerNumber, [][]string{{"container"}, {"cntr"}, {"ctnr"}, {"equipment"}, {"unit"}}},
	{domain.FieldVessel, [][]string{{"vessel"}, {"ship"}, {"feeder"}}},
	{domain.FieldVoyage, [][]string{{"voyage"}, {"voy"}}},
	{domain.FieldCarrier, [][]string{{"carrier"}, {"line"}, {"scac"}}},
	{domain.FieldStatus, [][]string{{"status"}, {"milestone"}, {"event"}}},
	{domain.FieldGrossWeight, [][]string{{"weight"}, {"kg"}, {"kgs"}}},
	{domain.FieldVolumeCBM, [][]string{{"cbm"}, {"volume"}}},
	{domain.FieldFreightCost, [][]string{{"freight"}, {"cost"}, {"amount"}}},
	{domain.FieldShipper, [][]string{{"shipper"}, {"supplier"}, {"vendor"}}},
	{domain.FieldConsignee, [][]string{{"consignee"}, {"receiver"}}},
	{domain.FieldBusinessUnit, [][]string{{"business"}, {"division"}, {"bu"}}},
}

// HeuristicMapper maps headers by keyword. Each canonical field is assigned at
// most once, to the first header that matches it.
type HeuristicMapper struct{}

// MapHeaders implements HeaderMapper.
func (HeuristicMapper) MapHeaders(_ context.Context, _ *dictionary.Snapshot, headers []string, _ []map[string]any) (Result, error) {
	res := newResult()
	taken := make(map[string]struct{})
	for _, header := range headers {
		field, ok := GuessField(header)
		if !ok {
			continue
		}
		if _, dup := taken[field]; dup {
			continue
		}
		taken[field] = struct{}{}
		res.add(header, field, domain.MappingSourceHeuristic, HeuristicConfidence)
	}
	res.finish(headers)
	return res, nil
}

// GuessField returns the canonical field a header most likely carries.
func GuessField(header string) (string, bool) {
	normalized := dictionary.NormalizeHeader(header)
	if normalized == "" {
		return "", false
	}
	tokens := strings.Fields(normalized)
	for _, rule := range keywordRules {
		for _, all := range rule.keywords {
			if matchesAll(normalized, tokens, all) {
				return rule.field, true
			}
		}
	}
	return "", false
}

// matchesAll requires every keyword to appear. Short keywords must equal a
// whole token so "eta" does not match "metadata".
func matchesAll(normalized string, tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		if !matchesKeyword(normalized, tokens, kw) {
			return false
		}
	}
	return true
}

func matchesKeyword(normalized string, tokens []string, kw string) bool {
	if len(kw) >= 5 {
		return strings.Contains(normalized, kw)
	}
	for _, tok := range tokens {
		if tok == kw {
			return true
		}
	}
	return false
}

// CanonicalFieldNames lists the canonical schema in a stable order.
func CanonicalFieldNames() []string {
	specs := domain.CanonicalSchema()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}

package mapping

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
)

// OracleMapper asks the oracle for the headers the dictionary could not place.
// Answers naming a non-canonical field or an unknown header are ignored.
type OracleMapper struct {
	Oracle oracle.Oracle
}

// MapHeaders implements HeaderMapper. An empty answer is an error so the caller
// can fall back.
func (m OracleMapper) MapHeaders(ctx context.Context, _ *dictionary.Snapshot, headers []string, samples []map[string]any) (Result, error) {
	if len(samples) > MaxSampleRows {
		samples = samples[:MaxSampleRows]
	}
	answer, err := m.Oracle.MapHeaders(ctx, oracle.HeaderRequest{
		Headers:         headers,
		SampleRows:      samples,
		CanonicalFields: CanonicalFieldNames(),
	})
	if err != nil {
		return Result{}, err
	}

	known := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		known[h] = struct{}{}
	}
	score := clamp01(answer.Confidence)
	res := newResult()
	for header, field := range answer.Mapping {
		if _, ok := known[header]; !ok || !domain.IsCanonicalField(field) {
			continue
		}
		res.add(header, field, domain.MappingSourceOracle, score)
	}
	if len(res.Mapping) == 0 {
		return Result{}, apperrors.NewOracleError(oracle.OpMapHeaders, 1, errEmptyMapping)
	}
	res.Insights = answer.UnmappedFieldInsights
	res.finish(headers)
	return res, nil
}

var errEmptyMapping = errors.New("oracle returned no usable mapping")

// Resolver composes the strategies: dictionary first, then the oracle for the
// remainder, then keywords when the oracle is absent or fails. Results are
// cached per dictionary version and header signature for the resolver's
// lifetime.
type Resolver struct {
	dictionary HeaderMapper
	oracle     HeaderMapper
	heuristic  HeaderMapper

	mu    sync.Mutex
	cache map[string]Result
}

// NewResolver builds a resolver. A nil oracle selects the heuristic-only chain.
func NewResolver(o oracle.Oracle) *Resolver {
	r := &Resolver{
		dictionary: DictionaryMapper{},
		heuristic:  HeuristicMapper{},
		cache:      make(map[string]Result),
	}
	if o != nil {
		r.oracle = OracleMapper{Oracle: o}
	}
	return r
}

// Resolve maps headers using samples for oracle context.
func (r *Resolver) Resolve(ctx context.Context, snap *dictionary.Snapshot, headers []string, samples []map[string]any) (Result, error) {
	key := snap.Version() + "\x00" + strings.Join(headers, "\x1f")
	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached.clone(), nil
	}
	r.mu.Unlock()

	res, err := r.resolve(ctx, snap, headers, samples)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	r.cache[key] = res
	r.mu.Unlock()
	return res.clone(), nil
}

func (r *Resolver) resolve(ctx context.Context, snap *dictionary.Snapshot, headers []string, samples []map[string]any) (Result, error) {
	logger := logging.FromContext(ctx)

	res, err := r.dictionary.MapHeaders(ctx, snap, headers, samples)
	if err != nil {
		return Result{}, err
	}
	res.Version = snap.Version()
	if len(res.Unmapped) == 0 {
		return res, nil
	}

	remaining := append([]string(nil), res.Unmapped...)
	var extra Result
	usedOracle := false
	if r.oracle != nil {
		extra, err = r.oracle.MapHeaders(ctx, snap, headers, samples)
		if err == nil {
			usedOracle = true
		} else {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			logger.Warn().Err(err).Int("headers", len(remaining)).Msg("Oracle header mapping failed, using keyword heuristic")
		}
	}
	if !usedOracle {
		extra, err = r.heuristic.MapHeaders(ctx, snap, remaining, samples)
		if err != nil {
			return Result{}, err
		}
	}

	taken := make(map[string]struct{}, len(res.Mapping))
	for _, field := range res.Mapping {
		taken[field] = struct{}{}
	}
	for _, header := range remaining {
		field, ok := extra.Mapping[header]
		if !ok {
			continue
		}
		// A dictionary match owns its field; oracle and keyword guesses
		// never compete with it.
		if _, dup := taken[field]; dup {
			continue
		}
		res.add(header, field, extra.Sources[header], extra.Scores[header])
	}
	if len(extra.Insights) > 0 {
		res.Insights = extra.Insights
	}
	res.finish(headers)

	logger.Debug().
		Str("dictionary_version", res.Version).
		Int("mapped", len(res.Mapping)).
		Int("unmapped", len(res.Unmapped)).
		Float64("confidence", res.Confidence).
		Str("source", string(res.Source)).
		Msg("Headers resolved")
	return res, nil
}

func (r Result) clone() Result {
	out := newResult()
	for k, v := range r.Mapping {
		out.Mapping[k] = v
	}
	for k, v := range r.Sources {
		out.Sources[k] = v
	}
	for k, v := range r.Scores {
		out.Scores[k] = v
	}
	out.Confidence = r.Confidence
	out.Source = r.Source
	out.Version = r.Version
	out.Unmapped = append([]string(nil), r.Unmapped...)
	if r.Insights != nil {
		out.Insights = make(map[string]string, len(r.Insights))
		for k, v := range r.Insights {
			out.Insights[k] = v
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

package mapping

import (
	"context"
	"strings"
	"sync"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
)

type stageRule struct {
	stage    domain.Stage
	keywords [][]string
}

var stageRules = []stageRule{
	{domain.StageEmptyReturned, [][]string{{"empty", "return"}, {"mty", "return"}, {"empty", "in"}}},
	{domain.StageDelivered, [][]string{{"deliver"}, {"pod"}}},
	{domain.StageGatedOut, [][]string{{"gate", "out"}, {"gated", "out"}, {"picked", "up"}, {"pickup"}}},
	{domain.StageCustomsReleased, [][]string{{"customs", "release"}, {"cleared"}, {"release"}}},
	{domain.StageCustomsHold, [][]string{{"hold"}, {"customs"}, {"inspection"}}},
	{domain.StageDischarged, [][]string{{"discharg"}, {"unload"}}},
	{domain.StageArrived, [][]string{{"arriv"}, {"berth"}}},
	{domain.StageInTransit, [][]string{{"transit"}, {"transship"}, {"sailing"}, {"on", "water"}}},
	{domain.StageDeparted, [][]string{{"depart"}, {"sailed"}}},
	{domain.StageLoaded, [][]string{{"load"}, {"on", "board"}}},
	{domain.StageGatedIn, [][]string{{"gate", "in"}, {"gated", "in"}, {"received"}}},
	{domain.StageBooked, [][]string{{"book"}, {"confirmed"}}},
}

// GuessStage is the keyword heuristic for free-text statuses.
func GuessStage(text string) domain.Stage {
	normalized := dictionary.NormalizeHeader(text)
	if normalized == "" {
		return domain.StageUnknown
	}
	if stage, ok := domain.ParseStage(normalized); ok {
		return stage
	}
	tokens := strings.Fields(normalized)
	for _, rule := range stageRules {
		for _, all := range rule.keywords {
			if matchesStageKeywords(normalized, tokens, all) {
				return rule.stage
			}
		}
	}
	return domain.StageUnknown
}

// "load" must not match inside "unload", so stage keywords shorter than five
// characters are matched as whole tokens or token prefixes.
func matchesStageKeywords(normalized string, tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		if len(kw) >= 5 {
			if !strings.Contains(normalized, kw) {
				return false
			}
			continue
		}
		found := false
		for _, tok := range tokens {
			if strings.HasPrefix(tok, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StatusNormalizer turns free-text statuses into stage codes. Answers are
// cached for the normalizer's lifetime.
type StatusNormalizer struct {
	oracle oracle.Oracle

	mu    sync.Mutex
	cache map[string]domain.Stage
}

// NewStatusNormalizer creates a normalizer. A nil oracle keeps it deterministic.
func NewStatusNormalizer(o oracle.Oracle) *StatusNormalizer {
	return &StatusNormalizer{oracle: o, cache: make(map[string]domain.Stage)}
}

// Normalize resolves text to a stage. A dictionary stage synonym is final.
// Otherwise the keyword heuristic runs and, when an oracle is configured, its
// answer replaces the heuristic guess. Oracle errors and answers outside the
// vocabulary keep the heuristic result.
func (n *StatusNormalizer) Normalize(ctx context.Context, snap *dictionary.Snapshot, text string) domain.Stage {
	cacheKey, ok := n.cacheKey(snap, text)
	if !ok {
		return domain.StageUnknown
	}
	if stage, ok := n.cached(cacheKey); ok {
		return stage
	}

	stage, ok := snap.LookupStage(text)
	if !ok {
		stage = GuessStage(text)
		if n.oracle != nil {
			if answer, valid := n.ask(ctx, text); valid {
				stage = answer
			}
		}
	}

	n.mu.Lock()
	n.cache[cacheKey] = stage
	n.mu.Unlock()
	return stage
}

// NormalizeLocal resolves text from the cache, the dictionary and the keyword
// heuristic only. It never blocks on the oracle and does not populate the
// cache.
func (n *StatusNormalizer) NormalizeLocal(snap *dictionary.Snapshot, text string) domain.Stage {
	cacheKey, ok := n.cacheKey(snap, text)
	if !ok {
		return domain.StageUnknown
	}
	if stage, ok := n.cached(cacheKey); ok {
		return stage
	}
	if stage, ok := snap.LookupStage(text); ok {
		return stage
	}
	return GuessStage(text)
}

func (n *StatusNormalizer) cacheKey(snap *dictionary.Snapshot, text string) (string, bool) {
	key := dictionary.NormalizeHeader(text)
	if key == "" {
		return "", false
	}
	return snap.Version() + "\x00" + key, true
}

func (n *StatusNormalizer) cached(key string) (domain.Stage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	stage, ok := n.cache[key]
	return stage, ok
}

func (n *StatusNormalizer) ask(ctx context.Context, text string) (domain.Stage, bool) {
	stages := domain.Stages()
	codes := make([]string, 0, len(stages))
	for _, s := range stages {
		codes = append(codes, string(s))
	}

	answer, err := n.oracle.ClassifyStatus(ctx, oracle.StatusRequest{Text: text, Stages: codes})
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("status", text).Msg("Oracle status classification failed")
		return domain.StageUnknown, false
	}
	stage, ok := domain.ParseStage(answer.StageCode)
	if !ok {
		logging.FromContext(ctx).Debug().
			Str("status", text).
			Str("answer", answer.StageCode).
			Msg("Discarding stage code outside the vocabulary")
		return domain.StageUnknown, false
	}
	return stage, true
}

// DeriveStage applies date evidence over the text-derived stage. Date fields
// outrank free text: an empty-return date means EMPTY_RETURNED, a delivery
// date means DELIVERED, and a gate-out date means GATED_OUT unless the text
// already implies a later stage.
func DeriveStage(fields map[string]any, textStage domain.Stage) domain.Stage {
	switch {
	case present(fields[domain.FieldEmptyReturnDate]):
		return domain.StageEmptyReturned
	case present(fields[domain.FieldDeliveryDate]):
		return domain.StageDelivered
	case present(fields[domain.FieldGateOutDate]):
		if textStage.After(domain.StageGatedOut) {
			return textStage
		}
		return domain.StageGatedOut
	}
	return textStage
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

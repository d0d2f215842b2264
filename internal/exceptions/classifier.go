// Package exceptions flags operational anomalies on container records and
// clears flags that no longer apply.
package exceptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/repository"
)

// Exception types and owners set by the deterministic rules.
const (
	TypeDemurrageRisk    = "demurrage_risk"
	TypeCustomsHoldStale = "customs_hold_stale"
	TypeOracleAnomaly    = "anomaly"

	OwnerLogistics  = "logistics"
	OwnerCustoms    = "customs"
	OwnerOperations = "operations"
)

const (
	defaultStalenessDays   = 30
	defaultCustomsHoldDays = 5
	defaultWorkers         = 4
	listPageSize           = 500
)

// Options tunes the classifier.
type Options struct {
	StalenessDays   int
	CustomsHoldDays int
	Workers         int
	Now             func() time.Time
}

// Classifier evaluates the exception rules against stored records.
type Classifier struct {
	store  repository.Store
	oracle oracle.Oracle
	opts   Options
}

// NewClassifier creates a classifier. A nil oracle disables the fallback
// judgement; records no rule flags are then cleared.
func NewClassifier(store repository.Store, o oracle.Oracle, opts Options) *Classifier {
	if opts.StalenessDays <= 0 {
		opts.StalenessDays = defaultStalenessDays
	}
	if opts.CustomsHoldDays <= 0 {
		opts.CustomsHoldDays = defaultCustomsHoldDays
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Classifier{store: store, oracle: o, opts: opts}
}

type action int

const (
	actionClear action = iota
	actionFlag
	actionKeep
)

// Verdict is what the rules decided for one record.
type Verdict struct {
	action action
	Rule   string
	Type   string
	Owner  string
	Reason string
	Source string
}

// Flags reports whether the verdict raises an exception.
func (v Verdict) Flags() bool { return v.action == actionFlag }

// Keeps reports whether the verdict leaves the current state alone.
func (v Verdict) Keeps() bool { return v.action == actionKeep }

func raise(rule, typ, owner, reason, source string) Verdict {
	return Verdict{action: actionFlag, Rule: rule, Type: typ, Owner: owner, Reason: reason, Source: source}
}

func clearFlag(rule, reason string) Verdict {
	return Verdict{action: actionClear, Rule: rule, Reason: reason, Source: "rule"}
}

// Evaluate runs the rules in order against a record and its timeline. The
// first rule that decides wins.
func (c *Classifier) Evaluate(ctx context.Context, record domain.Container, events []domain.LifecycleEvent) Verdict {
	now := c.opts.Now()

	if v, ok := c.terminalGuard(record, now); ok {
		return v
	}

	if lfd, ok := record.DateField(domain.FieldLastFreeDay); ok && dayBefore(lfd, now) && record.Stage.Sequence() < domain.StageGatedOut.Sequence() {
		return raise("demurrage", TypeDemurrageRisk, OwnerLogistics,
			fmt.Sprintf("last free day %s passed before gate out", lfd.Format("2006-01-02")), "rule")
	}

	if record.Stage == domain.StageCustomsHold {
		since := holdStart(record, events)
		if now.Sub(since) > time.Duration(c.opts.CustomsHoldDays)*24*time.Hour {
			return raise("customs_hold", TypeCustomsHoldStale, OwnerCustoms,
				fmt.Sprintf("on customs hold since %s", since.Format("2006-01-02")), "rule")
		}
	}

	if c.oracle == nil {
		return clearFlag("no_exception", "no rule fired")
	}
	return c.judge(ctx, record, now)
}

// terminalGuard clears records that are past the point where exceptions
// matter: a terminal stage, or a gate-out older than the staleness window.
func (c *Classifier) terminalGuard(record domain.Container, now time.Time) (Verdict, bool) {
	if record.Stage.IsTerminal() {
		return clearFlag("terminal_guard", fmt.Sprintf("stage %s is terminal", record.Stage)), true
	}
	staleness := time.Duration(c.opts.StalenessDays) * 24 * time.Hour
	if gateOut, ok := record.DateField(domain.FieldGateOutDate); ok && now.Sub(gateOut) > staleness {
		return clearFlag("terminal_guard", fmt.Sprintf("gated out more than %d days ago", c.opts.StalenessDays)), true
	}
	return Verdict{}, false
}

func (c *Classifier) judge(ctx context.Context, record domain.Container, now time.Time) Verdict {
	fields, err := recordJSON(record.Fields)
	if err != nil {
		return Verdict{action: actionKeep, Rule: "oracle", Reason: err.Error()}
	}
	judgement, err := c.oracle.JudgeRecord(ctx, oracle.JudgeRequest{
		ContainerNumber: record.ContainerNumber,
		Stage:           string(record.Stage),
		Record:          fields,
		Today:           now.Format("2006-01-02"),
	})
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("container", record.ContainerNumber).Msg("Oracle judgement failed, keeping exception state")
		return Verdict{action: actionKeep, Rule: "oracle", Reason: err.Error()}
	}
	if !judgement.Exception {
		return clearFlag("oracle", "oracle found no anomaly")
	}
	typ, owner := judgement.Type, judgement.Owner
	if typ == "" {
		typ = TypeOracleAnomaly
	}
	if owner == "" {
		owner = OwnerOperations
	}
	return raise("oracle", typ, owner, judgement.Reason, "oracle")
}

// Apply moves the exception state machine according to a verdict. Clearing
// a flagged record resolves it; clearing an unflagged one is a no-op.
func Apply(current domain.ExceptionState, v Verdict, now time.Time) (domain.ExceptionState, bool) {
	switch v.action {
	case actionFlag:
		next := domain.ExceptionState{
			Status:    domain.ExceptionFlagged,
			Type:      v.Type,
			Owner:     v.Owner,
			Reason:    v.Reason,
			Source:    v.Source,
			UpdatedAt: now,
		}
		if current.Flagged() && current.Type == next.Type && current.Owner == next.Owner && current.Reason == next.Reason {
			return current, false
		}
		return next, true
	case actionClear:
		if !current.Flagged() {
			return current, false
		}
		next := current
		next.Status = domain.ExceptionResolved
		next.Reason = v.Reason
		next.Source = v.Source
		next.UpdatedAt = now
		return next, true
	default:
		return current, false
	}
}

// Decision is the outcome of classifying one record.
type Decision struct {
	ContainerNumber string                `json:"container_number"`
	Verdict         Verdict               `json:"-"`
	State           domain.ExceptionState `json:"state"`
	Changed         bool                  `json:"changed"`
}

// Classify evaluates one record and stores the resulting state. The oracle is
// consulted outside the record's critical section; the transition itself is
// applied to the current stored state, and the terminal guard is checked
// again against it so a record that reached a terminal stage meanwhile is
// never flagged.
func (c *Classifier) Classify(ctx context.Context, batchID *uuid.UUID, number string) (Decision, error) {
	record, err := c.store.Containers.GetByNumber(ctx, number)
	if err != nil {
		return Decision{}, err
	}
	events, err := c.store.Events.ListByContainer(ctx, record.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load events for %s: %w", number, err)
	}

	verdict := c.Evaluate(ctx, record, events)
	decision := Decision{ContainerNumber: number, Verdict: verdict}

	upserted, err := c.store.Containers.Upsert(ctx, number, func(current domain.Container, found bool) (domain.Container, error) {
		now := c.opts.Now()
		decision.Verdict = verdict
		if guard, ok := c.terminalGuard(current, now); ok {
			decision.Verdict = guard
		}
		next := current.Clone()
		state, changed := Apply(current.Exception, decision.Verdict, now)
		decision.Changed = changed
		if changed {
			next.Exception = state
		}
		return next, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to store exception state for %s: %w", number, err)
	}
	decision.State = upserted.Container.Exception
	c.record(ctx, batchID, upserted.Container, decision)
	return decision, nil
}

// Summary counts classifier outcomes.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Flagged   int `json:"flagged"`
	Resolved  int `json:"resolved"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// ClassifyContainers classifies the given records. Per-record failures are
// counted and logged; only cancellation aborts.
func (c *Classifier) ClassifyContainers(ctx context.Context, batchID *uuid.UUID, numbers []string) (Summary, error) {
	decisions := make([]*Decision, len(numbers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, number := range numbers {
		g.Go(func() error {
			d, err := c.Classify(gctx, batchID, number)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.FromContext(gctx).Warn().Err(err).Str("container", number).Msg("Classification failed")
				return nil
			}
			decisions[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, d := range decisions {
		if d == nil {
			s.Errors++
			continue
		}
		s.Evaluated++
		switch {
		case !d.Changed:
			s.Unchanged++
		case d.State.Flagged():
			s.Flagged++
		default:
			s.Resolved++
		}
	}
	logging.FromContext(ctx).Info().
		Int("evaluated", s.Evaluated).
		Int("flagged", s.Flagged).
		Int("resolved", s.Resolved).
		Int("errors", s.Errors).
		Msg("Exceptions classified")
	return s, nil
}

// ClassifyAll re-evaluates every stored record.
func (c *Classifier) ClassifyAll(ctx context.Context) (Summary, error) {
	var numbers []string
	for offset := 0; ; offset += listPageSize {
		page, err := c.store.Containers.List(ctx, listPageSize, offset)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to list containers: %w", err)
		}
		for _, record := range page {
			numbers = append(numbers, record.ContainerNumber)
		}
		if len(page) < listPageSize {
			break
		}
	}
	return c.ClassifyContainers(ctx, nil, numbers)
}

func (c *Classifier) record(ctx context.Context, batchID *uuid.UUID, record domain.Container, d Decision) {
	status := "unchanged"
	switch {
	case d.Verdict.Keeps():
		status = "error"
	case d.Changed && d.State.Flagged():
		status = "flagged"
	case d.Changed:
		status = "resolved"
	}
	id := record.ID
	entry := domain.ProcessingLogEntry{
		ID:          uuid.New(),
		ContainerID: &id,
		BatchID:     batchID,
		Stage:       domain.ProcessingException,
		Status:      status,
		Confidence:  1,
		Message:     fmt.Sprintf("%s: %s", d.Verdict.Rule, d.Verdict.Reason),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.Logs.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("container", record.ContainerNumber).Msg("Failed to record processing log")
	}
}

// holdStart returns when the record entered customs hold: the latest hold
// event, or the last update when the timeline has none.
func holdStart(record domain.Container, events []domain.LifecycleEvent) time.Time {
	var since time.Time
	for _, e := range events {
		if e.Stage == domain.StageCustomsHold && e.OccurredAt.After(since) {
			since = e.OccurredAt
		}
	}
	if since.IsZero() {
		return record.UpdatedAt
	}
	return since
}

// dayBefore reports whether a falls on a calendar day before b.
func dayBefore(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

func recordJSON(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return out, nil
}

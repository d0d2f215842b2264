package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/mapping"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/transform"
)

// AuditInput is a persisted record with the row and mapping that produced it.
type AuditInput struct {
	Container domain.Container
	Row       domain.RawRow
	Mapping   map[string]string
}

// AuditResult is an auditor verdict plus the corrections it proposes.
type AuditResult struct {
	Outcome     domain.AuditOutcome
	Corrections map[string]any
	RawOutput   string
}

// Auditor checks a record against its source row.
type Auditor interface {
	Name() string
	Audit(ctx context.Context, in AuditInput) (AuditResult, error)
}

// OracleAuditor delegates the audit to the classification oracle.
type OracleAuditor struct {
	Oracle oracle.Oracle
}

// Name implements Auditor.
func (OracleAuditor) Name() string { return "oracle" }

// Audit implements Auditor.
func (a OracleAuditor) Audit(ctx context.Context, in AuditInput) (AuditResult, error) {
	record, err := jsonObject(in.Container.Fields)
	if err != nil {
		return AuditResult{}, err
	}
	answer, err := a.Oracle.AuditRecord(ctx, oracle.AuditRequest{
		RawRow:  in.Row.Values,
		Mapping: in.Mapping,
		Record:  record,
	})
	if err != nil {
		return AuditResult{}, err
	}

	result := domain.AuditResultCode(strings.ToUpper(strings.TrimSpace(answer.Result)))
	if result != domain.AuditPass && result != domain.AuditFail {
		return AuditResult{}, apperrors.NewOracleError(oracle.OpAuditRecord, 1,
			fmt.Errorf("%w: result %q", apperrors.ErrOracleMalformed, answer.Result))
	}
	raw, _ := json.Marshal(answer)
	return AuditResult{
		Outcome: domain.AuditOutcome{
			Result:         result,
			Lost:           answer.Lost,
			Wrong:          answer.Wrong,
			Unmapped:       answer.Unmapped,
			CaptureRate:    math.Max(0, math.Min(1, answer.CaptureRate)),
			Recommendation: parseRecommendation(answer.Recommendation),
			Auditor:        a.Name(),
		},
		Corrections: answer.RecommendedCorrections,
		RawOutput:   string(raw),
	}, nil
}

// HeuristicAuditor checks that every non-blank raw value is reflected in the
// record or its metadata. It never recommends an automatic correction.
type HeuristicAuditor struct{}

// Name implements Auditor.
func (HeuristicAuditor) Name() string { return "heuristic" }

// Audit implements Auditor.
func (a HeuristicAuditor) Audit(_ context.Context, in AuditInput) (AuditResult, error) {
	headers := make([]string, 0, len(in.Row.Values))
	for h := range in.Row.Values {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	var lost, unmapped []string
	captured, total := 0, 0
	for _, header := range headers {
		raw := in.Row.Values[header]
		if strings.TrimSpace(fmt.Sprint(raw)) == "" {
			continue
		}
		total++
		field, mapped := in.Mapping[header]
		switch {
		case mapped && in.Container.Field(field) != nil:
			captured++
		case mapped:
			lost = append(lost, header)
		default:
			if _, kept := in.Container.Metadata.UnmappedColumns[header]; kept {
				captured++
			}
			unmapped = append(unmapped, header)
		}
	}

	rate := 1.0
	if total > 0 {
		rate = float64(captured) / float64(total)
	}
	outcome := domain.AuditOutcome{
		Result:         domain.AuditPass,
		Lost:           lost,
		Unmapped:       unmapped,
		CaptureRate:    rate,
		Recommendation: domain.RecommendNone,
		Auditor:        a.Name(),
	}
	if len(lost) > 0 {
		outcome.Result = domain.AuditFail
		outcome.Recommendation = domain.RecommendManualReview
	}
	return AuditResult{Outcome: outcome}, nil
}

func parseRecommendation(raw string) domain.Recommendation {
	switch domain.Recommendation(strings.ToUpper(strings.TrimSpace(raw))) {
	case domain.RecommendAutoCorrect:
		return domain.RecommendAutoCorrect
	case domain.RecommendManualReview:
		return domain.RecommendManualReview
	default:
		return domain.RecommendNone
	}
}

// AuditSummary counts audit outcomes of a batch.
type AuditSummary struct {
	Audited   int `json:"audited"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Corrected int `json:"corrected"`
	Unaudited int `json:"unaudited"`
}

// AuditService runs an auditor over records and applies its corrections.
type AuditService struct {
	store   repository.Store
	auditor Auditor
	workers int
}

// NewAuditService creates an audit service. Oracle-backed auditing is used
// when o is non-nil.
func NewAuditService(store repository.Store, o oracle.Oracle, workers int) *AuditService {
	var auditor Auditor = HeuristicAuditor{}
	if o != nil {
		auditor = OracleAuditor{Oracle: o}
	}
	return NewAuditServiceWith(store, auditor, workers)
}

// NewAuditServiceWith creates an audit service around a specific auditor.
func NewAuditServiceWith(store repository.Store, auditor Auditor, workers int) *AuditService {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &AuditService{store: store, auditor: auditor, workers: workers}
}

// AuditBatch audits every successful row outcome of a reconcile result.
func (s *AuditService) AuditBatch(ctx context.Context, batchID uuid.UUID, result Result) (AuditSummary, error) {
	inputs := make([]AuditInput, 0, len(result.Outcomes))
	for _, out := range result.Outcomes {
		if out.Status != RowSucceeded {
			continue
		}
		inputs = append(inputs, AuditInput{Container: out.Container, Row: out.Row, Mapping: result.Report.Mapping})
	}

	outcomes := make([]RecordAudit, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, in := range inputs {
		g.Go(func() error {
			o, err := s.Audit(gctx, batchID, in)
			outcomes[i] = o
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return AuditSummary{}, err
	}

	var summary AuditSummary
	for _, o := range outcomes {
		if !o.Audited {
			summary.Unaudited++
			continue
		}
		summary.Audited++
		if o.Result == domain.AuditPass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		if o.Applied {
			summary.Corrected++
		}
	}
	logging.FromContext(ctx).Info().
		Str("batch_id", batchID.String()).
		Str("auditor", s.auditor.Name()).
		Int("audited", summary.Audited).
		Int("failed", summary.Failed).
		Int("corrected", summary.Corrected).
		Int("unaudited", summary.Unaudited).
		Msg("Batch audited")
	return summary, nil
}

// RecordAudit is the outcome of auditing one record.
type RecordAudit struct {
	Audited bool
	Applied bool
	Result  domain.AuditResultCode
}

// Audit audits one record. Auditor failures leave the record marked unaudited
// and are not returned; only store failures and cancellation are.
func (s *AuditService) Audit(ctx context.Context, batchID uuid.UUID, in AuditInput) (RecordAudit, error) {
	number := in.Container.ContainerNumber
	result, err := s.auditor.Audit(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return RecordAudit{}, ctx.Err()
		}
		logging.FromContext(ctx).Warn().Err(err).Str("container", number).Msg("Audit failed, record left unaudited")
		if _, upErr := s.store.Containers.Upsert(ctx, number, func(current domain.Container, _ bool) (domain.Container, error) {
			next := current.Clone()
			next.Metadata.Audited = false
			next.Metadata.AuditError = err.Error()
			return next, nil
		}); upErr != nil {
			return RecordAudit{}, fmt.Errorf("failed to mark %s unaudited: %w", number, upErr)
		}
		s.record(ctx, batchID, in, domain.ProcessingAudit, "error", 0, "", err.Error())
		return RecordAudit{}, nil
	}

	_, applied, err := ApplyCorrections(ctx, s.store.Containers, number, result)
	if err != nil {
		return RecordAudit{}, err
	}
	s.record(ctx, batchID, in, domain.ProcessingAudit, string(result.Outcome.Result), result.Outcome.CaptureRate, result.RawOutput,
		fmt.Sprintf("recommendation %s", result.Outcome.Recommendation))
	if len(applied) > 0 {
		s.record(ctx, batchID, in, domain.ProcessingCorrection, "applied", result.Outcome.CaptureRate, result.RawOutput,
			"corrected "+strings.Join(applied, ", "))
	}
	return RecordAudit{Audited: true, Applied: len(applied) > 0, Result: result.Outcome.Result}, nil
}

// ApplyCorrections stores the audit outcome on the record. Canonical-field
// corrections are written only when the recommendation is AUTO_CORRECT and
// never over a locked field. Facts outside the canonical schema are always
// kept verbatim in the metadata envelope. It returns the updated record and
// the canonical fields that changed.
func ApplyCorrections(ctx context.Context, containers repository.ContainerRepository, number string, result AuditResult) (domain.Container, []string, error) {
	var applied []string
	upserted, err := containers.Upsert(ctx, number, func(current domain.Container, found bool) (domain.Container, error) {
		if !found {
			return current, apperrors.NewNotFoundError("container", number)
		}
		canonical, extra := partitionCorrections(result.Corrections)

		next := current.Clone()
		outcome := result.Outcome
		outcome.AuditedAt = time.Now().UTC()
		if outcome.Recommendation == domain.RecommendAutoCorrect && len(canonical) > 0 {
			next, applied = next.ApplyFields(canonical)
			if derived := mapping.DeriveStage(next.Fields, next.Stage); derived.After(next.Stage) {
				next.Stage = derived
			}
			outcome.Applied = len(applied) > 0
		}

		md := next.Metadata
		if len(extra) > 0 {
			if md.Extra == nil {
				md.Extra = make(map[string]any, len(extra))
			}
			for k, v := range extra {
				md.Extra[k] = v
			}
		}
		md.Audited = true
		md.AuditError = ""
		md.Audit = &outcome
		md.ReviewReasons = setReason(md.ReviewReasons, reasonAuditFailed, outcome.Result == domain.AuditFail && !outcome.Applied)
		md.NeedsReview = len(md.ReviewReasons) > 0
		next.Metadata = md
		return next, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Container{}, nil, err
		}
		return domain.Container{}, nil, fmt.Errorf("failed to apply corrections to %s: %w", number, err)
	}
	return upserted.Container, applied, nil
}

// partitionCorrections splits corrections into canonical values, converted to
// their field type, and everything else. A canonical value that does not
// convert is kept verbatim with the rest.
func partitionCorrections(corrections map[string]any) (canonical, extra map[string]any) {
	canonical = make(map[string]any)
	extra = make(map[string]any)
	for key, value := range corrections {
		if value == nil {
			continue
		}
		if domain.IsCanonicalField(key) && key != domain.FieldContainerNumber {
			if converted := transform.Field(key, value); converted != nil {
				canonical[key] = converted
				continue
			}
		}
		extra[key] = value
	}
	return canonical, extra
}

func (s *AuditService) record(ctx context.Context, batchID uuid.UUID, in AuditInput, stage domain.ProcessingStage, status string, confidence float64, raw, message string) {
	containerID := in.Container.ID
	index := in.Row.RowIndex
	entry := domain.ProcessingLogEntry{
		ID:          uuid.New(),
		ContainerID: &containerID,
		BatchID:     &batchID,
		RowIndex:    &index,
		Stage:       stage,
		Status:      status,
		Confidence:  confidence,
		RawOutput:   raw,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Logs.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("container", in.Container.ContainerNumber).Msg("Failed to record processing log")
	}
}

// jsonObject converts record fields into plain JSON values.
func jsonObject(fields map[string]any) (map[string]any, error) {
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

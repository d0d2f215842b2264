// Package pipeline runs one batch end to end: archive, reconcile, audit and
// exception classification, while keeping the batch status current.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/archive"
	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/exceptions"
	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/reconcile"
	"github.com/rpattn/shiprecon/internal/repository"
)

// DictionarySource hands out the dictionary snapshot a batch is mapped with.
type DictionarySource interface {
	Current() *dictionary.Snapshot
}

// Options configures a runner.
type Options struct {
	Pipeline config.PipelineConfig
	// Preflight runs before a batch starts processing. An error fails the
	// batch with the error as its diagnostic.
	Preflight func() error
	// SkipClassification leaves exception flags untouched.
	SkipClassification bool
	Now                func() time.Time
}

// Runner wires the pipeline stages around one store.
type Runner struct {
	store      repository.Store
	dictionary DictionarySource
	archive    *archive.Service
	engine     *reconcile.Engine
	audits     *reconcile.AuditService
	classifier *exceptions.Classifier
	opts       Options

	// counters serializes read-modify-write of batch counters.
	counters sync.Mutex
}

// NewRunner creates a runner. A nil oracle runs every stage on its
// deterministic strategy.
func NewRunner(store repository.Store, o oracle.Oracle, dict DictionarySource, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Runner{
		store:      store,
		dictionary: dict,
		archive:    archive.NewService(store.Batches),
		audits:     reconcile.NewAuditService(store, o, opts.Pipeline.Workers),
		classifier: exceptions.NewClassifier(store, o, exceptions.Options{
			StalenessDays:   opts.Pipeline.StalenessDays,
			CustomsHoldDays: opts.Pipeline.CustomsHoldDays,
			Workers:         opts.Pipeline.Workers,
			Now:             opts.Now,
		}),
		opts: opts,
	}
	r.engine = reconcile.NewEngine(store, o, reconcile.Options{
		ChunkSize:         opts.Pipeline.ChunkSize,
		Workers:           opts.Pipeline.Workers,
		MinIdentityLength: opts.Pipeline.MinIdentityLength,
		Progress:          r.progress,
	})
	return r
}

// Input is one source table to process.
type Input struct {
	BatchID    *uuid.UUID
	SourceName string
	FileName   string
	Table      ingestion.Table
	// Limit truncates the table. Zero means all rows.
	Limit int
}

// Report is everything a run produced.
type Report struct {
	Batch      domain.ImportBatch     `json:"batch"`
	Reconcile  reconcile.Result       `json:"reconcile"`
	Audit      reconcile.AuditSummary `json:"audit"`
	Exceptions exceptions.Summary     `json:"exceptions"`
	Health     map[string]int         `json:"health"`
}

// Run processes one table. The batch ends COMPLETED, or FAILED with a
// diagnostic when a stage cannot continue; the error is returned as well.
func (r *Runner) Run(ctx context.Context, in Input) (Report, error) {
	archived, err := r.archive.Archive(ctx, archive.Request{
		BatchID:    in.BatchID,
		SourceName: in.SourceName,
		FileName:   in.FileName,
		Table:      in.Table,
		Limit:      in.Limit,
	})
	if err != nil {
		return Report{}, err
	}
	batch := archived.Batch
	if batch.Status.IsFinal() {
		return Report{Batch: batch}, apperrors.NewValidationError("batch_id", batch.ID.String(),
			fmt.Sprintf("batch already %s", batch.Status))
	}

	log := logging.FromContext(ctx).With().Str("batch_id", batch.ID.String()).Logger()
	ctx = logging.WithLogger(ctx, &log)

	snap, err := r.preflight()
	if err != nil {
		log.Error().Err(err).Msg("Batch preflight failed")
		return Report{Batch: r.fail(ctx, batch.ID, err)}, err
	}

	if batch, err = r.transition(ctx, batch.ID, domain.BatchStatusProcessing, ""); err != nil {
		return Report{Batch: batch}, err
	}

	report, err := r.process(ctx, batch.ID, archived.Rows, snap)
	if err != nil {
		log.Error().Err(err).Msg("Batch failed")
		report.Batch = r.fail(ctx, batch.ID, err)
		return report, err
	}

	report.Batch, err = r.complete(ctx, batch.ID, report)
	if err != nil {
		return report, err
	}
	log.Info().
		Int("records", len(report.Reconcile.Records)).
		Int("dropped", report.Reconcile.Summary.Dropped).
		Int("flagged", report.Exceptions.Flagged).
		Msg("Batch completed")
	return report, nil
}

func (r *Runner) preflight() (*dictionary.Snapshot, error) {
	if r.opts.Preflight != nil {
		if err := r.opts.Preflight(); err != nil {
			return nil, err
		}
	}
	if r.dictionary == nil || r.dictionary.Current() == nil {
		return nil, apperrors.NewConfigError("dictionary", "no canonical dictionary loaded", nil)
	}
	return r.dictionary.Current(), nil
}

func (r *Runner) process(ctx context.Context, batchID uuid.UUID, rows []domain.RawRow, snap *dictionary.Snapshot) (Report, error) {
	var report Report

	result, err := r.engine.Reconcile(ctx, batchID, rows, snap)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	report.Reconcile = result

	audit, err := r.audits.AuditBatch(ctx, batchID, result)
	if err != nil {
		return report, fmt.Errorf("audit: %w", err)
	}
	report.Audit = audit

	numbers := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		numbers = append(numbers, record.ContainerNumber)
	}
	if !r.opts.SkipClassification {
		summary, err := r.classifier.ClassifyContainers(ctx, &batchID, numbers)
		if err != nil {
			return report, fmt.Errorf("classify: %w", err)
		}
		report.Exceptions = summary
	}

	records := make([]domain.Container, 0, len(numbers))
	for _, number := range numbers {
		record, err := r.store.Containers.GetByNumber(ctx, number)
		if err != nil {
			return report, fmt.Errorf("reload %s: %w", number, err)
		}
		records = append(records, record)
	}
	report.Reconcile.Records = records
	report.Health = exceptions.HealthScores(records, r.opts.Now())
	return report, nil
}

// progress adds one chunk's counters to the stored batch.
func (r *Runner) progress(ctx context.Context, batchID uuid.UUID, delta domain.BatchCounters) {
	r.counters.Lock()
	defer r.counters.Unlock()
	batch, err := r.store.Batches.GetBatch(ctx, batchID)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Failed to load batch for progress")
		return
	}
	batch.Counters = batch.Counters.Add(delta)
	batch.UpdatedAt = time.Now().UTC()
	if _, err := r.store.Batches.UpdateBatch(ctx, batch); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Failed to store batch progress")
	}
}

func (r *Runner) transition(ctx context.Context, batchID uuid.UUID, next domain.BatchStatus, message string) (domain.ImportBatch, error) {
	r.counters.Lock()
	defer r.counters.Unlock()
	batch, err := r.store.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to load batch: %w", err)
	}
	moved, err := batch.WithStatus(next, message)
	if err != nil {
		return batch, err
	}
	return r.store.Batches.UpdateBatch(ctx, moved)
}

// fail marks the batch FAILED. It runs even when ctx is cancelled.
func (r *Runner) fail(ctx context.Context, batchID uuid.UUID, cause error) domain.ImportBatch {
	ctx = context.WithoutCancel(ctx)
	batch, err := r.transition(ctx, batchID, domain.BatchStatusFailed, cause.Error())
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Failed to mark batch failed")
	}
	return batch
}

func (r *Runner) complete(ctx context.Context, batchID uuid.UUID, report Report) (domain.ImportBatch, error) {
	r.counters.Lock()
	defer r.counters.Unlock()
	batch, err := r.store.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to load batch: %w", err)
	}
	moved, err := batch.WithStatus(domain.BatchStatusCompleted, "")
	if err != nil {
		return batch, err
	}
	moved.Counters = report.Reconcile.Summary.Counters()
	moved.Analysis = analysis(report)
	return r.store.Batches.UpdateBatch(ctx, moved)
}

// analysis is the batch's stored mapping report and scores.
func analysis(report Report) map[string]any {
	flagged := make([]string, 0)
	for _, record := range report.Reconcile.Records {
		if record.Exception.Flagged() {
			flagged = append(flagged, record.ContainerNumber)
		}
	}
	sort.Strings(flagged)
	return map[string]any{
		"mapping":    report.Reconcile.Report,
		"summary":    report.Reconcile.Summary,
		"audit":      report.Audit,
		"exceptions": report.Exceptions,
		"flagged":    flagged,
		"health":     report.Health,
	}
}

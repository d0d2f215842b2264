// Package reconcile turns archived rows into canonical container records,
// audits them against their source rows and applies safe corrections.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/mapping"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/shipmentloader"
	"github.com/rpattn/shiprecon/internal/transform"
)

const (
	defaultChunkSize = 200
	defaultWorkers   = 4
	maxFailures      = 100
	maxSamples       = 5

	// reviewConfidence is the mapping confidence below which records are
	// flagged for review.
	reviewConfidence = 0.5
)

// Options tunes the engine.
type Options struct {
	ChunkSize         int
	Workers           int
	MinIdentityLength int
	// Progress is called after every chunk with that chunk's counters.
	Progress func(ctx context.Context, batchID uuid.UUID, delta domain.BatchCounters)
}

// Engine reconciles one batch at a time. It is safe for concurrent use; the
// mapping and status caches live as long as the engine.
type Engine struct {
	store    repository.Store
	resolver *mapping.Resolver
	statuses *mapping.StatusNormalizer
	opts     Options
}

// NewEngine creates an engine. A nil oracle selects the deterministic
// strategies only.
func NewEngine(store repository.Store, o oracle.Oracle, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MinIdentityLength <= 0 {
		opts.MinIdentityLength = domain.DefaultMinIdentityLength
	}
	return &Engine{
		store:    store,
		resolver: mapping.NewResolver(o),
		statuses: mapping.NewStatusNormalizer(o),
		opts:     opts,
	}
}

// HeaderStats aggregates the values seen under one unmapped header.
type HeaderStats struct {
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
}

// MappingReport describes how a batch's headers were mapped.
type MappingReport struct {
	Mapping           map[string]string               `json:"mapping"`
	Sources           map[string]domain.MappingSource `json:"sources"`
	Confidence        float64                         `json:"confidence"`
	Source            domain.MappingSource            `json:"source"`
	DictionaryVersion string                          `json:"dictionary_version"`
	Unmapped          map[string]HeaderStats          `json:"unmapped"`
	Insights          map[string]string               `json:"insights,omitempty"`
	DroppedRows       []int                           `json:"dropped_rows"`
}

// RowFailure is a row that could not be reconciled.
type RowFailure struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// Summary counts the outcome of a reconcile call.
type Summary struct {
	TotalRows int          `json:"total_rows"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Dropped   int          `json:"dropped"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Events    int          `json:"events"`
	Failures  []RowFailure `json:"failures,omitempty"`
}

// Counters converts the summary into batch counters.
func (s Summary) Counters() domain.BatchCounters {
	return domain.BatchCounters{Processed: s.Processed, Succeeded: s.Succeeded, Failed: s.Failed, Dropped: s.Dropped}
}

// RowOutcome is what one row produced.
type RowOutcome struct {
	Row       domain.RawRow    `json:"-"`
	Status    string           `json:"status"`
	Container domain.Container `json:"-"`
	Created   bool             `json:"created"`
	Changed   []string         `json:"changed,omitempty"`
	Error     string           `json:"error,omitempty"`
	unmapped  map[string]any
}

// Row outcome statuses.
const (
	RowSucceeded = "succeeded"
	RowFailed    = "failed"
	RowDropped   = "dropped"
)

// Result is the output of Reconcile.
type Result struct {
	Records  []domain.Container      `json:"records"`
	Events   []domain.LifecycleEvent `json:"events"`
	Report   MappingReport           `json:"report"`
	Summary  Summary                 `json:"summary"`
	Outcomes []RowOutcome            `json:"-"`
}

// Reconcile maps, transforms and upserts every row. Per-row failures are
// collected in the summary; only cancellation or a store outage while
// resolving records aborts the call.
func (e *Engine) Reconcile(ctx context.Context, batchID uuid.UUID, rows []domain.RawRow, snap *dictionary.Snapshot) (Result, error) {
	log := logging.FromContext(ctx).With().Str("batch_id", batchID.String()).Logger()
	ctx = logging.WithLogger(ctx, &log)

	result := Result{Summary: Summary{TotalRows: len(rows)}}
	if len(rows) == 0 {
		result.Report = MappingReport{Mapping: map[string]string{}, Unmapped: map[string]HeaderStats{}, DictionaryVersion: snap.Version()}
		return result, nil
	}

	headers, samples := headersAndSamples(rows)
	resolved, err := e.resolver.Resolve(ctx, snap, headers, samples)
	if err != nil {
		return result, fmt.Errorf("failed to resolve headers: %w", err)
	}

	run := &batchRun{
		engine:   e,
		batchID:  batchID,
		snap:     snap,
		mapping:  resolved,
		loader:   shipmentloader.NewShipmentLoader(e.store.Shipments),
		outcomes: make([]RowOutcome, len(rows)),
	}

	for start := 0; start < len(rows); start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, len(rows))
		if err := run.processChunk(ctx, rows[start:end], start); err != nil {
			result.Outcomes = run.outcomes[:start]
			return result, err
		}

		var delta domain.BatchCounters
		for _, out := range run.outcomes[start:end] {
			delta = delta.Add(outcomeCounters(out))
		}
		if e.opts.Progress != nil {
			e.opts.Progress(ctx, batchID, delta)
		}
		log.Debug().Int("from", start).Int("to", end).Msg("Chunk reconciled")
	}

	result.Outcomes = run.outcomes
	result.Events = run.events
	result.Report = buildReport(resolved, run.outcomes)
	result.Summary = summarize(len(rows), run.outcomes, len(run.events))

	records, err := e.loadRecords(ctx, run.outcomes)
	if err != nil {
		return result, err
	}
	result.Records = records

	log.Info().
		Int("rows", result.Summary.TotalRows).
		Int("succeeded", result.Summary.Succeeded).
		Int("failed", result.Summary.Failed).
		Int("dropped", result.Summary.Dropped).
		Int("records", len(records)).
		Float64("mapping_confidence", resolved.Confidence).
		Msg("Batch reconciled")
	return result, nil
}

type batchRun struct {
	engine  *Engine
	batchID uuid.UUID
	snap    *dictionary.Snapshot
	mapping mapping.Result
	loader  *shipmentloader.ShipmentLoader

	outcomes []RowOutcome

	mu     sync.Mutex
	events []domain.LifecycleEvent
}

// processChunk fans out over groups of rows that touch the same container or
// shipment. Rows within a group are applied in source order, so the last row
// for a key wins no matter how the batch is chunked or scheduled.
func (r *batchRun) processChunk(ctx context.Context, rows []domain.RawRow, offset int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.opts.Workers)
	for _, group := range r.groupRows(rows) {
		g.Go(func() error {
			for _, i := range group {
				r.outcomes[offset+i] = r.processRow(gctx, rows[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// groupRows partitions row positions into connected groups: two rows share a
// group when they resolve to the same container number or shipment
// reference. Groups and their members are in ascending row order.
func (r *batchRun) groupRows(rows []domain.RawRow) [][]int {
	parent := make([]int, len(rows))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	owner := make(map[string]int)
	claim := func(key string, i int) {
		if first, ok := owner[key]; ok {
			union(first, i)
			return
		}
		owner[key] = i
	}
	for i, row := range rows {
		payload, _ := transform.Row(r.mapping.Mapping, row.Values)
		if number, ok := domain.IdentityKey(payload[domain.FieldContainerNumber], r.engine.opts.MinIdentityLength); ok {
			claim("c:"+number, i)
		}
		rawRef, _ := payload[domain.FieldBLNumber].(string)
		if ref := domain.NormalizeReference(rawRef); ref != "" {
			claim("s:"+ref, i)
		}
	}

	index := make(map[int]int)
	var groups [][]int
	for i := range rows {
		root := find(i)
		gi, ok := index[root]
		if !ok {
			gi = len(groups)
			index[root] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}
	return groups
}

func (r *batchRun) processRow(ctx context.Context, row domain.RawRow) RowOutcome {
	e := r.engine
	log := logging.FromContext(ctx).With().Int("row", row.RowIndex).Logger()

	payload, unmapped := transform.Row(r.mapping.Mapping, row.Values)
	out := RowOutcome{Row: row, unmapped: unmapped}

	number, ok := domain.IdentityKey(payload[domain.FieldContainerNumber], e.opts.MinIdentityLength)
	if !ok {
		out.Status = RowDropped
		r.logEntry(ctx, nil, row, RowDropped, "no resolvable container number")
		return out
	}
	payload[domain.FieldContainerNumber] = number

	statusText, _ := payload[domain.FieldStatus].(string)
	textStage := e.statuses.Normalize(ctx, r.snap, statusText)
	rowStage := mapping.DeriveStage(payload, textStage)

	// A locked status keeps steering the stage. Its text is classified here,
	// before the record's critical section is entered.
	lockedText, lockedStage := r.lockedStatus(ctx, number)

	var changed []string
	upserted, err := e.store.Containers.Upsert(ctx, number, func(current domain.Container, found bool) (domain.Container, error) {
		next, fieldChanges := current.ApplyFields(payload)
		changed = fieldChanges

		stage := rowStage
		if current.IsLocked(domain.FieldStatus) {
			text, _ := current.Field(domain.FieldStatus).(string)
			textStage := lockedStage
			if text != lockedText {
				textStage = e.statuses.NormalizeLocal(r.snap, text)
			}
			stage = mapping.DeriveStage(next.Fields, textStage)
		}
		if stage != domain.StageUnknown && stage.After(next.Stage) {
			next.Stage = stage
		}
		next.Metadata = r.metadataFor(next.Metadata, next.Fields, row, unmapped)
		return next, nil
	})
	if err != nil {
		out.Status = RowFailed
		out.Error = fmt.Sprintf("upsert %s: %v", number, err)
		log.Warn().Err(err).Str("container", number).Msg("Row upsert failed")
		r.logEntry(ctx, nil, row, RowFailed, out.Error)
		return out
	}
	container := upserted.Container
	out.Container = container
	out.Created = upserted.Created
	out.Changed = changed

	if err := r.linkShipment(ctx, container, payload); err != nil {
		out.Status = RowFailed
		out.Error = fmt.Sprintf("link shipment: %v", err)
		r.logEntry(ctx, &container.ID, row, RowFailed, out.Error)
		return out
	}

	if rowStage != domain.StageUnknown {
		occurred, location := eventDetails(rowStage, payload)
		event := domain.NewLifecycleEvent(container.ID, rowStage, occurred, location, "import", &r.batchID)
		appended, err := e.store.Events.Append(ctx, event)
		if err != nil {
			out.Status = RowFailed
			out.Error = fmt.Sprintf("append event: %v", err)
			r.logEntry(ctx, &container.ID, row, RowFailed, out.Error)
			return out
		}
		if appended {
			r.mu.Lock()
			r.events = append(r.events, event)
			r.mu.Unlock()
		}
	}

	if err := e.store.Batches.AttachContainer(ctx, row.ID, container.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to attach container to raw row")
	}

	out.Status = RowSucceeded
	message := "updated"
	if upserted.Created {
		message = "created"
	}
	r.logEntry(ctx, &container.ID, row, RowSucceeded, message)
	return out
}

// lockedStatus returns the stored status text and its stage when the status
// field of the record is locked.
func (r *batchRun) lockedStatus(ctx context.Context, number string) (string, domain.Stage) {
	current, err := r.engine.store.Containers.GetByNumber(ctx, number)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logging.FromContext(ctx).Warn().Err(err).Str("container", number).Msg("Failed to read record before upsert")
		}
		return "", domain.StageUnknown
	}
	if !current.IsLocked(domain.FieldStatus) {
		return "", domain.StageUnknown
	}
	text, _ := current.Field(domain.FieldStatus).(string)
	return text, r.engine.statuses.Normalize(ctx, r.snap, text)
}

func (r *batchRun) metadataFor(md domain.Metadata, fields map[string]any, row domain.RawRow, unmapped map[string]any) domain.Metadata {
	batchID := r.batchID
	rowID := row.ID
	md.SourceBatchID = &batchID
	md.SourceRowID = &rowID
	md.MappingConfidence = r.mapping.Confidence
	md.MappingSource = r.mapping.Source
	if len(unmapped) > 0 {
		md.UnmappedColumns = unmapped
	} else {
		md.UnmappedColumns = nil
	}
	md.ReviewReasons = setReason(md.ReviewReasons, reasonLowConfidence, r.mapping.Confidence < reviewConfidence)
	md.ReviewReasons = withMissingReasons(md.ReviewReasons, missingRequired(fields, r.snap.RequiredFields()))
	md.ReviewReasons = withInvalidReasons(md.ReviewReasons, ruleViolations(fields))
	md.NeedsReview = len(md.ReviewReasons) > 0
	return md
}

func (r *batchRun) linkShipment(ctx context.Context, container domain.Container, payload map[string]any) error {
	rawRef, _ := payload[domain.FieldBLNumber].(string)
	ref := domain.NormalizeReference(rawRef)
	if ref == "" {
		return nil
	}
	fields := domain.ShipmentPayload(payload)

	shipment, found, err := r.loader.Load(ctx, ref)
	if err != nil {
		return err
	}
	needsWrite := !found
	if found {
		_, changed := shipment.ApplyFields(fields)
		needsWrite = len(changed) > 0
	}
	if needsWrite {
		shipment, err = r.engine.store.Shipments.Upsert(ctx, ref, func(current domain.Shipment) domain.Shipment {
			next, _ := current.ApplyFields(fields)
			return next
		})
		if err != nil {
			return err
		}
		r.loader.Prime(ctx, shipment)
	}
	return r.engine.store.Shipments.Link(ctx, shipment.ID, container.ID)
}

func (r *batchRun) logEntry(ctx context.Context, containerID *uuid.UUID, row domain.RawRow, status, message string) {
	batchID := r.batchID
	index := row.RowIndex
	entry := domain.ProcessingLogEntry{
		ID:          uuid.New(),
		ContainerID: containerID,
		BatchID:     &batchID,
		RowIndex:    &index,
		Stage:       domain.ProcessingMapping,
		Status:      status,
		Confidence:  r.mapping.Confidence,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.engine.store.Logs.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Int("row", index).Msg("Failed to record processing log")
	}
}

func (e *Engine) loadRecords(ctx context.Context, outcomes []RowOutcome) ([]domain.Container, error) {
	seen := make(map[string]struct{})
	var numbers []string
	for _, out := range outcomes {
		if out.Status != RowSucceeded {
			continue
		}
		if _, ok := seen[out.Container.ContainerNumber]; ok {
			continue
		}
		seen[out.Container.ContainerNumber] = struct{}{}
		numbers = append(numbers, out.Container.ContainerNumber)
	}
	sort.Strings(numbers)

	records := make([]domain.Container, 0, len(numbers))
	for _, number := range numbers {
		c, err := e.store.Containers.GetByNumber(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("failed to reload container %s: %w", number, err)
		}
		records = append(records, c)
	}
	return records, nil
}

// eventDetails picks the timestamp and location evidencing a stage.
func eventDetails(stage domain.Stage, payload map[string]any) (time.Time, string) {
	var dateField, locationField string
	switch stage {
	case domain.StageEmptyReturned:
		dateField = domain.FieldEmptyReturnDate
	case domain.StageDelivered:
		dateField, locationField = domain.FieldDeliveryDate, domain.FieldFinalDestination
	case domain.StageGatedOut:
		dateField, locationField = domain.FieldGateOutDate, domain.FieldPortOfDischarge
	case domain.StageDischarged:
		dateField, locationField = domain.FieldDischargeDate, domain.FieldPortOfDischarge
	case domain.StageArrived:
		dateField, locationField = domain.FieldATA, domain.FieldPortOfDischarge
	case domain.StageDeparted, domain.StageLoaded:
		dateField, locationField = domain.FieldATD, domain.FieldPortOfLoading
	}
	var occurred time.Time
	if ts, ok := payload[dateField].(time.Time); ok {
		occurred = ts
	}
	location, _ := payload[locationField].(string)
	return occurred, location
}

func headersAndSamples(rows []domain.RawRow) ([]string, []map[string]any) {
	seen := make(map[string]struct{})
	var headers []string
	for _, row := range rows {
		for _, h := range row.Headers {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			headers = append(headers, h)
		}
	}
	samples := make([]map[string]any, 0, mapping.MaxSampleRows)
	for _, row := range rows {
		if len(samples) == mapping.MaxSampleRows {
			break
		}
		samples = append(samples, row.Values)
	}
	return headers, samples
}

func buildReport(resolved mapping.Result, outcomes []RowOutcome) MappingReport {
	report := MappingReport{
		Mapping:           resolved.Mapping,
		Sources:           resolved.Sources,
		Confidence:        resolved.Confidence,
		Source:            resolved.Source,
		DictionaryVersion: resolved.Version,
		Unmapped:          make(map[string]HeaderStats),
		Insights:          resolved.Insights,
		DroppedRows:       []int{},
	}
	for _, out := range outcomes {
		if out.Status == RowDropped {
			report.DroppedRows = append(report.DroppedRows, out.Row.RowIndex)
		}
		for header, value := range out.unmapped {
			stats := report.Unmapped[header]
			stats.Count++
			if sample := strings.TrimSpace(fmt.Sprint(value)); sample != "" && len(stats.Samples) < maxSamples && !contains(stats.Samples, sample) {
				stats.Samples = append(stats.Samples, sample)
			}
			report.Unmapped[header] = stats
		}
	}
	return report
}

func summarize(total int, outcomes []RowOutcome, events int) Summary {
	s := Summary{TotalRows: total, Events: events}
	for _, out := range outcomes {
		c := outcomeCounters(out)
		s.Processed += c.Processed
		s.Succeeded += c.Succeeded
		s.Failed += c.Failed
		s.Dropped += c.Dropped
		switch {
		case out.Status == RowFailed:
			if len(s.Failures) < maxFailures {
				s.Failures = append(s.Failures, RowFailure{RowIndex: out.Row.RowIndex, Reason: out.Error})
			}
		case out.Status == RowSucceeded && out.Created:
			s.Created++
		case out.Status == RowSucceeded && len(out.Changed) > 0:
			s.Updated++
		}
	}
	return s
}

func outcomeCounters(out RowOutcome) domain.BatchCounters {
	switch out.Status {
	case RowSucceeded:
		return domain.BatchCounters{Processed: 1, Succeeded: 1}
	case RowFailed:
		return domain.BatchCounters{Processed: 1, Failed: 1}
	case RowDropped:
		return domain.BatchCounters{Processed: 1, Dropped: 1}
	}
	return domain.BatchCounters{}
}

// Review reasons that later writes refresh.
const (
	reasonLowConfidence = "low mapping confidence"
	reasonAuditFailed   = "audit failed"
)

// setReason adds reason when present holds and removes it otherwise.
func setReason(reasons []string, reason string, present bool) []string {
	if present {
		if contains(reasons, reason) {
			return reasons
		}
		return append(reasons, reason)
	}
	out := reasons[:0:0]
	for _, r := range reasons {
		if r != reason {
			out = append(out, r)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package archive stores every source row, unchanged, under an import batch.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/repository"
)

// insertChunk bounds the number of rows sent to the store per call.
const insertChunk = 500

// Service archives parsed tables.
type Service struct {
	batches repository.BatchRepository
}

// NewService creates an archive service.
func NewService(batches repository.BatchRepository) *Service {
	return &Service{batches: batches}
}

// Request describes one archive call.
type Request struct {
	// BatchID re-uses an existing batch. Rows already archived for it are kept.
	BatchID    *uuid.UUID
	SourceName string
	FileName   string
	Table      ingestion.Table
	// Limit truncates the table. Zero means all rows.
	Limit int
}

// Result is the archived batch and its rows in source order.
type Result struct {
	Batch    domain.ImportBatch
	Rows     []domain.RawRow
	Inserted int
}

// Archive creates (or re-opens) the batch and writes every row once.
func (s *Service) Archive(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.SourceName) == "" {
		return Result{}, apperrors.NewValidationError("source_name", req.SourceName, "source name is required")
	}
	if len(req.Table.Headers) == 0 {
		return Result{}, apperrors.NewValidationError("headers", nil, "no header row detected")
	}

	table := req.Table.Limit(req.Limit)
	log := logging.FromContext(ctx)

	batch, err := s.openBatch(ctx, req, len(table.Rows))
	if err != nil {
		return Result{}, err
	}

	rows := make([]domain.RawRow, len(table.Rows))
	for i, values := range table.Rows {
		rows[i] = domain.NewRawRow(batch.ID, i, table.Headers, values)
	}

	inserted := 0
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		n, err := s.batches.InsertRows(ctx, rows[start:end])
		if err != nil {
			return Result{}, fmt.Errorf("failed to archive rows %d-%d: %w", start, end-1, err)
		}
		inserted += n
	}

	// Return what the store holds so re-archived rows keep their original ids.
	stored, err := s.batches.ListRows(ctx, batch.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reload archived rows: %w", err)
	}

	log.Info().
		Str("batch_id", batch.ID.String()).
		Str("source", batch.SourceName).
		Int("rows", len(stored)).
		Int("inserted", inserted).
		Msg("Archived batch")

	return Result{Batch: batch, Rows: stored, Inserted: inserted}, nil
}

// Reset deletes a batch and its raw rows.
func (s *Service) Reset(ctx context.Context, batchID uuid.UUID) error {
	if err := s.batches.Reset(ctx, batchID); err != nil {
		return fmt.Errorf("failed to reset batch %s: %w", batchID, err)
	}
	logging.FromContext(ctx).Warn().Str("batch_id", batchID.String()).Msg("Batch reset")
	return nil
}

func (s *Service) openBatch(ctx context.Context, req Request, totalRows int) (domain.ImportBatch, error) {
	if req.BatchID != nil {
		existing, err := s.batches.GetBatch(ctx, *req.BatchID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return domain.ImportBatch{}, fmt.Errorf("failed to load batch: %w", err)
		}
	}

	batch := domain.NewImportBatch(req.SourceName, req.FileName, totalRows)
	if req.BatchID != nil {
		batch.ID = *req.BatchID
	}
	created, err := s.batches.CreateBatch(ctx, batch)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return created, nil
}

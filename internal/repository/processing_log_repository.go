package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/shiprecon/internal/domain"
)

type processingLogRepository struct {
	pool *pgxpool.Pool
}

// NewProcessingLogRepository wires a repository backed by pgxpool.
func NewProcessingLogRepository(pool *pgxpool.Pool) ProcessingLogRepository {
	return &processingLogRepository{pool: pool}
}

func (r *processingLogRepository) Record(ctx context.Context, entry domain.ProcessingLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("processing log repository not initialized")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var rowIndex any
	if entry.RowIndex != nil {
		rowIndex = *entry.RowIndex
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO processing_logs (id, container_id, batch_id, row_index, stage, status, confidence, raw_output, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID,
		entry.ContainerID,
		entry.BatchID,
		rowIndex,
		string(entry.Stage),
		entry.Status,
		entry.Confidence,
		entry.RawOutput,
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record processing log: %w", err)
	}

	return nil
}

const processingLogColumns = `id, container_id, batch_id, row_index, stage, status, confidence, raw_output, message, created_at`

func (r *processingLogRepository) ListByContainer(ctx context.Context, containerID uuid.UUID) ([]domain.ProcessingLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("processing log repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+processingLogColumns+` FROM processing_logs WHERE container_id = $1 ORDER BY created_at`,
		containerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return collectProcessingLogs(rows)
}

func (r *processingLogRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, stage domain.ProcessingStage) ([]domain.ProcessingLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("processing log repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+processingLogColumns+`
		 FROM processing_logs
		 WHERE batch_id = $1 AND ($2 = '' OR stage = $2)
		 ORDER BY created_at`,
		batchID,
		string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return collectProcessingLogs(rows)
}

func collectProcessingLogs(rows pgx.Rows) ([]domain.ProcessingLogEntry, error) {
	defer rows.Close()

	logs := []domain.ProcessingLogEntry{}
	for rows.Next() {
		var (
			entry       domain.ProcessingLogEntry
			containerID pgtype.UUID
			batchID     pgtype.UUID
			rowIndex    pgtype.Int4
			stage       string
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&containerID,
			&batchID,
			&rowIndex,
			&stage,
			&entry.Status,
			&entry.Confidence,
			&entry.RawOutput,
			&entry.Message,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", scanErr)
		}
		entry.Stage = domain.ProcessingStage(stage)
		if containerID.Valid {
			id := uuid.UUID(containerID.Bytes)
			entry.ContainerID = &id
		}
		if batchID.Valid {
			id := uuid.UUID(batchID.Bytes)
			entry.BatchID = &id
		}
		if rowIndex.Valid {
			value := int(rowIndex.Int32)
			entry.RowIndex = &value
		}
		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate processing logs: %w", rowsErr)
	}

	return logs, nil
}

// NewPostgresStore wires every repository against one pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Batches:    NewBatchRepository(pool),
		Containers: NewContainerRepository(pool),
		Shipments:  NewShipmentRepository(pool),
		Events:     NewEventRepository(pool),
		Logs:       NewProcessingLogRepository(pool),
	}
}

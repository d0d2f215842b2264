package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

type batchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository wires a batch and raw row repository backed by pgxpool.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepository{pool: pool}
}

const batchColumns = `id, source_name, file_name, status, total_rows, rows_processed, rows_succeeded,
	rows_failed, rows_dropped, error_message, analysis, created_at, started_at, completed_at, updated_at`

func (r *batchRepository) CreateBatch(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	if r.pool == nil {
		return domain.ImportBatch{}, fmt.Errorf("batch repository not initialized")
	}

	analysis, err := json.Marshal(nonNilMap(batch.Analysis))
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to marshal batch analysis: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_batches (id, source_name, file_name, status, total_rows, analysis, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+batchColumns,
		batch.ID,
		batch.SourceName,
		batch.FileName,
		string(batch.Status),
		batch.TotalRows,
		analysis,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	created, err := scanBatch(row)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to create import batch: %w", err)
	}
	return created, nil
}

func (r *batchRepository) GetBatch(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	if r.pool == nil {
		return domain.ImportBatch{}, fmt.Errorf("batch repository not initialized")
	}

	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportBatch{}, apperrors.NewNotFoundError("import batch", id.String())
		}
		return domain.ImportBatch{}, fmt.Errorf("failed to get import batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) UpdateBatch(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	if r.pool == nil {
		return domain.ImportBatch{}, fmt.Errorf("batch repository not initialized")
	}

	analysis, err := json.Marshal(nonNilMap(batch.Analysis))
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to marshal batch analysis: %w", err)
	}

	var errorMessage any
	if batch.ErrorMessage != "" {
		errorMessage = batch.ErrorMessage
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_batches
		 SET status = $2, total_rows = $3, rows_processed = $4, rows_succeeded = $5, rows_failed = $6,
		     rows_dropped = $7, error_message = $8, analysis = $9, started_at = $10, completed_at = $11,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+batchColumns,
		batch.ID,
		string(batch.Status),
		batch.TotalRows,
		batch.Counters.Processed,
		batch.Counters.Succeeded,
		batch.Counters.Failed,
		batch.Counters.Dropped,
		errorMessage,
		analysis,
		batch.StartedAt,
		batch.CompletedAt,
	)
	updated, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportBatch{}, apperrors.NewNotFoundError("import batch", batch.ID.String())
		}
		return domain.ImportBatch{}, fmt.Errorf("failed to update import batch: %w", err)
	}
	return updated, nil
}

func (r *batchRepository) ListBatches(ctx context.Context, limit int, offset int) ([]domain.ImportBatch, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("batch repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+batchColumns+` FROM import_batches ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.ImportBatch{}
	for rows.Next() {
		batch, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import batch: %w", scanErr)
		}
		batches = append(batches, batch)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import batches: %w", rowsErr)
	}
	return batches, nil
}

func (r *batchRepository) InsertRows(ctx context.Context, rows []domain.RawRow) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("batch repository not initialized")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		headers, err := json.Marshal(row.Headers)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal headers of row %d: %w", row.RowIndex, err)
		}
		values, err := json.Marshal(nonNilMap(row.Values))
		if err != nil {
			return 0, fmt.Errorf("failed to marshal values of row %d: %w", row.RowIndex, err)
		}
		batch.Queue(
			`INSERT INTO raw_rows (id, batch_id, row_index, headers, raw_values, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (batch_id, row_index) DO NOTHING`,
			row.ID, row.BatchID, row.RowIndex, headers, values, row.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for i := range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert raw row %d: %w", rows[i].RowIndex, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const rawRowColumns = `id, batch_id, row_index, headers, raw_values, container_id, created_at`

func (r *batchRepository) ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.RawRow, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("batch repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+rawRowColumns+` FROM raw_rows WHERE batch_id = $1 ORDER BY row_index`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw rows: %w", err)
	}
	defer rows.Close()

	out := []domain.RawRow{}
	for rows.Next() {
		row, scanErr := scanRawRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw row: %w", scanErr)
		}
		out = append(out, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate raw rows: %w", rowsErr)
	}
	return out, nil
}

func (r *batchRepository) GetRow(ctx context.Context, id uuid.UUID) (domain.RawRow, error) {
	if r.pool == nil {
		return domain.RawRow{}, fmt.Errorf("batch repository not initialized")
	}

	row, err := scanRawRow(r.pool.QueryRow(ctx, `SELECT `+rawRowColumns+` FROM raw_rows WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RawRow{}, apperrors.NewNotFoundError("raw row", id.String())
		}
		return domain.RawRow{}, fmt.Errorf("failed to get raw row: %w", err)
	}
	return row, nil
}

func (r *batchRepository) AttachContainer(ctx context.Context, rowID uuid.UUID, containerID uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("batch repository not initialized")
	}

	tag, err := r.pool.Exec(ctx, `UPDATE raw_rows SET container_id = $2 WHERE id = $1`, rowID, containerID)
	if err != nil {
		return fmt.Errorf("failed to attach container to raw row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("raw row", rowID.String())
	}
	return nil
}

func (r *batchRepository) Reset(ctx context.Context, batchID uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("batch repository not initialized")
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM import_batches WHERE id = $1`, batchID); err != nil {
		return fmt.Errorf("failed to reset import batch: %w", err)
	}
	return nil
}

func scanBatch(row pgx.Row) (domain.ImportBatch, error) {
	var (
		batch        domain.ImportBatch
		status       string
		errorMessage pgtype.Text
		analysis     []byte
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&batch.ID,
		&batch.SourceName,
		&batch.FileName,
		&status,
		&batch.TotalRows,
		&batch.Counters.Processed,
		&batch.Counters.Succeeded,
		&batch.Counters.Failed,
		&batch.Counters.Dropped,
		&errorMessage,
		&analysis,
		&batch.CreatedAt,
		&startedAt,
		&completedAt,
		&batch.UpdatedAt,
	); err != nil {
		return domain.ImportBatch{}, err
	}

	batch.Status = domain.BatchStatus(status)
	if errorMessage.Valid {
		batch.ErrorMessage = errorMessage.String
	}
	if len(analysis) > 0 {
		if err := json.Unmarshal(analysis, &batch.Analysis); err != nil {
			return domain.ImportBatch{}, fmt.Errorf("failed to decode batch analysis: %w", err)
		}
	}
	if startedAt.Valid {
		ts := startedAt.Time
		batch.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		batch.CompletedAt = &ts
	}
	return batch, nil
}

func scanRawRow(row pgx.Row) (domain.RawRow, error) {
	var (
		out         domain.RawRow
		headers     []byte
		values      []byte
		containerID pgtype.UUID
	)
	if err := row.Scan(&out.ID, &out.BatchID, &out.RowIndex, &headers, &values, &containerID, &out.CreatedAt); err != nil {
		return domain.RawRow{}, err
	}
	if err := json.Unmarshal(headers, &out.Headers); err != nil {
		return domain.RawRow{}, fmt.Errorf("failed to decode raw row headers: %w", err)
	}
	if err := json.Unmarshal(values, &out.Values); err != nil {
		return domain.RawRow{}, fmt.Errorf("failed to decode raw row values: %w", err)
	}
	if containerID.Valid {
		id := uuid.UUID(containerID.Bytes)
		out.ContainerID = &id
	}
	return out, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

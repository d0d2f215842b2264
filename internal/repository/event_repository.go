package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/shiprecon/internal/domain"
)

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates the lifecycle event repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

func (r *eventRepository) Append(ctx context.Context, event domain.LifecycleEvent) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("event repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO lifecycle_events (id, container_id, stage, occurred_at, location, source, batch_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (container_id, stage) DO NOTHING`,
		event.ID,
		event.ContainerID,
		string(event.Stage),
		event.OccurredAt,
		event.Location,
		event.Source,
		event.BatchID,
		event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append lifecycle event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepository) ListByContainer(ctx context.Context, containerID uuid.UUID) ([]domain.LifecycleEvent, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("event repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, container_id, stage, occurred_at, location, source, batch_id, created_at
		 FROM lifecycle_events
		 WHERE container_id = $1
		 ORDER BY occurred_at, created_at`,
		containerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	events := []domain.LifecycleEvent{}
	for rows.Next() {
		var (
			event   domain.LifecycleEvent
			stage   string
			batchID pgtype.UUID
		)
		if scanErr := rows.Scan(
			&event.ID,
			&event.ContainerID,
			&stage,
			&event.OccurredAt,
			&event.Location,
			&event.Source,
			&batchID,
			&event.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", scanErr)
		}
		event.Stage = domain.Stage(stage)
		if batchID.Valid {
			id := uuid.UUID(batchID.Bytes)
			event.BatchID = &id
		}
		events = append(events, event)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate lifecycle events: %w", rowsErr)
	}
	return events, nil
}

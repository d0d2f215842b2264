package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/shiprecon/internal/db"
	"github.com/rpattn/shiprecon/internal/domain"
)

type shipmentRepository struct {
	pool *pgxpool.Pool
}

// NewShipmentRepository creates a shipment repository backed by pgxpool.
func NewShipmentRepository(pool *pgxpool.Pool) ShipmentRepository {
	return &shipmentRepository{pool: pool}
}

const shipmentColumns = `id, reference, fields, locked_fields, created_at, updated_at`

func (r *shipmentRepository) Upsert(ctx context.Context, reference string, fn func(current domain.Shipment) domain.Shipment) (domain.Shipment, error) {
	if r.pool == nil {
		return domain.Shipment{}, fmt.Errorf("shipment repository not initialized")
	}

	var stored domain.Shipment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		fresh := domain.NewShipment(reference)
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO shipments (id, reference, fields, locked_fields, created_at, updated_at)
			 VALUES ($1, $2, '{}'::jsonb, '{}', $3, $3)
			 ON CONFLICT (reference) DO NOTHING`,
			fresh.ID, reference, fresh.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to reserve shipment %s: %w", reference, err)
		}

		current, err := scanShipment(tx.QueryRow(
			ctx,
			`SELECT `+shipmentColumns+` FROM shipments WHERE reference = $1 FOR UPDATE`,
			reference,
		))
		if err != nil {
			return fmt.Errorf("failed to lock shipment %s: %w", reference, err)
		}

		next := fn(current)
		fields, err := json.Marshal(nonNilMap(next.Fields))
		if err != nil {
			return fmt.Errorf("failed to marshal shipment fields: %w", err)
		}
		stored, err = scanShipment(tx.QueryRow(
			ctx,
			`UPDATE shipments SET fields = $2, updated_at = NOW() WHERE id = $1 RETURNING `+shipmentColumns,
			current.ID, fields,
		))
		if err != nil {
			return fmt.Errorf("failed to write shipment %s: %w", reference, err)
		}
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	return stored, nil
}

func (r *shipmentRepository) ListByReferences(ctx context.Context, references []string) ([]domain.Shipment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("shipment repository not initialized")
	}
	if len(references) == 0 {
		return []domain.Shipment{}, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE reference = ANY($1)`,
		references,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments by reference: %w", err)
	}
	defer rows.Close()

	shipments := []domain.Shipment{}
	for rows.Next() {
		s, scanErr := scanShipment(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan shipment: %w", scanErr)
		}
		shipments = append(shipments, s)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate shipments: %w", rowsErr)
	}
	return shipments, nil
}

func (r *shipmentRepository) Link(ctx context.Context, shipmentID uuid.UUID, containerID uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("shipment repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO shipment_containers (shipment_id, container_id)
		 VALUES ($1, $2)
		 ON CONFLICT (shipment_id, container_id) DO NOTHING`,
		shipmentID,
		containerID,
	)
	if err != nil {
		return fmt.Errorf("failed to link shipment %s to container %s: %w", shipmentID, containerID, err)
	}
	return nil
}

func (r *shipmentRepository) ListContainerIDs(ctx context.Context, shipmentID uuid.UUID) ([]uuid.UUID, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("shipment repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT container_id FROM shipment_containers WHERE shipment_id = $1 ORDER BY created_at`,
		shipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipment containers: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan shipment container: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate shipment containers: %w", rowsErr)
	}
	return ids, nil
}

func scanShipment(row pgx.Row) (domain.Shipment, error) {
	var (
		s      domain.Shipment
		fields []byte
	)
	if err := row.Scan(&s.ID, &s.Reference, &fields, &s.LockedFields, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Shipment{}, err
	}
	if err := json.Unmarshal(fields, &s.Fields); err != nil {
		return domain.Shipment{}, fmt.Errorf("failed to decode shipment fields: %w", err)
	}
	if s.Fields == nil {
		s.Fields = map[string]any{}
	}
	return s, nil
}

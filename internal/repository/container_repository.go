package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/shiprecon/internal/db"
	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

type containerRepository struct {
	pool *pgxpool.Pool
}

// NewContainerRepository creates a container repository. Upserts hold the row
// lock of the container number for the duration of the callback.
func NewContainerRepository(pool *pgxpool.Pool) ContainerRepository {
	return &containerRepository{pool: pool}
}

const containerColumns = `id, container_number, fields, stage, locked_fields, metadata, exception, created_at, updated_at`

func (r *containerRepository) Upsert(ctx context.Context, number string, fn UpsertFunc) (UpsertResult, error) {
	if r.pool == nil {
		return UpsertResult{}, fmt.Errorf("container repository not initialized")
	}

	var result UpsertResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		fresh := domain.NewContainer(number)
		freshArgs, err := containerArgs(fresh)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(
			ctx,
			`INSERT INTO containers (`+containerColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (container_number) DO NOTHING`,
			freshArgs...,
		)
		if err != nil {
			return fmt.Errorf("failed to reserve container %s: %w", number, err)
		}
		created := tag.RowsAffected() == 1

		current, err := scanContainer(tx.QueryRow(
			ctx,
			`SELECT `+containerColumns+` FROM containers WHERE container_number = $1 FOR UPDATE`,
			number,
		))
		if err != nil {
			return fmt.Errorf("failed to lock container %s: %w", number, err)
		}

		next, err := fn(current, !created)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.ContainerNumber = current.ContainerNumber
		next.CreatedAt = current.CreatedAt

		args, err := containerArgs(next)
		if err != nil {
			return err
		}
		stored, err := scanContainer(tx.QueryRow(
			ctx,
			`UPDATE containers
			 SET fields = $2, stage = $3, locked_fields = $4, metadata = $5, exception = $6, updated_at = $7
			 WHERE id = $1
			 RETURNING `+containerColumns,
			args[0], args[2], args[3], args[4], args[5], args[6], args[8],
		))
		if err != nil {
			return fmt.Errorf("failed to write container %s: %w", number, err)
		}

		result = UpsertResult{Container: stored, Created: created}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

func (r *containerRepository) GetByNumber(ctx context.Context, number string) (domain.Container, error) {
	if r.pool == nil {
		return domain.Container{}, fmt.Errorf("container repository not initialized")
	}

	c, err := scanContainer(r.pool.QueryRow(ctx, `SELECT `+containerColumns+` FROM containers WHERE container_number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Container{}, apperrors.NewNotFoundError("container", number)
		}
		return domain.Container{}, fmt.Errorf("failed to get container: %w", err)
	}
	return c, nil
}

func (r *containerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Container, error) {
	if r.pool == nil {
		return domain.Container{}, fmt.Errorf("container repository not initialized")
	}

	c, err := scanContainer(r.pool.QueryRow(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Container{}, apperrors.NewNotFoundError("container", id.String())
		}
		return domain.Container{}, fmt.Errorf("failed to get container: %w", err)
	}
	return c, nil
}

func (r *containerRepository) List(ctx context.Context, limit int, offset int) ([]domain.Container, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("container repository not initialized")
	}
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+containerColumns+` FROM containers ORDER BY container_number LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	containers := []domain.Container{}
	for rows.Next() {
		c, scanErr := scanContainer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan container: %w", scanErr)
		}
		containers = append(containers, c)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate containers: %w", rowsErr)
	}
	return containers, nil
}

func (r *containerRepository) Count(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("container repository not initialized")
	}

	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM containers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count containers: %w", err)
	}
	return count, nil
}

func containerArgs(c domain.Container) ([]any, error) {
	fields, err := json.Marshal(nonNilMap(c.Fields))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container fields: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container metadata: %w", err)
	}
	exception, err := json.Marshal(c.Exception)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container exception: %w", err)
	}
	locked := c.LockedFields
	if locked == nil {
		locked = []string{}
	}
	return []any{
		c.ID,
		c.ContainerNumber,
		fields,
		string(c.Stage),
		locked,
		metadata,
		exception,
		c.CreatedAt,
		c.UpdatedAt,
	}, nil
}

func scanContainer(row pgx.Row) (domain.Container, error) {
	var (
		c         domain.Container
		fields    []byte
		stage     string
		metadata  []byte
		exception []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.ContainerNumber,
		&fields,
		&stage,
		&c.LockedFields,
		&metadata,
		&exception,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.Container{}, err
	}

	c.Stage = domain.Stage(stage)
	if err := json.Unmarshal(fields, &c.Fields); err != nil {
		return domain.Container{}, fmt.Errorf("failed to decode container fields: %w", err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return domain.Container{}, fmt.Errorf("failed to decode container metadata: %w", err)
	}
	if err := json.Unmarshal(exception, &c.Exception); err != nil {
		return domain.Container{}, fmt.Errorf("failed to decode container exception: %w", err)
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if c.LockedFields == nil {
		c.LockedFields = []string{}
	}
	return c, nil
}

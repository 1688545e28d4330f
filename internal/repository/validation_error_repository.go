package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// validationErrorRepository implements ValidationErrorRepository backed by
// pgxpool.
type validationErrorRepository struct {
	pool *pgxpool.Pool
}

// NewValidationErrorRepository creates a new validation error repository.
func NewValidationErrorRepository(pool *pgxpool.Pool) ValidationErrorRepository {
	return &validationErrorRepository{pool: pool}
}

func (r *validationErrorRepository) CreateBatch(ctx context.Context, errs []domain.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range errs {
		batch.Queue(
			`INSERT INTO validation_errors (id, job_id, row_index, field, error_code, message)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.JobID, e.RowIndex, e.Field, e.Code, e.Message,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range errs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert validation errors: %w", err)
		}
	}
	return nil
}

func (r *validationErrorRepository) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.ValidationError, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, job_id, row_index, field, error_code, message, created_at,
		        count(*) OVER () AS total_count
		 FROM validation_errors
		 WHERE job_id = $1
		 ORDER BY row_index, field
		 LIMIT $2 OFFSET $3`,
		jobID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list validation errors: %w", err)
	}
	defer rows.Close()

	errs := []domain.ValidationError{}
	total := 0
	for rows.Next() {
		var e domain.ValidationError
		if err := rows.Scan(&e.ID, &e.JobID, &e.RowIndex, &e.Field, &e.Code, &e.Message, &e.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan validation error: %w", err)
		}
		errs = append(errs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate validation errors: %w", err)
	}

	if total == 0 && offset > 0 {
		// Past the last page; fall back to a count so pagination metadata
		// stays correct.
		if err := r.pool.QueryRow(ctx,
			`SELECT count(*) FROM validation_errors WHERE job_id = $1`, jobID,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count validation errors: %w", err)
		}
	}

	return errs, total, nil
}

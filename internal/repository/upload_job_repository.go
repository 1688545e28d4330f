package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// uploadJobRepository implements UploadJobRepository backed by pgxpool.
type uploadJobRepository struct {
	pool *pgxpool.Pool
}

// NewUploadJobRepository creates a new upload job repository.
func NewUploadJobRepository(pool *pgxpool.Pool) UploadJobRepository {
	return &uploadJobRepository{pool: pool}
}

func (r *uploadJobRepository) Create(ctx context.Context, job domain.UploadJob) (domain.UploadJob, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO upload_jobs (id, tenant_id, stage, file_name, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, tenant_id, stage, file_name, status,
		           total_rows, valid_rows, invalid_rows, created_at, updated_at`,
		job.ID, job.TenantID, job.Stage, job.FileName, job.Status,
	)

	created, err := scanUploadJob(row)
	if err != nil {
		return domain.UploadJob{}, fmt.Errorf("failed to create upload job: %w", err)
	}
	return created, nil
}

func (r *uploadJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, stage, file_name, status,
		        total_rows, valid_rows, invalid_rows, created_at, updated_at
		 FROM upload_jobs WHERE id = $1`,
		id,
	)

	job, err := scanUploadJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadJob{}, domain.ErrJobNotFound
		}
		return domain.UploadJob{}, fmt.Errorf("failed to get upload job: %w", err)
	}
	return job, nil
}

func (r *uploadJobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.UploadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, stage, file_name, status,
		        total_rows, valid_rows, invalid_rows, created_at, updated_at
		 FROM upload_jobs
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.UploadJob{}
	for rows.Next() {
		job, err := scanUploadJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload jobs: %w", err)
	}

	return jobs, nil
}

func (r *uploadJobRepository) MarkValidated(ctx context.Context, id uuid.UUID, total, valid, invalid int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE upload_jobs
		 SET status = $2, total_rows = $3, valid_rows = $4, invalid_rows = $5, updated_at = now()
		 WHERE id = $1 AND status = $6`,
		id, domain.JobStatusValidated, total, valid, invalid, domain.JobStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job validated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *uploadJobRepository) StageRows(ctx context.Context, jobID uuid.UUID, rows []domain.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		cells, err := json.Marshal(row.Cells)
		if err != nil {
			return fmt.Errorf("failed to marshal staged row %d: %w", row.RowNo, err)
		}
		batch.Queue(
			`INSERT INTO upload_rows (job_id, row_no, cells, valid) VALUES ($1, $2, $3, $4)`,
			jobID, row.RowNo, cells, row.Valid,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to stage upload rows: %w", err)
		}
	}
	return nil
}

func (r *uploadJobRepository) ListValidRows(ctx context.Context, jobID uuid.UUID) ([]domain.StagedRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT row_no, cells, valid
		 FROM upload_rows
		 WHERE job_id = $1 AND valid
		 ORDER BY row_no`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged rows: %w", err)
	}
	defer rows.Close()

	staged := []domain.StagedRow{}
	for rows.Next() {
		var (
			row   domain.StagedRow
			cells []byte
		)
		if err := rows.Scan(&row.RowNo, &cells, &row.Valid); err != nil {
			return nil, fmt.Errorf("failed to scan staged row: %w", err)
		}
		if err := json.Unmarshal(cells, &row.Cells); err != nil {
			return nil, fmt.Errorf("failed to decode staged row %d: %w", row.RowNo, err)
		}
		staged = append(staged, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staged rows: %w", err)
	}

	return staged, nil
}

func scanUploadJob(row pgx.Row) (domain.UploadJob, error) {
	var j domain.UploadJob
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Stage, &j.FileName, &j.Status,
		&j.TotalRows, &j.ValidRows, &j.InvalidRows, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// tenantRepository implements TenantRepository backed by pgxpool.
type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

func (r *tenantRepository) Create(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name, code, is_default, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, name, code, is_default, is_active, created_at, updated_at`,
		tenant.ID, tenant.Name, tenant.Code, tenant.IsDefault, tenant.IsActive,
	)

	created, err := scanTenant(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Tenant{}, domain.ErrTenantExists
		}
		return domain.Tenant{}, fmt.Errorf("failed to create tenant: %w", err)
	}
	return created, nil
}

func (r *tenantRepository) GetByCode(ctx context.Context, code string) (domain.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, code, is_default, is_active, created_at, updated_at
		 FROM tenants WHERE code = $1`,
		code,
	)

	tenant, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("failed to get tenant by code: %w", err)
	}
	return tenant, nil
}

func (r *tenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, code, is_default, is_active, created_at, updated_at
		 FROM tenants ORDER BY code`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []domain.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenants, nil
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.IsDefault, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// TenantRepository defines the interface for tenant directory operations.
type TenantRepository interface {
	Create(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
	GetByCode(ctx context.Context, code string) (domain.Tenant, error)
	// List returns the full directory snapshot consumed by the resolver.
	List(ctx context.Context) ([]domain.Tenant, error)
}

// UploadJobRepository defines the interface for upload job lifecycle
// operations. Status mutations only move forward.
type UploadJobRepository interface {
	Create(ctx context.Context, job domain.UploadJob) (domain.UploadJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.UploadJob, error)
	// MarkValidated sets VALIDATED plus row counts.
	MarkValidated(ctx context.Context, id uuid.UUID, total, valid, invalid int) error
	// StageRows persists the decoded rows so import can run later without
	// re-reading the file.
	StageRows(ctx context.Context, jobID uuid.UUID, rows []domain.StagedRow) error
	ListValidRows(ctx context.Context, jobID uuid.UUID) ([]domain.StagedRow, error)
}

// ValidationErrorRepository stores per-cell validation failures for paginated
// retrieval and export.
type ValidationErrorRepository interface {
	CreateBatch(ctx context.Context, errs []domain.ValidationError) error
	// ListByJob returns one page ordered by (row_index, field) plus the total
	// error count for the job.
	ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.ValidationError, int, error)
}

// ImportGroup is one parent record plus its ordered child items, written
// atomically. SourceRows is the number of valid file rows folded into the
// group; for stages without items it drives the imported-row count.
type ImportGroup struct {
	Record     domain.Record
	Items      []domain.Item
	SourceRows int
}

// ImportBatch is the unit of work of one import: every group becomes visible
// together or not at all.
type ImportBatch struct {
	TenantID uuid.UUID
	JobID    uuid.UUID
	Stage    domain.Stage
	Groups   []ImportGroup
}

// ImportOutcome reports what the storage layer committed. DuplicateRows
// counts valid rows skipped on a product id collision; they are never
// silently dropped.
type ImportOutcome struct {
	ImportedRows  int
	DuplicateRows int
}

// RecordRepository defines the interface for parent/child record storage.
type RecordRepository interface {
	// ImportBatch writes the whole batch in a single transaction, superseding
	// any live record with the same (tenant, stage, lot_no_norm) and moving
	// the job VALIDATED -> IMPORTED. Any failure other than a known product
	// id collision rolls everything back.
	ImportBatch(ctx context.Context, batch ImportBatch) (ImportOutcome, error)

	// ListWithItems reads matching parents and their children from one
	// consistent snapshot, children ordered by row_no.
	ListWithItems(ctx context.Context, tenantID uuid.UUID, filter domain.RecordFilter) ([]domain.RecordWithItems, error)

	// ListByLotNorm returns the live records of one stage for a normalized
	// lot number, for lineage walks.
	ListByLotNorm(ctx context.Context, tenantID uuid.UUID, stage domain.Stage, lotNoNorm string) ([]domain.Record, error)

	// FindItemByProductID resolves a child item and its parent record by the
	// globally unique composed product identifier, scoped to the tenant.
	FindItemByProductID(ctx context.Context, tenantID uuid.UUID, productID string) (domain.Item, domain.Record, error)
}

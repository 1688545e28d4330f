// Package importer turns a validated upload job into persisted parent
// records and child items. All ingestion formats funnel through this single
// entry point; the storage layer guarantees the batch commits atomically.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/normalize"
	"github.com/prodtrace/prodtrace/internal/repository"
	"github.com/prodtrace/prodtrace/internal/validate"
)

// Service imports validated upload jobs.
type Service struct {
	jobs    repository.UploadJobRepository
	records repository.RecordRepository
	logger  *zap.Logger
}

// NewService creates an importer service.
func NewService(jobs repository.UploadJobRepository, records repository.RecordRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: jobs, records: records, logger: logger}
}

// Result reports one import run. SkippedRows are the job's invalid rows;
// DuplicateRows are valid rows skipped on a product id collision. The two are
// counted separately on purpose.
type Result struct {
	ImportedRows  int   `json:"imported_rows"`
	SkippedRows   int   `json:"skipped_rows"`
	DuplicateRows int   `json:"duplicate_rows"`
	ElapsedMS     int64 `json:"elapsed_ms"`
}

// Import persists every valid row of a VALIDATED job in one atomic batch:
// one parent record per (stage, lot_no_norm) group plus one item per row for
// stages that have items. row_no keeps the 1-based position within the file,
// not within the group. Jobs that are already IMPORTED are rejected.
func (s *Service) Import(ctx context.Context, jobID uuid.UUID) (Result, error) {
	start := time.Now()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	switch job.Status {
	case domain.JobStatusImported:
		return Result{}, domain.ErrJobAlreadyImported
	case domain.JobStatusPending:
		return Result{}, domain.ErrJobNotValidated
	}

	staged, err := s.jobs.ListValidRows(ctx, jobID)
	if err != nil {
		return Result{}, err
	}

	batch, err := s.buildBatch(job, staged)
	if err != nil {
		return Result{}, err
	}

	outcome, err := s.records.ImportBatch(ctx, batch)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("import committed",
		zap.String("job_id", job.ID.String()),
		zap.String("stage", string(job.Stage)),
		zap.Int("imported_rows", outcome.ImportedRows),
		zap.Int("duplicate_rows", outcome.DuplicateRows),
	)

	return Result{
		ImportedRows:  outcome.ImportedRows,
		SkippedRows:   job.InvalidRows,
		DuplicateRows: outcome.DuplicateRows,
		ElapsedMS:     time.Since(start).Milliseconds(),
	}, nil
}

// buildBatch groups staged rows by normalized lot number in first-seen order
// and composes product identifiers through the normalizer, so re-imports of
// the same logical unit reproduce the same identifier.
func (s *Service) buildBatch(job domain.UploadJob, staged []domain.StagedRow) (repository.ImportBatch, error) {
	batch := repository.ImportBatch{
		TenantID: job.TenantID,
		JobID:    job.ID,
		Stage:    job.Stage,
	}
	groupIndex := map[string]int{}

	for _, row := range staged {
		fields, errs := validate.Row(job.ID, job.Stage, domain.Row{Index: row.RowNo, Cells: row.Cells})
		if len(errs) > 0 {
			// Staged rows were partitioned as valid; a contract mismatch here
			// means the staging data is corrupt, not a user error.
			return repository.ImportBatch{}, fmt.Errorf("staged row %d no longer satisfies the %s contract", row.RowNo, job.Stage)
		}

		idx, ok := groupIndex[fields.LotNoNorm]
		if !ok {
			record := domain.Record{
				ID:             uuid.New(),
				TenantID:       job.TenantID,
				JobID:          job.ID,
				Stage:          job.Stage,
				LotNo:          fields.LotNo,
				LotNoNorm:      fields.LotNoNorm,
				ProductionDate: fields.ProductionDate,
				MachineNo:      fields.MachineNo,
				MoldNo:         fields.MoldNo,
				Extras:         fields.Extra,
			}
			batch.Groups = append(batch.Groups, repository.ImportGroup{Record: record})
			idx = len(batch.Groups) - 1
			groupIndex[fields.LotNoNorm] = idx
		}
		group := &batch.Groups[idx]
		group.SourceRows++

		if !job.Stage.HasItems() {
			continue
		}

		unitNo, _ := fields.UnitNo()
		item := domain.Item{
			ID:       uuid.New(),
			RecordID: group.Record.ID,
			RowNo:    row.RowNo,
			WinderNo: unitNo,
			Quantity: stageQuantity(fields),
			Spec:     stageSpec(fields),
			SubLotNo: fields.SubLotFragment(),
			Raw:      row.Cells,
		}
		if fragment := fields.SubLotFragment(); fragment != "" {
			item.ProductID = normalize.ProductID(fields.ProductionDate, fields.MachineNo, fields.MoldNo, fragment)
		}
		group.Items = append(group.Items, item)
	}

	return batch, nil
}

func stageQuantity(fields domain.RecordFields) int {
	switch {
	case fields.P2 != nil:
		return fields.P2.Quantity
	case fields.P3 != nil:
		return fields.P3.Quantity
	case fields.P1 != nil:
		return fields.P1.Quantity
	}
	return 0
}

func stageSpec(fields domain.RecordFields) string {
	switch {
	case fields.P2 != nil:
		return fields.P2.Spec
	case fields.P3 != nil:
		return fields.P3.Spec
	}
	return ""
}

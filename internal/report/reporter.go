// Package report exposes a job's validation failures: paginated pages for
// interactive review and CSV/XLSX exports for offline correction.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	// exportPageSize is the repository fetch size for exports, which stream
	// the full error set page by page.
	exportPageSize = 1000
)

var exportHeader = []string{"row_index", "field", "error_code", "message"}

// Pagination describes one page of errors relative to the whole set.
type Pagination struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalErrors int  `json:"total_errors"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// Page is one page of a job's validation errors, ordered by (row_index,
// field).
type Page struct {
	Errors     []domain.ValidationError `json:"errors"`
	Pagination Pagination               `json:"pagination"`
}

// Reporter reads back validation errors for review and export.
type Reporter struct {
	errs   repository.ValidationErrorRepository
	logger *zap.Logger
}

// NewReporter creates a reporter over the error store.
func NewReporter(errs repository.ValidationErrorRepository, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{errs: errs, logger: logger}
}

// ListPage returns one page of a job's errors. Pages are 1-based; page and
// size fall back to defaults when out of range. A page past the end is empty
// but still reports the true totals.
func (r *Reporter) ListPage(ctx context.Context, jobID uuid.UUID, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	errs, total, err := r.errs.ListByJob(ctx, jobID, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	if errs == nil {
		errs = []domain.ValidationError{}
	}

	totalPages := (total + pageSize - 1) / pageSize
	return Page{
		Errors: errs,
		Pagination: Pagination{
			Page:        page,
			PageSize:    pageSize,
			TotalErrors: total,
			TotalPages:  totalPages,
			HasNext:     page < totalPages,
			HasPrev:     page > 1 && total > 0,
		},
	}, nil
}

// ExportCSV streams every error of a job as CSV in review order.
func (r *Reporter) ExportCSV(ctx context.Context, jobID uuid.UUID, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	count, err := r.forEachError(ctx, jobID, func(ve domain.ValidationError) error {
		return csvWriter.Write([]string{
			fmt.Sprintf("%d", ve.RowIndex),
			ve.Field,
			string(ve.Code),
			ve.Message,
		})
	})
	if err != nil {
		return err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	r.logger.Info("exported validation errors",
		zap.String("job_id", jobID.String()),
		zap.String("format", "csv"),
		zap.Int("rows", count),
	)
	return nil
}

// ExportXLSX writes every error of a job as a single-sheet workbook in
// review order.
func (r *Reporter) ExportXLSX(ctx context.Context, jobID uuid.UUID, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Errors"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rowNo := 1
	count, err := r.forEachError(ctx, jobID, func(ve domain.ValidationError) error {
		rowNo++
		cell, err := excelize.CoordinatesToCellName(1, rowNo)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &[]any{ve.RowIndex, ve.Field, string(ve.Code), ve.Message})
	})
	if err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	r.logger.Info("exported validation errors",
		zap.String("job_id", jobID.String()),
		zap.String("format", "xlsx"),
		zap.Int("rows", count),
	)
	return nil
}

// forEachError walks the full error set page by page in review order.
func (r *Reporter) forEachError(ctx context.Context, jobID uuid.UUID, fn func(domain.ValidationError) error) (int, error) {
	count := 0
	offset := 0
	for {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		errs, _, err := r.errs.ListByJob(ctx, jobID, exportPageSize, offset)
		if err != nil {
			return count, fmt.Errorf("list errors: %w", err)
		}
		if len(errs) == 0 {
			return count, nil
		}
		for _, ve := range errs {
			if err := fn(ve); err != nil {
				return count, fmt.Errorf("write error row: %w", err)
			}
			count++
		}
		if len(errs) < exportPageSize {
			return count, nil
		}
		offset += exportPageSize
	}
}

package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/repository"
)

type stubErrorRepo struct {
	errs []domain.ValidationError
}

func (s *stubErrorRepo) CreateBatch(ctx context.Context, errs []domain.ValidationError) error {
	s.errs = append(s.errs, errs...)
	return nil
}

func (s *stubErrorRepo) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.ValidationError, int, error) {
	ordered := make([]domain.ValidationError, len(s.errs))
	copy(ordered, s.errs)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RowIndex != ordered[j].RowIndex {
			return ordered[i].RowIndex < ordered[j].RowIndex
		}
		return ordered[i].Field < ordered[j].Field
	})
	if offset >= len(ordered) {
		return nil, len(ordered), nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	return ordered[offset:end], len(ordered), nil
}

func seedErrors(n int) *stubErrorRepo {
	repo := &stubErrorRepo{}
	jobID := uuid.New()
	for i := 1; i <= n; i++ {
		repo.errs = append(repo.errs, domain.NewValidationError(
			jobID, i, "quantity", domain.ErrCodeInvalidValue, "quantity must be a non-negative integer",
		))
	}
	return repo
}

func TestListPagePaginates(t *testing.T) {
	r := NewReporter(seedErrors(125), nil)

	page, err := r.ListPage(context.Background(), uuid.New(), 2, 50)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Errors) != 50 {
		t.Fatalf("got %d errors, want 50", len(page.Errors))
	}
	if page.Errors[0].RowIndex != 51 {
		t.Fatalf("first row_index = %d, want 51", page.Errors[0].RowIndex)
	}
	p := page.Pagination
	if p.TotalErrors != 125 || p.TotalPages != 3 {
		t.Fatalf("totals = %d errors / %d pages, want 125 / 3", p.TotalErrors, p.TotalPages)
	}
	if !p.HasNext || !p.HasPrev {
		t.Fatalf("HasNext=%v HasPrev=%v, want both true", p.HasNext, p.HasPrev)
	}
}

func TestListPageLastAndPastEnd(t *testing.T) {
	r := NewReporter(seedErrors(125), nil)

	last, err := r.ListPage(context.Background(), uuid.New(), 3, 50)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(last.Errors) != 25 {
		t.Fatalf("last page has %d errors, want 25", len(last.Errors))
	}
	if last.Pagination.HasNext {
		t.Fatal("last page must not report HasNext")
	}

	past, err := r.ListPage(context.Background(), uuid.New(), 9, 50)
	if err != nil {
		t.Fatalf("ListPage past end: %v", err)
	}
	if len(past.Errors) != 0 {
		t.Fatalf("past-end page has %d errors, want 0", len(past.Errors))
	}
	if past.Pagination.TotalErrors != 125 {
		t.Fatalf("past-end page total = %d, want 125", past.Pagination.TotalErrors)
	}
}

func TestListPageClampsArguments(t *testing.T) {
	r := NewReporter(seedErrors(3), nil)

	page, err := r.ListPage(context.Background(), uuid.New(), 0, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Pagination.Page != 1 || page.Pagination.PageSize != DefaultPageSize {
		t.Fatalf("pagination = %+v, want page 1 with default size", page.Pagination)
	}

	big, err := r.ListPage(context.Background(), uuid.New(), 1, 10000)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if big.Pagination.PageSize != MaxPageSize {
		t.Fatalf("page size = %d, want clamped to %d", big.Pagination.PageSize, MaxPageSize)
	}
}

func TestExportCSVWritesAllErrorsInOrder(t *testing.T) {
	r := NewReporter(seedErrors(1500), nil)

	var buf bytes.Buffer
	if err := r.ExportCSV(context.Background(), uuid.New(), &buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back csv: %v", err)
	}
	if len(rows) != 1501 {
		t.Fatalf("got %d rows, want header + 1500", len(rows))
	}
	if rows[0][0] != "row_index" || rows[0][2] != "error_code" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "1" || rows[1500][0] != "1500" {
		t.Fatalf("rows out of order: first=%s last=%s", rows[1][0], rows[1500][0])
	}
	if rows[1][2] != string(domain.ErrCodeInvalidValue) {
		t.Fatalf("error_code = %s", rows[1][2])
	}
}

func TestExportXLSXWritesWorkbook(t *testing.T) {
	r := NewReporter(seedErrors(4), nil)

	var buf bytes.Buffer
	if err := r.ExportXLSX(context.Background(), uuid.New(), &buf); err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Errors")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want header + 4", len(rows))
	}
	if rows[0][1] != "field" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "1" || rows[4][0] != "4" {
		t.Fatalf("rows out of order: %v / %v", rows[1], rows[4])
	}
}

var _ repository.ValidationErrorRepository = (*stubErrorRepo)(nil)

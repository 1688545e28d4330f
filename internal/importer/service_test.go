package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/repository"
)

func p2Cells(lot, winder, tape string) map[string]string {
	return map[string]string{
		"lot_no":          lot,
		"production_date": "2025-07-17",
		"machine_no":      "M-07",
		"mold_no":         "MD3",
		"winder_no":       winder,
		"spec":            "STD",
		"tape_lot_no":     tape,
		"quantity":        "10",
	}
}

type stubJobRepo struct {
	job    domain.UploadJob
	staged []domain.StagedRow
}

func (s *stubJobRepo) Create(ctx context.Context, job domain.UploadJob) (domain.UploadJob, error) {
	return job, nil
}

func (s *stubJobRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error) {
	if id != s.job.ID {
		return domain.UploadJob{}, domain.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubJobRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.UploadJob, error) {
	return nil, errors.New("not implemented")
}

func (s *stubJobRepo) MarkValidated(ctx context.Context, id uuid.UUID, total, valid, invalid int) error {
	return errors.New("not implemented")
}

func (s *stubJobRepo) StageRows(ctx context.Context, jobID uuid.UUID, rows []domain.StagedRow) error {
	s.staged = append(s.staged, rows...)
	return nil
}

func (s *stubJobRepo) ListValidRows(ctx context.Context, jobID uuid.UUID) ([]domain.StagedRow, error) {
	var valid []domain.StagedRow
	for _, row := range s.staged {
		if row.Valid {
			valid = append(valid, row)
		}
	}
	return valid, nil
}

type stubRecordRepo struct {
	batch      *repository.ImportBatch
	outcome    repository.ImportOutcome
	failWith   error
	jobMarked  bool
	outcomeSet bool
}

func (s *stubRecordRepo) ImportBatch(ctx context.Context, batch repository.ImportBatch) (repository.ImportOutcome, error) {
	if s.failWith != nil {
		return repository.ImportOutcome{}, s.failWith
	}
	s.batch = &batch
	s.jobMarked = true
	if s.outcomeSet {
		return s.outcome, nil
	}

	outcome := repository.ImportOutcome{}
	for _, group := range batch.Groups {
		if group.Record.Stage.HasItems() {
			outcome.ImportedRows += len(group.Items)
		} else {
			outcome.ImportedRows += group.SourceRows
		}
	}
	return outcome, nil
}

func (s *stubRecordRepo) ListWithItems(ctx context.Context, tenantID uuid.UUID, filter domain.RecordFilter) ([]domain.RecordWithItems, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRecordRepo) ListByLotNorm(ctx context.Context, tenantID uuid.UUID, stage domain.Stage, lotNoNorm string) ([]domain.Record, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRecordRepo) FindItemByProductID(ctx context.Context, tenantID uuid.UUID, productID string) (domain.Item, domain.Record, error) {
	return domain.Item{}, domain.Record{}, errors.New("not implemented")
}

func validatedJob(stage domain.Stage, invalid int) domain.UploadJob {
	job := domain.NewUploadJob(uuid.New(), stage, "batch.csv")
	job.Status = domain.JobStatusValidated
	job.InvalidRows = invalid
	return job
}

func TestImportBuildsGroupsAndItems(t *testing.T) {
	job := validatedJob(domain.StageP2, 1)
	jobs := &stubJobRepo{job: job, staged: []domain.StagedRow{
		{RowNo: 1, Cells: p2Cells("2507173_01", "1", "T001"), Valid: true},
		{RowNo: 2, Cells: p2Cells("2507173_01", "2", "T002"), Valid: true},
		{RowNo: 3, Cells: p2Cells("9_1", "1", "T003"), Valid: true},
		{RowNo: 4, Cells: p2Cells("bad lot", "", ""), Valid: false},
		{RowNo: 5, Cells: p2Cells("2507173_01", "3", "T004"), Valid: true},
	}}
	records := &stubRecordRepo{}

	result, err := NewService(jobs, records, nil).Import(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	if records.batch == nil {
		t.Fatalf("expected a batch to be written")
	}
	if len(records.batch.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(records.batch.Groups))
	}

	first := records.batch.Groups[0]
	if first.Record.LotNoNorm != "2507173_01" {
		t.Fatalf("expected first-seen group order, got %s", first.Record.LotNoNorm)
	}
	if len(first.Items) != 3 {
		t.Fatalf("expected 3 items in first group, got %d", len(first.Items))
	}
	// row_no keeps file positions, not group positions.
	wantRows := []int{1, 2, 5}
	for i, item := range first.Items {
		if item.RowNo != wantRows[i] {
			t.Fatalf("item %d: expected row_no %d, got %d", i, wantRows[i], item.RowNo)
		}
		if item.RecordID != first.Record.ID {
			t.Fatalf("item %d not linked to its parent", i)
		}
	}

	second := records.batch.Groups[1]
	if second.Record.LotNoNorm != "0000009_01" {
		t.Fatalf("expected normalized lot for second group, got %s", second.Record.LotNoNorm)
	}

	if result.ImportedRows != 4 {
		t.Fatalf("expected 4 imported rows, got %d", result.ImportedRows)
	}
	if result.SkippedRows != 1 {
		t.Fatalf("expected 1 skipped (invalid) row, got %d", result.SkippedRows)
	}
}

func TestImportComposesDeterministicProductIDs(t *testing.T) {
	job := validatedJob(domain.StageP2, 0)
	jobs := &stubJobRepo{job: job, staged: []domain.StagedRow{
		{RowNo: 1, Cells: p2Cells("2507173_01", "1", "T551"), Valid: true},
	}}
	records := &stubRecordRepo{}
	svc := NewService(jobs, records, nil)

	if _, err := svc.Import(context.Background(), job.ID); err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	firstID := records.batch.Groups[0].Items[0].ProductID
	if firstID != "20250717-M-07-MD3-T551" {
		t.Fatalf("unexpected product id %q", firstID)
	}

	// A second run over the same data must compose the identical identifier.
	job2 := validatedJob(domain.StageP2, 0)
	jobs2 := &stubJobRepo{job: job2, staged: jobs.staged}
	records2 := &stubRecordRepo{}
	if _, err := NewService(jobs2, records2, nil).Import(context.Background(), job2.ID); err != nil {
		t.Fatalf("second import returned error: %v", err)
	}
	if got := records2.batch.Groups[0].Items[0].ProductID; got != firstID {
		t.Fatalf("product id not reproducible: %q vs %q", got, firstID)
	}
}

func TestImportRowOrderStrictlyIncreasing(t *testing.T) {
	job := validatedJob(domain.StageP3, 0)
	staged := make([]domain.StagedRow, 0, 20)
	for i := 1; i <= 20; i++ {
		cells := map[string]string{
			"lot_no":          "2507173_02",
			"production_date": "2025-07-17",
			"machine_no":      "M-01",
			"mold_no":         "MD1",
			"unit_no":         "",
			"spec":            "STD",
			"sub_lot_no":      "",
			"quantity":        "1",
		}
		staged = append(staged, domain.StagedRow{RowNo: i, Cells: cells, Valid: true})
	}
	jobs := &stubJobRepo{job: job, staged: staged}
	records := &stubRecordRepo{}

	if _, err := NewService(jobs, records, nil).Import(context.Background(), job.ID); err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	items := records.batch.Groups[0].Items
	if len(items) != 20 {
		t.Fatalf("expected 20 items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].RowNo <= items[i-1].RowNo {
			t.Fatalf("row_no not strictly increasing at %d: %d then %d", i, items[i-1].RowNo, items[i].RowNo)
		}
	}
}

func TestImportRejectsImportedJob(t *testing.T) {
	job := validatedJob(domain.StageP2, 0)
	job.Status = domain.JobStatusImported
	jobs := &stubJobRepo{job: job}
	records := &stubRecordRepo{}

	_, err := NewService(jobs, records, nil).Import(context.Background(), job.ID)
	if !errors.Is(err, domain.ErrJobAlreadyImported) {
		t.Fatalf("expected ErrJobAlreadyImported, got %v", err)
	}
	if records.jobMarked {
		t.Fatalf("no batch should be written for a rejected job")
	}
}

func TestImportRejectsPendingJob(t *testing.T) {
	job := validatedJob(domain.StageP2, 0)
	job.Status = domain.JobStatusPending
	jobs := &stubJobRepo{job: job}

	_, err := NewService(jobs, &stubRecordRepo{}, nil).Import(context.Background(), job.ID)
	if !errors.Is(err, domain.ErrJobNotValidated) {
		t.Fatalf("expected ErrJobNotValidated, got %v", err)
	}
}

func TestImportStorageFailurePropagates(t *testing.T) {
	job := validatedJob(domain.StageP2, 0)
	jobs := &stubJobRepo{job: job, staged: []domain.StagedRow{
		{RowNo: 1, Cells: p2Cells("2507173_01", "1", "T001"), Valid: true},
	}}
	boom := errors.New("connection reset")
	records := &stubRecordRepo{failWith: boom}

	_, err := NewService(jobs, records, nil).Import(context.Background(), job.ID)
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage failure to propagate, got %v", err)
	}
	if records.jobMarked {
		t.Fatalf("failed import must leave the job untouched")
	}
}

func TestImportReportsDuplicates(t *testing.T) {
	job := validatedJob(domain.StageP2, 0)
	jobs := &stubJobRepo{job: job, staged: []domain.StagedRow{
		{RowNo: 1, Cells: p2Cells("2507173_01", "1", "T001"), Valid: true},
		{RowNo: 2, Cells: p2Cells("2507173_01", "2", "T002"), Valid: true},
	}}
	records := &stubRecordRepo{
		outcome:    repository.ImportOutcome{ImportedRows: 1, DuplicateRows: 1},
		outcomeSet: true,
	}

	result, err := NewService(jobs, records, nil).Import(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if result.ImportedRows != 1 || result.DuplicateRows != 1 {
		t.Fatalf("duplicate accounting wrong: %+v", result)
	}
}

func TestImportP1CountsSourceRows(t *testing.T) {
	job := validatedJob(domain.StageP1, 0)
	cells := func(lot string) map[string]string {
		return map[string]string{
			"lot_no":          lot,
			"production_date": "2025-07-17",
			"machine_no":      "M-01",
			"quantity":        "100",
		}
	}
	jobs := &stubJobRepo{job: job, staged: []domain.StagedRow{
		{RowNo: 1, Cells: cells("2507173_00"), Valid: true},
		{RowNo: 2, Cells: cells("2507174_00"), Valid: true},
	}}
	records := &stubRecordRepo{}

	result, err := NewService(jobs, records, nil).Import(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if len(records.batch.Groups) != 2 {
		t.Fatalf("expected 2 P1 groups, got %d", len(records.batch.Groups))
	}
	for _, group := range records.batch.Groups {
		if len(group.Items) != 0 {
			t.Fatalf("P1 groups must have no items")
		}
	}
	if result.ImportedRows != 2 {
		t.Fatalf("expected 2 imported rows, got %d", result.ImportedRows)
	}
}

var _ repository.UploadJobRepository = (*stubJobRepo)(nil)
var _ repository.RecordRepository = (*stubRecordRepo)(nil)

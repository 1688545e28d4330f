package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prodtrace/prodtrace/internal/counter"
	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/repository"
	"github.com/prodtrace/prodtrace/internal/tenant"
)

type stubTenantRepo struct {
	tenants []domain.Tenant
}

func (s *stubTenantRepo) Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	s.tenants = append(s.tenants, t)
	return t, nil
}

func (s *stubTenantRepo) GetByCode(ctx context.Context, code string) (domain.Tenant, error) {
	for _, t := range s.tenants {
		if t.Code == code {
			return t, nil
		}
	}
	return domain.Tenant{}, domain.ErrTenantNotFound
}

func (s *stubTenantRepo) List(ctx context.Context) ([]domain.Tenant, error) {
	return s.tenants, nil
}

type stubJobRepo struct {
	jobs      map[uuid.UUID]domain.UploadJob
	order     []uuid.UUID
	staged    map[uuid.UUID][]domain.StagedRow
	validated map[uuid.UUID][3]int
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{
		jobs:      map[uuid.UUID]domain.UploadJob{},
		staged:    map[uuid.UUID][]domain.StagedRow{},
		validated: map[uuid.UUID][3]int{},
	}
}

func (s *stubJobRepo) Create(ctx context.Context, job domain.UploadJob) (domain.UploadJob, error) {
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job, nil
}

func (s *stubJobRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return domain.UploadJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *stubJobRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.UploadJob, error) {
	var jobs []domain.UploadJob
	for _, id := range s.order {
		if job := s.jobs[id]; job.TenantID == tenantID {
			jobs = append(jobs, job)
		}
	}
	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *stubJobRepo) MarkValidated(ctx context.Context, id uuid.UUID, total, valid, invalid int) error {
	s.validated[id] = [3]int{total, valid, invalid}
	return nil
}

func (s *stubJobRepo) StageRows(ctx context.Context, jobID uuid.UUID, rows []domain.StagedRow) error {
	s.staged[jobID] = rows
	return nil
}

func (s *stubJobRepo) ListValidRows(ctx context.Context, jobID uuid.UUID) ([]domain.StagedRow, error) {
	var valid []domain.StagedRow
	for _, row := range s.staged[jobID] {
		if row.Valid {
			valid = append(valid, row)
		}
	}
	return valid, nil
}

type stubErrorRepo struct {
	errs []domain.ValidationError
}

func (s *stubErrorRepo) CreateBatch(ctx context.Context, errs []domain.ValidationError) error {
	s.errs = append(s.errs, errs...)
	return nil
}

func (s *stubErrorRepo) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.ValidationError, int, error) {
	return s.errs, len(s.errs), nil
}

func singleTenant() *stubTenantRepo {
	return &stubTenantRepo{tenants: []domain.Tenant{
		{ID: uuid.New(), Name: "Plant A", Code: "plant-a", IsActive: true},
	}}
}

func newTestService(tenants *stubTenantRepo, jobs *stubJobRepo, errs *stubErrorRepo) *Service {
	return NewService(tenants, jobs, errs, nil, counter.NewStore(), 0, 0, nil)
}

const p2Header = "lot_no,production_date,machine_no,mold_no,winder_no,spec,quantity,note\n"

func TestUploadValidatesAndStagesRows(t *testing.T) {
	tenants := singleTenant()
	jobs := newStubJobRepo()
	errRepo := &stubErrorRepo{}
	svc := newTestService(tenants, jobs, errRepo)

	csv := p2Header +
		"123_4,2025-07-17,M-03,7,1,SP-100,40,first\n" +
		"123_4,2025-07-17,M-03,7,2,SP-100,-1,bad quantity\n" +
		"123_4,2025-07-17,M-03,7,3,SP-100,42,third\n"

	res, err := svc.Upload(context.Background(), UploadRequest{
		Stage:    "p2",
		FileName: "records.csv",
		Payload:  []byte(csv),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if res.Status != domain.JobStatusValidated {
		t.Fatalf("status = %s, want VALIDATED", res.Status)
	}
	if res.TotalRows != 3 || res.ValidRows != 2 || res.InvalidRows != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", res.TotalRows, res.ValidRows, res.InvalidRows)
	}
	if len(res.SampleErrors) != 1 {
		t.Fatalf("got %d sample errors, want 1", len(res.SampleErrors))
	}
	if res.SampleErrors[0].Code != domain.ErrCodeInvalidValue {
		t.Fatalf("sample error code = %s", res.SampleErrors[0].Code)
	}

	staged := jobs.staged[res.JobID]
	if len(staged) != 3 {
		t.Fatalf("staged %d rows, want 3", len(staged))
	}
	if staged[0].Valid != true || staged[1].Valid != false || staged[2].Valid != true {
		t.Fatalf("staged validity flags = %v %v %v", staged[0].Valid, staged[1].Valid, staged[2].Valid)
	}
	if staged[0].Cells["lot_no"] != "123_4" {
		t.Fatalf("staged cell keeps the raw value, got %q", staged[0].Cells["lot_no"])
	}
	if counts := jobs.validated[res.JobID]; counts != [3]int{3, 2, 1} {
		t.Fatalf("validated counts = %v", counts)
	}
	if len(errRepo.errs) != 1 {
		t.Fatalf("persisted %d errors, want 1", len(errRepo.errs))
	}
}

func TestUploadAllRowsInvalidStillValidates(t *testing.T) {
	svc := newTestService(singleTenant(), newStubJobRepo(), &stubErrorRepo{})

	csv := p2Header +
		",2025-07-17,M-03,7,1,SP-100,40,\n" +
		",2025-07-17,M-03,7,2,SP-100,41,\n"

	res, err := svc.Upload(context.Background(), UploadRequest{
		Stage:    "P2",
		FileName: "records.csv",
		Payload:  []byte(csv),
	})
	if err != nil {
		t.Fatalf("a file full of bad rows must still validate: %v", err)
	}
	if res.Status != domain.JobStatusValidated || res.ValidRows != 0 || res.InvalidRows != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestUploadCapsSampleErrors(t *testing.T) {
	errRepo := &stubErrorRepo{}
	svc := newTestService(singleTenant(), newStubJobRepo(), errRepo)

	var sb strings.Builder
	sb.WriteString(p2Header)
	for i := 0; i < 25; i++ {
		sb.WriteString(",2025-07-17,M-03,7,1,SP-100,40,\n")
	}

	res, err := svc.Upload(context.Background(), UploadRequest{
		Stage:    "P2",
		FileName: "records.csv",
		Payload:  []byte(sb.String()),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.SampleErrors) != maxSampleErrors {
		t.Fatalf("sample = %d errors, want %d", len(res.SampleErrors), maxSampleErrors)
	}
	if len(errRepo.errs) != 25 {
		t.Fatalf("persisted %d errors, want the full set of 25", len(errRepo.errs))
	}
}

func TestUploadRejectsUnknownStage(t *testing.T) {
	svc := newTestService(singleTenant(), newStubJobRepo(), &stubErrorRepo{})

	_, err := svc.Upload(context.Background(), UploadRequest{Stage: "P9", FileName: "x.csv"})
	if !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("err = %v, want ErrUnknownStage", err)
	}
}

func TestUploadUnresolvableTenantFailsBeforeFileWork(t *testing.T) {
	tenants := &stubTenantRepo{tenants: []domain.Tenant{
		{ID: uuid.New(), Code: "plant-a", IsActive: true},
		{ID: uuid.New(), Code: "plant-b", IsActive: true},
	}}
	jobs := newStubJobRepo()
	svc := newTestService(tenants, jobs, &stubErrorRepo{})

	_, err := svc.Upload(context.Background(), UploadRequest{
		Stage:    "P2",
		FileName: "records.csv",
		Payload:  []byte("not even csv"),
	})
	var resolution *tenant.ResolutionError
	if !errors.As(err, &resolution) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if resolution.Reason != tenant.ReasonAmbiguous {
		t.Fatalf("reason = %s, want %s", resolution.Reason, tenant.ReasonAmbiguous)
	}
	if len(jobs.jobs) != 0 {
		t.Fatal("no job must be created when the tenant cannot be resolved")
	}
}

func TestUploadRateLimit(t *testing.T) {
	tenants := singleTenant()
	svc := NewService(tenants, newStubJobRepo(), &stubErrorRepo{}, nil, counter.NewStore(), 2, time.Minute, nil)

	csv := p2Header + "123_4,2025-07-17,M-03,7,1,SP-100,40,\n"
	req := UploadRequest{Stage: "P2", FileName: "records.csv", Payload: []byte(csv)}

	for i := 0; i < 2; i++ {
		if _, err := svc.Upload(context.Background(), req); err != nil {
			t.Fatalf("upload %d: %v", i+1, err)
		}
	}
	if _, err := svc.Upload(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	svc := newTestService(singleTenant(), newStubJobRepo(), &stubErrorRepo{})

	_, err := svc.Upload(context.Background(), UploadRequest{
		Stage:    "P2",
		FileName: "records.pdf",
		Payload:  []byte("%PDF"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

var (
	_ repository.TenantRepository          = (*stubTenantRepo)(nil)
	_ repository.UploadJobRepository       = (*stubJobRepo)(nil)
	_ repository.ValidationErrorRepository = (*stubErrorRepo)(nil)
)

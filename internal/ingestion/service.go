// Package ingestion accepts production-record uploads: it resolves the
// target tenant, decodes the file, validates every row against the stage
// contract and stages the outcome for a later import.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/counter"
	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/importer"
	"github.com/prodtrace/prodtrace/internal/repository"
	"github.com/prodtrace/prodtrace/internal/tenant"
	"github.com/prodtrace/prodtrace/internal/validate"
)

// maxSampleErrors caps the inline error sample of an upload response; the
// full set stays available through the error report endpoints.
const maxSampleErrors = 10

var (
	// ErrRateLimited is returned when a tenant exceeds its upload window.
	ErrRateLimited = errors.New("upload rate limit exceeded")
	// ErrUnknownStage is returned for a stage outside P1/P2/P3.
	ErrUnknownStage = errors.New("unknown production stage")
)

// UploadRequest is one file upload.
type UploadRequest struct {
	TenantHint string
	Stage      string
	FileName   string
	Payload    []byte
}

// UploadResult summarizes the validation outcome of one upload. SampleErrors
// holds at most the first few failures for immediate feedback.
type UploadResult struct {
	JobID        uuid.UUID                `json:"job_id"`
	TenantID     uuid.UUID                `json:"tenant_id"`
	Status       domain.JobStatus         `json:"status"`
	TotalRows    int                      `json:"total_rows"`
	ValidRows    int                      `json:"valid_rows"`
	InvalidRows  int                      `json:"invalid_rows"`
	SampleErrors []domain.ValidationError `json:"sample_errors"`
}

// Service orchestrates the upload lifecycle up to the VALIDATED state and
// delegates the import step.
type Service struct {
	tenants  repository.TenantRepository
	jobs     repository.UploadJobRepository
	errs     repository.ValidationErrorRepository
	importer *importer.Service

	guard        *counter.Store
	uploadLimit  int
	uploadWindow time.Duration

	logger *zap.Logger
}

// NewService wires the upload pipeline. A zero uploadLimit disables the rate
// guard.
func NewService(
	tenants repository.TenantRepository,
	jobs repository.UploadJobRepository,
	errs repository.ValidationErrorRepository,
	imp *importer.Service,
	guard *counter.Store,
	uploadLimit int,
	uploadWindow time.Duration,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = counter.NewStore()
	}
	return &Service{
		tenants:      tenants,
		jobs:         jobs,
		errs:         errs,
		importer:     imp,
		guard:        guard,
		uploadLimit:  uploadLimit,
		uploadWindow: uploadWindow,
		logger:       logger,
	}
}

// Upload decodes and validates one file. Every row is checked and every
// failure recorded; a file full of bad rows still produces a VALIDATED job
// with zero importable rows. The tenant is resolved before any file work so
// an unresolvable hint fails fast.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	stage := domain.Stage(strings.ToUpper(strings.TrimSpace(req.Stage)))
	if !stage.Valid() {
		return UploadResult{}, fmt.Errorf("%w: %q", ErrUnknownStage, req.Stage)
	}

	snapshot, err := s.tenants.List(ctx)
	if err != nil {
		return UploadResult{}, fmt.Errorf("load tenant directory: %w", err)
	}
	resolved, err := tenant.Resolve(req.TenantHint, snapshot)
	if err != nil {
		return UploadResult{}, err
	}

	if !s.guard.Allow(resolved.ID.String(), s.uploadLimit, s.uploadWindow) {
		return UploadResult{}, ErrRateLimited
	}

	rows, err := DecodeFile(req.FileName, req.Payload)
	if err != nil {
		return UploadResult{}, err
	}

	job, err := s.jobs.Create(ctx, domain.NewUploadJob(resolved.ID, stage, req.FileName))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create upload job: %w", err)
	}

	result := validate.Rows(job.ID, stage, rows)
	if len(result.Errors) > 0 {
		if err := s.errs.CreateBatch(ctx, result.Errors); err != nil {
			return UploadResult{}, fmt.Errorf("persist validation errors: %w", err)
		}
	}

	validSet := make(map[int]bool, len(result.Valid))
	for _, v := range result.Valid {
		validSet[v.RowNo] = true
	}
	staged := make([]domain.StagedRow, 0, len(rows))
	for _, row := range rows {
		staged = append(staged, domain.StagedRow{
			RowNo: row.Index,
			Cells: row.Cells,
			Valid: validSet[row.Index],
		})
	}
	if err := s.jobs.StageRows(ctx, job.ID, staged); err != nil {
		return UploadResult{}, fmt.Errorf("stage rows: %w", err)
	}

	total := len(rows)
	valid := len(result.Valid)
	if err := s.jobs.MarkValidated(ctx, job.ID, total, valid, total-valid); err != nil {
		return UploadResult{}, fmt.Errorf("mark job validated: %w", err)
	}

	sample := result.Errors
	if len(sample) > maxSampleErrors {
		sample = sample[:maxSampleErrors]
	}
	if sample == nil {
		sample = []domain.ValidationError{}
	}

	s.logger.Info("upload validated",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant", resolved.Code),
		zap.String("stage", string(stage)),
		zap.Int("total_rows", total),
		zap.Int("valid_rows", valid),
		zap.Int("invalid_rows", total-valid),
	)

	return UploadResult{
		JobID:        job.ID,
		TenantID:     resolved.ID,
		Status:       domain.JobStatusValidated,
		TotalRows:    total,
		ValidRows:    valid,
		InvalidRows:  total - valid,
		SampleErrors: sample,
	}, nil
}

// Import promotes a VALIDATED job into live records.
func (s *Service) Import(ctx context.Context, jobID uuid.UUID) (importer.Result, error) {
	return s.importer.Import(ctx, jobID)
}

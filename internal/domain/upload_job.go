package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the upload job lifecycle. Transitions only move forward:
// PENDING -> VALIDATED -> IMPORTED.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusValidated JobStatus = "VALIDATED"
	JobStatusImported  JobStatus = "IMPORTED"
)

// UploadJob represents one file-ingestion attempt. It is owned by the tenant
// that created it and is mutated only by validation (status + counts) and
// import (final status + counts).
type UploadJob struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Stage       Stage     `json:"stage"`
	FileName    string    `json:"file_name"`
	Status      JobStatus `json:"status"`
	TotalRows   int       `json:"total_rows"`
	ValidRows   int       `json:"valid_rows"`
	InvalidRows int       `json:"invalid_rows"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUploadJob creates a pending job for one uploaded file.
func NewUploadJob(tenantID uuid.UUID, stage Stage, fileName string) UploadJob {
	now := time.Now()
	return UploadJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Stage:     stage,
		FileName:  fileName,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorCode classifies a single failed cell.
type ErrorCode string

const (
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeRequiredField ErrorCode = "REQUIRED_FIELD"
	ErrCodeInvalidValue  ErrorCode = "INVALID_VALUE"
	ErrCodeOutOfRange    ErrorCode = "OUT_OF_RANGE"
)

// ValidationError records one failing cell of an upload. RowIndex is 1-based
// and excludes the header row. Entries are immutable once created and live as
// long as their owning job.
type ValidationError struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	RowIndex  int       `json:"row_index"`
	Field     string    `json:"field"`
	Code      ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewValidationError creates an error entry for one cell.
func NewValidationError(jobID uuid.UUID, rowIndex int, field string, code ErrorCode, message string) ValidationError {
	return ValidationError{
		ID:        uuid.New(),
		JobID:     jobID,
		RowIndex:  rowIndex,
		Field:     field,
		Code:      code,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

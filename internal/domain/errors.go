package domain

import "errors"

var (
	// ErrJobNotValidated is returned when import is requested for a job that
	// has not completed validation.
	ErrJobNotValidated = errors.New("upload job has not been validated")

	// ErrJobAlreadyImported rejects re-import of an IMPORTED job. Idempotency
	// is enforced at the job-state level, never by silently re-writing.
	ErrJobAlreadyImported = errors.New("upload job already imported")

	// ErrJobNotFound is returned when a job id does not resolve.
	ErrJobNotFound = errors.New("upload job not found")

	// ErrItemNotFound is returned when a traceability query names a product
	// identifier with no live item.
	ErrItemNotFound = errors.New("item not found")

	// ErrTenantExists is returned when bootstrap reuses a tenant code.
	ErrTenantExists = errors.New("tenant code already exists")

	// ErrTenantNotFound is returned when a tenant code does not resolve.
	ErrTenantNotFound = errors.New("tenant not found")
)

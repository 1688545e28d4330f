package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary for every job, record and query in the
// system. Tenants are created through an explicit bootstrap operation and are
// never auto-created on the import or query paths.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	IsDefault bool      `json:"is_default"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTenant creates an active tenant. At most one active tenant may carry
// is_default; the storage layer enforces that with a partial unique index.
func NewTenant(name, code string, isDefault bool) Tenant {
	now := time.Now()
	return Tenant{
		ID:        uuid.New(),
		Name:      name,
		Code:      code,
		IsDefault: isDefault,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

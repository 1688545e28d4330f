// Package tenant resolves the active tenant scope for a request. Resolution
// is a pure function over a snapshot of the tenant directory; it never writes
// and is safe to call concurrently.
package tenant

import (
	"fmt"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// Resolution failure reasons, machine readable so callers can prompt for an
// explicit tenant choice.
const (
	ReasonNotFound  = "TENANT_NOT_FOUND"
	ReasonAmbiguous = "TENANT_AMBIGUOUS"
)

// ResolutionError reports why no tenant scope could be established.
// ZeroTenants distinguishes the empty-directory case from the
// multiple-without-default case for caller diagnostics.
type ResolutionError struct {
	Reason      string `json:"reason"`
	ZeroTenants bool   `json:"zero_tenants"`
	Hint        string `json:"hint,omitempty"`
}

func (e *ResolutionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %q", e.Reason, e.Hint)
	}
	if e.ZeroTenants {
		return e.Reason + ": no active tenants"
	}
	return e.Reason
}

// Resolve picks the active tenant for a request. The rules run in fixed
// priority order:
//
//  1. hint resolves to an active tenant -> use it
//  2. hint supplied but unresolvable -> TENANT_NOT_FOUND
//  3. exactly one active tenant -> use it
//  4. multiple active tenants, exactly one default -> use the default
//  5. otherwise -> TENANT_AMBIGUOUS (zero-tenant case flagged)
//
// The hint matches a tenant's code or its id string.
func Resolve(hint string, snapshot []domain.Tenant) (domain.Tenant, error) {
	active := make([]domain.Tenant, 0, len(snapshot))
	for _, t := range snapshot {
		if t.IsActive {
			active = append(active, t)
		}
	}

	if hint != "" {
		for _, t := range active {
			if t.Code == hint || t.ID.String() == hint {
				return t, nil
			}
		}
		return domain.Tenant{}, &ResolutionError{Reason: ReasonNotFound, Hint: hint}
	}

	if len(active) == 1 {
		return active[0], nil
	}

	if len(active) > 1 {
		var def *domain.Tenant
		defaults := 0
		for i := range active {
			if active[i].IsDefault {
				defaults++
				def = &active[i]
			}
		}
		if defaults == 1 {
			return *def, nil
		}
	}

	return domain.Tenant{}, &ResolutionError{
		Reason:      ReasonAmbiguous,
		ZeroTenants: len(active) == 0,
	}
}

package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantID scopes every database read.
type TenantID string

// DefaultTenant is used when no tenant is configured.
const DefaultTenant TenantID = "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"

// ParseTenantID validates and normalises a tenant identifier.
func ParseTenantID(s string) (TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid tenant id %q: %w", s, err)
	}
	return TenantID(id.String()), nil
}

func (t TenantID) String() string { return string(t) }

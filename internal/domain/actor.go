package domain

// Actor is an authenticated administrator acting on behalf of a tenant.
type Actor struct {
	Subject  string
	TenantID string
}

func (a Actor) Owns(tenantID string) bool {
	return a.TenantID != "" && a.TenantID == tenantID
}

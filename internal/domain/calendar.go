package domain

// Calendar is one calendar a tenant can select as the target of its bookings.
type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary"`
}

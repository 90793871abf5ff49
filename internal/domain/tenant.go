package domain

import "time"

// Tenant is the isolation boundary for all tracking data. The ID is an
// opaque string that appears in every tracking URL.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

package domain

import "time"

// Email is a tracked message owned by exactly one tenant.
type Email struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Subject   *string   `json:"subject,omitempty"`
	Recipient *string   `json:"recipient,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

package domain

import "time"

// AuditLog represents one recorded identity-lifecycle event.
type AuditLog struct {
	ID        string
	Actor     string // identity key or "_system" for scheduled jobs
	Action    string // e.g. otp.generated, identity.converted
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

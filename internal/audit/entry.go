package audit

import (
	"context"
	"time"
)

// Actions recorded by the identity & access subsystem.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionPasswordChange = "password_change"
	ActionCreateUser     = "create_user"
	ActionUpdateUser     = "update_user"
)

// EntityOfficial is the entity type used for official records.
const EntityOfficial = "official"

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Entry is an immutable audit record.
type Entry struct {
	ID         string         `json:"id"`
	OfficialID *string        `json:"official_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	OfficialID string
	Action     string
	EntityType string
	EntityID   string
	Since      time.Time
	Until      time.Time
}

// Store appends and reads audit entries. Implementations never update or delete.
type Store interface {
	AppendAuditEntry(ctx context.Context, e Entry) error
	QueryAuditEntries(ctx context.Context, f Filter, limit int) ([]Entry, error)
}

// Publisher forwards stored entries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Actor returns a pointer suitable for Entry.OfficialID; empty ids yield nil.
func Actor(officialID string) *string {
	if officialID == "" {
		return nil
	}
	return &officialID
}

// NormalizeLimit applies the default and the upper bound to a requested limit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueryLimit
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return limit
	}
}

package auth

import "time"

// Official is a government user account of the portal.
type Official struct {
	ID                 string     `json:"id"`
	EmployeeCode       string     `json:"employee_code"`
	FullName           string     `json:"full_name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone,omitempty"`
	PasswordHash       string     `json:"-"`
	Department         string     `json:"department,omitempty"`
	Rank               string     `json:"rank,omitempty"`
	RankTitle          string     `json:"rank_title,omitempty"`
	RankLevel          int        `json:"rank_level,omitempty"`
	OfficeLocation     string     `json:"office_location,omitempty"`
	IsSuperAdmin       bool       `json:"is_super_admin"`
	IsActive           bool       `json:"is_active"`
	AccountLocked      bool       `json:"account_locked"`
	MustChangePassword bool       `json:"must_change_password"`
	FailedLoginCount   int        `json:"failed_login_count"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	Grants             Grants     `json:"grants"`
	SupervisorID       *string    `json:"supervisor_id,omitempty"`
	CreatedBy          *string    `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Session is a live authentication grant. Only the hash of the bearer token is kept.
type Session struct {
	ID             string    `json:"id"`
	OfficialID     string    `json:"official_id"`
	TokenHash      string    `json:"-"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Expired reports whether the session is no longer usable at instant now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ClientInfo is optional request metadata attached to sessions and audit entries.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Rank is a descriptive hierarchical title. Level 1 is the highest authority.
type Rank struct {
	Code  string `json:"code" yaml:"code"`
	Title string `json:"title" yaml:"title"`
	Level int    `json:"level" yaml:"level"`
}

// OfficialUpdate carries the fields a store should overwrite; nil means untouched.
type OfficialUpdate struct {
	FullName       *string
	Email          *string
	Phone          *string
	Department     *string
	Rank           *string
	OfficeLocation *string
	SupervisorID   *string // empty string clears the supervisor
	IsActive       *bool
	AccountLocked  *bool
	IsSuperAdmin   *bool
	Grants         map[Capability]bool
}

// Empty reports whether the update changes no column besides updated_at.
func (u OfficialUpdate) Empty() bool {
	return u.FullName == nil && u.Email == nil && u.Phone == nil && u.Department == nil &&
		u.Rank == nil && u.OfficeLocation == nil && u.SupervisorID == nil && u.IsActive == nil &&
		u.AccountLocked == nil && u.IsSuperAdmin == nil && len(u.Grants) == 0
}

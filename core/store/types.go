package store

import "time"

type Admin struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	Role               string     `json:"role"`
	Avatar             string     `json:"avatar"`
	PasswordHash       string     `json:"-"`
	MustChangePassword bool       `json:"must_change_password"`
	Active             bool       `json:"is_active"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SessionRecord snapshots the identity at login; edits to the account show up on the next login.
type SessionRecord struct {
	ID           string    `json:"-"`
	AdminID      int64     `json:"admin_id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	Avatar       string    `json:"avatar"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type CSRFToken struct {
	BindingID string
	Token     string
	IssuedAt  time.Time
}

type AttemptRecord struct {
	Identifier  string
	Failures    int
	LockedUntil time.Time
	UpdatedAt   time.Time
}

type AuditEntry struct {
	ID           int64     `json:"id"`
	ActorID      int64     `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuditFilter struct {
	ActorID      int64
	ResourceType string
	ResourceID   int64
	Action       string
	Since        *time.Time
	Until        *time.Time
	Limit        int
}

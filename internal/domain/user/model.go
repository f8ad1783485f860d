package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

// Auth provider values stored in users.auth_provider.
const (
	ProviderLocal = "local"
	ProviderOIDC  = "oidc"
)

// User maps to the users table. PasswordHash and ExternalID never leave the
// API.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Role         string     `db:"role" json:"role"`
	Specialty    *string    `db:"specialty" json:"specialty,omitempty"`
	AuthProvider string     `db:"auth_provider" json:"auth_provider"`
	ExternalID   *string    `db:"external_id" json:"-"`
	AvatarURL    *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts, tolerating either being empty.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsProvider reports whether the user can appear as a doctor.
func (u *User) IsProvider() bool { return u.Role == auth.RoleProvider }

// ValidRole reports whether role is one of the three known roles.
func ValidRole(role string) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleProvider, auth.RolePatient:
		return true
	}
	return false
}

// RegisterRequest is the POST /auth/register payload.
type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Role      string  `json:"role"`
	Specialty *string `json:"specialty,omitempty"`
}

// Normalize canonicalizes fields before validation and storage.
func (r *RegisterRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = auth.RolePatient
	}
}

// Validate checks the payload. Registration never creates admins; those come
// from the CLI or an existing admin.
func (r *RegisterRequest) Validate() error {
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return respond.BadRequest("a valid email is required")
	}
	if r.FirstName == "" || r.LastName == "" {
		return respond.BadRequest("first_name and last_name are required")
	}
	if r.Role != auth.RolePatient && r.Role != auth.RoleProvider {
		return respond.BadRequest("role must be PATIENT or PROVIDER")
	}
	return nil
}

// LoginRequest is the POST /auth/login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateRequest carries a partial user update; nil fields are left untouched.
// Role and IsActive changes are admin-only.
type UpdateRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      *string `json:"role,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

// AuthResponse is returned by register, login, and sync.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// Filter narrows user listings.
type Filter struct {
	Query  string // substring match on email and names
	Role   string
	Active *bool
}

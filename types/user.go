package types

import (
	"time"

	"github.com/google/uuid"
)

// Roles recognised by the access gate.
const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleOwner      = "owner"
	RoleSecurity   = "security"
)

// User represents a resident, guard or administrator account.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address. It is unique across accounts.
	Email string `json:"email" db:"email"`

	// Name and LastName make up the user's display name.
	Name     string `json:"name" db:"name"`
	LastName string `json:"lastName" db:"last_name"`

	// Role indicates the user's authorization level within the facility
	// (e.g., "owner", "security", "admin", "superadmin").
	Role string `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Verified is set once the user follows the verification email link.
	Verified bool `json:"verified" db:"verified"`

	// LastLogin is the timestamp of the most recent successful sign-in.
	LastLogin time.Time `json:"lastLogin" db:"last_login"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// FullName joins the user's first and last name.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.Name
	}
	return u.Name + " " + u.LastName
}

// RegistrationRequest is the public sign-up payload.
type RegistrationRequest struct {
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

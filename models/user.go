package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role of a storefront account
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleVendor   UserRole = "vendor"
	RoleAdmin    UserRole = "admin"
)

// Valid reports whether r is one of the known roles
func (r UserRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

// User represents a storefront account. The row is keyed by the identity
// provider's subject and is looked up after a Principal is established.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CognitoSub  string    `json:"cognito_sub" db:"cognito_sub"` // Cognito user identifier
	Email       string    `json:"email" db:"email"`
	Name        string    `json:"name" db:"name"`
	FamilyName  string    `json:"family_name" db:"family_name"`
	PhoneNumber string    `json:"phone_number,omitempty" db:"phone_number"`
	Role        UserRole  `json:"role" db:"role"`
	IsValid     bool      `json:"is_valid" db:"is_valid"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NewUser creates a new customer account. IsValid stays false until the
// sign-up is confirmed.
func NewUser(cognitoSub, email, name, familyName string) *User {
	now := time.Now()
	return &User{
		ID:         uuid.New(),
		CognitoSub: cognitoSub,
		Email:      email,
		Name:       name,
		FamilyName: familyName,
		Role:       RoleCustomer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Touch bumps UpdatedAt
func (u *User) Touch() {
	u.UpdatedAt = time.Now()
}

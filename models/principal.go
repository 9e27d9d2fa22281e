package models

import "time"

// Principal is the verified identity attached to a request after authentication.
// It lives for one request and is never persisted.
type Principal struct {
	Subject   string    `json:"sub"`
	Role      UserRole  `json:"role,omitempty"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	TokenUse  string    `json:"token_use,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasRole checks if the principal has a specific role
func (p *Principal) HasRole(role UserRole) bool {
	return p.Role == role
}

// HasAnyRole checks if the principal has any of the specified roles
func (p *Principal) HasAnyRole(roles ...UserRole) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

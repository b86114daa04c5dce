package models

// Role names with special meaning inside the gateway. Any other role string
// carried by a token is accepted and forwarded unchanged.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is the verified caller attached to a request after successful
// authentication. It lives for exactly one request and is never persisted.
type Identity struct {
	Subject     string `json:"subject"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

// IsZero reports whether no identity was established.
func (id Identity) IsZero() bool {
	return id.Subject == ""
}

// HasRole returns true when the identity carries the given role. Admin
// satisfies every role check.
func (id Identity) HasRole(role string) bool {
	if id.IsZero() {
		return false
	}
	return id.Role == role || id.Role == RoleAdmin
}

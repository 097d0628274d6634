package identity

import "time"

// Role is a capability grantable to a principal. Admin may grant and revoke
// every role, including admin itself.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleManufacturer  Role = "manufacturer"
	RoleRetailer      Role = "retailer"
	RoleServiceCenter Role = "service_center"
)

// Principal is the domain representation of any identity capable of holding
// roles or owning product records. It mirrors the principals table and
// carries no JSON annotations so it can be reused by different presentation
// layers.
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// RoleGrant records one (principal, role) capability edge.
type RoleGrant struct {
	PrincipalID string
	Role        Role
	GrantedBy   *string
	GrantedAt   time.Time
}

// RegisterRequest contains principal registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest contains principal login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func isValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManufacturer, RoleRetailer, RoleServiceCenter:
		return true
	default:
		return false
	}
}

package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Tenancy invariant: PharmacyID must be present for pharmacy-role activity.
// Platform staff (finance, admin, super_admin) act without a pharmacy scope;
// their authorization is enforced server-side via internal/rbac.
type Claims struct {
	jwt.RegisteredClaims

	UserID     string    `json:"user_id"`
	PharmacyID string    `json:"pharmacy_id,omitempty"`
	Role       string    `json:"role"`
	TokenType  TokenType `json:"token_type"`
}

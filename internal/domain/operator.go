package domain

import "errors"

// Role is an API caller's permission level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator" // submits intents
	RoleSigner   Role = "signer"   // signs or rejects approvals
	RoleViewer   Role = "viewer"
)

// Operator is an authenticated API caller.
type Operator struct {
	ID   string
	Role Role
}

// Authentication errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrForbidden    = errors.New("insufficient permissions")
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleSigner, RoleViewer:
		return true
	}
	return false
}

// Allows reports whether an operator with role r may act as required.
// Admin may act as any role and every valid role may view.
func (r Role) Allows(required Role) bool {
	if required == RoleViewer {
		return r.IsValid()
	}
	return r == RoleAdmin || r == required
}

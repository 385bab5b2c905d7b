// Package auth implements bearer-token authentication (HS256 JWT) and
// role-based authorization for the gateway.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Permission names form a closed set; handlers guard on these.
const (
	PermMessageSend   = "message:send"
	PermMessageRead   = "message:read"
	PermMessageDelete = "message:delete"
	PermNodeStatus    = "node:status"
	PermNodeManage    = "node:manage"
	PermConfigWrite   = "config:write"
	PermAuditRead     = "audit:read"
	PermAuditExport   = "audit:export"
	PermInternalCall  = "internal:call"
)

// Role is the coarse access tier carried in the token.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleService    Role = "service"
)

// rolePermissions is the closed role to permission mapping. Each tier
// except service is a superset of the one before it.
var rolePermissions = map[Role][]string{
	RoleOperator: {PermMessageSend, PermMessageRead, PermNodeStatus},
	RoleSupervisor: {
		PermMessageSend, PermMessageRead, PermNodeStatus,
		PermMessageDelete, PermAuditRead,
	},
	RoleAdmin: {
		PermMessageSend, PermMessageRead, PermNodeStatus,
		PermMessageDelete, PermAuditRead,
		PermNodeManage, PermConfigWrite, PermAuditExport,
	},
	RoleService: {PermMessageSend, PermMessageRead, PermNodeStatus, PermInternalCall},
}

// PermissionsFor returns the permission set for a role. Unknown roles
// get nothing.
func PermissionsFor(role Role) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Claims are the JWT claims the gateway recognizes. An explicit
// permissions claim overrides the role mapping.
type Claims struct {
	jwt.RegisteredClaims
	NodeID              string   `json:"node_id,omitempty"`
	Role                Role     `json:"role,omitempty"`
	Permissions         []string `json:"permissions,omitempty"`
	ClassificationLevel string   `json:"classification_level,omitempty"`
}

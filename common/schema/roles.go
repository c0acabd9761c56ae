/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

// Operator roles carried in broker API tokens
//
//goland:noinspection GoUnusedConst
const (
	RoleNone = iota
	RoleAuditor
	RoleOperator
	RoleAdmin
)

var (
	RolesAll    = []int{RoleAuditor, RoleOperator, RoleAdmin}
	RolesSubmit = []int{RoleOperator, RoleAdmin}
)

// RoleName returns a printable role name
func RoleName(role int) string {
	switch role {
	case RoleAuditor:
		return "auditor"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// RoleFromName is the inverse of RoleName
func RoleFromName(name string) int {
	switch name {
	case "auditor":
		return RoleAuditor
	case "operator":
		return RoleOperator
	case "admin":
		return RoleAdmin
	default:
		return RoleNone
	}
}

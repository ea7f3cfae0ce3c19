package rbac

import (
	"fmt"

	"tasksync/internal/model"
)

// Permissions for operations that are not field-level task edits.
const (
	PermissionCreateTask         = "task:create"
	PermissionDeleteTask         = "task:delete"
	PermissionUpdateNotification = "notification:update"
	PermissionManageProfile      = "profile:manage"
)

var rolePermissions = map[model.Role][]string{
	model.RoleMember: {
		PermissionUpdateNotification,
	},
	model.RoleAdmin: {
		PermissionCreateTask,
		PermissionDeleteTask,
		PermissionUpdateNotification,
		PermissionManageProfile,
	},
}

// memberFields are the only task fields a member may change, and only on
// tasks assigned to them.
var memberFields = map[model.TaskField]bool{
	model.FieldProgress:    true,
	model.FieldMemberNotes: true,
	model.FieldStatus:      true,
}

// CanMutate reports whether actor may change field on task.
func CanMutate(actor model.Identity, task model.Task, field model.TaskField) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleMember:
		return memberFields[field] && task.AssignedToName(actor.Name)
	default:
		return false
	}
}

// CheckFields returns the first field of fields actor may not change.
func CheckFields(actor model.Identity, task model.Task, fields []model.TaskField) error {
	for _, f := range fields {
		if !CanMutate(actor, task, f) {
			return &PermissionDeniedError{
				Actor:      actor.Name,
				Role:       actor.Role,
				Permission: "task:update:" + string(f),
			}
		}
	}
	return nil
}

func HasPermission(role model.Role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

func CheckPermission(actor model.Identity, permission string) error {
	if !HasPermission(actor.Role, permission) {
		return &PermissionDeniedError{
			Actor:      actor.Name,
			Role:       actor.Role,
			Permission: permission,
		}
	}
	return nil
}

type PermissionDeniedError struct {
	Actor      string
	Role       model.Role
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions: %s may not %s", e.Role, e.Permission)
}

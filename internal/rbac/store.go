package rbac

import "context"

// Store defines the persistence operations the engine needs. The pgx
// implementation lives in repo.sql.go; tests provide an in-memory one.
//
// Implementations must be safe for concurrent readers. ErrNotFound is
// returned for missing records; duplicate keys surface as ValidationError.
type Store interface {
	// Permission catalog.
	PermissionByPair(ctx context.Context, resource, action string) (Permission, error)
	InsertPermission(ctx context.Context, p Permission) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)

	// Role graph.
	RoleByID(ctx context.Context, id int64) (Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	InsertRole(ctx context.Context, r Role) (Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context) ([]Role, error)

	// Role permission set.
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error

	// Assignments. InsertAssignment and SetAssignmentPrimary clear any
	// competing primary flag within the role's entity scope in the same
	// transaction when the assignment is marked primary.
	Assignment(ctx context.Context, userID, roleID int64) (UserRole, error)
	InsertAssignment(ctx context.Context, ur UserRole, scope *EntityScope) (UserRole, error)
	SetAssignmentPrimary(ctx context.Context, userID, roleID int64, primary bool, scope *EntityScope) error
	DeleteAssignment(ctx context.Context, userID, roleID int64) (bool, error)
	ActiveAssignments(ctx context.Context, userID int64) ([]AssignedRole, error)
	AssignmentsForRole(ctx context.Context, roleID int64) ([]UserRole, error)
	TransferAssignments(ctx context.Context, fromRoleID, toRoleID int64) ([]int64, error)

	// Principals.
	UserFlags(ctx context.Context, userID int64) (UserFlags, error)

	// Permission-change audit trail.
	InsertPermissionChange(ctx context.Context, change PermissionChange) error
}

package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const uniqueViolation = "23505"

func mapInsertErr(err error, field string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return validationf(field, "already exists")
	}
	return err
}

// PermissionByPair fetches a permission by its (resource, action) identity.
func (r *Repository) PermissionByPair(ctx context.Context, resource, action string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, resource, action, code, description FROM permissions WHERE resource = $1 AND action = $2`,
		resource, action,
	).Scan(&p.ID, &p.Resource, &p.Action, &p.Code, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// InsertPermission persists a new permission row.
func (r *Repository) InsertPermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (resource, action, code, description) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Resource, p.Action, p.Code, p.Description,
	).Scan(&p.ID)
	if err != nil {
		return Permission{}, mapInsertErr(err, "permission")
	}
	return p, nil
}

// ListPermissions returns the whole catalog ordered by code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, resource, action, code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// PermissionsByIDs returns the permissions matching the given identifiers.
func (r *Repository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, resource, action, code, description FROM permissions WHERE id = ANY($1) ORDER BY code`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Code, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

const roleColumns = `id, name, description, role_class, weight, is_active, is_system, scope_type, scope_id, parent_id, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var (
		role      Role
		class     string
		scopeType *string
		scopeID   *int64
	)
	err := row.Scan(&role.ID, &role.Name, &role.Description, &class, &role.Weight,
		&role.IsActive, &role.IsSystem, &scopeType, &scopeID, &role.ParentID,
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	role.Class = RoleClass(class)
	if scopeType != nil && scopeID != nil {
		role.Scope = &EntityScope{Type: ScopeType(*scopeType), ID: *scopeID}
	}
	return role, nil
}

func roleScopeArgs(role Role) (scopeType *string, scopeID *int64) {
	if role.Scope != nil {
		t := string(role.Scope.Type)
		scopeType, scopeID = &t, &role.Scope.ID
	}
	return scopeType, scopeID
}

// RoleByID fetches a role.
func (r *Repository) RoleByID(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// RoleByName fetches a role by its unique name.
func (r *Repository) RoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// InsertRole persists a new role.
func (r *Repository) InsertRole(ctx context.Context, role Role) (Role, error) {
	scopeType, scopeID := roleScopeArgs(role)
	saved, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, role_class, weight, is_active, is_system, scope_type, scope_id, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+roleColumns,
		role.Name, role.Description, string(role.Class), role.Weight,
		role.IsActive, role.IsSystem, scopeType, scopeID, role.ParentID,
	))
	if err != nil {
		return Role{}, mapInsertErr(err, "role")
	}
	return saved, nil
}

// UpdateRole persists role mutations.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	scopeType, scopeID := roleScopeArgs(role)
	return scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles
		 SET name = $2, description = $3, role_class = $4, weight = $5, is_active = $6,
		     scope_type = $7, scope_id = $8, parent_id = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, string(role.Class), role.Weight,
		role.IsActive, scopeType, scopeID, role.ParentID,
	))
}

// DeleteRole removes a role; assignments cascade via foreign keys.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRoles returns all roles ordered by id.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// RolePermissions returns the role's directly attached permissions.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.resource, p.action, p.code, p.description
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// AttachPermission links a permission to a role, idempotently.
func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return err
}

// DetachPermission removes a permission from a role.
func (r *Repository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// Assignment fetches a single user-role link.
func (r *Repository) Assignment(ctx context.Context, userID, roleID int64) (UserRole, error) {
	var ur UserRole
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, role_id, is_primary, assigned_at, assigned_by FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	).Scan(&ur.UserID, &ur.RoleID, &ur.IsPrimary, &ur.AssignedAt, &ur.AssignedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRole{}, ErrNotFound
		}
		return UserRole{}, err
	}
	return ur, nil
}

// InsertAssignment creates a user-role link. When the link is primary the
// competing primary flags within the same entity scope are cleared in the
// same transaction, so readers never observe two primaries.
func (r *Repository) InsertAssignment(ctx context.Context, ur UserRole, scope *EntityScope) (UserRole, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return UserRole{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if ur.IsPrimary {
		if err := clearPrimaryTx(ctx, tx, ur.UserID, scope); err != nil {
			return UserRole{}, err
		}
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO user_roles (user_id, role_id, is_primary, assigned_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING user_id, role_id, is_primary, assigned_at, assigned_by`,
		ur.UserID, ur.RoleID, ur.IsPrimary, ur.AssignedBy,
	).Scan(&ur.UserID, &ur.RoleID, &ur.IsPrimary, &ur.AssignedAt, &ur.AssignedBy)
	if err != nil {
		return UserRole{}, mapInsertErr(err, "assignment")
	}
	if err := tx.Commit(ctx); err != nil {
		return UserRole{}, err
	}
	return ur, nil
}

// SetAssignmentPrimary flips the primary flag on an existing link, clearing
// competitors within the scope first when promoting.
func (r *Repository) SetAssignmentPrimary(ctx context.Context, userID, roleID int64, primary bool, scope *EntityScope) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if primary {
		if err := clearPrimaryTx(ctx, tx, userID, scope); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx,
		`UPDATE user_roles SET is_primary = $3 WHERE user_id = $1 AND role_id = $2`,
		userID, roleID, primary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func clearPrimaryTx(ctx context.Context, tx pgx.Tx, userID int64, scope *EntityScope) error {
	scopeType, scopeID := roleScopeArgs(Role{Scope: scope})
	_, err := tx.Exec(ctx,
		`UPDATE user_roles ur SET is_primary = FALSE
		 FROM roles ro
		 WHERE ur.role_id = ro.id AND ur.user_id = $1 AND ur.is_primary
		   AND ro.scope_type IS NOT DISTINCT FROM $2
		   AND ro.scope_id IS NOT DISTINCT FROM $3`,
		userID, scopeType, scopeID)
	return err
}

// DeleteAssignment removes a link and reports whether one existed.
func (r *Repository) DeleteAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ActiveAssignments returns the user's assignments joined with their active roles.
func (r *Repository) ActiveAssignments(ctx context.Context, userID int64) ([]AssignedRole, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ur.user_id, ur.role_id, ur.is_primary, ur.assigned_at, ur.assigned_by, `+prefixedRoleColumns("ro")+`
		 FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ur.user_id = $1 AND ro.is_active
		 ORDER BY ur.role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssignedRole
	for rows.Next() {
		var (
			ar        AssignedRole
			class     string
			scopeType *string
			scopeID   *int64
		)
		if err := rows.Scan(&ar.UserID, &ar.RoleID, &ar.IsPrimary, &ar.AssignedAt, &ar.AssignedBy,
			&ar.Role.ID, &ar.Role.Name, &ar.Role.Description, &class, &ar.Role.Weight,
			&ar.Role.IsActive, &ar.Role.IsSystem, &scopeType, &scopeID, &ar.Role.ParentID,
			&ar.Role.CreatedAt, &ar.Role.UpdatedAt); err != nil {
			return nil, err
		}
		ar.Role.Class = RoleClass(class)
		if scopeType != nil && scopeID != nil {
			ar.Role.Scope = &EntityScope{Type: ScopeType(*scopeType), ID: *scopeID}
		}
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func prefixedRoleColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.description, ` + alias + `.role_class, ` +
		alias + `.weight, ` + alias + `.is_active, ` + alias + `.is_system, ` + alias + `.scope_type, ` +
		alias + `.scope_id, ` + alias + `.parent_id, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// AssignmentsForRole lists every link for one role.
func (r *Repository) AssignmentsForRole(ctx context.Context, roleID int64) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, role_id, is_primary, assigned_at, assigned_by FROM user_roles WHERE role_id = $1 ORDER BY user_id`,
		roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		var ur UserRole
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.IsPrimary, &ur.AssignedAt, &ur.AssignedBy); err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferAssignments moves every holder of fromRole to toRole in one
// transaction. New links are never primary. Returns the moved user ids.
func (r *Repository) TransferAssignments(ctx context.Context, fromRoleID, toRoleID int64) ([]int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM user_roles WHERE role_id = $1 RETURNING user_id`, fromRoleID)
	if err != nil {
		return nil, err
	}
	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, userID := range userIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id, is_primary) VALUES ($1, $2, FALSE) ON CONFLICT DO NOTHING`,
			userID, toRoleID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return userIDs, nil
}

// UserFlags loads the per-principal switches.
func (r *Repository) UserFlags(ctx context.Context, userID int64) (UserFlags, error) {
	var flags UserFlags
	err := r.pool.QueryRow(ctx,
		`SELECT is_active, is_superuser FROM users WHERE id = $1`, userID,
	).Scan(&flags.IsActive, &flags.IsSuperUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserFlags{}, ErrNotFound
		}
		return UserFlags{}, err
	}
	return flags, nil
}

// InsertPermissionChange appends one audit record.
func (r *Repository) InsertPermissionChange(ctx context.Context, change PermissionChange) error {
	occurred := change.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permission_changes (role_id, permission_id, change, performed_by, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		change.RoleID, change.PermissionID, change.Change, change.PerformedBy, occurred)
	return err
}

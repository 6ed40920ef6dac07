package rbac

import (
	"context"
	"strings"
)

// Graph validates and reads the role hierarchy. All writes that affect
// effective permissions go through Service, which layers cache
// invalidation and audit logging on top.
type Graph struct {
	store Store
}

// NewGraph constructs a Graph backed by the given store.
func NewGraph(store Store) *Graph {
	return &Graph{store: store}
}

// RoleSpec describes a role to be created.
type RoleSpec struct {
	Name        string
	Description string
	Class       RoleClass
	Weight      int
	IsActive    bool
	IsSystem    bool
	Scope       *EntityScope
	ParentID    *int64
}

// CreateRole validates the spec and inserts the role.
func (g *Graph) CreateRole(ctx context.Context, spec RoleSpec) (Role, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Role{}, validationf("name", "required")
	}
	if !spec.Class.Valid() {
		return Role{}, validationf("class", "unknown role class %q", spec.Class)
	}
	if spec.Scope != nil {
		if !spec.Scope.Type.Valid() {
			return Role{}, validationf("scope", "unknown scope type %q", spec.Scope.Type)
		}
		if spec.Scope.ID <= 0 {
			return Role{}, validationf("scope", "entity id required")
		}
	}
	if spec.ParentID != nil {
		parent, err := g.store.RoleByID(ctx, *spec.ParentID)
		if err != nil {
			return Role{}, err
		}
		if err := validateParentScope(spec.Scope, parent); err != nil {
			return Role{}, err
		}
	}
	return g.store.InsertRole(ctx, Role{
		Name:        name,
		Description: strings.TrimSpace(spec.Description),
		Class:       spec.Class,
		Weight:      spec.Weight,
		IsActive:    spec.IsActive,
		IsSystem:    spec.IsSystem,
		Scope:       spec.Scope,
		ParentID:    spec.ParentID,
	})
}

// SetParent re-parents a role after checking that the new parent does not
// sit anywhere in the role's own descendant chain and that scopes agree.
// A nil parentID detaches the role from its parent.
func (g *Graph) SetParent(ctx context.Context, roleID int64, parentID *int64) (Role, error) {
	role, err := g.store.RoleByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if parentID != nil {
		if *parentID == roleID {
			return Role{}, validationf("parent", "role cannot be its own parent")
		}
		parent, err := g.store.RoleByID(ctx, *parentID)
		if err != nil {
			return Role{}, err
		}
		if err := validateParentScope(role.Scope, parent); err != nil {
			return Role{}, err
		}
		// Walk the candidate parent's ancestor chain; finding the role
		// being saved means the new edge would close a cycle.
		cursor := parent
		for cursor.ParentID != nil {
			if *cursor.ParentID == roleID {
				return Role{}, validationf("parent", "cycle through role %q", cursor.Name)
			}
			cursor, err = g.store.RoleByID(ctx, *cursor.ParentID)
			if err != nil {
				return Role{}, err
			}
		}
	}
	role.ParentID = parentID
	return g.store.UpdateRole(ctx, role)
}

// validateParentScope enforces that a scoped parent targets the same
// entity as a scoped child. A global parent is always compatible.
func validateParentScope(childScope *EntityScope, parent Role) error {
	if parent.Scope == nil {
		return nil
	}
	if childScope == nil || !childScope.Equal(parent.Scope) {
		return validationf("parent", "parent role is scoped to %s", parent.Scope)
	}
	return nil
}

// EffectivePermissions returns the union of the role's own permissions and
// every permission transitively reachable through parent links. The graph
// is acyclic by construction; the visited set guards against corrupt data.
func (g *Graph) EffectivePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	seen := make(map[int64]Permission)
	visited := make(map[int64]bool)
	cursor := &roleID
	for cursor != nil && !visited[*cursor] {
		visited[*cursor] = true
		role, err := g.store.RoleByID(ctx, *cursor)
		if err != nil {
			return nil, err
		}
		perms, err := g.store.RolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			seen[p.ID] = p
		}
		cursor = role.ParentID
	}
	out := make([]Permission, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out, nil
}

// RoleHasPermission reports whether the role or any ancestor holds the
// exact (resource, action) pair. Wildcard expansion is the resolver's job
// so that wildcard semantics live in one place.
func (g *Graph) RoleHasPermission(ctx context.Context, roleID int64, resource, action string) (bool, error) {
	resource = normalizeToken(resource)
	action = normalizeToken(action)
	perms, err := g.EffectivePermissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

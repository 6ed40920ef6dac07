package rbac

import (
	"context"
	"log/slog"
)

// Resolver answers permission, context-permission and role-class queries
// by composing the catalog, role graph and assignment store through the
// cache.
//
// Predicates never return an error for "permission denied" -- denial is
// the false return value. An error means malformed input or a storage
// failure; callers must treat (false, err) as deny (fail closed).
type Resolver struct {
	store  Store
	graph  *Graph
	cache  *Cache
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, graph *Graph, cache *Cache, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, graph: graph, cache: cache, logger: logger}
}

// EffectivePermissions returns the union of permissions conferred by the
// user's active role assignments in the given scope, parents included.
// A nil scope selects only global assignments; a scoped lookup selects
// only assignments whose role targets exactly that entity -- no role
// leaks into a scope it was not assigned for. Super-admins receive the
// entire catalog.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64, scope *EntityScope) ([]Permission, error) {
	var perms []Permission
	err := r.cache.FetchHot(ctx, userID, []string{"eff", scopeKey(scope)}, &perms, func(ctx context.Context) (any, error) {
		return r.effectivePermissions(ctx, userID, scope)
	})
	return perms, err
}

func (r *Resolver) effectivePermissions(ctx context.Context, userID int64, scope *EntityScope) ([]Permission, error) {
	flags, err := r.store.UserFlags(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !flags.IsActive {
		return []Permission{}, nil
	}
	if flags.IsSuperUser {
		return r.store.ListPermissions(ctx)
	}

	assignments, err := r.store.ActiveAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	union := make(map[int64]Permission)
	for _, ar := range assignments {
		if !ar.Role.Scope.Equal(scope) {
			continue
		}
		rolePerms, err := r.graph.EffectivePermissions(ctx, ar.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range rolePerms {
			union[p.ID] = p
		}
	}
	out := make([]Permission, 0, len(union))
	for _, p := range union {
		out = append(out, p)
	}
	return out, nil
}

// HasPermission reports whether the user may perform action on resource
// anywhere on the platform.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	resource = normalizeToken(resource)
	action = normalizeToken(action)

	// Platform admins pass without the generic wildcard scan; this is the
	// single most frequent check in the request path.
	if admin, err := r.HasRoleClass(ctx, userID, RoleClassPlatformAdmin); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}

	perms, err := r.EffectivePermissions(ctx, userID, nil)
	if err != nil {
		return false, err
	}
	return matchPermission(perms, resource, action), nil
}

// HasContextPermission reports whether the user may perform action on
// resource within one entity. Context grants are additive on top of
// global grants: when the scoped lookup misses, the check falls back to
// HasPermission so a platform-wide grant is never shadowed by the mere
// existence of entity-scoped roles.
func (r *Resolver) HasContextPermission(ctx context.Context, userID int64, scopeType ScopeType, scopeID int64, resource, action string) (bool, error) {
	if !scopeType.Valid() {
		return false, validationf("scope", "unknown scope type %q", scopeType)
	}
	resource = normalizeToken(resource)
	action = normalizeToken(action)

	if admin, err := r.HasRoleClass(ctx, userID, RoleClassPlatformAdmin); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}

	scope := &EntityScope{Type: scopeType, ID: scopeID}
	perms, err := r.EffectivePermissions(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	if matchPermission(perms, resource, action) {
		return true, nil
	}
	return r.HasPermission(ctx, userID, resource, action)
}

// matchPermission applies the four-way wildcard match: exact pair,
// resource wildcard, action wildcard, global wildcard. Union semantics
// make evaluation order irrelevant to the result.
func matchPermission(perms []Permission, resource, action string) bool {
	for _, p := range perms {
		switch {
		case p.Resource == resource && p.Action == action:
			return true
		case p.Resource == resource && p.Action == Wildcard:
			return true
		case p.Resource == Wildcard && p.Action == action:
			return true
		case p.Resource == Wildcard && p.Action == Wildcard:
			return true
		}
	}
	return false
}

// principalClasses is the cached role-class summary for one principal.
type principalClasses struct {
	Super   bool        `json:"super"`
	Classes []RoleClass `json:"classes"`
}

// HasRoleClass reports whether the user holds any active role of the
// given classes. Super-admins are implicitly members of every class.
func (r *Resolver) HasRoleClass(ctx context.Context, userID int64, classes ...RoleClass) (bool, error) {
	var pc principalClasses
	err := r.cache.FetchHot(ctx, userID, []string{"classes"}, &pc, func(ctx context.Context) (any, error) {
		return r.loadClasses(ctx, userID)
	})
	if err != nil {
		return false, err
	}
	if pc.Super {
		return true, nil
	}
	held := make(map[RoleClass]bool, len(pc.Classes))
	for _, c := range pc.Classes {
		held[c] = true
	}
	for _, c := range classes {
		if held[c] {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) loadClasses(ctx context.Context, userID int64) (principalClasses, error) {
	flags, err := r.store.UserFlags(ctx, userID)
	if err != nil {
		return principalClasses{}, err
	}
	pc := principalClasses{Super: flags.IsSuperUser}
	if !flags.IsActive {
		return principalClasses{}, nil
	}
	assignments, err := r.store.ActiveAssignments(ctx, userID)
	if err != nil {
		return principalClasses{}, err
	}
	seen := make(map[RoleClass]bool)
	for _, ar := range assignments {
		if !seen[ar.Role.Class] {
			seen[ar.Role.Class] = true
			pc.Classes = append(pc.Classes, ar.Role.Class)
		}
	}
	return pc, nil
}

// IsPlatformAdmin reports platform-admin (or super-admin) status.
func (r *Resolver) IsPlatformAdmin(ctx context.Context, userID int64) (bool, error) {
	return r.HasRoleClass(ctx, userID, RoleClassPlatformAdmin)
}

// IsPlatformStaff reports platform staff (or higher) status.
func (r *Resolver) IsPlatformStaff(ctx context.Context, userID int64) (bool, error) {
	return r.HasRoleClass(ctx, userID, RoleClassPlatformAdmin, RoleClassPlatformStaff)
}

// IsTenantOwner reports whether the user owns a tenant.
func (r *Resolver) IsTenantOwner(ctx context.Context, userID int64) (bool, error) {
	return r.HasRoleClass(ctx, userID, RoleClassTenantOwner)
}

// IsEntityManager reports whether the user manages an entity.
func (r *Resolver) IsEntityManager(ctx context.Context, userID int64) (bool, error) {
	return r.HasRoleClass(ctx, userID, RoleClassEntityManager)
}

// Catalog returns the full permission catalog through the cold cache.
func (r *Resolver) Catalog(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	err := r.cache.FetchCold(ctx, []string{"catalog"}, &perms, func(ctx context.Context) (any, error) {
		return r.store.ListPermissions(ctx)
	})
	return perms, err
}

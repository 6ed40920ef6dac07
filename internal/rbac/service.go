package rbac

import (
	"context"
	"log/slog"
	"strings"
)

// Service carries the administrative write paths of the engine. Every
// write commits the change, records the audit trail, and explicitly
// invalidates the affected cache entries before returning; nothing relies
// on implicit event propagation.
type Service struct {
	store    Store
	graph    *Graph
	catalog  *Catalog
	resolver *Resolver
	cache    *Cache
	changes  *ChangeLog
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, graph *Graph, catalog *Catalog, resolver *Resolver, cache *Cache, changes *ChangeLog, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		graph:    graph,
		catalog:  catalog,
		resolver: resolver,
		cache:    cache,
		changes:  changes,
		logger:   logger,
	}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.RoleByID(ctx, id)
}

// RolePermissions returns a role's directly attached permissions.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.store.RolePermissions(ctx, roleID)
}

// CustomRoleSpec describes an administratively created role.
type CustomRoleSpec struct {
	Name          string
	Description   string
	Weight        int
	PermissionIDs []int64
	Scope         *EntityScope
	ParentID      *int64
	PerformedBy   *int64
}

// CreateCustomRole builds a new role of class custom. The permissions
// must already exist in the catalog; every grant is audit-logged.
func (s *Service) CreateCustomRole(ctx context.Context, spec CustomRoleSpec) (Role, error) {
	perms, err := s.store.PermissionsByIDs(ctx, spec.PermissionIDs)
	if err != nil {
		return Role{}, err
	}
	if len(perms) != len(dedupe(spec.PermissionIDs)) {
		return Role{}, validationf("permissions", "unknown permission id")
	}

	role, err := s.graph.CreateRole(ctx, RoleSpec{
		Name:        spec.Name,
		Description: spec.Description,
		Class:       RoleClassCustom,
		Weight:      spec.Weight,
		IsActive:    true,
		Scope:       spec.Scope,
		ParentID:    spec.ParentID,
	})
	if err != nil {
		return Role{}, err
	}
	for _, p := range perms {
		if err := s.store.AttachPermission(ctx, role.ID, p.ID); err != nil {
			return Role{}, err
		}
		s.changes.Record(ctx, role.ID, p.ID, ChangeAdd, spec.PerformedBy)
	}
	s.invalidateAll(ctx)
	return role, nil
}

// CloneRole creates a new, never-system role copying class, weight,
// entity scope, parent, active flag and a snapshot of the source's
// current permission set. Later edits to the source do not propagate.
func (s *Service) CloneRole(ctx context.Context, sourceID int64, name, description string, performedBy *int64) (Role, error) {
	source, err := s.store.RoleByID(ctx, sourceID)
	if err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("name", "required")
	}
	if description == "" {
		description = source.Description
	}
	perms, err := s.store.RolePermissions(ctx, sourceID)
	if err != nil {
		return Role{}, err
	}

	clone, err := s.graph.CreateRole(ctx, RoleSpec{
		Name:        name,
		Description: description,
		Class:       source.Class,
		Weight:      source.Weight,
		IsActive:    source.IsActive,
		Scope:       source.Scope,
		ParentID:    source.ParentID,
	})
	if err != nil {
		return Role{}, err
	}
	for _, p := range perms {
		if err := s.store.AttachPermission(ctx, clone.ID, p.ID); err != nil {
			return Role{}, err
		}
		s.changes.Record(ctx, clone.ID, p.ID, ChangeAdd, performedBy)
	}
	s.invalidateAll(ctx)
	return clone, nil
}

// DeleteRole removes a non-system role; its assignments cascade away.
func (s *Service) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return validationf("role", "system role %q cannot be deleted", role.Name)
	}
	holders, err := s.store.AssignmentsForRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	for _, h := range holders {
		s.invalidateUser(ctx, h.UserID)
	}
	return nil
}

// SetRoleParent re-parents a role; cycle and scope rules are enforced by
// the graph. Holders of every descendant inherit the change, so the whole
// cache generation is invalidated.
func (s *Service) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) (Role, error) {
	role, err := s.graph.SetParent(ctx, roleID, parentID)
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return role, nil
}

// ReplacePermissions swaps a role's direct permission set for the given
// one. Each added and removed grant is audit-logged. Every holder of the
// role, directly or via inheritance, is affected and the exact holder set
// is not cheaply known here, so the whole cache generation is invalidated.
func (s *Service) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64, performedBy *int64) error {
	if _, err := s.store.RoleByID(ctx, roleID); err != nil {
		return err
	}
	wanted, err := s.store.PermissionsByIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	if len(wanted) != len(dedupe(permissionIDs)) {
		return validationf("permissions", "unknown permission id")
	}
	current, err := s.store.RolePermissions(ctx, roleID)
	if err != nil {
		return err
	}

	existing := make(map[int64]bool, len(current))
	for _, p := range current {
		existing[p.ID] = true
	}
	keep := make(map[int64]bool, len(wanted))
	for _, p := range wanted {
		keep[p.ID] = true
		if !existing[p.ID] {
			if err := s.store.AttachPermission(ctx, roleID, p.ID); err != nil {
				return err
			}
			s.changes.Record(ctx, roleID, p.ID, ChangeAdd, performedBy)
		}
	}
	for id := range existing {
		if !keep[id] {
			if err := s.store.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
			s.changes.Record(ctx, roleID, id, ChangeRemove, performedBy)
		}
	}
	s.invalidateAll(ctx)
	return nil
}

func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.cache.BumpGlobal(ctx); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidation", slog.Any("error", err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if err := s.cache.BumpUser(ctx, userID); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidation", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

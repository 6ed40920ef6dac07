package rbac

import (
	"context"
	"errors"
	"strings"
)

// Catalog manages the finite set of (resource, action) capability tokens.
type Catalog struct {
	store Store
}

// NewCatalog constructs a Catalog backed by the given store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// normalizeToken lowercases and trims a resource or action token.
func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetOrCreatePermission returns the permission for (resource, action),
// creating it on first use. Repeated calls return the same record and the
// description of an existing permission is never overwritten.
func (c *Catalog) GetOrCreatePermission(ctx context.Context, resource, action, description string) (Permission, error) {
	resource = normalizeToken(resource)
	action = normalizeToken(action)
	if resource == "" {
		return Permission{}, validationf("resource", "required")
	}
	if action == "" {
		return Permission{}, validationf("action", "required")
	}

	perm, err := c.store.PermissionByPair(ctx, resource, action)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}

	perm, err = c.store.InsertPermission(ctx, Permission{
		Resource:    resource,
		Action:      action,
		Code:        PermissionCode(resource, action),
		Description: strings.TrimSpace(description),
	})
	if err == nil {
		return perm, nil
	}
	// Lost a create race: the pair now exists, fetch it.
	if IsValidation(err) {
		return c.store.PermissionByPair(ctx, resource, action)
	}
	return Permission{}, err
}

// ListPermissions returns the entire catalog.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	return c.store.ListPermissions(ctx)
}

// BootstrapDefaults idempotently seeds the full resource x action matrix
// plus the row, column and global wildcard tokens. Safe to run repeatedly.
func (c *Catalog) BootstrapDefaults(ctx context.Context) error {
	if _, err := c.GetOrCreatePermission(ctx, Wildcard, Wildcard, "Full access to every resource"); err != nil {
		return err
	}
	for _, resource := range DefaultResources {
		if _, err := c.GetOrCreatePermission(ctx, resource, Wildcard, "Any action on "+resource); err != nil {
			return err
		}
	}
	for _, action := range DefaultActions {
		if _, err := c.GetOrCreatePermission(ctx, Wildcard, action, "May "+action+" any resource"); err != nil {
			return err
		}
	}
	for _, resource := range DefaultResources {
		for _, action := range DefaultActions {
			if _, err := c.GetOrCreatePermission(ctx, resource, action, "May "+action+" "+resource); err != nil {
				return err
			}
		}
	}
	return nil
}

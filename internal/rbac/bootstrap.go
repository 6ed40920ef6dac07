package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Resources and actions referenced from code.
const (
	ResourceBooking     = "booking"
	ResourceQueue       = "queue"
	ResourceShop        = "shop"
	ResourceCompany     = "company"
	ResourceCustomer    = "customer"
	ResourceRoles       = "roles"
	ResourceUsers       = "users"
	ResourcePermissions = "permissions"
	ResourceReports     = "reports"

	ActionView   = "view"
	ActionAdd    = "add"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionManage = "manage"
	ActionExport = "export"
)

// DefaultResources is the platform's resource vocabulary. Business adds
// new resources over time; the catalog is an open enumeration.
var DefaultResources = []string{
	ResourceCompany,
	ResourceShop,
	ResourceBooking,
	ResourceQueue,
	"chat",
	ResourceCustomer,
	"staff",
	"service",
	ResourceRoles,
	ResourceUsers,
	ResourcePermissions,
	ResourceReports,
	"notifications",
}

// DefaultActions is the platform's action vocabulary.
var DefaultActions = []string{
	ActionView,
	ActionAdd,
	ActionEdit,
	ActionDelete,
	ActionManage,
	ActionExport,
}

type grantPair struct {
	Resource string
	Action   string
}

var systemRoles = []struct {
	Class       RoleClass
	Name        string
	Description string
}{
	{RoleClassPlatformAdmin, "Platform Admin", "Full administrative access to the platform"},
	{RoleClassPlatformStaff, "Platform Staff", "Read access everywhere plus customer and booking operations"},
	{RoleClassTenantOwner, "Tenant Owner", "Owns a company and everything under it"},
	{RoleClassEntityManager, "Entity Manager", "Runs the day-to-day of a single shop"},
	{RoleClassEntityStaff, "Entity Staff", "Front-desk operations in a single shop"},
}

// defaultGrants is the baseline role-class to permission matrix,
// re-applied idempotently at every bootstrap.
var defaultGrants = map[RoleClass][]grantPair{
	RoleClassPlatformAdmin: {
		{Wildcard, Wildcard},
	},
	RoleClassPlatformStaff: {
		{Wildcard, ActionView},
		{ResourceCustomer, Wildcard},
		{ResourceBooking, Wildcard},
		{ResourceQueue, Wildcard},
	},
	RoleClassTenantOwner: {
		{ResourceCompany, Wildcard},
		{ResourceShop, Wildcard},
		{"staff", Wildcard},
		{"service", Wildcard},
		{ResourceRoles, ActionView},
		{ResourceRoles, ActionManage},
		{ResourceUsers, ActionView},
		{ResourceReports, ActionView},
		{ResourceReports, ActionExport},
	},
	RoleClassEntityManager: {
		{ResourceShop, ActionView},
		{ResourceShop, ActionEdit},
		{ResourceBooking, Wildcard},
		{ResourceQueue, Wildcard},
		{"chat", Wildcard},
		{"staff", ActionView},
		{ResourceCustomer, ActionView},
		{ResourceCustomer, ActionAdd},
		{ResourceCustomer, ActionEdit},
		{ResourceReports, ActionView},
	},
	RoleClassEntityStaff: {
		{ResourceBooking, ActionView},
		{ResourceBooking, ActionAdd},
		{ResourceBooking, ActionEdit},
		{ResourceQueue, ActionView},
		{ResourceQueue, ActionEdit},
		{"chat", ActionView},
		{"chat", ActionAdd},
		{ResourceCustomer, ActionView},
	},
}

// Bootstrapper seeds the permission catalog and the system roles with
// their baseline grants. Run is idempotent and executes at process start
// and from the reseed background job.
type Bootstrapper struct {
	catalog *Catalog
	store   Store
	cache   *Cache
	logger  *slog.Logger
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(catalog *Catalog, store Store, cache *Cache, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{catalog: catalog, store: store, cache: cache, logger: logger}
}

// Run seeds catalog defaults, system roles and the baseline grant matrix.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if err := b.catalog.BootstrapDefaults(ctx); err != nil {
		return err
	}
	for _, def := range systemRoles {
		role, err := b.store.RoleByName(ctx, def.Name)
		if errors.Is(err, ErrNotFound) {
			role, err = b.store.InsertRole(ctx, Role{
				Name:        def.Name,
				Description: def.Description,
				Class:       def.Class,
				Weight:      def.Class.Rank() * 10,
				IsActive:    true,
				IsSystem:    true,
			})
		}
		if err != nil {
			return err
		}
		for _, grant := range defaultGrants[def.Class] {
			perm, err := b.store.PermissionByPair(ctx, grant.Resource, grant.Action)
			if err != nil {
				return err
			}
			if err := b.store.AttachPermission(ctx, role.ID, perm.ID); err != nil {
				return err
			}
		}
	}
	if err := b.cache.BumpGlobal(ctx); err != nil && b.logger != nil {
		b.logger.Warn("bootstrap cache invalidation", slog.Any("error", err))
	}
	if b.logger != nil {
		b.logger.Info("rbac bootstrap complete", slog.Int("system_roles", len(systemRoles)))
	}
	return nil
}

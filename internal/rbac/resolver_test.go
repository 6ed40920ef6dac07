package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasPermissionWildcardMatrix(t *testing.T) {
	cases := []struct {
		name   string
		grant  [2]string
		check  [2]string
		expect bool
	}{
		{"exact pair", [2]string{"booking", "view"}, [2]string{"booking", "view"}, true},
		{"action wildcard", [2]string{"booking", "*"}, [2]string{"booking", "edit"}, true},
		{"resource wildcard", [2]string{"*", "view"}, [2]string{"queue", "view"}, true},
		{"global wildcard", [2]string{"*", "*"}, [2]string{"reports", "export"}, true},
		{"different resource", [2]string{"booking", "view"}, [2]string{"queue", "view"}, false},
		{"different action", [2]string{"booking", "view"}, [2]string{"booking", "edit"}, false},
		{"action wildcard wrong resource", [2]string{"booking", "*"}, [2]string{"queue", "view"}, false},
		{"resource wildcard wrong action", [2]string{"*", "view"}, [2]string{"booking", "edit"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t)
			e.grantRole(t, 1, "Granted", RoleClassCustom, nil, tc.grant)
			ok, err := e.resolver.HasPermission(context.Background(), 1, tc.check[0], tc.check[1])
			require.NoError(t, err)
			require.Equal(t, tc.expect, ok)
		})
	}
}

func TestScopedAssignmentsStayInTheirScope(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	shopOne := &EntityScope{Type: ScopeShop, ID: 1}

	// Entity manager of shop 1 with full booking control there, nothing global.
	e.grantRole(t, 1, "Shop One Manager", RoleClassEntityManager, shopOne, [2]string{"booking", "*"})

	ok, err := e.resolver.HasContextPermission(ctx, 1, ScopeShop, 1, "booking", "edit")
	require.NoError(t, err)
	require.True(t, ok)

	// The same check against another shop fails: the scoped role does not travel.
	ok, err = e.resolver.HasContextPermission(ctx, 1, ScopeShop, 2, "booking", "edit")
	require.NoError(t, err)
	require.False(t, ok)

	// The global check fails too: a scoped role confers nothing platform-wide.
	ok, err = e.resolver.HasPermission(ctx, 1, "booking", "edit")
	require.NoError(t, err)
	require.False(t, ok)

	perms, err := e.resolver.EffectivePermissions(ctx, 1, nil)
	require.NoError(t, err)
	require.Empty(t, perms)
}

func TestContextCheckFallsBackToGlobalGrants(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	// Platform staff role, globally assigned: view anything, full customer control.
	e.grantRole(t, 7, "Support", RoleClassPlatformStaff, nil,
		[2]string{"*", "view"}, [2]string{"customer", "*"})

	// A context check in a shop the user holds no scoped role for still
	// passes through the global grant.
	ok, err := e.resolver.HasContextPermission(ctx, 7, ScopeShop, 42, "customer", "edit")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasContextPermission(ctx, 7, ScopeShop, 42, "queue", "view")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasContextPermission(ctx, 7, ScopeShop, 42, "queue", "delete")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestContextCheckRejectsUnknownScopeType(t *testing.T) {
	e := newEngine(t)
	e.store.addUser(1, UserFlags{IsActive: true})

	_, err := e.resolver.HasContextPermission(context.Background(), 1, ScopeType("warehouse"), 1, "booking", "view")
	require.True(t, IsValidation(err))
}

func TestInactiveUserHasNoPermissions(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.grantRole(t, 3, "Everything", RoleClassCustom, nil, [2]string{"*", "*"})
	e.store.addUser(3, UserFlags{IsActive: false})

	ok, err := e.resolver.HasPermission(ctx, 3, "booking", "view")
	require.NoError(t, err)
	require.False(t, ok)

	perms, err := e.resolver.EffectivePermissions(ctx, 3, nil)
	require.NoError(t, err)
	require.Empty(t, perms)
}

func TestSuperUserReceivesWholeCatalog(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.catalog.BootstrapDefaults(ctx))
	e.store.addUser(9, UserFlags{IsActive: true, IsSuperUser: true})

	all, err := e.store.ListPermissions(ctx)
	require.NoError(t, err)
	perms, err := e.resolver.EffectivePermissions(ctx, 9, nil)
	require.NoError(t, err)
	require.Len(t, perms, len(all))

	// Super-admins pass every class check without holding a role.
	ok, err := e.resolver.IsPlatformAdmin(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasContextPermission(ctx, 9, ScopeCompany, 5, "reports", "export")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPlatformAdminRoleShortCircuits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	// Note: no permissions attached at all; the class alone grants access.
	e.grantRole(t, 2, "Admin", RoleClassPlatformAdmin, nil)

	ok, err := e.resolver.HasPermission(ctx, 2, "anything", "whatsoever")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasContextPermission(ctx, 2, ScopeShop, 1, "booking", "delete")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolverFailsClosedOnStorageError(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.grantRole(t, 1, "Granted", RoleClassCustom, nil, [2]string{"*", "*"})

	boom := errors.New("connection refused")
	e.store.failWith = boom

	ok, err := e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	ok, err = e.resolver.HasContextPermission(ctx, 1, ScopeShop, 1, "booking", "view")
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	ok, err = e.resolver.HasRoleClass(ctx, 1, RoleClassCustom)
	require.ErrorIs(t, err, boom)
	require.False(t, ok)
}

func TestHasRoleClassMatchesAnyOf(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.grantRole(t, 4, "Desk", RoleClassEntityStaff, &EntityScope{Type: ScopeShop, ID: 1})

	ok, err := e.resolver.HasRoleClass(ctx, 4, RoleClassEntityManager, RoleClassEntityStaff)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasRoleClass(ctx, 4, RoleClassTenantOwner)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.resolver.IsEntityManager(ctx, 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnknownUserDeniedWithError(t *testing.T) {
	e := newEngine(t)
	ok, err := e.resolver.HasPermission(context.Background(), 404, "booking", "view")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, ok)
}

package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePermissionIdempotent(t *testing.T) {
	store := newMemStore()
	catalog := NewCatalog(store)
	ctx := context.Background()

	first, err := catalog.GetOrCreatePermission(ctx, "Booking", " ADD ", "Create bookings")
	require.NoError(t, err)
	require.Equal(t, "booking", first.Resource)
	require.Equal(t, "add", first.Action)
	require.Equal(t, "booking_add", first.Code)

	again, err := catalog.GetOrCreatePermission(ctx, "booking", "add", "a different description")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "Create bookings", again.Description, "existing description must not be overwritten")

	perms, err := catalog.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 1)
}

func TestPermissionCodeWildcards(t *testing.T) {
	require.Equal(t, "shop_view", PermissionCode("shop", "view"))
	require.Equal(t, "shop_all_wildcard", PermissionCode("shop", Wildcard))
	require.Equal(t, "all_view_wildcard", PermissionCode(Wildcard, "view"))
	require.Equal(t, "all_all_wildcard", PermissionCode(Wildcard, Wildcard))
}

func TestGetOrCreatePermissionRejectsEmptyTokens(t *testing.T) {
	catalog := NewCatalog(newMemStore())
	ctx := context.Background()

	_, err := catalog.GetOrCreatePermission(ctx, "  ", "view", "")
	require.True(t, IsValidation(err))

	_, err = catalog.GetOrCreatePermission(ctx, "shop", "", "")
	require.True(t, IsValidation(err))
}

func TestBootstrapDefaultsSeedsFullMatrix(t *testing.T) {
	store := newMemStore()
	catalog := NewCatalog(store)
	ctx := context.Background()

	require.NoError(t, catalog.BootstrapDefaults(ctx))

	perms, err := catalog.ListPermissions(ctx)
	require.NoError(t, err)
	want := 1 + len(DefaultResources) + len(DefaultActions) + len(DefaultResources)*len(DefaultActions)
	require.Len(t, perms, want)

	// Re-running must not duplicate anything.
	require.NoError(t, catalog.BootstrapDefaults(ctx))
	perms, err = catalog.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, want)

	global, err := store.PermissionByPair(ctx, Wildcard, Wildcard)
	require.NoError(t, err)
	require.Equal(t, "all_all_wildcard", global.Code)

	rowWildcard, err := store.PermissionByPair(ctx, ResourceBooking, Wildcard)
	require.NoError(t, err)
	require.Equal(t, "booking_all_wildcard", rowWildcard.Code)

	colWildcard, err := store.PermissionByPair(ctx, Wildcard, ActionView)
	require.NoError(t, err)
	require.Equal(t, "all_view_wildcard", colWildcard.Code)
}

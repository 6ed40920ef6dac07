package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newCachedEngine builds the stack over a live miniredis so staleness and
// invalidation can be observed end to end.
func newCachedEngine(t *testing.T) (*engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewCatalog(store)
	graph := NewGraph(store)
	cache := NewCache(client, time.Minute, 5*time.Minute, logger)
	resolver := NewResolver(store, graph, cache, logger)
	service := NewService(store, graph, catalog, resolver, cache, NewChangeLog(store, logger), logger)
	e := &engine{store: store, catalog: catalog, graph: graph, cache: cache, resolver: resolver, service: service}
	return e, mr
}

func TestRevokeThroughServiceIsVisibleImmediately(t *testing.T) {
	e, _ := newCachedEngine(t)
	ctx := context.Background()
	role := e.grantRole(t, 1, "Viewer", RoleClassCustom, nil, [2]string{"booking", "view"})

	ok, err := e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.True(t, ok)

	// Service writes bump the user version, so the cached grant is bypassed.
	removed, err := e.service.Revoke(ctx, 1, role.ID)
	require.NoError(t, err)
	require.True(t, removed)

	ok, err = e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOutOfBandRevokeStaysStaleUntilTTL(t *testing.T) {
	e, mr := newCachedEngine(t)
	ctx := context.Background()
	role := e.grantRole(t, 1, "Viewer", RoleClassCustom, nil, [2]string{"booking", "view"})

	ok, err := e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.True(t, ok)

	// A write that skips the service issues no invalidation; the stale
	// grant remains visible inside the TTL window.
	_, err = e.store.DeleteAssignment(ctx, 1, role.ID)
	require.NoError(t, err)

	ok, err = e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.True(t, ok, "bounded staleness inside the TTL window")

	mr.FastForward(61 * time.Second)

	ok, err = e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.False(t, ok, "the revocation is visible once the TTL elapses")
}

func TestCachedGrantsAreIsolatedPerUser(t *testing.T) {
	e, _ := newCachedEngine(t)
	ctx := context.Background()
	e.grantRole(t, 1, "Operator", RoleClassPlatformAdmin, nil, [2]string{"booking", "view"})
	e.store.addUser(2, UserFlags{IsActive: true})

	// Warm user 1's cache entries first so user 2 would be served them on
	// a key collision.
	ok, err := e.resolver.HasPermission(ctx, 1, "booking", "view")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.resolver.IsPlatformAdmin(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.resolver.HasPermission(ctx, 2, "booking", "view")
	require.NoError(t, err)
	require.False(t, ok, "user 2 must not see user 1's cached permissions")

	ok, err = e.resolver.IsPlatformAdmin(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok, "user 2 must not inherit user 1's cached role classes")
}

func TestPermissionEditInvalidatesEveryHolder(t *testing.T) {
	e, _ := newCachedEngine(t)
	ctx := context.Background()
	role := e.grantRole(t, 1, "Viewer", RoleClassCustom, nil, [2]string{"booking", "view"})
	e.store.addUser(2, UserFlags{IsActive: true})
	_, err := e.service.Assign(ctx, 2, role.ID, nil, false)
	require.NoError(t, err)

	for _, userID := range []int64{1, 2} {
		ok, err := e.resolver.HasPermission(ctx, userID, "booking", "edit")
		require.NoError(t, err)
		require.False(t, ok)
	}

	edit, err := e.catalog.GetOrCreatePermission(ctx, "booking", "edit", "")
	require.NoError(t, err)
	view, err := e.store.PermissionByPair(ctx, "booking", "view")
	require.NoError(t, err)
	require.NoError(t, e.service.ReplacePermissions(ctx, role.ID, []int64{view.ID, edit.ID}, nil))

	// The global version bump reaches both holders without per-user bookkeeping.
	for _, userID := range []int64{1, 2} {
		ok, err := e.resolver.HasPermission(ctx, userID, "booking", "edit")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

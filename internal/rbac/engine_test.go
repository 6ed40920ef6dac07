package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// engine bundles the full stack over an in-memory store with caching
// disabled, so tests observe storage state directly.
type engine struct {
	store    *memStore
	catalog  *Catalog
	graph    *Graph
	cache    *Cache
	resolver *Resolver
	service  *Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewCatalog(store)
	graph := NewGraph(store)
	cache := NewCache(nil, time.Minute, 5*time.Minute, logger)
	resolver := NewResolver(store, graph, cache, logger)
	service := NewService(store, graph, catalog, resolver, cache, NewChangeLog(store, logger), logger)
	return &engine{store: store, catalog: catalog, graph: graph, cache: cache, resolver: resolver, service: service}
}

// grantRole creates an active role carrying the given (resource, action)
// pairs and assigns it to the user.
func (e *engine) grantRole(t *testing.T, userID int64, name string, class RoleClass, scope *EntityScope, pairs ...[2]string) Role {
	t.Helper()
	ctx := context.Background()
	role, err := e.graph.CreateRole(ctx, RoleSpec{Name: name, Class: class, IsActive: true, Scope: scope})
	require.NoError(t, err)
	for _, pair := range pairs {
		perm, err := e.catalog.GetOrCreatePermission(ctx, pair[0], pair[1], "")
		require.NoError(t, err)
		require.NoError(t, e.store.AttachPermission(ctx, role.ID, perm.ID))
	}
	if _, ok := e.store.users[userID]; !ok {
		e.store.addUser(userID, UserFlags{IsActive: true})
	}
	_, err = e.service.Assign(ctx, userID, role.ID, nil, false)
	require.NoError(t, err)
	return role
}

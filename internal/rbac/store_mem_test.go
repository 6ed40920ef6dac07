package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the package tests. It mirrors
// the SQL repository's semantics: unique permission pairs and role names,
// one link per (user, role), primary exclusivity per entity scope, and
// ActiveAssignments filtering on role.IsActive.
type memStore struct {
	mu sync.Mutex

	permissions map[int64]Permission
	roles       map[int64]Role
	rolePerms   map[int64]map[int64]bool
	assignments map[int64]map[int64]UserRole // userID -> roleID -> link
	users       map[int64]UserFlags
	changes     []PermissionChange

	nextPermID int64
	nextRoleID int64

	// failWith, when set, makes every operation fail. Used to verify that
	// resolver predicates fail closed on storage trouble.
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64]map[int64]bool),
		assignments: make(map[int64]map[int64]UserRole),
		users:       make(map[int64]UserFlags),
	}
}

func (m *memStore) addUser(id int64, flags UserFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = flags
}

func (m *memStore) PermissionByPair(ctx context.Context, resource, action string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Permission{}, m.failWith
	}
	for _, p := range m.permissions {
		if p.Resource == resource && p.Action == action {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memStore) InsertPermission(ctx context.Context, p Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Permission{}, m.failWith
	}
	for _, existing := range m.permissions {
		if existing.Resource == p.Resource && existing.Action == p.Action {
			return Permission{}, validationf("permission", "already exists")
		}
	}
	m.nextPermID++
	p.ID = m.nextPermID
	m.permissions[p.ID] = p
	return p, nil
}

func (m *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memStore) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	seen := make(map[int64]bool, len(ids))
	var out []Permission
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := m.permissions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) RoleByID(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Role{}, m.failWith
	}
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *memStore) RoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Role{}, m.failWith
	}
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memStore) InsertRole(ctx context.Context, r Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Role{}, m.failWith
	}
	for _, existing := range m.roles {
		if existing.Name == r.Name {
			return Role{}, validationf("role", "already exists")
		}
	}
	m.nextRoleID++
	r.ID = m.nextRoleID
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	m.roles[r.ID] = r
	return r, nil
}

func (m *memStore) UpdateRole(ctx context.Context, r Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Role{}, m.failWith
	}
	if _, ok := m.roles[r.ID]; !ok {
		return Role{}, ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	m.roles[r.ID] = r
	return r, nil
}

func (m *memStore) DeleteRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for _, links := range m.assignments {
		delete(links, id)
	}
	return nil
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []Permission
	for permID := range m.rolePerms[roleID] {
		if p, ok := m.permissions[permID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memStore) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.rolePerms[roleID] == nil {
		m.rolePerms[roleID] = make(map[int64]bool)
	}
	m.rolePerms[roleID][permissionID] = true
	return nil
}

func (m *memStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.rolePerms[roleID], permissionID)
	return nil
}

func (m *memStore) Assignment(ctx context.Context, userID, roleID int64) (UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return UserRole{}, m.failWith
	}
	ur, ok := m.assignments[userID][roleID]
	if !ok {
		return UserRole{}, ErrNotFound
	}
	return ur, nil
}

func (m *memStore) InsertAssignment(ctx context.Context, ur UserRole, scope *EntityScope) (UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return UserRole{}, m.failWith
	}
	if _, ok := m.assignments[ur.UserID][ur.RoleID]; ok {
		return UserRole{}, validationf("assignment", "already exists")
	}
	if ur.IsPrimary {
		m.clearPrimaryLocked(ur.UserID, scope)
	}
	if m.assignments[ur.UserID] == nil {
		m.assignments[ur.UserID] = make(map[int64]UserRole)
	}
	ur.AssignedAt = time.Now().UTC()
	m.assignments[ur.UserID][ur.RoleID] = ur
	return ur, nil
}

func (m *memStore) SetAssignmentPrimary(ctx context.Context, userID, roleID int64, primary bool, scope *EntityScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	ur, ok := m.assignments[userID][roleID]
	if !ok {
		return ErrNotFound
	}
	if primary {
		m.clearPrimaryLocked(userID, scope)
	}
	ur.IsPrimary = primary
	m.assignments[userID][roleID] = ur
	return nil
}

func (m *memStore) clearPrimaryLocked(userID int64, scope *EntityScope) {
	for roleID, ur := range m.assignments[userID] {
		if !ur.IsPrimary {
			continue
		}
		role := m.roles[roleID]
		if role.Scope.Equal(scope) {
			ur.IsPrimary = false
			m.assignments[userID][roleID] = ur
		}
	}
}

func (m *memStore) DeleteAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	if _, ok := m.assignments[userID][roleID]; !ok {
		return false, nil
	}
	delete(m.assignments[userID], roleID)
	return true, nil
}

func (m *memStore) ActiveAssignments(ctx context.Context, userID int64) ([]AssignedRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []AssignedRole
	for roleID, ur := range m.assignments[userID] {
		role, ok := m.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		out = append(out, AssignedRole{UserRole: ur, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (m *memStore) AssignmentsForRole(ctx context.Context, roleID int64) ([]UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []UserRole
	for _, links := range m.assignments {
		if ur, ok := links[roleID]; ok {
			out = append(out, ur)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) TransferAssignments(ctx context.Context, fromRoleID, toRoleID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var moved []int64
	for userID, links := range m.assignments {
		if _, ok := links[fromRoleID]; !ok {
			continue
		}
		delete(links, fromRoleID)
		moved = append(moved, userID)
		if _, ok := links[toRoleID]; !ok {
			links[toRoleID] = UserRole{UserID: userID, RoleID: toRoleID, AssignedAt: time.Now().UTC()}
		}
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i] < moved[j] })
	return moved, nil
}

func (m *memStore) UserFlags(ctx context.Context, userID int64) (UserFlags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return UserFlags{}, m.failWith
	}
	flags, ok := m.users[userID]
	if !ok {
		return UserFlags{}, ErrNotFound
	}
	return flags, nil
}

func (m *memStore) InsertPermissionChange(ctx context.Context, change PermissionChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.changes = append(m.changes, change)
	return nil
}

var _ Store = (*memStore)(nil)

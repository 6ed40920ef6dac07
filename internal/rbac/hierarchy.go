package rbac

import "context"

// HighestRole returns the user's most senior active role: greatest class
// rank first, ties broken by higher weight, then lowest role id for
// reproducibility. Nil when the user holds no active role.
func (s *Service) HighestRole(ctx context.Context, userID int64) (*Role, error) {
	assignments, err := s.store.ActiveAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	return pickHighest(assignments), nil
}

func pickHighest(assignments []AssignedRole) *Role {
	var best *Role
	for i := range assignments {
		candidate := &assignments[i].Role
		if best == nil || outranks(candidate, best) {
			best = candidate
		}
	}
	if best == nil {
		return nil
	}
	role := *best
	return &role
}

func outranks(a, b *Role) bool {
	if a.Class.Rank() != b.Class.Rank() {
		return a.Class.Rank() > b.Class.Rank()
	}
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.ID < b.ID
}

// PrimaryRoleForScope returns the assignment flagged primary within the
// scope when one exists, falling back to the highest-ranked role among
// that scope's assignments. Nil when the user holds nothing there.
func (s *Service) PrimaryRoleForScope(ctx context.Context, userID int64, scopeType ScopeType, scopeID int64) (*Role, error) {
	if !scopeType.Valid() {
		return nil, validationf("scope", "unknown scope type %q", scopeType)
	}
	scoped, err := s.RolesInScope(ctx, userID, &EntityScope{Type: scopeType, ID: scopeID})
	if err != nil {
		return nil, err
	}
	for _, ar := range scoped {
		if ar.IsPrimary {
			role := ar.Role
			return &role, nil
		}
	}
	return pickHighest(scoped), nil
}

// CanManage reports whether the manager may administer the target role.
// Platform admins always may. Everyone else must strictly outrank the
// target's class, so nobody can edit a role at or above their own level.
// Entity-scoped targets additionally require an explicit (roles, manage)
// context permission on that entity.
func (s *Service) CanManage(ctx context.Context, managerID int64, target Role) (bool, error) {
	if admin, err := s.resolver.IsPlatformAdmin(ctx, managerID); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}

	highest, err := s.HighestRole(ctx, managerID)
	if err != nil {
		return false, err
	}
	if highest == nil || highest.Class.Rank() <= target.Class.Rank() {
		return false, nil
	}
	if target.Scope != nil {
		return s.resolver.HasContextPermission(ctx, managerID, target.Scope.Type, target.Scope.ID, ResourceRoles, ActionManage)
	}
	return true, nil
}

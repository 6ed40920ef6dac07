package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Assign grants a role to a user. Granting an already-held role only
// updates the primary flag (idempotent grant). When primary is true,
// every other assignment of that user sharing the role's entity scope
// loses its primary flag in the same transaction; the global scope counts
// as its own context.
func (s *Service) Assign(ctx context.Context, userID, roleID int64, assignedBy *int64, primary bool) (UserRole, error) {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return UserRole{}, err
	}
	if _, err := s.store.UserFlags(ctx, userID); err != nil {
		return UserRole{}, err
	}

	existing, err := s.store.Assignment(ctx, userID, roleID)
	switch {
	case err == nil:
		if existing.IsPrimary != primary {
			if err := s.store.SetAssignmentPrimary(ctx, userID, roleID, primary, role.Scope); err != nil {
				return UserRole{}, err
			}
			existing.IsPrimary = primary
		}
		s.invalidateUser(ctx, userID)
		return existing, nil
	case errors.Is(err, ErrNotFound):
		created, err := s.store.InsertAssignment(ctx, UserRole{
			UserID:     userID,
			RoleID:     roleID,
			IsPrimary:  primary,
			AssignedBy: assignedBy,
		}, role.Scope)
		if err != nil {
			return UserRole{}, err
		}
		s.invalidateUser(ctx, userID)
		return created, nil
	default:
		return UserRole{}, err
	}
}

// Revoke removes a role from a user, reporting whether a grant existed.
func (s *Service) Revoke(ctx context.Context, userID, roleID int64) (bool, error) {
	removed, err := s.store.DeleteAssignment(ctx, userID, roleID)
	if err != nil {
		return false, err
	}
	if removed {
		s.invalidateUser(ctx, userID)
	}
	return removed, nil
}

// RolesFor lists the user's active-role assignments across all scopes.
func (s *Service) RolesFor(ctx context.Context, userID int64) ([]AssignedRole, error) {
	return s.store.ActiveAssignments(ctx, userID)
}

// RolesInScope lists the user's active-role assignments confined to one
// entity scope. A nil scope selects the global assignments.
func (s *Service) RolesInScope(ctx context.Context, userID int64, scope *EntityScope) ([]AssignedRole, error) {
	all, err := s.store.ActiveAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []AssignedRole
	for _, ar := range all {
		if ar.Role.Scope.Equal(scope) {
			out = append(out, ar)
		}
	}
	return out, nil
}

// TransferUsers reassigns every holder of fromRole to toRole in one bulk
// operation. None of the new assignments is primary. Returns the number
// of principals moved.
func (s *Service) TransferUsers(ctx context.Context, fromRoleID, toRoleID int64, performedBy *int64) (int, error) {
	if fromRoleID == toRoleID {
		return 0, validationf("role", "cannot transfer a role to itself")
	}
	if _, err := s.store.RoleByID(ctx, fromRoleID); err != nil {
		return 0, err
	}
	if _, err := s.store.RoleByID(ctx, toRoleID); err != nil {
		return 0, err
	}
	moved, err := s.store.TransferAssignments(ctx, fromRoleID, toRoleID)
	if err != nil {
		return 0, err
	}
	for _, userID := range moved {
		s.invalidateUser(ctx, userID)
	}
	if s.logger != nil {
		s.logger.Info("role transfer",
			slog.Int64("from_role", fromRoleID),
			slog.Int64("to_role", toRoleID),
			slog.Int("moved", len(moved)),
			slog.Any("performed_by", performedBy))
	}
	return len(moved), nil
}

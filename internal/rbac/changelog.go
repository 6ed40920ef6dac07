package rbac

import (
	"context"
	"log/slog"
	"time"
)

// ChangeLog appends permission-change audit records. Writes are
// fire-and-forget: a failed append is logged and never blocks the
// underlying role-permission change.
type ChangeLog struct {
	store  Store
	logger *slog.Logger
}

// NewChangeLog returns a ChangeLog writer.
func NewChangeLog(store Store, logger *slog.Logger) *ChangeLog {
	return &ChangeLog{store: store, logger: logger}
}

// Record appends one change entry.
func (l *ChangeLog) Record(ctx context.Context, roleID, permissionID int64, change string, performedBy *int64) {
	if l == nil || l.store == nil {
		return
	}
	err := l.store.InsertPermissionChange(ctx, PermissionChange{
		RoleID:       roleID,
		PermissionID: permissionID,
		Change:       change,
		PerformedBy:  performedBy,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil && l.logger != nil {
		l.logger.Warn("permission change log append",
			slog.Int64("role_id", roleID),
			slog.Int64("permission_id", permissionID),
			slog.String("change", change),
			slog.Any("error", err))
	}
}

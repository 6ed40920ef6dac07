package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/slotline/slotline/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACReseed re-applies the permission catalog and the default
	// role-to-permission matrix.
	TaskRBACReseed = "rbac:reseed"
	// TaskRBACWarmup pre-fills the resolver cache for a set of principals.
	TaskRBACWarmup = "rbac:warmup"
)

// WarmupPayload lists the principals whose resolver reads to warm.
type WarmupPayload struct {
	UserIDs []int64 `json:"user_ids"`
}

// NewReseedTask constructs an Asynq task.
func NewReseedTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskRBACReseed, nil), nil
}

// NewWarmupTask constructs an Asynq task.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACWarmup, data), nil
}

// ReseedJob re-applies the idempotent RBAC bootstrap.
type ReseedJob struct {
	bootstrapper *rbac.Bootstrapper
	logger       *slog.Logger
}

// NewReseedJob constructs a ReseedJob.
func NewReseedJob(bootstrapper *rbac.Bootstrapper, logger *slog.Logger) *ReseedJob {
	return &ReseedJob{bootstrapper: bootstrapper, logger: logger}
}

// Handle processes TaskRBACReseed tasks.
func (j *ReseedJob) Handle(ctx context.Context, t *asynq.Task) error {
	if err := j.bootstrapper.Run(ctx); err != nil {
		j.logger.Error("rbac reseed", slog.Any("error", err))
		return err
	}
	return nil
}

// WarmupJob evaluates the hot resolver predicates for the listed users so
// the first request after an invalidation does not pay the miss.
type WarmupJob struct {
	resolver *rbac.Resolver
	logger   *slog.Logger
}

// NewWarmupJob constructs a WarmupJob.
func NewWarmupJob(resolver *rbac.Resolver, logger *slog.Logger) *WarmupJob {
	return &WarmupJob{resolver: resolver, logger: logger}
}

// Handle processes TaskRBACWarmup tasks.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	for _, userID := range payload.UserIDs {
		if _, err := j.resolver.EffectivePermissions(ctx, userID, nil); err != nil {
			j.logger.Warn("warmup effective permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		if _, err := j.resolver.IsPlatformAdmin(ctx, userID); err != nil {
			j.logger.Warn("warmup role classes", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-accounts/internal/jobs"
)

// SessionPurger deletes login session records that expired before a cut-off.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// PurgeSessionsJob trims user_sessions on a schedule.
type PurgeSessionsJob struct {
	Store   SessionPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPurgeSessionsJob wires dependencies for the purge handler.
func NewPurgeSessionsJob(store SessionPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeSessionsJob {
	return &PurgeSessionsJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle removes sessions whose expiry lies further back than the grace period.
func (j *PurgeSessionsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("purge sessions: handler not configured")
	}
	var payload PurgeSessionsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("purge sessions: decode payload: %w", asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskTypePurgeSessions)
	cutoff := j.clock().Add(-time.Duration(payload.GraceSeconds) * time.Second)
	removed, err := j.Store.PurgeExpiredSessions(ctx, cutoff)
	if err != nil {
		j.logger().Error("purge sessions", slog.Any("error", err))
		return tracker.End(fmt.Errorf("purge sessions: %w", err))
	}
	j.logger().Info("purged expired sessions", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}

func (j *PurgeSessionsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *PurgeSessionsJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

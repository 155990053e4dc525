package service

import (
	"context"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"go.uber.org/zap"
)

// SleepFunc ожидание с учетом отмены контекста. В тестах подменяется.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// noopPublisher используется, когда шина событий отключена.
type noopPublisher struct{}

func (noopPublisher) PublishInstanceUpdate(context.Context, models.InstanceUpdate) error { return nil }

// NoopPublisher публикатор, отбрасывающий события.
func NoopPublisher() interfaces.InstanceEventPublisher { return noopPublisher{} }

// publishUpdate отправляет событие, ошибки только логируются.
func publishUpdate(ctx context.Context, pub interfaces.InstanceEventPublisher, logger *zap.Logger, update models.InstanceUpdate) {
	if pub == nil {
		return
	}
	if update.OccurredAt.IsZero() {
		update.OccurredAt = time.Now().UTC()
	}
	if err := pub.PublishInstanceUpdate(ctx, update); err != nil {
		logger.Warn("Failed to publish instance update",
			zap.String("type", string(update.Type)),
			zap.Stringer("instanceID", update.InstanceID),
			zap.Error(err),
		)
	}
}

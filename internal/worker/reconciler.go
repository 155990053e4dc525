package worker

import (
	"context"
	"fmt"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"go.uber.org/zap"
)

// reconcilePage размер одной страницы обхода ACTIVE экземпляров.
const reconcilePage = 1000

// Reconciler заново ставит задачи ботов для ACTIVE экземпляров. Очередь схлопывает
// одинаковые задачи, поэтому повторный обход безопасен.
type Reconciler struct {
	db           interfaces.DBTX
	instances    interfaces.InstanceRepository
	scheduler    interfaces.TaskScheduler
	chatInterval time.Duration
	pageSize     int
	now          func() time.Time
	logger       *zap.Logger
}

// NewReconciler chatInterval задает время первой периодической реплики. 0 отключает чат.
func NewReconciler(db interfaces.DBTX, instances interfaces.InstanceRepository, scheduler interfaces.TaskScheduler, chatInterval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:           db,
		instances:    instances,
		scheduler:    scheduler,
		chatInterval: chatInterval,
		pageSize:     reconcilePage,
		now:          time.Now,
		logger:       logger.Named("Reconciler"),
	}
}

// Sweep обходит все ACTIVE экземпляры страницами по (created_at, id) и
// возвращает число обработанных.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	var (
		cursor models.InstanceCursor
		total  int
	)
	for {
		page, err := r.instances.ListActive(ctx, r.db, cursor, r.pageSize)
		if err != nil {
			return total, fmt.Errorf("failed to list active instances: %w", err)
		}
		for i := range page {
			if err := r.reschedule(ctx, &page[i], now); err != nil {
				return total, err
			}
		}
		total += len(page)
		if len(page) < r.pageSize {
			return total, nil
		}
		cursor = page[len(page)-1].Cursor()
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (r *Reconciler) reschedule(ctx context.Context, inst *models.StoryInstance, now time.Time) error {
	if inst.CurrentNodeID == nil {
		r.logger.Warn("Active instance without current node", zap.Stringer("instanceID", inst.ID))
		return nil
	}
	choices := models.Task{Kind: models.TaskBotChoices, InstanceID: inst.ID, NodeID: *inst.CurrentNodeID}
	if err := r.scheduler.Schedule(ctx, choices, now); err != nil {
		return err
	}
	if r.chatInterval > 0 {
		chat := models.Task{Kind: models.TaskBotChat, InstanceID: inst.ID}
		if err := r.scheduler.Schedule(ctx, chat, now.Add(r.chatInterval)); err != nil {
			return err
		}
	}
	return nil
}

package interfaces

import (
	"context"
	"time"

	"multiverse-server/internal/models"
)

// TaskScheduler очередь отложенных задач, общая для всех процессов.
//
//go:generate mockery --name TaskScheduler --output ./mocks --outpkg mocks --case=underscore
type TaskScheduler interface {
	// Schedule ставит задачу на dueAt. Повторная постановка такой же задачи не создает дубль.
	Schedule(ctx context.Context, task models.Task, dueAt time.Time) error
	// ClaimDue атомарно забирает до limit созревших задач. Каждую задачу получает ровно один вызывающий.
	ClaimDue(ctx context.Context, now time.Time, limit int64) ([]models.Task, error)
}

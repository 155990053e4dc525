package service

import (
	"context"
	"sync"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"

	"go.uber.org/zap"
)

// TaskHandler исполнитель отложенной задачи.
type TaskHandler func(ctx context.Context, task models.Task) error

// Dispatcher ставит задачи в общую очередь. Если очередь недоступна, задача выполняется
// в горутине этого процесса с ограниченным по времени контекстом.
type Dispatcher struct {
	scheduler   interfaces.TaskScheduler
	taskTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu      sync.RWMutex
	handler TaskHandler
	wg      sync.WaitGroup

	// stopCtx отменяется в Stop: отложенные задачи отбрасываются, запущенные получают отмену.
	stopCtx context.Context
	stop    context.CancelFunc
}

// NewDispatcher scheduler может быть nil, тогда все задачи выполняются локально.
func NewDispatcher(scheduler interfaces.TaskScheduler, taskTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		scheduler:   scheduler,
		taskTimeout: taskTimeout,
		now:         time.Now,
		logger:      logger.Named("Dispatcher"),
		stopCtx:     stopCtx,
		stop:        stop,
	}
}

// Bind задает исполнителя для локального запуска.
func (d *Dispatcher) Bind(handler TaskHandler) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// After ставит задачу на выполнение через delay. Ошибки не возвращает.
func (d *Dispatcher) After(ctx context.Context, task models.Task, delay time.Duration) {
	if d.scheduler != nil {
		err := d.scheduler.Schedule(ctx, task, d.now().Add(delay))
		if err == nil {
			metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "scheduled").Inc()
			return
		}
		d.logger.Warn("Scheduling failed, running task in-process", zap.Stringer("task", task), zap.Error(err))
	}
	if d.stopCtx.Err() != nil {
		metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "dropped").Inc()
		d.logger.Warn("Dispatcher stopped, task dropped", zap.Stringer("task", task))
		return
	}
	metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "fallback").Inc()

	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()
	if handler == nil {
		d.logger.Error("No task handler bound, task dropped", zap.Stringer("task", task))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-d.stopCtx.Done():
			metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "dropped").Inc()
			d.logger.Warn("Dispatcher stopped before task was due, task dropped", zap.Stringer("task", task))
			return
		}

		runCtx, cancel := context.WithTimeout(d.stopCtx, d.taskTimeout)
		defer cancel()
		if err := handler(runCtx, task); err != nil {
			metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "failed").Inc()
			d.logger.Warn("In-process task failed", zap.Stringer("task", task), zap.Error(err))
			return
		}
		metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "done").Inc()
	}()
}

// Wait ждет завершения локально запущенных задач.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop отбрасывает еще не наступившие локальные задачи и отменяет контекст запущенных.
// Повторный вызов ничего не делает.
func (d *Dispatcher) Stop() {
	d.stop()
}

// Shutdown Stop и ожидание локальных задач, но не дольше ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.Stop()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

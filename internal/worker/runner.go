package worker

import (
	"context"
	"sync"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"
	"multiverse-server/internal/models"

	"go.uber.org/zap"
)

// Handler исполнитель задачи из очереди.
type Handler func(ctx context.Context, task models.Task) error

// Runner опрашивает очередь и исполняет созревшие задачи с ограниченным параллелизмом.
// Несколько Runner в разных процессах могут работать с одной очередью.
type Runner struct {
	scheduler  interfaces.TaskScheduler
	handler    Handler
	reconciler *Reconciler
	cfg        config.SchedulerConfig
	now        func() time.Time
	logger     *zap.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

func NewRunner(scheduler interfaces.TaskScheduler, handler Handler, cfg config.SchedulerConfig, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = int64(cfg.Concurrency)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &Runner{
		scheduler: scheduler,
		handler:   handler,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("TaskRunner"),
		slots:     make(chan struct{}, cfg.Concurrency),
	}
}

// WithReconciler включает периодическое восстановление расписания.
func (r *Runner) WithReconciler(rec *Reconciler) *Runner {
	r.reconciler = rec
	return r
}

// Run блокируется до отмены ctx, затем дожидается начатых задач.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("Task runner started",
		zap.Duration("pollInterval", r.cfg.PollInterval),
		zap.Int("concurrency", r.cfg.Concurrency),
	)
	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	var reconcile <-chan time.Time
	if r.reconciler != nil && r.cfg.ReconcileInterval > 0 {
		r.reconcile(ctx)
		t := time.NewTicker(r.cfg.ReconcileInterval)
		defer t.Stop()
		reconcile = t.C
	}

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("Task runner stopped")
			return
		case <-poll.C:
			r.Poll(ctx)
		case <-reconcile:
			r.reconcile(ctx)
		}
	}
}

// Poll забирает одну пачку задач и запускает их. Возвращает число запущенных задач.
func (r *Runner) Poll(ctx context.Context) int {
	free := int64(cap(r.slots) - len(r.slots))
	if free <= 0 {
		return 0
	}
	limit := r.cfg.BatchSize
	if limit > free {
		limit = free
	}

	tasks, err := r.scheduler.ClaimDue(ctx, r.now(), limit)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("Failed to claim due tasks", zap.Error(err))
		}
		// часть задач могла быть забрана до ошибки
	}
	for _, task := range tasks {
		metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "claimed").Inc()
		r.slots <- struct{}{}
		r.wg.Add(1)
		go r.execute(ctx, task)
	}
	return len(tasks)
}

// Wait дожидается всех запущенных задач.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, task models.Task) {
	defer func() {
		<-r.slots
		r.wg.Done()
	}()
	// забранная задача доводится до конца даже при остановке процесса
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TaskTimeout)
	defer cancel()

	log := r.logger.With(zap.Stringer("task", task))
	defer func() {
		if p := recover(); p != nil {
			metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "failed").Inc()
			log.Error("Task panicked", zap.Any("panic", p))
		}
	}()

	if err := r.handler(taskCtx, task); err != nil {
		metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "failed").Inc()
		log.Error("Task failed", zap.Error(err))
		return
	}
	metrics.SchedulerTasksTotal.WithLabelValues(string(task.Kind), "done").Inc()
	log.Debug("Task done")
}

func (r *Runner) reconcile(ctx context.Context) {
	n, err := r.reconciler.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("Reconcile sweep failed", zap.Error(err))
		}
		return
	}
	r.logger.Debug("Reconcile sweep finished", zap.Int("instances", n))
}

package app

import (
	"context"
	"fmt"
	"time"

	"multiverse-server/internal/config"
	"multiverse-server/internal/database"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/random"
	"multiverse-server/internal/scheduler"
	"multiverse-server/internal/service"
	"multiverse-server/internal/textgen"
	"multiverse-server/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupDatabase подключается к PostgreSQL и при необходимости применяет миграции.
func SetupDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := database.NewMigrator(pool, logger).Up(); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

// ConnectRedis клиент очереди задач и кулдауна чата.
func ConnectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("Redis client ready", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	return client, nil
}

// ConnectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func ConnectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}

// Core собранное ядро координации.
type Core struct {
	Service    service.StoryService
	Tasks      worker.Handler
	Scheduler  interfaces.TaskScheduler
	Instances  interfaces.InstanceRepository
	Dispatcher *service.Dispatcher
}

// BuildCore связывает репозитории, движок прогрессии, ботов и фасад сервиса.
func BuildCore(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, publisher interfaces.InstanceEventPublisher, logger *zap.Logger) (*Core, error) {
	catalogRepo := database.NewPgCatalogRepository(logger)
	instanceRepo := database.NewPgInstanceRepository(logger)
	assignmentRepo := database.NewPgAssignmentRepository(logger)
	ledger := database.NewPgChoiceLedger(logger)
	chatRepo := database.NewPgChatRepository(logger)
	txManager := database.NewTxManager(pool)
	cooldown := database.NewRedisChatCooldown(rdb, cfg.Bots.ChatCooldown, logger)
	taskScheduler := scheduler.NewRedisScheduler(rdb, cfg.RedisQueueKey, logger)

	generator, err := textgen.New(cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create text generator: %w", err)
	}
	var trimmer service.LineTrimmer
	if budget, err := textgen.NewTokenBudget(cfg.AI.Model); err != nil {
		logger.Warn("Tokenizer unavailable, chat history is trimmed by line count only", zap.Error(err))
	} else {
		trimmer = budget
	}

	rnd := random.NewTimeSeeded()
	dispatcher := service.NewDispatcher(taskScheduler, cfg.Scheduler.TaskTimeout, logger)
	registry := service.NewInstanceRegistry(pool, instanceRepo, publisher, logger)
	resolver := service.NewQuorumResolver(pool, catalogRepo, ledger, logger)
	bots := service.NewBotDriver(pool, catalogRepo, assignmentRepo, ledger, publisher, rnd, cfg.Bots, logger)
	engine := service.NewProgressionEngine(pool, catalogRepo, instanceRepo, assignmentRepo, ledger, registry, resolver, bots, dispatcher, cfg.Bots, logger)
	joiner := service.NewAssignmentManager(pool, txManager, catalogRepo, instanceRepo, assignmentRepo, rnd, logger)
	botChat := service.NewBotChat(pool, catalogRepo, instanceRepo, assignmentRepo, chatRepo, cooldown, generator, trimmer, publisher, rnd, cfg.Bots, logger)

	svc := service.NewStoryService(service.Deps{
		DB:          pool,
		Catalog:     catalogRepo,
		Instances:   instanceRepo,
		Assignments: assignmentRepo,
		Ledger:      ledger,
		Chat:        chatRepo,
		Publisher:   publisher,
	}, joiner, registry, engine, botChat, dispatcher, rnd, cfg.Bots, cfg.HumanRequestBudget, logger)

	return &Core{
		Service:    svc,
		Tasks:      svc.HandleTask,
		Scheduler:  taskScheduler,
		Instances:  instanceRepo,
		Dispatcher: dispatcher,
	}, nil
}

// NewRunner воркер очереди с восстановлением расписания.
func (c *Core) NewRunner(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *worker.Runner {
	reconciler := worker.NewReconciler(pool, c.Instances, c.Scheduler, cfg.Bots.ChatIntervalMax, logger)
	return worker.NewRunner(c.Scheduler, c.Tasks, cfg.Scheduler, logger).WithReconciler(reconciler)
}

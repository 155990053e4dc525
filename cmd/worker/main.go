package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"multiverse-server/internal/app"
	"multiverse-server/internal/config"
	"multiverse-server/internal/logger"
	"multiverse-server/internal/messaging"
	"multiverse-server/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Multiverse Worker...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, Service: "multiverse-worker"})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.SetupDatabase(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := app.ConnectRedis(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Воркер не держит websocket-клиентов, без брокера события некому доставить.
	publisher := service.NoopPublisher()
	if cfg.PublisherEnabled {
		rabbitConn, err := app.ConnectRabbitMQ(cfg.RabbitMQURL, zlog)
		if err != nil {
			zlog.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitConn.Close()
		rabbitPublisher, err := messaging.NewInstanceUpdatePublisher(rabbitConn, cfg.UpdatesExchange, zlog)
		if err != nil {
			zlog.Fatal("Failed to create instance update publisher", zap.Error(err))
		}
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
	} else {
		zlog.Warn("Publisher disabled, instance updates from this worker are not delivered")
	}

	core, err := app.BuildCore(cfg, pool, rdb, publisher, zlog)
	if err != nil {
		zlog.Fatal("Failed to build service core", zap.Error(err))
	}

	core.NewRunner(cfg, pool, zlog).Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := core.Dispatcher.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("In-process tasks did not finish before shutdown deadline", zap.Error(err))
	}
	zlog.Info("Multiverse Worker stopped")
}

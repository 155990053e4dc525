package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"multiverse-server/internal/app"
	"multiverse-server/internal/authutils"
	"multiverse-server/internal/config"
	"multiverse-server/internal/handler"
	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/logger"
	"multiverse-server/internal/messaging"
	"multiverse-server/internal/middleware"
	"multiverse-server/internal/realtime"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Multiverse Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, Service: "multiverse-server"})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
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

	hub := realtime.NewHub(zlog)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// С брокером события проходят через exchange и доходят до хабов всех реплик.
	// Без брокера хаб получает события напрямую.
	var publisher interfaces.InstanceEventPublisher = hub
	var consumer *messaging.InstanceUpdateConsumer
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

		consumer = messaging.NewInstanceUpdateConsumer(rabbitConn, cfg.UpdatesExchange, hub, zlog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.StartConsuming(ctx); err != nil {
				zlog.Error("Instance update consumer stopped with error", zap.Error(err))
			}
		}()
	}

	core, err := app.BuildCore(cfg, pool, rdb, publisher, zlog)
	if err != nil {
		zlog.Fatal("Failed to build service core", zap.Error(err))
	}

	if cfg.EmbeddedWorker {
		runner := core.NewRunner(cfg, pool, zlog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, zlog)
	if err != nil {
		zlog.Fatal("Failed to create JWT verifier", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.RequestLogger(zlog))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	handler.NewStoryHandler(core.Service, verifier, hub, zlog).RegisterRoutes(e)

	go func() {
		zlog.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Echo graceful shutdown failed", zap.Error(err))
	}
	if consumer != nil {
		consumer.Stop()
	}
	stop()
	if err := core.Dispatcher.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("In-process tasks did not finish before shutdown deadline", zap.Error(err))
	}
	wg.Wait()

	zlog.Info("Multiverse Server stopped")
}

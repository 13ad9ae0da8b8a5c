package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"coachsched/internal/app"
	"coachsched/internal/config"
	"coachsched/internal/events"
	"coachsched/internal/notifier"
	"coachsched/internal/repository"
	"coachsched/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Бинарь — воркер уведомлений: применяет миграции, слушает события
// брони из NATS и добирает неудавшиеся отправки по тикеру.
// Сервисы бронирования подключает API-слой, он живёт вне этого ядра.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("Starting coachsched worker",
		zap.String("environment", cfg.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create connection pool", zap.Error(err))
	}
	defer pool.Close()

	// Приводим свежую базу к фиксированной раскладке схемы
	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	store := repository.NewStore(pool)

	publisher, err := events.NewPublisher(cfg.NatsURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	quotaService := service.NewQuotaService(store, logger)
	sender := notifier.NewLogSender(logger)
	notificationService := service.NewNotificationService(
		store,
		quotaService,
		sender,
		cfg.SendTimeout,
		cfg.MaxSendRetries,
		logger,
	)

	subscriber := events.NewSubscriber(publisher.Conn(), notificationService, logger)
	if err := subscriber.Start(); err != nil {
		logger.Fatal("Failed to start event subscriber", zap.Error(err))
	}
	defer subscriber.Stop()

	retrier := app.NewRetrier(notificationService, cfg.RetryInterval, logger)
	retrier.Start(ctx)
	defer retrier.Stop()

	logger.Info("coachsched worker started, waiting for events")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down coachsched worker")
}

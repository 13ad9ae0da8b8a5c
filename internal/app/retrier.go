package app

import (
	"context"
	"time"

	"coachsched/internal/service"
	"go.uber.org/zap"
)

// За один проход повтора берём не больше этого числа строк журнала
const retryBatchSize = 100

// Retrier периодически добирает FAILED-отправки из журнала
type Retrier struct {
	notifications *service.NotificationService
	interval      time.Duration
	logger        *zap.Logger
	stopChan      chan struct{}
}

// NewRetrier создаёт фоновый повторитель отправок
func NewRetrier(notifications *service.NotificationService, interval time.Duration, logger *zap.Logger) *Retrier {
	return &Retrier{
		notifications: notifications,
		interval:      interval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start запускает фоновый цикл повторов
func (r *Retrier) Start(ctx context.Context) {
	r.logger.Info("Starting message retry loop", zap.Duration("interval", r.interval))
	go r.run(ctx)
}

// Stop останавливает цикл
func (r *Retrier) Stop() {
	r.logger.Info("Stopping message retry loop")
	close(r.stopChan)
}

func (r *Retrier) run(ctx context.Context) {
	// Первый проход сразу при старте
	r.retryOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.retryOnce(ctx)
		case <-r.stopChan:
			r.logger.Info("Message retry loop stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Message retry loop cancelled")
			return
		}
	}
}

func (r *Retrier) retryOnce(ctx context.Context) {
	retried, err := r.notifications.RetryFailed(ctx, retryBatchSize)
	if err != nil {
		r.logger.Error("Failed to retry messages", zap.Error(err))
		return
	}

	if retried > 0 {
		r.logger.Info("Message retry pass completed", zap.Int("retried", retried))
	}
}

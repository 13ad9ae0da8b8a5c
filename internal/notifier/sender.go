// Package notifier реализации внешнего канала доставки.
// Сам транспорт (как сообщение доходит до устройства) ядру не принадлежит.
package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LogSender канал доставки для разработки и тестов: пишет сообщение
// в лог вместо реальной отправки. Уважает контекст, поэтому таймауты
// отрабатывают так же, как у настоящего канала.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, templateType string, receiverUserID int64, messageData []byte, pagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info("Message sent (mock)",
		zap.String("template_type", templateType),
		zap.Int64("receiver_user_id", receiverUserID),
		zap.ByteString("message_data", messageData),
		zap.String("page_path", pagePath),
	)

	return nil
}

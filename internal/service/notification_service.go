package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coachsched/internal/model"
	"go.uber.org/zap"
)

// SENDING-строка старше этого срока считается зависшей: попытка отправки
// была, но её исход не записался (сбой хранилища между отправкой и
// фиксацией результата). Такие строки добираются повтором наравне с FAILED.
// Срок заведомо больше любого разумного таймаута отправки, чтобы не
// перехватить строку, которая ещё реально отправляется.
const staleSendingAfter = 10 * time.Minute

// NotificationService отправляет подписочные сообщения не более одного
// раза на (business_type, business_id, template_type, receiver_user_id)
// и списывает квоту перед каждой отправкой.
type NotificationService struct {
	notifStore  NotificationStore
	quota       *QuotaService
	sender      Sender
	sendTimeout time.Duration
	maxRetries  int
	logger      *zap.Logger
}

func NewNotificationService(
	notifStore NotificationStore,
	quota *QuotaService,
	sender Sender,
	sendTimeout time.Duration,
	maxRetries int,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notifStore:  notifStore,
		quota:       quota,
		sender:      sender,
		sendTimeout: sendTimeout,
		maxRetries:  maxRetries,
		logger:      logger,
	}
}

// DispatchRequest запрос на отправку одного сообщения одному получателю
type DispatchRequest struct {
	BusinessType   string
	BusinessID     int64
	TemplateType   string
	ReceiverUserID int64
	MessageData    json.RawMessage // пробрасывается в канал отправки как есть
	PagePath       string
}

// Dispatch выполняет идемпотентную отправку.
//
// Сначала вставляется строка журнала в статусе SENDING; если кортеж уже
// занят — возвращается существующая строка без новой отправки.
// Затем списывается квота: при исчерпании строка получает FAILED с кодом
// QUOTA_EXHAUSTED и внешняя отправка не выполняется.
// Сбои отправки персистятся в строке журнала, а не возвращаются ошибкой:
// ошибкой наружу уходят только отказы самого хранилища.
func (s *NotificationService) Dispatch(ctx context.Context, req DispatchRequest) (*model.SubscribeMessageLog, error) {
	logRow := &model.SubscribeMessageLog{
		BusinessType:   req.BusinessType,
		BusinessID:     req.BusinessID,
		TemplateType:   req.TemplateType,
		ReceiverUserID: req.ReceiverUserID,
		MessageData:    req.MessageData,
		PagePath:       req.PagePath,
		SendStatus:     model.SendStatusSending,
	}

	inserted, existing, err := s.notifStore.InsertMessageLog(ctx, logRow)
	if err != nil {
		return nil, fmt.Errorf("insert message log: %w", err)
	}

	if !inserted {
		// Кортеж уже обработан (или обрабатывается) — возвращаем его исход
		s.logger.Info("Dispatch skipped, tuple already handled",
			zap.String("business_type", req.BusinessType),
			zap.Int64("business_id", req.BusinessID),
			zap.String("template_type", req.TemplateType),
			zap.Int64("receiver_user_id", req.ReceiverUserID),
			zap.String("send_status", string(existing.SendStatus)),
		)
		return existing, nil
	}

	err = s.quota.DebitMessageQuota(ctx, req.ReceiverUserID, req.TemplateType)
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			return s.recordFailure(ctx, logRow, model.SendErrQuotaExhausted, "message quota exhausted")
		}
		return nil, err
	}

	return s.attemptSend(ctx, logRow)
}

// RetryFailed повторяет строки журнала в пределах лимита повторов:
// FAILED-строки и зависшие SENDING-строки (см. staleSendingAfter).
// Квота повторно не списывается: она уже списана при первой попытке.
func (s *NotificationService) RetryFailed(ctx context.Context, limit int) (int, error) {
	pending, err := s.notifStore.ListRetryableMessageLogs(ctx, s.maxRetries, limit, staleSendingAfter)
	if err != nil {
		return 0, fmt.Errorf("list retryable message logs: %w", err)
	}

	retried := 0
	for _, logRow := range pending {
		ok, err := s.notifStore.MarkMessageLogRetry(ctx, logRow.ID, s.maxRetries, staleSendingAfter)
		if err != nil {
			return retried, fmt.Errorf("mark message log retry: %w", err)
		}
		if !ok {
			continue
		}

		if _, err := s.attemptSend(ctx, logRow); err != nil {
			return retried, err
		}
		retried++
	}

	if retried > 0 {
		s.logger.Info("Retried failed messages", zap.Int("count", retried))
	}

	return retried, nil
}

// attemptSend выполняет внешнюю отправку с таймаутом и фиксирует исход
func (s *NotificationService) attemptSend(ctx context.Context, logRow *model.SubscribeMessageLog) (*model.SubscribeMessageLog, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	err := s.sender.Send(sendCtx, logRow.TemplateType, logRow.ReceiverUserID, logRow.MessageData, logRow.PagePath)
	if err != nil {
		code := model.SendErrDelivery
		if errors.Is(err, context.DeadlineExceeded) {
			code = model.SendErrTimeout
		}
		return s.recordFailure(ctx, logRow, code, err.Error())
	}

	if err := s.notifStore.SetMessageLogResult(ctx, logRow.ID, model.SendStatusSuccess, "", ""); err != nil {
		return nil, fmt.Errorf("record send success: %w", err)
	}

	logRow.SendStatus = model.SendStatusSuccess
	logRow.ErrorCode = ""
	logRow.ErrorMessage = ""

	s.logger.Info("Message sent",
		zap.Int64("log_id", logRow.ID),
		zap.String("template_type", logRow.TemplateType),
		zap.Int64("receiver_user_id", logRow.ReceiverUserID),
	)

	return logRow, nil
}

func (s *NotificationService) recordFailure(ctx context.Context, logRow *model.SubscribeMessageLog, code, message string) (*model.SubscribeMessageLog, error) {
	if err := s.notifStore.SetMessageLogResult(ctx, logRow.ID, model.SendStatusFailed, code, message); err != nil {
		return nil, fmt.Errorf("record send failure: %w", err)
	}

	logRow.SendStatus = model.SendStatusFailed
	logRow.ErrorCode = code
	logRow.ErrorMessage = message
	logRow.RetryCount++

	s.logger.Warn("Message send failed",
		zap.Int64("log_id", logRow.ID),
		zap.String("template_type", logRow.TemplateType),
		zap.Int64("receiver_user_id", logRow.ReceiverUserID),
		zap.String("error_code", code),
		zap.String("error_message", message),
	)

	return logRow, nil
}

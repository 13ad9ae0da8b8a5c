package service

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"go.uber.org/zap"
)

// QuotaService ведёт два независимых леджера:
// остатки занятий по категориям на связи студент-тренер
// и квоты подписочных сообщений по (пользователь, тип шаблона).
type QuotaService struct {
	notifStore NotificationStore
	logger     *zap.Logger
}

func NewQuotaService(notifStore NotificationStore, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		notifStore: notifStore,
		logger:     logger,
	}
}

// DebitLesson списывает одно занятие категории с баланса связи.
// Вызывается только внутри транзакции брони, на строке связи,
// уже взятой под блокировку — вместе со вставкой брони это один
// атомарный блок. Баланс никогда не уходит в минус.
func (s *QuotaService) DebitLesson(ctx context.Context, tx StoreTx, relation *model.StudentCoachRelation, categoryID int64) error {
	if relation.Lessons.Remaining(categoryID) <= 0 {
		return ErrInsufficientLessons
	}

	relation.Lessons[categoryID]--

	err := tx.UpdateRelationLessons(ctx, relation.ID, relation.Lessons)
	if err != nil {
		return fmt.Errorf("debit lesson: %w", err)
	}

	return nil
}

// CreditLesson возвращает одно занятие категории на баланс.
// Вызывается в транзакции отмены брони, симметрично DebitLesson.
func (s *QuotaService) CreditLesson(ctx context.Context, tx StoreTx, relation *model.StudentCoachRelation, categoryID int64) error {
	if !relation.Lessons.Has(categoryID) {
		return fmt.Errorf("credit lesson: relation %d has no category %d", relation.ID, categoryID)
	}

	relation.Lessons[categoryID]++

	err := tx.UpdateRelationLessons(ctx, relation.ID, relation.Lessons)
	if err != nil {
		return fmt.Errorf("credit lesson: %w", err)
	}

	return nil
}

// DebitMessageQuota списывает одну отправку из квоты пользователя
func (s *QuotaService) DebitMessageQuota(ctx context.Context, userID int64, templateType string) error {
	ok, err := s.notifStore.DebitMessageQuota(ctx, userID, templateType)
	if err != nil {
		return fmt.Errorf("debit message quota: %w", err)
	}

	if !ok {
		return ErrQuotaExhausted
	}

	return nil
}

// Authorize добавляет delta отправок к квоте пользователя.
// Единственный путь увеличения total_quota.
func (s *QuotaService) Authorize(ctx context.Context, userID int64, templateType string, delta int) (*model.UserSubscribeQuota, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("authorize quota: delta must be positive, got %d", delta)
	}

	quota, err := s.notifStore.AuthorizeMessageQuota(ctx, userID, templateType, delta)
	if err != nil {
		return nil, fmt.Errorf("authorize quota: %w", err)
	}

	s.logger.Info("Message quota authorized",
		zap.Int64("user_id", userID),
		zap.String("template_type", templateType),
		zap.Int("delta", delta),
		zap.Int("remaining", quota.RemainingQuota),
		zap.Int("total", quota.TotalQuota),
	)

	return quota, nil
}

// GetMessageQuota получает текущую квоту пользователя
func (s *QuotaService) GetMessageQuota(ctx context.Context, userID int64, templateType string) (*model.UserSubscribeQuota, error) {
	return s.notifStore.MessageQuota(ctx, userID, templateType)
}

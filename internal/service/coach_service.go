package service

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"go.uber.org/zap"
)

// CoachService управляет тренерами, их категориями курсов
// и шаблонами доступности
type CoachService struct {
	store  Store
	logger *zap.Logger
}

func NewCoachService(store Store, logger *zap.Logger) *CoachService {
	return &CoachService{store: store, logger: logger}
}

// CreateCoach создаёт тренера с набором категорий курсов
func (s *CoachService) CreateCoach(ctx context.Context, name string, categories model.CourseCategories) (*model.Coach, error) {
	coach := &model.Coach{
		Name:             name,
		CourseCategories: categories,
	}

	if err := s.store.CreateCoach(ctx, coach); err != nil {
		return nil, err
	}

	s.logger.Info("Coach created",
		zap.Int64("coach_id", coach.ID),
		zap.String("name", name),
		zap.Int("categories", len(categories)),
	)

	return coach, nil
}

// SetCourseCategories заменяет набор категорий курсов тренера
func (s *CoachService) SetCourseCategories(ctx context.Context, coachID int64, categories model.CourseCategories) error {
	if err := s.store.UpdateCoachCategories(ctx, coachID, categories); err != nil {
		return err
	}

	s.logger.Info("Coach categories updated",
		zap.Int64("coach_id", coachID),
		zap.Int("categories", len(categories)),
	)

	return nil
}

// UpsertTemplate создаёт или заменяет шаблон доступности тренера.
// Шаблон проверяется до записи: авторитетное для time_type поле должно
// быть заполнено, date_slots содержать все 7 дней, лимиты — положительные.
func (s *CoachService) UpsertTemplate(ctx context.Context, tpl *model.AvailabilityTemplate) (*model.AvailabilityTemplate, error) {
	if _, err := tpl.Schedule(); err != nil {
		return nil, err
	}

	if len(tpl.DateSlots) != 7 {
		return nil, fmt.Errorf("template must define all 7 weekday flags, got %d", len(tpl.DateSlots))
	}
	if tpl.MaxAdvanceDays <= 0 {
		return nil, fmt.Errorf("max_advance_days must be positive, got %d", tpl.MaxAdvanceDays)
	}
	if tpl.MaxAdvanceNums <= 0 {
		return nil, fmt.Errorf("max_advance_nums must be positive, got %d", tpl.MaxAdvanceNums)
	}

	coach, err := s.store.Coach(ctx, tpl.CoachID)
	if err != nil {
		return nil, fmt.Errorf("get coach: %w", err)
	}
	if coach == nil {
		return nil, fmt.Errorf("coach %d not found", tpl.CoachID)
	}

	if err := s.store.UpsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("Availability template saved",
		zap.Int64("template_id", tpl.ID),
		zap.Int64("coach_id", tpl.CoachID),
		zap.String("time_type", string(tpl.TimeType)),
		zap.Int("max_advance_days", tpl.MaxAdvanceDays),
		zap.Int("max_advance_nums", tpl.MaxAdvanceNums),
	)

	return tpl, nil
}

// GetTemplate получает шаблон тренера
func (s *CoachService) GetTemplate(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	tpl, err := s.store.TemplateByCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

package service

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"go.uber.org/zap"
)

// RelationService управляет связями студент-тренер и пополнением
// баланса занятий
type RelationService struct {
	store  Store
	logger *zap.Logger
}

func NewRelationService(store Store, logger *zap.Logger) *RelationService {
	return &RelationService{store: store, logger: logger}
}

// CreateRelation создаёт связь студент-тренер с начальным набором занятий.
// Категории в lessons должны существовать у тренера.
func (s *RelationService) CreateRelation(ctx context.Context, studentID, coachID int64, autoConfirm bool, lessons model.LessonBalances) (*model.StudentCoachRelation, error) {
	coach, err := s.store.Coach(ctx, coachID)
	if err != nil {
		return nil, fmt.Errorf("get coach: %w", err)
	}
	if coach == nil {
		return nil, fmt.Errorf("coach %d not found", coachID)
	}

	for categoryID := range lessons {
		if _, ok := coach.CourseCategories[categoryID]; !ok {
			return nil, fmt.Errorf("coach %d has no course category %d", coachID, categoryID)
		}
	}

	existing, err := s.store.RelationByPair(ctx, studentID, coachID)
	if err != nil {
		return nil, fmt.Errorf("get relation by pair: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("relation for student %d and coach %d already exists", studentID, coachID)
	}

	relation := &model.StudentCoachRelation{
		StudentID:          studentID,
		CoachID:            coachID,
		AutoConfirmByCoach: autoConfirm,
		Lessons:            lessons,
	}

	if err := s.store.CreateRelation(ctx, relation); err != nil {
		return nil, err
	}

	s.logger.Info("Relation created",
		zap.Int64("relation_id", relation.ID),
		zap.Int64("student_id", studentID),
		zap.Int64("coach_id", coachID),
		zap.Bool("auto_confirm", autoConfirm),
	)

	return relation, nil
}

// AddLessons пополняет баланс занятий категории (покупка пакета занятий).
// Баланс меняется под блокировкой строки связи.
func (s *RelationService) AddLessons(ctx context.Context, relationID, categoryID int64, count int) (*model.StudentCoachRelation, error) {
	if count <= 0 {
		return nil, fmt.Errorf("add lessons: count must be positive, got %d", count)
	}

	var relation *model.StudentCoachRelation
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		relation, err = tx.RelationForUpdate(ctx, relationID)
		if err != nil {
			return fmt.Errorf("lock relation: %w", err)
		}
		if relation == nil {
			return ErrRelationNotFound
		}

		if relation.Lessons == nil {
			relation.Lessons = model.LessonBalances{}
		}
		relation.Lessons[categoryID] += count

		return tx.UpdateRelationLessons(ctx, relationID, relation.Lessons)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lessons added",
		zap.Int64("relation_id", relationID),
		zap.Int64("category_id", categoryID),
		zap.Int("count", count),
		zap.Int("remaining", relation.Lessons.Remaining(categoryID)),
	)

	return relation, nil
}

// GetRelation получает связь по ID
func (s *RelationService) GetRelation(ctx context.Context, relationID int64) (*model.StudentCoachRelation, error) {
	return s.store.Relation(ctx, relationID)
}

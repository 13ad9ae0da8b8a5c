package repository

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type RelationRepository struct {
	db base.Querier
}

func NewRelationRepository(db base.Querier) *RelationRepository {
	return &RelationRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *RelationRepository) WithTx(tx pgx.Tx) *RelationRepository {
	return &RelationRepository{db: tx}
}

const relationColumns = `
	id, student_id, coach_id, auto_confirm_by_coach, lessons, created_at, updated_at
`

// Create создаёт связь студент-тренер с начальным балансом занятий
func (r *RelationRepository) Create(ctx context.Context, relation *model.StudentCoachRelation) error {
	query := `
		INSERT INTO student_coach_relations (student_id, coach_id, auto_confirm_by_coach, lessons)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		relation.StudentID,
		relation.CoachID,
		relation.AutoConfirmByCoach,
		relation.Lessons,
	).Scan(&relation.ID, &relation.CreatedAt, &relation.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create relation: %w", err)
	}

	return nil
}

// GetByID получает связь по ID
func (r *RelationRepository) GetByID(ctx context.Context, id int64) (*model.StudentCoachRelation, error) {
	query := `SELECT ` + relationColumns + ` FROM student_coach_relations WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByIDForUpdate получает связь с блокировкой строки.
// Вызывается внутри транзакции перед списанием или возвратом занятия,
// чтобы баланс менялся без потерянных обновлений.
func (r *RelationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.StudentCoachRelation, error) {
	query := `SELECT ` + relationColumns + ` FROM student_coach_relations WHERE id = $1 FOR UPDATE`
	return r.scanOne(ctx, query, id)
}

// GetByPair получает связь по паре (студент, тренер)
func (r *RelationRepository) GetByPair(ctx context.Context, studentID, coachID int64) (*model.StudentCoachRelation, error) {
	query := `SELECT ` + relationColumns + ` FROM student_coach_relations WHERE student_id = $1 AND coach_id = $2`
	return r.scanOne(ctx, query, studentID, coachID)
}

func (r *RelationRepository) scanOne(ctx context.Context, query string, args ...any) (*model.StudentCoachRelation, error) {
	var relation model.StudentCoachRelation
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&relation.ID,
		&relation.StudentID,
		&relation.CoachID,
		&relation.AutoConfirmByCoach,
		&relation.Lessons,
		&relation.CreatedAt,
		&relation.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get relation: %w", err)
	}

	return &relation, nil
}

// UpdateLessons записывает новый баланс занятий
func (r *RelationRepository) UpdateLessons(ctx context.Context, id int64, lessons model.LessonBalances) error {
	query := `
		UPDATE student_coach_relations
		SET lessons = $1, updated_at = now()
		WHERE id = $2
	`

	result, err := r.db.Exec(ctx, query, lessons, id)
	if err != nil {
		return fmt.Errorf("update relation lessons: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("relation not found")
	}

	return nil
}

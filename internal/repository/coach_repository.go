package repository

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type CoachRepository struct {
	db base.Querier
}

func NewCoachRepository(db base.Querier) *CoachRepository {
	return &CoachRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *CoachRepository) WithTx(tx pgx.Tx) *CoachRepository {
	return &CoachRepository{db: tx}
}

// Create создаёт тренера
func (r *CoachRepository) Create(ctx context.Context, coach *model.Coach) error {
	query := `
		INSERT INTO coaches (name, course_categories)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, coach.Name, coach.CourseCategories).
		Scan(&coach.ID, &coach.CreatedAt)

	if err != nil {
		return fmt.Errorf("create coach: %w", err)
	}

	return nil
}

// GetByID получает тренера по ID
func (r *CoachRepository) GetByID(ctx context.Context, id int64) (*model.Coach, error) {
	query := `SELECT id, name, course_categories, created_at FROM coaches WHERE id = $1`

	var coach model.Coach
	err := r.db.QueryRow(ctx, query, id).Scan(
		&coach.ID,
		&coach.Name,
		&coach.CourseCategories,
		&coach.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coach by id: %w", err)
	}

	return &coach, nil
}

// UpdateCategories записывает новый набор категорий курсов тренера
func (r *CoachRepository) UpdateCategories(ctx context.Context, id int64, categories model.CourseCategories) error {
	query := `UPDATE coaches SET course_categories = $1 WHERE id = $2`

	result, err := r.db.Exec(ctx, query, categories, id)
	if err != nil {
		return fmt.Errorf("update coach categories: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("coach not found")
	}

	return nil
}

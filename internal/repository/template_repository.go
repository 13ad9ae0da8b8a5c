package repository

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type TemplateRepository struct {
	db base.Querier
}

func NewTemplateRepository(db base.Querier) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *TemplateRepository) WithTx(tx pgx.Tx) *TemplateRepository {
	return &TemplateRepository{db: tx}
}

const templateColumns = `
	id, coach_id, time_type, time_slots, week_slots, free_time_range,
	date_slots, max_advance_days, max_advance_nums, created_at, updated_at
`

// Upsert создаёт или обновляет шаблон доступности тренера.
// У тренера ровно один активный шаблон.
func (r *TemplateRepository) Upsert(ctx context.Context, tpl *model.AvailabilityTemplate) error {
	query := `
		INSERT INTO availability_templates
			(coach_id, time_type, time_slots, week_slots, free_time_range,
			 date_slots, max_advance_days, max_advance_nums)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (coach_id) DO UPDATE SET
			time_type = EXCLUDED.time_type,
			time_slots = EXCLUDED.time_slots,
			week_slots = EXCLUDED.week_slots,
			free_time_range = EXCLUDED.free_time_range,
			date_slots = EXCLUDED.date_slots,
			max_advance_days = EXCLUDED.max_advance_days,
			max_advance_nums = EXCLUDED.max_advance_nums,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		tpl.CoachID,
		tpl.TimeType,
		tpl.TimeSlots,
		tpl.WeekSlots,
		tpl.FreeTimeRange,
		tpl.DateSlots,
		tpl.MaxAdvanceDays,
		tpl.MaxAdvanceNums,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert availability template: %w", err)
	}

	return nil
}

// GetByCoachID получает шаблон тренера
func (r *TemplateRepository) GetByCoachID(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM availability_templates WHERE coach_id = $1`
	return r.scanOne(ctx, query, coachID)
}

// GetByCoachIDForUpdate получает шаблон с блокировкой строки.
// Строка шаблона служит якорем сериализации бронирований тренера:
// подсчёт занятости слота сам по себе не защищает от фантомной вставки,
// а под этой блокировкой два конкурентных бронирования одного тренера
// проверяют лимит строго по очереди.
func (r *TemplateRepository) GetByCoachIDForUpdate(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM availability_templates WHERE coach_id = $1 FOR UPDATE`
	return r.scanOne(ctx, query, coachID)
}

func (r *TemplateRepository) scanOne(ctx context.Context, query string, args ...any) (*model.AvailabilityTemplate, error) {
	var tpl model.AvailabilityTemplate
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&tpl.ID,
		&tpl.CoachID,
		&tpl.TimeType,
		&tpl.TimeSlots,
		&tpl.WeekSlots,
		&tpl.FreeTimeRange,
		&tpl.DateSlots,
		&tpl.MaxAdvanceDays,
		&tpl.MaxAdvanceNums,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	return &tpl, nil
}

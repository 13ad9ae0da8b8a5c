package repository

import (
	"context"
	"fmt"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type QuotaRepository struct {
	db base.Querier
}

func NewQuotaRepository(db base.Querier) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *QuotaRepository) WithTx(tx pgx.Tx) *QuotaRepository {
	return &QuotaRepository{db: tx}
}

const quotaColumns = `
	id, user_id, template_type, remaining_quota, total_quota, created_at, updated_at
`

// Debit атомарно списывает одну отправку из квоты.
// Возвращает false если квота исчерпана или строки нет —
// условие remaining_quota > 0 в самом UPDATE исключает гонку двух списаний.
func (r *QuotaRepository) Debit(ctx context.Context, userID int64, templateType string) (bool, error) {
	query := `
		UPDATE user_subscribe_quota
		SET remaining_quota = remaining_quota - 1, updated_at = now()
		WHERE user_id = $1 AND template_type = $2 AND remaining_quota > 0
	`

	result, err := r.db.Exec(ctx, query, userID, templateType)
	if err != nil {
		return false, fmt.Errorf("debit message quota: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Authorize увеличивает и остаток, и общий лимит на delta.
// total_quota только растёт — это единственная операция, которая его меняет.
func (r *QuotaRepository) Authorize(ctx context.Context, userID int64, templateType string, delta int) (*model.UserSubscribeQuota, error) {
	query := `
		INSERT INTO user_subscribe_quota (user_id, template_type, remaining_quota, total_quota)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, template_type) DO UPDATE SET
			remaining_quota = user_subscribe_quota.remaining_quota + EXCLUDED.remaining_quota,
			total_quota = user_subscribe_quota.total_quota + EXCLUDED.total_quota,
			updated_at = now()
		RETURNING ` + quotaColumns + `
	`

	var quota model.UserSubscribeQuota
	err := r.db.QueryRow(ctx, query, userID, templateType, delta).Scan(
		&quota.ID,
		&quota.UserID,
		&quota.TemplateType,
		&quota.RemainingQuota,
		&quota.TotalQuota,
		&quota.CreatedAt,
		&quota.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("authorize message quota: %w", err)
	}

	return &quota, nil
}

// Get получает квоту пользователя по типу шаблона
func (r *QuotaRepository) Get(ctx context.Context, userID int64, templateType string) (*model.UserSubscribeQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM user_subscribe_quota WHERE user_id = $1 AND template_type = $2`

	var quota model.UserSubscribeQuota
	err := r.db.QueryRow(ctx, query, userID, templateType).Scan(
		&quota.ID,
		&quota.UserID,
		&quota.TemplateType,
		&quota.RemainingQuota,
		&quota.TotalQuota,
		&quota.CreatedAt,
		&quota.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message quota: %w", err)
	}

	return &quota, nil
}

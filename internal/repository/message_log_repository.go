package repository

import (
	"context"
	"fmt"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type MessageLogRepository struct {
	db base.Querier
}

func NewMessageLogRepository(db base.Querier) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *MessageLogRepository) WithTx(tx pgx.Tx) *MessageLogRepository {
	return &MessageLogRepository{db: tx}
}

const messageLogColumns = `
	id, business_type, business_id, template_type, receiver_user_id,
	message_data, page_path, send_status, retry_count, error_code, error_message,
	created_at, updated_at
`

// Insert пытается создать строку журнала в статусе SENDING.
// Уникальный индекс по (business_type, business_id, template_type, receiver_user_id)
// гарантирует не больше одной строки на кортеж: при конфликте вставка
// не происходит, возвращается уже существующая строка.
// Так проигравший конкурентной вставки видит строку победителя, а не ошибку.
func (r *MessageLogRepository) Insert(ctx context.Context, logRow *model.SubscribeMessageLog) (bool, *model.SubscribeMessageLog, error) {
	query := `
		INSERT INTO subscribe_message_log
			(business_type, business_id, template_type, receiver_user_id,
			 message_data, page_path, send_status)
		VALUES ($1, $2, $3, $4, $5, $6, 'SENDING')
		ON CONFLICT (business_type, business_id, template_type, receiver_user_id) DO NOTHING
		RETURNING id, send_status, retry_count, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		logRow.BusinessType,
		logRow.BusinessID,
		logRow.TemplateType,
		logRow.ReceiverUserID,
		logRow.MessageData,
		logRow.PagePath,
	).Scan(&logRow.ID, &logRow.SendStatus, &logRow.RetryCount, &logRow.CreatedAt, &logRow.UpdatedAt)

	if err == nil {
		return true, logRow, nil
	}

	if !base.IsNotFound(err) {
		return false, nil, fmt.Errorf("insert message log: %w", err)
	}

	// Конфликт: читаем строку победителя
	existing, err := r.GetByTuple(ctx, logRow.BusinessType, logRow.BusinessID, logRow.TemplateType, logRow.ReceiverUserID)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		return false, nil, fmt.Errorf("message log row vanished after insert conflict")
	}

	return false, existing, nil
}

// GetByTuple получает строку журнала по уникальному кортежу
func (r *MessageLogRepository) GetByTuple(ctx context.Context, businessType string, businessID int64, templateType string, receiverUserID int64) (*model.SubscribeMessageLog, error) {
	query := `
		SELECT ` + messageLogColumns + `
		FROM subscribe_message_log
		WHERE business_type = $1 AND business_id = $2 AND template_type = $3 AND receiver_user_id = $4
	`

	row := r.db.QueryRow(ctx, query, businessType, businessID, templateType, receiverUserID)
	logRow, err := scanMessageLog(row)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message log by tuple: %w", err)
	}

	return logRow, nil
}

// SetResult фиксирует исход попытки отправки.
// Неудачная попытка увеличивает retry_count.
func (r *MessageLogRepository) SetResult(ctx context.Context, id int64, status model.SendStatus, errorCode, errorMessage string) error {
	query := `
		UPDATE subscribe_message_log
		SET send_status = $1,
		    error_code = $2,
		    error_message = $3,
		    retry_count = retry_count + (CASE WHEN $1 = 'FAILED' THEN 1 ELSE 0 END),
		    updated_at = now()
		WHERE id = $4
	`

	result, err := r.db.Exec(ctx, query, status, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("set message log result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message log not found")
	}

	return nil
}

// MarkRetry возвращает строку в SENDING для повторной попытки.
// Повторяются FAILED-строки и зависшие SENDING-строки (не обновлялись
// дольше staleAfter — исход первой попытки не записался). Возвращает false
// если строка непригодна для повтора или лимит исчерпан — SUCCESS
// повторно не отправляется никогда. updated_at обновляется сразу,
// чтобы параллельный проход повтора не взял ту же строку.
func (r *MessageLogRepository) MarkRetry(ctx context.Context, id int64, maxRetries int, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE subscribe_message_log
		SET send_status = 'SENDING', updated_at = now()
		WHERE id = $1 AND retry_count < $2
		  AND (send_status = 'FAILED'
		       OR (send_status = 'SENDING' AND updated_at < now() - $3))
	`

	result, err := r.db.Exec(ctx, query, id, maxRetries, staleAfter)
	if err != nil {
		return false, fmt.Errorf("mark message log retry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListRetryable получает строки, пригодные для повтора: FAILED в пределах
// лимита и зависшие SENDING. Исчерпание квоты повтором не лечится,
// такие строки не выбираются.
func (r *MessageLogRepository) ListRetryable(ctx context.Context, maxRetries, limit int, staleAfter time.Duration) ([]*model.SubscribeMessageLog, error) {
	query := `
		SELECT ` + messageLogColumns + `
		FROM subscribe_message_log
		WHERE retry_count < $1 AND error_code <> $2
		  AND (send_status = 'FAILED'
		       OR (send_status = 'SENDING' AND updated_at < now() - $3))
		ORDER BY updated_at ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, maxRetries, model.SendErrQuotaExhausted, staleAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable message logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.SubscribeMessageLog
	for rows.Next() {
		logRow, err := scanMessageLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		logs = append(logs, logRow)
	}

	return logs, rows.Err()
}

func scanMessageLog(row pgx.Row) (*model.SubscribeMessageLog, error) {
	var logRow model.SubscribeMessageLog
	err := row.Scan(
		&logRow.ID,
		&logRow.BusinessType,
		&logRow.BusinessID,
		&logRow.TemplateType,
		&logRow.ReceiverUserID,
		&logRow.MessageData,
		&logRow.PagePath,
		&logRow.SendStatus,
		&logRow.RetryCount,
		&logRow.ErrorCode,
		&logRow.ErrorMessage,
		&logRow.CreatedAt,
		&logRow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &logRow, nil
}

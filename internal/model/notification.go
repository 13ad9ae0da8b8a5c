package model

import (
	"encoding/json"
	"time"
)

type SendStatus string

const (
	SendStatusSending SendStatus = "SENDING" // Отправка начата, результата ещё нет
	SendStatusSuccess SendStatus = "SUCCESS" // Доставлено
	SendStatusFailed  SendStatus = "FAILED"  // Ошибка, возможен повтор до лимита retry
)

// Коды ошибок отправки, пишутся в error_code лога
const (
	SendErrQuotaExhausted = "QUOTA_EXHAUSTED"
	SendErrTimeout        = "SEND_TIMEOUT"
	SendErrDelivery       = "SEND_FAILED"
)

// UserSubscribeQuota квота подписочных сообщений пользователя по типу шаблона.
// remaining_quota списывается при успешной отправке,
// total_quota только растёт — при явной авторизации новых отправок.
type UserSubscribeQuota struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	TemplateType   string    `json:"template_type"`
	RemainingQuota int       `json:"remaining_quota"`
	TotalQuota     int       `json:"total_quota"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SubscribeMessageLog журнал отправок: не более одной строки на
// (business_type, business_id, template_type, receiver_user_id) —
// это и есть гарантия идемпотентности диспетчера.
type SubscribeMessageLog struct {
	ID             int64           `json:"id"`
	BusinessType   string          `json:"business_type"`
	BusinessID     int64           `json:"business_id"`
	TemplateType   string          `json:"template_type"`
	ReceiverUserID int64           `json:"receiver_user_id"`
	MessageData    json.RawMessage `json:"message_data"` // передаётся в канал отправки как есть
	PagePath       string          `json:"page_path"`
	SendStatus     SendStatus      `json:"send_status"`
	RetryCount     int             `json:"retry_count"`
	ErrorCode      string          `json:"error_code"`
	ErrorMessage   string          `json:"error_message"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

package service

import (
	"context"
	"time"

	"coachsched/internal/model"
)

// Store транзакционная граница над хранилищем.
// Реализуется pgx-репозиториями (internal/repository) и in-memory
// хранилищем в тестах.
type Store interface {
	// InTx выполняет fn в одной транзакции: либо все изменения
	// коммитятся, либо ни одно.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error

	TemplateByCoach(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *model.AvailabilityTemplate) error

	Relation(ctx context.Context, id int64) (*model.StudentCoachRelation, error)
	RelationByPair(ctx context.Context, studentID, coachID int64) (*model.StudentCoachRelation, error)
	CreateRelation(ctx context.Context, relation *model.StudentCoachRelation) error

	Coach(ctx context.Context, id int64) (*model.Coach, error)
	CreateCoach(ctx context.Context, coach *model.Coach) error
	UpdateCoachCategories(ctx context.Context, id int64, categories model.CourseCategories) error

	Booking(ctx context.Context, id int64) (*model.CourseBooking, error)
	ActiveBookings(ctx context.Context, coachID int64, from, to time.Time) ([]*model.CourseBooking, error)
	StudentBookings(ctx context.Context, studentID int64) ([]*model.CourseBooking, error)
	PendingBookings(ctx context.Context, coachID int64) ([]*model.CourseBooking, error)
}

// StoreTx операции, доступные внутри транзакции.
// Методы *ForUpdate блокируют строку до конца транзакции.
type StoreTx interface {
	RelationForUpdate(ctx context.Context, id int64) (*model.StudentCoachRelation, error)
	TemplateForUpdate(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error)
	BookingForUpdate(ctx context.Context, id int64) (*model.CourseBooking, error)
	CountActiveForSlot(ctx context.Context, coachID int64, date time.Time, start model.TimeOfDay) (int, error)
	InsertBooking(ctx context.Context, booking *model.CourseBooking) error
	UpdateBookingStatus(ctx context.Context, id int64, status model.BookingStatus, reopenedAt *time.Time) error
	UpdateRelationLessons(ctx context.Context, id int64, lessons model.LessonBalances) error
}

// NotificationStore хранилище журнала отправок и квот сообщений.
// Операции одиночные и атомарные сами по себе, транзакция вокруг них не нужна.
// Повтору подлежат FAILED-строки, а также SENDING-строки, не обновлявшиеся
// дольше staleAfter: такие застряли из-за сбоя записи результата.
type NotificationStore interface {
	InsertMessageLog(ctx context.Context, row *model.SubscribeMessageLog) (inserted bool, existing *model.SubscribeMessageLog, err error)
	SetMessageLogResult(ctx context.Context, id int64, status model.SendStatus, errorCode, errorMessage string) error
	MarkMessageLogRetry(ctx context.Context, id int64, maxRetries int, staleAfter time.Duration) (bool, error)
	ListRetryableMessageLogs(ctx context.Context, maxRetries, limit int, staleAfter time.Duration) ([]*model.SubscribeMessageLog, error)

	DebitMessageQuota(ctx context.Context, userID int64, templateType string) (bool, error)
	AuthorizeMessageQuota(ctx context.Context, userID int64, templateType string, delta int) (*model.UserSubscribeQuota, error)
	MessageQuota(ctx context.Context, userID int64, templateType string) (*model.UserSubscribeQuota, error)
}

// Sender внешний канал доставки подписочных сообщений.
// Транспорт не принадлежит ядру: сюда передаётся только полезная нагрузка,
// таймаут задаёт вызывающий через контекст.
type Sender interface {
	Send(ctx context.Context, templateType string, receiverUserID int64, messageData []byte, pagePath string) error
}

// EventPublisher публикует события жизненного цикла брони
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, booking *model.CourseBooking) error
}

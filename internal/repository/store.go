package repository

import (
	"context"
	"fmt"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store собирает репозитории в одну транзакционную границу
// и реализует контракты хранилища сервисного слоя.
type Store struct {
	pool      *pgxpool.Pool
	templates *TemplateRepository
	relations *RelationRepository
	coaches   *CoachRepository
	bookings  *BookingRepository
	quotas    *QuotaRepository
	messages  *MessageLogRepository
}

var (
	_ service.Store             = (*Store)(nil)
	_ service.NotificationStore = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		templates: NewTemplateRepository(pool),
		relations: NewRelationRepository(pool),
		coaches:   NewCoachRepository(pool),
		bookings:  NewBookingRepository(pool),
		quotas:    NewQuotaRepository(pool),
		messages:  NewMessageLogRepository(pool),
	}
}

// InTx выполняет fn в одной транзакции: коммит только если fn вернула nil
func (s *Store) InTx(ctx context.Context, fn func(tx service.StoreTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.newStoreTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *Store) TemplateByCoach(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	return s.templates.GetByCoachID(ctx, coachID)
}

func (s *Store) UpsertTemplate(ctx context.Context, tpl *model.AvailabilityTemplate) error {
	return s.templates.Upsert(ctx, tpl)
}

func (s *Store) Relation(ctx context.Context, id int64) (*model.StudentCoachRelation, error) {
	return s.relations.GetByID(ctx, id)
}

func (s *Store) RelationByPair(ctx context.Context, studentID, coachID int64) (*model.StudentCoachRelation, error) {
	return s.relations.GetByPair(ctx, studentID, coachID)
}

func (s *Store) CreateRelation(ctx context.Context, relation *model.StudentCoachRelation) error {
	return s.relations.Create(ctx, relation)
}

func (s *Store) Coach(ctx context.Context, id int64) (*model.Coach, error) {
	return s.coaches.GetByID(ctx, id)
}

func (s *Store) CreateCoach(ctx context.Context, coach *model.Coach) error {
	return s.coaches.Create(ctx, coach)
}

func (s *Store) UpdateCoachCategories(ctx context.Context, id int64, categories model.CourseCategories) error {
	return s.coaches.UpdateCategories(ctx, id, categories)
}

func (s *Store) Booking(ctx context.Context, id int64) (*model.CourseBooking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *Store) ActiveBookings(ctx context.Context, coachID int64, from, to time.Time) ([]*model.CourseBooking, error) {
	return s.bookings.ListActiveByCoachWindow(ctx, coachID, from, to)
}

func (s *Store) StudentBookings(ctx context.Context, studentID int64) ([]*model.CourseBooking, error) {
	return s.bookings.ListByStudentID(ctx, studentID)
}

func (s *Store) PendingBookings(ctx context.Context, coachID int64) ([]*model.CourseBooking, error) {
	return s.bookings.ListPendingByCoachID(ctx, coachID)
}

func (s *Store) InsertMessageLog(ctx context.Context, row *model.SubscribeMessageLog) (bool, *model.SubscribeMessageLog, error) {
	return s.messages.Insert(ctx, row)
}

func (s *Store) SetMessageLogResult(ctx context.Context, id int64, status model.SendStatus, errorCode, errorMessage string) error {
	return s.messages.SetResult(ctx, id, status, errorCode, errorMessage)
}

func (s *Store) MarkMessageLogRetry(ctx context.Context, id int64, maxRetries int, staleAfter time.Duration) (bool, error) {
	return s.messages.MarkRetry(ctx, id, maxRetries, staleAfter)
}

func (s *Store) ListRetryableMessageLogs(ctx context.Context, maxRetries, limit int, staleAfter time.Duration) ([]*model.SubscribeMessageLog, error) {
	return s.messages.ListRetryable(ctx, maxRetries, limit, staleAfter)
}

func (s *Store) DebitMessageQuota(ctx context.Context, userID int64, templateType string) (bool, error) {
	return s.quotas.Debit(ctx, userID, templateType)
}

func (s *Store) AuthorizeMessageQuota(ctx context.Context, userID int64, templateType string, delta int) (*model.UserSubscribeQuota, error) {
	return s.quotas.Authorize(ctx, userID, templateType, delta)
}

func (s *Store) MessageQuota(ctx context.Context, userID int64, templateType string) (*model.UserSubscribeQuota, error) {
	return s.quotas.Get(ctx, userID, templateType)
}

// storeTx операции внутри открытой транзакции
type storeTx struct {
	relations *RelationRepository
	templates *TemplateRepository
	bookings  *BookingRepository
}

var _ service.StoreTx = (*storeTx)(nil)

func (s *Store) newStoreTx(tx pgx.Tx) *storeTx {
	return &storeTx{
		relations: s.relations.WithTx(tx),
		templates: s.templates.WithTx(tx),
		bookings:  s.bookings.WithTx(tx),
	}
}

func (t *storeTx) RelationForUpdate(ctx context.Context, id int64) (*model.StudentCoachRelation, error) {
	return t.relations.GetByIDForUpdate(ctx, id)
}

func (t *storeTx) TemplateForUpdate(ctx context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	return t.templates.GetByCoachIDForUpdate(ctx, coachID)
}

func (t *storeTx) BookingForUpdate(ctx context.Context, id int64) (*model.CourseBooking, error) {
	return t.bookings.GetByIDForUpdate(ctx, id)
}

func (t *storeTx) CountActiveForSlot(ctx context.Context, coachID int64, date time.Time, start model.TimeOfDay) (int, error) {
	return t.bookings.CountActiveForSlot(ctx, coachID, date, start)
}

func (t *storeTx) InsertBooking(ctx context.Context, booking *model.CourseBooking) error {
	return t.bookings.Create(ctx, booking)
}

func (t *storeTx) UpdateBookingStatus(ctx context.Context, id int64, status model.BookingStatus, reopenedAt *time.Time) error {
	return t.bookings.UpdateStatus(ctx, id, status, reopenedAt)
}

func (t *storeTx) UpdateRelationLessons(ctx context.Context, id int64, lessons model.LessonBalances) error {
	return t.relations.UpdateLessons(ctx, id, lessons)
}

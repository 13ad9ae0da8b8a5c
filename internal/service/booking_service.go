package service

import (
	"context"
	"fmt"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"coachsched/internal/schedule"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Типы событий жизненного цикла брони
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingReopened  = "booking.reopened"
)

// BookingService координирует бронирование: проверка слота по шаблону,
// лимит ёмкости, списание занятия и вставка брони — один атомарный блок.
type BookingService struct {
	store     Store
	quota     *QuotaService
	publisher EventPublisher
	logger    *zap.Logger

	// клок вынесен в поле, чтобы тесты могли зафиксировать "сегодня"
	now func() time.Time
}

func NewBookingService(store Store, quota *QuotaService, publisher EventPublisher, logger *zap.Logger) *BookingService {
	return &BookingService{
		store:     store,
		quota:     quota,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateBooking создаёт бронь студента на слот (date, start, end).
//
// Ошибки: ErrSlotNotOffered если слот не предлагается шаблоном тренера,
// ErrSlotFull если лимит max_advance_nums на слот уже выбран,
// ErrInsufficientLessons если на балансе нет занятий этой категории.
//
// Всё выполняется в одной транзакции, блокировки в фиксированном порядке:
// связь, затем шаблон тренера, затем брони слота. Блокировка строки шаблона —
// якорь сериализации: один подсчёт занятости не остановил бы фантомную
// вставку конкурентной брони из другой связи, а за шаблон конкурентные
// бронирования одного тренера встают в очередь. Заодно лимиты читаются
// уже под блокировкой, то есть параллельное изменение шаблона не
// подсунет устаревший max_advance_nums.
func (s *BookingService) CreateBooking(ctx context.Context, relationID, categoryID int64, date time.Time, start, end model.TimeOfDay) (*model.CourseBooking, error) {
	relation, err := s.store.Relation(ctx, relationID)
	if err != nil {
		return nil, fmt.Errorf("get relation: %w", err)
	}
	if relation == nil {
		return nil, ErrRelationNotFound
	}

	booking := &model.CourseBooking{
		RelationID: relationID,
		StudentID:  relation.StudentID,
		CoachID:    relation.CoachID,
		CategoryID: categoryID,
		Date:       model.DateOf(date),
		StartTime:  start,
		EndTime:    end,
	}

	err = s.inTxRetry(ctx, func(tx StoreTx) error {
		locked, err := tx.RelationForUpdate(ctx, relationID)
		if err != nil {
			return fmt.Errorf("lock relation: %w", err)
		}
		if locked == nil {
			return ErrRelationNotFound
		}

		tpl, err := tx.TemplateForUpdate(ctx, relation.CoachID)
		if err != nil {
			return fmt.Errorf("lock template: %w", err)
		}
		if tpl == nil {
			return ErrTemplateNotFound
		}

		offered, err := schedule.Offered(tpl, date, start, end, s.now())
		if err != nil {
			return fmt.Errorf("check slot offered: %w", err)
		}
		if !offered {
			return ErrSlotNotOffered
		}

		count, err := tx.CountActiveForSlot(ctx, relation.CoachID, booking.Date, start)
		if err != nil {
			return fmt.Errorf("count slot bookings: %w", err)
		}
		if count >= tpl.MaxAdvanceNums {
			return ErrSlotFull
		}

		if err := s.quota.DebitLesson(ctx, tx, locked, categoryID); err != nil {
			return err
		}

		booking.Status = model.BookingStatusPending
		if locked.AutoConfirmByCoach {
			booking.Status = model.BookingStatusConfirmed
		}

		return tx.InsertBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("relation_id", relationID),
		zap.Int64("category_id", categoryID),
		zap.Time("date", booking.Date),
		zap.String("start_time", start.String()),
		zap.String("status", string(booking.Status)),
	)

	s.publish(ctx, EventBookingCreated, booking)

	return booking, nil
}

// Confirm подтверждает бронь тренером. Допустим только переход PENDING → CONFIRMED.
func (s *BookingService) Confirm(ctx context.Context, bookingID int64) (*model.CourseBooking, error) {
	booking, err := s.transition(ctx, bookingID, model.BookingStatusConfirmed, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking confirmed", zap.Int64("booking_id", bookingID))
	s.publish(ctx, EventBookingConfirmed, booking)

	return booking, nil
}

// Cancel отменяет бронь из PENDING или CONFIRMED.
// Занятие возвращается на баланс в той же транзакции.
// Связь блокируется раньше брони — в том же порядке, что и при
// создании, иначе конкурентная пара создание+отмена взаимоблокируется.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64) (*model.CourseBooking, error) {
	// Предварительное чтение вне блокировок: нужен только relation_id,
	// статус авторитетно перепроверяется под блокировкой
	existing, err := s.store.Booking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if existing == nil {
		return nil, ErrBookingNotFound
	}

	var booking *model.CourseBooking

	err = s.inTxRetry(ctx, func(tx StoreTx) error {
		relation, err := tx.RelationForUpdate(ctx, existing.RelationID)
		if err != nil {
			return fmt.Errorf("lock relation: %w", err)
		}
		if relation == nil {
			return ErrRelationNotFound
		}

		booking, err = s.lockForTransition(ctx, tx, bookingID, model.BookingStatusCancelled)
		if err != nil {
			return err
		}

		if err := s.quota.CreditLesson(ctx, tx, relation, booking.CategoryID); err != nil {
			return err
		}

		booking.Status = model.BookingStatusCancelled
		return tx.UpdateBookingStatus(ctx, bookingID, model.BookingStatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", bookingID),
		zap.Int64("category_id", booking.CategoryID),
	)
	s.publish(ctx, EventBookingCancelled, booking)

	return booking, nil
}

// Reopen освобождает слот отменённой брони, оставляя запись для аудита.
// Допустим только переход CANCELLED → REOPENED; занятие повторно не списывается.
func (s *BookingService) Reopen(ctx context.Context, bookingID int64) (*model.CourseBooking, error) {
	reopenedAt := s.now()

	booking, err := s.transition(ctx, bookingID, model.BookingStatusReopened, &reopenedAt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking reopened", zap.Int64("booking_id", bookingID))
	s.publish(ctx, EventBookingReopened, booking)

	return booking, nil
}

// AvailableSlots разворачивает шаблон тренера в слоты окна [from, to]
// с учётом уже занятых мест
func (s *BookingService) AvailableSlots(ctx context.Context, coachID int64, from, to time.Time, includeFull bool) ([]schedule.BookableSlot, error) {
	tpl, err := s.store.TemplateByCoach(ctx, coachID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}

	bookings, err := s.store.ActiveBookings(ctx, coachID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get active bookings: %w", err)
	}

	seq, err := schedule.Resolve(tpl, from, to, s.now(), bookings, includeFull)
	if err != nil {
		return nil, err
	}

	var slots []schedule.BookableSlot
	for slot := range seq {
		slots = append(slots, slot)
	}

	return slots, nil
}

// GetBooking получает бронь по ID
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64) (*model.CourseBooking, error) {
	return s.store.Booking(ctx, bookingID)
}

// GetStudentBookings получает все брони студента
func (s *BookingService) GetStudentBookings(ctx context.Context, studentID int64) ([]*model.CourseBooking, error) {
	return s.store.StudentBookings(ctx, studentID)
}

// GetPendingBookings получает брони тренера, ожидающие подтверждения
func (s *BookingService) GetPendingBookings(ctx context.Context, coachID int64) ([]*model.CourseBooking, error) {
	return s.store.PendingBookings(ctx, coachID)
}

// inTxRetry выполняет fn в транзакции, повторяя её при взаимоблокировке
// или конфликте сериализации (40001/40P01) с ограниченным бэкоффом
func (s *BookingService) inTxRetry(ctx context.Context, fn func(tx StoreTx) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(20*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := s.store.InTx(ctx, fn)
		if txErr != nil && base.IsSerializationFailure(txErr) {
			return retry.RetryableError(txErr)
		}
		return txErr
	})
}

// transition выполняет простой переход статуса в одной транзакции
func (s *BookingService) transition(ctx context.Context, bookingID int64, next model.BookingStatus, reopenedAt *time.Time) (*model.CourseBooking, error) {
	var booking *model.CourseBooking

	err := s.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		booking, err = s.lockForTransition(ctx, tx, bookingID, next)
		if err != nil {
			return err
		}

		booking.Status = next
		booking.BookingReopenedAt = reopenedAt
		return tx.UpdateBookingStatus(ctx, bookingID, next, reopenedAt)
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

func (s *BookingService) lockForTransition(ctx context.Context, tx StoreTx, bookingID int64, next model.BookingStatus) (*model.CourseBooking, error) {
	booking, err := tx.BookingForUpdate(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}

	if !booking.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, next)
	}

	return booking, nil
}

// publish отправляет событие жизненного цикла. Бронь уже закоммичена,
// поэтому ошибка публикации только логируется: доставку добирает
// повторная обработка журнала отправок.
func (s *BookingService) publish(ctx context.Context, eventType string, booking *model.CourseBooking) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.PublishBookingEvent(ctx, eventType, booking); err != nil {
		s.logger.Error("Failed to publish booking event",
			zap.String("event_type", eventType),
			zap.Int64("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}

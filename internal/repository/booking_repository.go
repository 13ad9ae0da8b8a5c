package repository

import (
	"context"
	"fmt"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	db base.Querier
}

func NewBookingRepository(db base.Querier) *BookingRepository {
	return &BookingRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую внутри транзакции
func (r *BookingRepository) WithTx(tx pgx.Tx) *BookingRepository {
	return &BookingRepository{db: tx}
}

const bookingColumns = `
	id, relation_id, student_id, coach_id, category_id, date, start_time, end_time,
	status, booking_reopened_at, created_at, updated_at
`

// Create создаёт новую бронь
func (r *BookingRepository) Create(ctx context.Context, booking *model.CourseBooking) error {
	query := `
		INSERT INTO course_bookings
			(relation_id, student_id, coach_id, category_id, date, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		booking.RelationID,
		booking.StudentID,
		booking.CoachID,
		booking.CategoryID,
		booking.Date,
		booking.StartTime.String(),
		booking.EndTime.String(),
		booking.Status,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронь по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.CourseBooking, error) {
	query := `SELECT ` + bookingColumns + ` FROM course_bookings WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByIDForUpdate получает бронь с блокировкой строки —
// переходы статуса выполняются только под ней
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.CourseBooking, error) {
	query := `SELECT ` + bookingColumns + ` FROM course_bookings WHERE id = $1 FOR UPDATE`
	return r.scanOne(ctx, query, id)
}

// CountActiveForSlot считает активные (PENDING/CONFIRMED) брони
// на точный слот тренера. Блокирует найденные строки, чтобы два
// конкурентных бронирования одного слота не прошли проверку лимита оба.
func (r *BookingRepository) CountActiveForSlot(ctx context.Context, coachID int64, date time.Time, start model.TimeOfDay) (int, error) {
	// FOR UPDATE нельзя сочетать с агрегатами, поэтому блокируем id подзапросом
	query := `
		SELECT count(*) FROM (
			SELECT id FROM course_bookings
			WHERE coach_id = $1 AND date = $2 AND start_time = $3
			  AND status IN ('PENDING', 'CONFIRMED')
			FOR UPDATE
		) AS occupied
	`

	var count int
	err := r.db.QueryRow(ctx, query, coachID, model.DateOf(date), start.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active bookings for slot: %w", err)
	}

	return count, nil
}

// UpdateStatus переводит бронь в новый статус.
// Для REOPENED дополнительно проставляется booking_reopened_at.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus, reopenedAt *time.Time) error {
	query := `
		UPDATE course_bookings
		SET status = $1, booking_reopened_at = COALESCE($2, booking_reopened_at), updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.Exec(ctx, query, status, reopenedAt, id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// ListByStudentID получает все брони студента
func (r *BookingRepository) ListByStudentID(ctx context.Context, studentID int64) ([]*model.CourseBooking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM course_bookings
		WHERE student_id = $1
		ORDER BY date, start_time
	`
	return r.scanMany(ctx, query, studentID)
}

// ListPendingByCoachID получает брони тренера, ожидающие подтверждения
func (r *BookingRepository) ListPendingByCoachID(ctx context.Context, coachID int64) ([]*model.CourseBooking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM course_bookings
		WHERE coach_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
	`
	return r.scanMany(ctx, query, coachID)
}

// ListActiveByCoachWindow получает активные брони тренера в окне дат —
// вход для резолвера доступности
func (r *BookingRepository) ListActiveByCoachWindow(ctx context.Context, coachID int64, from, to time.Time) ([]*model.CourseBooking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM course_bookings
		WHERE coach_id = $1
		  AND date >= $2 AND date <= $3
		  AND status IN ('PENDING', 'CONFIRMED')
		ORDER BY date, start_time
	`
	return r.scanMany(ctx, query, coachID, model.DateOf(from), model.DateOf(to))
}

func (r *BookingRepository) scanOne(ctx context.Context, query string, args ...any) (*model.CourseBooking, error) {
	row := r.db.QueryRow(ctx, query, args...)
	booking, err := scanBooking(row)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return booking, nil
}

func (r *BookingRepository) scanMany(ctx context.Context, query string, args ...any) ([]*model.CourseBooking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.CourseBooking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*model.CourseBooking, error) {
	var booking model.CourseBooking
	var start, end string
	err := row.Scan(
		&booking.ID,
		&booking.RelationID,
		&booking.StudentID,
		&booking.CoachID,
		&booking.CategoryID,
		&booking.Date,
		&start,
		&end,
		&booking.Status,
		&booking.BookingReopenedAt,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if booking.StartTime, err = model.ParseTimeOfDay(start); err != nil {
		return nil, err
	}
	if booking.EndTime, err = model.ParseTimeOfDay(end); err != nil {
		return nil, err
	}

	return &booking, nil
}

package model

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"   // Ожидает подтверждения тренером
	BookingStatusConfirmed BookingStatus = "CONFIRMED" // Подтверждено
	BookingStatusCancelled BookingStatus = "CANCELLED" // Отменено, занятие возвращено на баланс
	BookingStatusReopened  BookingStatus = "REOPENED"  // Слот освобождён, запись оставлена для аудита
)

// CanTransitionTo допустимые переходы машины состояний:
// PENDING → CONFIRMED|CANCELLED, CONFIRMED → CANCELLED, CANCELLED → REOPENED.
// REOPENED терминален.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled
	case BookingStatusCancelled:
		return next == BookingStatusReopened
	default:
		return false
	}
}

// CourseBooking бронь занятия на конкретный слот
type CourseBooking struct {
	ID                int64         `json:"id"`
	RelationID        int64         `json:"relation_id"`
	StudentID         int64         `json:"student_id"`
	CoachID           int64         `json:"coach_id"`
	CategoryID        int64         `json:"category_id"`
	Date              time.Time     `json:"date"` // день слота, полночь UTC
	StartTime         TimeOfDay     `json:"start_time"`
	EndTime           TimeOfDay     `json:"end_time"`
	Status            BookingStatus `json:"status"`
	BookingReopenedAt *time.Time    `json:"booking_reopened_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Active бронь занимает место в слоте (учитывается в лимите max_advance_nums)
func (b *CourseBooking) Active() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// DateOf нормализует момент времени к дню слота (полночь UTC)
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

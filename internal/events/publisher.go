// Package events публикация и потребление событий жизненного цикла
// брони через NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coachsched/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BookingEvent конверт события жизненного цикла брони.
// Тип события совпадает с NATS-сабжектом (booking.created и т.д.).
type BookingEvent struct {
	EventType  string              `json:"event_type"`
	EventID    uuid.UUID           `json:"event_id"`
	BookingID  int64               `json:"booking_id"`
	RelationID int64               `json:"relation_id"`
	StudentID  int64               `json:"student_id"`
	CoachID    int64               `json:"coach_id"`
	CategoryID int64               `json:"category_id"`
	Date       string              `json:"date"` // 2006-01-02
	StartTime  string              `json:"start_time"`
	EndTime    string              `json:"end_time"`
	Status     model.BookingStatus `json:"status"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Publisher публикует события брони в NATS
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewPublisher(natsURL string, logger *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Publisher{conn: conn, logger: logger}, nil
}

// Conn отдаёт соединение для подписчика — публикация и потребление
// живут на одном соединении
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// PublishBookingEvent публикует событие в сабжект, равный типу события
func (p *Publisher) PublishBookingEvent(ctx context.Context, eventType string, booking *model.CourseBooking) error {
	event := BookingEvent{
		EventType:  eventType,
		EventID:    uuid.New(),
		BookingID:  booking.ID,
		RelationID: booking.RelationID,
		StudentID:  booking.StudentID,
		CoachID:    booking.CoachID,
		CategoryID: booking.CategoryID,
		Date:       booking.Date.Format("2006-01-02"),
		StartTime:  booking.StartTime.String(),
		EndTime:    booking.EndTime.String(),
		Status:     booking.Status,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}

	if err := p.conn.Publish(eventType, data); err != nil {
		return fmt.Errorf("publish booking event: %w", err)
	}

	p.logger.Info("Booking event published",
		zap.String("event_type", eventType),
		zap.String("event_id", event.EventID.String()),
		zap.Int64("booking_id", booking.ID),
	)

	return nil
}

// Close закрывает соединение с NATS
func (p *Publisher) Close() {
	p.conn.Close()
}

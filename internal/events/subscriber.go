package events

import (
	"context"
	"encoding/json"
	"fmt"

	"coachsched/internal/model"
	"coachsched/internal/service"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Типы шаблонов подписочных сообщений
const (
	TemplateBookingCreated = "BOOKING_CREATED"
	TemplateBookingConfirm = "BOOKING_CONFIRM"
	TemplateBookingCancel  = "BOOKING_CANCEL"
	TemplateBookingReopen  = "BOOKING_REOPEN"
)

// BusinessTypeBooking business_type журнала отправок для событий брони
const BusinessTypeBooking = "course_booking"

// Subscriber потребляет события брони и превращает каждое в отправки
// через NotificationService — по одной на получателя.
// Идемпотентность обеспечивает журнал отправок, поэтому повторная
// доставка события безопасна.
type Subscriber struct {
	conn          *nats.Conn
	notifications *service.NotificationService
	logger        *zap.Logger
	sub           *nats.Subscription
}

func NewSubscriber(conn *nats.Conn, notifications *service.NotificationService, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		conn:          conn,
		notifications: notifications,
		logger:        logger,
	}
}

// Start подписывается на все события брони
func (s *Subscriber) Start() error {
	sub, err := s.conn.Subscribe("booking.*", s.handle)
	if err != nil {
		return fmt.Errorf("subscribe to booking events: %w", err)
	}

	s.sub = sub
	s.logger.Info("Subscribed to booking events")
	return nil
}

// Stop отписывается от событий
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var event BookingEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("Failed to unmarshal booking event", zap.Error(err))
		return
	}

	ctx := context.Background()

	for _, rcpt := range recipients(event) {
		messageData, err := json.Marshal(map[string]string{
			"date":       event.Date,
			"start_time": event.StartTime,
			"end_time":   event.EndTime,
			"status":     string(event.Status),
		})
		if err != nil {
			s.logger.Error("Failed to marshal message data", zap.Error(err))
			continue
		}

		logRow, err := s.notifications.Dispatch(ctx, service.DispatchRequest{
			BusinessType:   BusinessTypeBooking,
			BusinessID:     event.BookingID,
			TemplateType:   rcpt.templateType,
			ReceiverUserID: rcpt.userID,
			MessageData:    messageData,
			PagePath:       fmt.Sprintf("/pages/booking/detail?id=%d", event.BookingID),
		})
		if err != nil {
			s.logger.Error("Failed to dispatch notification",
				zap.String("event_type", event.EventType),
				zap.Int64("booking_id", event.BookingID),
				zap.Int64("receiver_user_id", rcpt.userID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("Notification dispatched",
			zap.String("event_type", event.EventType),
			zap.Int64("booking_id", event.BookingID),
			zap.Int64("receiver_user_id", rcpt.userID),
			zap.String("template_type", rcpt.templateType),
			zap.String("send_status", string(logRow.SendStatus)),
		)
	}
}

type recipient struct {
	userID       int64
	templateType string
}

// recipients определяет кто и под каким шаблоном получает сообщение.
// Таблица соответствий событие → получатели:
//
//	booking.created (PENDING)  тренеру BOOKING_CONFIRM, студенту BOOKING_CREATED
//	booking.created (CONFIRMED) обоим BOOKING_CREATED (самоподтверждение)
//	booking.confirmed           студенту BOOKING_CONFIRM
//	booking.cancelled           обоим BOOKING_CANCEL
//	booking.reopened            тренеру BOOKING_REOPEN
func recipients(event BookingEvent) []recipient {
	switch event.EventType {
	case "booking.created":
		coachTemplate := TemplateBookingCreated
		if event.Status == model.BookingStatusPending {
			coachTemplate = TemplateBookingConfirm
		}
		return []recipient{
			{userID: event.CoachID, templateType: coachTemplate},
			{userID: event.StudentID, templateType: TemplateBookingCreated},
		}
	case "booking.confirmed":
		return []recipient{
			{userID: event.StudentID, templateType: TemplateBookingConfirm},
		}
	case "booking.cancelled":
		return []recipient{
			{userID: event.CoachID, templateType: TemplateBookingCancel},
			{userID: event.StudentID, templateType: TemplateBookingCancel},
		}
	case "booking.reopened":
		return []recipient{
			{userID: event.CoachID, templateType: TemplateBookingReopen},
		}
	default:
		return nil
	}
}

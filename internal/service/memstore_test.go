package service_test

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/service"
)

// memStore реализует service.Store и service.NotificationStore в памяти.
// Транзакция держит общий мьютекс на всё время выполнения, то есть
// транзакции строго сериализованы — этого достаточно, чтобы проверять
// инварианты конкурентного бронирования без настоящей БД.
type memStore struct {
	mu     sync.Mutex
	nextID int64

	coaches   map[int64]*model.Coach
	templates map[int64]*model.AvailabilityTemplate // по coach_id
	relations map[int64]*model.StudentCoachRelation
	bookings  map[int64]*model.CourseBooking
	quotas    map[string]*model.UserSubscribeQuota  // по (user_id, template_type)
	logs      map[string]*model.SubscribeMessageLog // по кортежу идемпотентности
	logsByID  map[int64]*model.SubscribeMessageLog
}

var (
	_ service.Store             = (*memStore)(nil)
	_ service.NotificationStore = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		coaches:   make(map[int64]*model.Coach),
		templates: make(map[int64]*model.AvailabilityTemplate),
		relations: make(map[int64]*model.StudentCoachRelation),
		bookings:  make(map[int64]*model.CourseBooking),
		quotas:    make(map[string]*model.UserSubscribeQuota),
		logs:      make(map[string]*model.SubscribeMessageLog),
		logsByID:  make(map[int64]*model.SubscribeMessageLog),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func quotaKey(userID int64, templateType string) string {
	return fmt.Sprintf("%d|%s", userID, templateType)
}

func logKey(row *model.SubscribeMessageLog) string {
	return fmt.Sprintf("%s|%d|%s|%d", row.BusinessType, row.BusinessID, row.TemplateType, row.ReceiverUserID)
}

func cloneRelation(r *model.StudentCoachRelation) *model.StudentCoachRelation {
	cp := *r
	cp.Lessons = maps.Clone(r.Lessons)
	return &cp
}

func cloneBooking(b *model.CourseBooking) *model.CourseBooking {
	cp := *b
	return &cp
}

func cloneCoach(c *model.Coach) *model.Coach {
	cp := *c
	cp.CourseCategories = maps.Clone(c.CourseCategories)
	return &cp
}

func cloneLog(l *model.SubscribeMessageLog) *model.SubscribeMessageLog {
	cp := *l
	return &cp
}

// --- транзакции ---

// memTx буферизует изменения и применяет их только при коммите,
// как и настоящая транзакция
type memTx struct {
	s *memStore

	insertedBookings []*model.CourseBooking
	statusUpdates    []bookingStatusUpdate
	lessonUpdates    map[int64]model.LessonBalances
}

type bookingStatusUpdate struct {
	id         int64
	status     model.BookingStatus
	reopenedAt *time.Time
}

func (s *memStore) InTx(_ context.Context, fn func(tx service.StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, lessonUpdates: make(map[int64]model.LessonBalances)}
	if err := fn(tx); err != nil {
		return err // буфер отбрасывается, изменений нет
	}

	now := time.Now()
	for _, b := range tx.insertedBookings {
		b.ID = s.id()
		b.CreatedAt = now
		b.UpdatedAt = now
		s.bookings[b.ID] = cloneBooking(b)
	}
	for _, upd := range tx.statusUpdates {
		b := s.bookings[upd.id]
		b.Status = upd.status
		if upd.reopenedAt != nil {
			b.BookingReopenedAt = upd.reopenedAt
		}
		b.UpdatedAt = now
	}
	for id, lessons := range tx.lessonUpdates {
		r := s.relations[id]
		r.Lessons = maps.Clone(lessons)
		r.UpdatedAt = now
	}

	return nil
}

func (tx *memTx) RelationForUpdate(_ context.Context, id int64) (*model.StudentCoachRelation, error) {
	r, ok := tx.s.relations[id]
	if !ok {
		return nil, nil
	}
	return cloneRelation(r), nil
}

func (tx *memTx) TemplateForUpdate(_ context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	tpl, ok := tx.s.templates[coachID]
	if !ok {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (tx *memTx) BookingForUpdate(_ context.Context, id int64) (*model.CourseBooking, error) {
	b, ok := tx.s.bookings[id]
	if !ok {
		return nil, nil
	}
	return cloneBooking(b), nil
}

func (tx *memTx) CountActiveForSlot(_ context.Context, coachID int64, date time.Time, start model.TimeOfDay) (int, error) {
	day := model.DateOf(date)
	count := 0
	for _, b := range tx.s.bookings {
		if b.CoachID == coachID && b.Active() && b.Date.Equal(day) && b.StartTime == start {
			count++
		}
	}
	return count, nil
}

func (tx *memTx) InsertBooking(_ context.Context, booking *model.CourseBooking) error {
	tx.insertedBookings = append(tx.insertedBookings, booking)
	return nil
}

func (tx *memTx) UpdateBookingStatus(_ context.Context, id int64, status model.BookingStatus, reopenedAt *time.Time) error {
	if _, ok := tx.s.bookings[id]; !ok {
		return fmt.Errorf("booking %d not found", id)
	}
	tx.statusUpdates = append(tx.statusUpdates, bookingStatusUpdate{id: id, status: status, reopenedAt: reopenedAt})
	return nil
}

func (tx *memTx) UpdateRelationLessons(_ context.Context, id int64, lessons model.LessonBalances) error {
	if _, ok := tx.s.relations[id]; !ok {
		return fmt.Errorf("relation %d not found", id)
	}
	tx.lessonUpdates[id] = maps.Clone(lessons)
	return nil
}

// --- Store вне транзакций ---

func (s *memStore) TemplateByCoach(_ context.Context, coachID int64) (*model.AvailabilityTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[coachID]
	if !ok {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (s *memStore) UpsertTemplate(_ context.Context, tpl *model.AvailabilityTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.templates[tpl.CoachID]; ok {
		tpl.ID = existing.ID
	} else {
		tpl.ID = s.id()
	}
	cp := *tpl
	s.templates[tpl.CoachID] = &cp
	return nil
}

func (s *memStore) Relation(_ context.Context, id int64) (*model.StudentCoachRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.relations[id]
	if !ok {
		return nil, nil
	}
	return cloneRelation(r), nil
}

func (s *memStore) RelationByPair(_ context.Context, studentID, coachID int64) (*model.StudentCoachRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.relations {
		if r.StudentID == studentID && r.CoachID == coachID {
			return cloneRelation(r), nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateRelation(_ context.Context, relation *model.StudentCoachRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	relation.ID = s.id()
	s.relations[relation.ID] = cloneRelation(relation)
	return nil
}

func (s *memStore) Coach(_ context.Context, id int64) (*model.Coach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[id]
	if !ok {
		return nil, nil
	}
	return cloneCoach(c), nil
}

func (s *memStore) CreateCoach(_ context.Context, coach *model.Coach) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coach.ID = s.id()
	s.coaches[coach.ID] = cloneCoach(coach)
	return nil
}

func (s *memStore) UpdateCoachCategories(_ context.Context, id int64, categories model.CourseCategories) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[id]
	if !ok {
		return fmt.Errorf("coach %d not found", id)
	}
	c.CourseCategories = maps.Clone(categories)
	return nil
}

func (s *memStore) Booking(_ context.Context, id int64) (*model.CourseBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	return cloneBooking(b), nil
}

func (s *memStore) ActiveBookings(_ context.Context, coachID int64, from, to time.Time) ([]*model.CourseBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, last := model.DateOf(from), model.DateOf(to)
	var out []*model.CourseBooking
	for _, b := range s.bookings {
		if b.CoachID == coachID && b.Active() && !b.Date.Before(first) && !b.Date.After(last) {
			out = append(out, cloneBooking(b))
		}
	}
	return out, nil
}

func (s *memStore) StudentBookings(_ context.Context, studentID int64) ([]*model.CourseBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.CourseBooking
	for _, b := range s.bookings {
		if b.StudentID == studentID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) PendingBookings(_ context.Context, coachID int64) ([]*model.CourseBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.CourseBooking
	for _, b := range s.bookings {
		if b.CoachID == coachID && b.Status == model.BookingStatusPending {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- NotificationStore ---

func (s *memStore) InsertMessageLog(_ context.Context, row *model.SubscribeMessageLog) (bool, *model.SubscribeMessageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := logKey(row)
	if existing, ok := s.logs[key]; ok {
		return false, cloneLog(existing), nil
	}

	now := time.Now()
	row.ID = s.id()
	row.CreatedAt = now
	row.UpdatedAt = now
	stored := cloneLog(row)
	s.logs[key] = stored
	s.logsByID[row.ID] = stored
	return true, nil, nil
}

func (s *memStore) SetMessageLogResult(_ context.Context, id int64, status model.SendStatus, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.logsByID[id]
	if !ok {
		return fmt.Errorf("message log %d not found", id)
	}

	row.SendStatus = status
	row.ErrorCode = errorCode
	row.ErrorMessage = errorMessage
	if status == model.SendStatusFailed {
		row.RetryCount++
	}
	row.UpdatedAt = time.Now()
	return nil
}

// retryable строка пригодна для повтора: FAILED или зависшая SENDING
func retryable(row *model.SubscribeMessageLog, staleAfter time.Duration) bool {
	switch row.SendStatus {
	case model.SendStatusFailed:
		return true
	case model.SendStatusSending:
		return time.Since(row.UpdatedAt) > staleAfter
	default:
		return false
	}
}

func (s *memStore) MarkMessageLogRetry(_ context.Context, id int64, maxRetries int, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.logsByID[id]
	if !ok {
		return false, nil
	}
	if !retryable(row, staleAfter) || row.RetryCount >= maxRetries {
		return false, nil
	}

	row.SendStatus = model.SendStatusSending
	row.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) ListRetryableMessageLogs(_ context.Context, maxRetries, limit int, staleAfter time.Duration) ([]*model.SubscribeMessageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.SubscribeMessageLog
	for _, row := range s.logsByID {
		if !retryable(row, staleAfter) {
			continue
		}
		if row.RetryCount >= maxRetries {
			continue
		}
		if row.ErrorCode == model.SendErrQuotaExhausted {
			continue
		}
		out = append(out, cloneLog(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DebitMessageQuota(_ context.Context, userID int64, templateType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[quotaKey(userID, templateType)]
	if !ok || q.RemainingQuota <= 0 {
		return false, nil
	}
	q.RemainingQuota--
	q.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) AuthorizeMessageQuota(_ context.Context, userID int64, templateType string, delta int) (*model.UserSubscribeQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey(userID, templateType)
	q, ok := s.quotas[key]
	if !ok {
		q = &model.UserSubscribeQuota{
			ID:           s.id(),
			UserID:       userID,
			TemplateType: templateType,
			CreatedAt:    time.Now(),
		}
		s.quotas[key] = q
	}
	q.RemainingQuota += delta
	q.TotalQuota += delta
	q.UpdatedAt = time.Now()

	cp := *q
	return &cp, nil
}

func (s *memStore) MessageQuota(_ context.Context, userID int64, templateType string) (*model.UserSubscribeQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[quotaKey(userID, templateType)]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

// --- фейки внешних каналов ---

type sendCall struct {
	templateType   string
	receiverUserID int64
	messageData    []byte
	pagePath       string
}

// fakeSender записывает вызовы; может возвращать ошибку
// или висеть до истечения контекста
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	block bool
}

func (f *fakeSender) Send(ctx context.Context, templateType string, receiverUserID int64, messageData []byte, pagePath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{
		templateType:   templateType,
		receiverUserID: receiverUserID,
		messageData:    messageData,
		pagePath:       pagePath,
	})
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type publishedEvent struct {
	eventType string
	bookingID int64
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) PublishBookingEvent(_ context.Context, eventType string, booking *model.CourseBooking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{eventType: eventType, bookingID: booking.ID})
	return nil
}

func (f *fakePublisher) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.eventType
	}
	return out
}

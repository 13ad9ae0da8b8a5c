package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coachsched/internal/model"
	"coachsched/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMaxRetries = 3

type notifEnv struct {
	store  *memStore
	sender *fakeSender
	quota  *service.QuotaService
	notif  *service.NotificationService
}

func newNotifEnv(t *testing.T, sendTimeout time.Duration) *notifEnv {
	t.Helper()
	store := newMemStore()
	logger := zap.NewNop()
	sender := &fakeSender{}
	quota := service.NewQuotaService(store, logger)
	return &notifEnv{
		store:  store,
		sender: sender,
		quota:  quota,
		notif:  service.NewNotificationService(store, quota, sender, sendTimeout, testMaxRetries, logger),
	}
}

func bookingRequest(receiver int64) service.DispatchRequest {
	return service.DispatchRequest{
		BusinessType:   "course_booking",
		BusinessID:     42,
		TemplateType:   "BOOKING_CONFIRM",
		ReceiverUserID: receiver,
		MessageData:    []byte(`{"date":"2026-03-02"}`),
		PagePath:       "/pages/booking/detail?id=42",
	}
}

func TestDispatch_Success(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", 2)
	require.NoError(t, err)

	row, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, model.SendStatusSuccess, row.SendStatus)
	require.Empty(t, row.ErrorCode)
	require.Equal(t, 1, e.sender.sendCount())

	quota, err := e.quota.GetMessageQuota(ctx, 7, "BOOKING_CONFIRM")
	require.NoError(t, err)
	require.Equal(t, 1, quota.RemainingQuota)
	require.Equal(t, 2, quota.TotalQuota)
}

func TestDispatch_Idempotent(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", 5)
	require.NoError(t, err)

	first, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, model.SendStatusSuccess, first.SendStatus)

	// Повторный вызов того же кортежа возвращает исход первой отправки
	second, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, model.SendStatusSuccess, second.SendStatus)

	require.Equal(t, 1, e.sender.sendCount())

	// Квота списана один раз
	quota, err := e.quota.GetMessageQuota(ctx, 7, "BOOKING_CONFIRM")
	require.NoError(t, err)
	require.Equal(t, 4, quota.RemainingQuota)
}

func TestDispatch_ConcurrentSameTuple(t *testing.T) {
	const attempts = 10

	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", attempts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.notif.Dispatch(ctx, bookingRequest(7))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Внешняя отправка выполнена ровно один раз
	require.Equal(t, 1, e.sender.sendCount())

	quota, err := e.quota.GetMessageQuota(ctx, 7, "BOOKING_CONFIRM")
	require.NoError(t, err)
	require.Equal(t, attempts-1, quota.RemainingQuota)
}

func TestDispatch_QuotaExhausted(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	// Квота не авторизована вовсе
	row, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, model.SendStatusFailed, row.SendStatus)
	require.Equal(t, model.SendErrQuotaExhausted, row.ErrorCode)

	// Внешний канал не трогали
	require.Zero(t, e.sender.sendCount())

	// Исчерпание квоты не ретраится
	retried, err := e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, retried)
}

func TestDispatch_Timeout(t *testing.T) {
	e := newNotifEnv(t, 20*time.Millisecond)
	e.sender.block = true
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", 1)
	require.NoError(t, err)

	row, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, model.SendStatusFailed, row.SendStatus)
	require.Equal(t, model.SendErrTimeout, row.ErrorCode)
	require.Equal(t, 1, row.RetryCount)
}

func TestRetryFailed_BoundedByMaxRetries(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	e.sender.err = errors.New("delivery channel down")
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", 1)
	require.NoError(t, err)

	row, err := e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)
	require.Equal(t, model.SendStatusFailed, row.SendStatus)
	require.Equal(t, model.SendErrDelivery, row.ErrorCode)
	require.Equal(t, 1, row.RetryCount)

	// Повторы идут пока retry_count < max, дальше строка не выбирается
	for want := 2; want <= testMaxRetries; want++ {
		retried, err := e.notif.RetryFailed(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, retried)
	}

	retried, err := e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, retried)

	// Первая попытка плюс повторы до лимита
	require.Equal(t, testMaxRetries, e.sender.sendCount())

	// Квота списана однажды, повторы её не трогают
	quota, err := e.quota.GetMessageQuota(ctx, 7, "BOOKING_CONFIRM")
	require.NoError(t, err)
	require.Zero(t, quota.RemainingQuota)
}

func TestRetryFailed_StopsAfterSuccess(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	e.sender.err = errors.New("flaky")
	ctx := context.Background()

	_, err := e.quota.Authorize(ctx, 7, "BOOKING_CONFIRM", 1)
	require.NoError(t, err)

	_, err = e.notif.Dispatch(ctx, bookingRequest(7))
	require.NoError(t, err)

	// Канал восстановился — повтор доставляет сообщение
	e.sender.err = nil
	retried, err := e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, retried)

	// Доставленная строка больше не ретраится
	retried, err = e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, retried)
	require.Equal(t, 2, e.sender.sendCount())
}

// Строка, зависшая в SENDING (исход первой попытки не записался),
// добирается повтором; свежая SENDING-строка — нет
func TestRetryFailed_RecoversStaleSending(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	row := &model.SubscribeMessageLog{
		BusinessType:   "course_booking",
		BusinessID:     42,
		TemplateType:   "BOOKING_CONFIRM",
		ReceiverUserID: 7,
		MessageData:    []byte(`{}`),
		SendStatus:     model.SendStatusSending,
	}
	inserted, _, err := e.store.InsertMessageLog(ctx, row)
	require.NoError(t, err)
	require.True(t, inserted)

	// Свежая SENDING-строка ещё может отправляться — не трогаем
	retried, err := e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, retried)
	require.Zero(t, e.sender.sendCount())

	// Состарим строку: попытка была давно, результата нет
	e.store.mu.Lock()
	e.store.logsByID[row.ID].UpdatedAt = time.Now().Add(-time.Hour)
	e.store.mu.Unlock()

	retried, err = e.notif.RetryFailed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, retried)
	require.Equal(t, 1, e.sender.sendCount())

	e.store.mu.Lock()
	final := cloneLog(e.store.logsByID[row.ID])
	e.store.mu.Unlock()
	require.Equal(t, model.SendStatusSuccess, final.SendStatus)
}

func TestAuthorizeQuota(t *testing.T) {
	e := newNotifEnv(t, time.Second)
	ctx := context.Background()

	quota, err := e.quota.Authorize(ctx, 7, "BOOKING_CANCEL", 3)
	require.NoError(t, err)
	require.Equal(t, 3, quota.RemainingQuota)
	require.Equal(t, 3, quota.TotalQuota)

	// Повторная авторизация накапливает, total только растёт
	quota, err = e.quota.Authorize(ctx, 7, "BOOKING_CANCEL", 2)
	require.NoError(t, err)
	require.Equal(t, 5, quota.RemainingQuota)
	require.Equal(t, 5, quota.TotalQuota)

	_, err = e.quota.Authorize(ctx, 7, "BOOKING_CANCEL", 0)
	require.Error(t, err)

	// Списание уменьшает remaining, не трогая total
	require.NoError(t, e.quota.DebitMessageQuota(ctx, 7, "BOOKING_CANCEL"))
	quota, err = e.quota.GetMessageQuota(ctx, 7, "BOOKING_CANCEL")
	require.NoError(t, err)
	require.Equal(t, 4, quota.RemainingQuota)
	require.Equal(t, 5, quota.TotalQuota)
}

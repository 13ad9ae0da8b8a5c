// Package schedule разворачивает шаблон доступности тренера
// в конкретные бронируемые слоты.
package schedule

import (
	"fmt"
	"iter"
	"time"

	"coachsched/internal/model"
)

// BookableSlot конкретный слот, доступный для брони
type BookableSlot struct {
	Date              time.Time
	StartTime         model.TimeOfDay
	EndTime           model.TimeOfDay
	RemainingCapacity int
	FreeRange         bool // FREE-шаблон: псевдо-слот на весь интервал, ёмкость проверяется при бронировании
}

// Resolve разворачивает шаблон в ленивую последовательность слотов
// для окна [from, min(to, today+max_advance_days)].
//
// Дни с неотмеченным днём недели пропускаются. Для FULL список слотов
// одинаков на каждый день, для WEEKLY берётся запись этого дня недели
// (нет записи — нет слотов), для FREE выдаётся один псевдо-слот на весь
// интервал. Слоты без остатка ёмкости не выдаются, если не запрошено
// includeFull (нужно только для отображения листа ожидания).
//
// Последовательность можно обходить заново: каждый обход начинается с from.
func Resolve(
	tpl *model.AvailabilityTemplate,
	from, to time.Time,
	today time.Time,
	bookings []*model.CourseBooking,
	includeFull bool,
) (iter.Seq[BookableSlot], error) {
	sched, err := tpl.Schedule()
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	counts := countActive(bookings)

	first := model.DateOf(from)
	last := model.DateOf(to)
	horizon := model.DateOf(today).AddDate(0, 0, tpl.MaxAdvanceDays)
	if last.After(horizon) {
		last = horizon
	}

	return func(yield func(BookableSlot) bool) {
		for date := first; !date.After(last); date = date.AddDate(0, 0, 1) {
			if !tpl.DateSlots.IsChecked(date.Weekday()) {
				continue
			}

			var slots []model.TimeSlot
			switch s := sched.(type) {
			case model.FullSchedule:
				slots = s.Slots
			case model.WeeklySchedule:
				slots = s.Week[int(date.Weekday())]
			case model.FreeSchedule:
				free := BookableSlot{
					Date:              date,
					StartTime:         s.Range.StartTime,
					EndTime:           s.Range.EndTime,
					RemainingCapacity: tpl.MaxAdvanceNums,
					FreeRange:         true,
				}
				if !yield(free) {
					return
				}
				continue
			}

			for _, ts := range slots {
				remaining := tpl.MaxAdvanceNums - counts[slotKey(date, ts.StartTime)]
				if remaining <= 0 && !includeFull {
					continue
				}
				slot := BookableSlot{
					Date:              date,
					StartTime:         ts.StartTime,
					EndTime:           ts.EndTime,
					RemainingCapacity: remaining,
				}
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}

// Offered проверяет что (date, start, end) предлагается шаблоном:
// день в горизонте бронирования, день недели отмечен и интервал
// совпадает со слотом шаблона (для FREE — целиком лежит внутри интервала).
func Offered(tpl *model.AvailabilityTemplate, date time.Time, start, end model.TimeOfDay, today time.Time) (bool, error) {
	sched, err := tpl.Schedule()
	if err != nil {
		return false, err
	}

	day := model.DateOf(date)
	if day.Before(model.DateOf(today)) {
		return false, nil
	}
	if day.After(model.DateOf(today).AddDate(0, 0, tpl.MaxAdvanceDays)) {
		return false, nil
	}
	if !tpl.DateSlots.IsChecked(day.Weekday()) {
		return false, nil
	}

	requested := model.TimeSlot{StartTime: start, EndTime: end}
	if !requested.Valid() {
		return false, nil
	}

	switch s := sched.(type) {
	case model.FullSchedule:
		return containsSlot(s.Slots, requested), nil
	case model.WeeklySchedule:
		return containsSlot(s.Week[int(day.Weekday())], requested), nil
	case model.FreeSchedule:
		return s.Range.Contains(requested), nil
	}
	return false, nil
}

func containsSlot(slots []model.TimeSlot, requested model.TimeSlot) bool {
	for _, ts := range slots {
		if ts == requested {
			return true
		}
	}
	return false
}

// countActive считает активные брони по точному (день, время начала).
// Частично перекрывающиеся интервалы FREE-шаблона с разными началами
// считаются разными слотами.
func countActive(bookings []*model.CourseBooking) map[string]int {
	counts := make(map[string]int, len(bookings))
	for _, b := range bookings {
		if b.Active() {
			counts[slotKey(b.Date, b.StartTime)]++
		}
	}
	return counts
}

func slotKey(date time.Time, start model.TimeOfDay) string {
	return model.DateOf(date).Format("2006-01-02") + " " + start.String()
}

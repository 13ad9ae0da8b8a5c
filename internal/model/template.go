package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TimeType определяет какое из полей шаблона авторитетно:
// FULL — time_slots, WEEKLY — week_slots, FREE — free_time_range.
// Остальные поля для данного типа игнорируются.
type TimeType string

const (
	TimeTypeFull   TimeType = "FULL"
	TimeTypeWeekly TimeType = "WEEKLY"
	TimeTypeFree   TimeType = "FREE"
)

// AvailabilityTemplate шаблон доступности тренера
type AvailabilityTemplate struct {
	ID             int64      `json:"id"`
	CoachID        int64      `json:"coach_id"`
	TimeType       TimeType   `json:"time_type"`
	TimeSlots      []TimeSlot `json:"time_slots"`      // только для FULL
	WeekSlots      WeekSlots  `json:"week_slots"`      // только для WEEKLY
	FreeTimeRange  *TimeSlot  `json:"free_time_range"` // только для FREE
	DateSlots      DateSlots  `json:"date_slots"`
	MaxAdvanceDays int        `json:"max_advance_days"` // горизонт бронирования в днях, включительно
	MaxAdvanceNums int        `json:"max_advance_nums"` // лимит одновременных броней на один слот
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Schedule размеченный вариант расписания: ровно один случай на time_type.
// Резолвер и проверка допустимости слота работают через type switch,
// поэтому "не то поле для этого типа" ловится при конструировании.
type Schedule interface {
	isSchedule()
}

// FullSchedule единый список слотов на каждый отмеченный день
type FullSchedule struct {
	Slots []TimeSlot
}

// WeeklySchedule свои слоты на каждый день недели
type WeeklySchedule struct {
	Week WeekSlots
}

// FreeSchedule непрерывный интервал, внутри которого студент выбирает время сам
type FreeSchedule struct {
	Range TimeSlot
}

func (FullSchedule) isSchedule()   {}
func (WeeklySchedule) isSchedule() {}
func (FreeSchedule) isSchedule()   {}

// Schedule строит вариант по time_type шаблона
func (t *AvailabilityTemplate) Schedule() (Schedule, error) {
	switch t.TimeType {
	case TimeTypeFull:
		if len(t.TimeSlots) == 0 {
			return nil, fmt.Errorf("template %d: time_type FULL requires time_slots", t.ID)
		}
		return FullSchedule{Slots: t.TimeSlots}, nil
	case TimeTypeWeekly:
		if len(t.WeekSlots) == 0 {
			return nil, fmt.Errorf("template %d: time_type WEEKLY requires week_slots", t.ID)
		}
		return WeeklySchedule{Week: t.WeekSlots}, nil
	case TimeTypeFree:
		if t.FreeTimeRange == nil || !t.FreeTimeRange.Valid() {
			return nil, fmt.Errorf("template %d: time_type FREE requires free_time_range", t.ID)
		}
		return FreeSchedule{Range: *t.FreeTimeRange}, nil
	default:
		return nil, fmt.Errorf("template %d: unknown time_type %q", t.ID, t.TimeType)
	}
}

// WeekSlots слоты по дням недели (0 = воскресенье, 6 = суббота).
// В JSON — объект с ключами "0".."6".
type WeekSlots map[int][]TimeSlot

// DateSlots флаги дней недели. Внутри — map по id дня для O(1) проверки,
// наружу сериализуется упорядоченным массивом ровно из 7 элементов.
type DateSlots map[int]DateSlot

// DateSlot флаг одного дня недели
type DateSlot struct {
	ID      int    `json:"id"` // 0 = воскресенье, 6 = суббота
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Checked проверяет отмечен ли день недели
func (d DateSlots) IsChecked(weekday time.Weekday) bool {
	return d[int(weekday)].Checked
}

func (d DateSlots) MarshalJSON() ([]byte, error) {
	out := make([]DateSlot, 0, len(d))
	for _, slot := range d {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return json.Marshal(out)
}

func (d *DateSlots) UnmarshalJSON(data []byte) error {
	var list []DateSlot
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal date_slots: %w", err)
	}
	if len(list) != 7 {
		return fmt.Errorf("date_slots must have exactly 7 entries, got %d", len(list))
	}
	out := make(DateSlots, 7)
	for _, slot := range list {
		if slot.ID < 0 || slot.ID > 6 {
			return fmt.Errorf("date_slots: weekday id %d out of range", slot.ID)
		}
		if _, ok := out[slot.ID]; ok {
			return fmt.Errorf("date_slots: duplicate weekday id %d", slot.ID)
		}
		out[slot.ID] = slot
	}
	*d = out
	return nil
}

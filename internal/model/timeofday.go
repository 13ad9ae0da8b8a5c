package model

import (
	"encoding/json"
	"fmt"
)

// TimeOfDay время внутри суток в минутах от полуночи.
// В JSON сериализуется строкой "HH:MM" — этот формат читают другие компоненты.
type TimeOfDay int

// ParseTimeOfDay разбирает строку вида "09:00"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal time of day: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeSlot интервал внутри суток
type TimeSlot struct {
	StartTime TimeOfDay `json:"startTime"`
	EndTime   TimeOfDay `json:"endTime"`
}

// Valid проверяет что интервал не пустой и не вывернут
func (s TimeSlot) Valid() bool {
	return s.EndTime > s.StartTime
}

// Contains проверяет что other целиком лежит внутри s
func (s TimeSlot) Contains(other TimeSlot) bool {
	return other.Valid() && other.StartTime >= s.StartTime && other.EndTime <= s.EndTime
}

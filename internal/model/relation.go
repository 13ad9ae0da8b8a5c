package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// StudentCoachRelation связь студента и тренера: политика подтверждения
// и баланс купленных занятий по категориям курсов
type StudentCoachRelation struct {
	ID                 int64          `json:"id"`
	StudentID          int64          `json:"student_id"`
	CoachID            int64          `json:"coach_id"`
	AutoConfirmByCoach bool           `json:"auto_confirm_by_coach"` // брони подтверждаются сами, без ручного одобрения
	Lessons            LessonBalances `json:"lessons"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// LessonBalances остаток занятий по категориям. Внутри — map по category_id,
// наружу — массив пар, отсортированный по category_id.
// Уникальность category_id и неотрицательность остатка проверяются при разборе.
type LessonBalances map[int64]int

type lessonEntry struct {
	CategoryID       int64 `json:"category_id"`
	RemainingLessons int   `json:"remaining_lessons"`
}

// Remaining возвращает остаток по категории (0 если категории нет)
func (l LessonBalances) Remaining(categoryID int64) int {
	return l[categoryID]
}

// Has проверяет что категория вообще куплена в рамках этой связи
func (l LessonBalances) Has(categoryID int64) bool {
	_, ok := l[categoryID]
	return ok
}

func (l LessonBalances) MarshalJSON() ([]byte, error) {
	out := make([]lessonEntry, 0, len(l))
	for id, remaining := range l {
		out = append(out, lessonEntry{CategoryID: id, RemainingLessons: remaining})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return json.Marshal(out)
}

func (l *LessonBalances) UnmarshalJSON(data []byte) error {
	var list []lessonEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal lessons: %w", err)
	}
	out := make(LessonBalances, len(list))
	for _, entry := range list {
		if _, ok := out[entry.CategoryID]; ok {
			return fmt.Errorf("lessons: duplicate category_id %d", entry.CategoryID)
		}
		if entry.RemainingLessons < 0 {
			return fmt.Errorf("lessons: negative remaining_lessons for category_id %d", entry.CategoryID)
		}
		out[entry.CategoryID] = entry.RemainingLessons
	}
	*l = out
	return nil
}

// CourseCategory категория курса тренера
type CourseCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// CourseCategories категории тренера: map по id, наружу — массив по id
type CourseCategories map[int64]CourseCategory

func (c CourseCategories) MarshalJSON() ([]byte, error) {
	out := make([]CourseCategory, 0, len(c))
	for _, cat := range c {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return json.Marshal(out)
}

func (c *CourseCategories) UnmarshalJSON(data []byte) error {
	var list []CourseCategory
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal course_categories: %w", err)
	}
	out := make(CourseCategories, len(list))
	for _, cat := range list {
		if _, ok := out[cat.ID]; ok {
			return fmt.Errorf("course_categories: duplicate id %d", cat.ID)
		}
		out[cat.ID] = cat
	}
	*c = out
	return nil
}

// Coach тренер с его категориями курсов
type Coach struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	CourseCategories CourseCategories `json:"course_categories"`
	CreatedAt        time.Time        `json:"created_at"`
}

package service

import "errors"

// Бизнес-ошибки ядра. Все они восстановимы на стороне вызывающего:
// операция полностью откатывается, частичных изменений не остаётся.
// Ошибки хранилища (недоступна БД) пробрасываются обёрнутыми и
// к этому набору не относятся. Сбои доставки сообщений ошибками
// не возвращаются вовсе — они персистятся в журнале отправок
// кодами SEND_TIMEOUT / SEND_FAILED.
var (
	ErrSlotNotOffered      = errors.New("slot is not offered by the coach's template")
	ErrSlotFull            = errors.New("slot has no remaining capacity")
	ErrInsufficientLessons = errors.New("no remaining lessons for this category")
	ErrInvalidTransition   = errors.New("invalid booking status transition")
	ErrQuotaExhausted      = errors.New("message quota exhausted")

	ErrRelationNotFound = errors.New("student-coach relation not found")
	ErrTemplateNotFound = errors.New("availability template not found")
	ErrBookingNotFound  = errors.New("booking not found")
)

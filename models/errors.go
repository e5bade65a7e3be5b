package models

import (
	"errors"
	"fmt"
)

// Коды причин отклонения строк
const (
	ReasonTypeCoercion  = "TYPE_COERCION_FAILED"
	ReasonUnmappedCode  = "UNMAPPED_CODE"
	ReasonMissingKey    = "MISSING_BUSINESS_KEY"
	ReasonMissingColumn = "MISSING_MANDATORY_COLUMN"
)

// ParseError — ошибка уровня строки при очистке.
// Строка отправляется в карантин; обработка батча продолжается.
type ParseError struct {
	Column string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%s", e.Reason, e.Column)
}

// ValidationError — превышение порога проверки качества.
// Фиксируется в отчете; прерывает запуск только при превышении порога.
type ValidationError struct {
	Check      string
	FailedRows int
	Threshold  int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("проверка качества %q не пройдена: %d строк при пороге %d", e.Check, e.FailedRows, e.Threshold)
}

// ReferentialError — обязательная ссылка факта не разрешилась в измерение.
// Строка факта отправляется в карантин; обработка батча продолжается.
type ReferentialError struct {
	Column string
}

func (e *ReferentialError) Error() string {
	return "unresolved foreign key " + e.Column
}

// ConcurrencyConflict — гонка при назначении ключа или upsert измерения.
// Повторяется внутренне с ограниченным числом попыток.
type ConcurrencyConflict struct {
	Op       string
	Attempts int
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("конфликт конкурентного доступа в операции %q после %d попыток", e.Op, e.Attempts)
}

// FatalError прерывает запуск на границе текущей стадии.
// Требует вмешательства оператора перед повторным запуском.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("фатальная ошибка на стадии %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal оборачивает ошибку в FatalError для указанной стадии
func NewFatal(stage string, err error) *FatalError {
	return &FatalError{Stage: stage, Err: err}
}

// IsFatal сообщает, является ли ошибка фатальной для запуска
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

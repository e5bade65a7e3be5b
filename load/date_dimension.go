package load

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Массивы для названий месяцев и дней недели
var (
	monthNames = []string{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"}
	dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
)

// DateDimensionBuilder отвечает за измерение дат DimDate.
// Ключ даты имеет формат ГГГГММДД; по одной строке на календарный день.
type DateDimensionBuilder struct {
	db      *sql.DB
	logger  *utils.ETLLogger
	timeout time.Duration
}

// NewDateDimensionBuilder создает новый экземпляр DateDimensionBuilder
func NewDateDimensionBuilder(db *sql.DB, logger *utils.ETLLogger, timeout time.Duration) *DateDimensionBuilder {
	return &DateDimensionBuilder{
		db:      db,
		logger:  logger,
		timeout: timeout,
	}
}

// EnsureRange гарантирует наличие строк DimDate для всех дней диапазона
// [from, to]. Вставка идемпотентна: существующие дни не изменяются.
func (b *DateDimensionBuilder) EnsureRange(ctx context.Context, from, to time.Time) error {
	if from.After(to) {
		return nil
	}

	startTime := time.Now()
	b.logger.Debug("Проверка измерения дат: %s — %s", from.Format("2006-01-02"), to.Format("2006-01-02"))

	// Подготавливаем SQL-запрос для вставки
	stmt, err := b.db.PrepareContext(ctx, `
		INSERT INTO DimDate
		(DateKey, Date, Year, Quarter, Month, Day, MonthName, DayName)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE DateKey = DateKey
	`)
	if err != nil {
		return fmt.Errorf("ошибка при подготовке запроса измерения дат: %w", err)
	}
	defer stmt.Close()

	// Начинаем транзакцию
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}

	txStmt := tx.Stmt(stmt)
	defer txStmt.Close()

	count := 0
	current := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	// Итерируемся по всем дням диапазона
	for !current.After(end) {
		year := current.Year()
		month := int(current.Month())
		quarter := (month-1)/3 + 1
		day := current.Day()
		monthName := monthNames[month-1]
		dayName := dayNames[int(current.Weekday())]

		execCtx, cancel := context.WithTimeout(ctx, b.timeout)
		_, err := txStmt.ExecContext(execCtx,
			models.DateKeyFor(current),
			current.Format("2006-01-02"),
			year,
			quarter,
			month,
			day,
			monthName,
			dayName,
		)
		cancel()

		if err != nil {
			tx.Rollback()
			return fmt.Errorf("ошибка при вставке строки измерения дат: %w", err)
		}

		current = current.AddDate(0, 0, 1)
		count++
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка при фиксации транзакции измерения дат: %w", err)
	}

	b.logger.Debug("Измерение дат покрывает %d дней. Длительность: %v", count, time.Since(startTime))
	return nil
}

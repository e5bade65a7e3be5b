package load

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/registry"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Количество страйпов для посерийной блокировки суррогатных ключей
const dimLockStripes = 64

// DimensionBuilder выполняет type-1 upsert золотых записей в таблицу
// измерения. Единолично владеет содержимым своей таблицы.
//
// Идемпотентность: повторный upsert той же золотой записи сходится
// к тому же состоянию строки; при идентичных атрибутах записи в базу
// не происходит вовсе.
type DimensionBuilder struct {
	db       *sql.DB
	registry *registry.KeyRegistry
	logger   *utils.ETLLogger
	spec     models.DimensionSpec
	timeout  time.Duration

	stripes [dimLockStripes]sync.Mutex
}

// NewDimensionBuilder создает новый экземпляр DimensionBuilder
func NewDimensionBuilder(db *sql.DB, reg *registry.KeyRegistry, logger *utils.ETLLogger, spec models.DimensionSpec, timeout time.Duration) *DimensionBuilder {
	return &DimensionBuilder{
		db:       db,
		registry: reg,
		logger:   logger,
		spec:     spec,
		timeout:  timeout,
	}
}

// Upsert записывает золотую запись в таблицу измерения.
// Возвращает итоговую строку и признак того, была ли запись в базу.
// Конкурентные upsert одного суррогатного ключа сериализуются
// страйп-мьютексом (чтение-изменение-запись без потерянных обновлений).
func (b *DimensionBuilder) Upsert(ctx context.Context, golden *models.GoldenRecord) (*models.DimensionRow, bool, error) {
	key, err := b.registry.AssignOrGet(ctx, b.spec.Entity, golden.BusinessKey)
	if err != nil {
		return nil, false, err
	}

	// Каноничные строковые формы атрибутов в порядке колонок таблицы
	values := make([]string, len(b.spec.AttrFields))
	for i, field := range b.spec.AttrFields {
		values[i] = models.FormatAttribute(golden.Attributes[field])
	}

	stripe := &b.stripes[key%dimLockStripes]
	stripe.Lock()
	defer stripe.Unlock()

	current, exists, err := b.selectRow(ctx, key)
	if err != nil {
		return nil, false, err
	}

	row := &models.DimensionRow{
		SurrogateID: key,
		BusinessKey: golden.BusinessKey,
		Attributes:  make(map[string]string, len(values)),
		LastUpdated: time.Now(),
	}
	for i, col := range b.spec.AttrColumns {
		row.Attributes[col] = values[i]
	}

	if !exists {
		if err := b.insertRow(ctx, key, golden.BusinessKey, values); err != nil {
			return nil, false, err
		}
		return row, true, nil
	}

	// Type-1: при расхождении атрибутов перезаписываем без сохранения
	// истории; при полном совпадении запись не выполняется
	if equalValues(current, values) {
		return row, false, nil
	}

	if err := b.updateRow(ctx, key, values); err != nil {
		return nil, false, err
	}

	return row, true, nil
}

// EnsureSentinelRow создает строку "неизвестного члена" измерения.
// Сентинел существует до загрузки фактов, поэтому ссылочная целостность
// выполняется и для неразрешенных необязательных ссылок.
func (b *DimensionBuilder) EnsureSentinelRow(ctx context.Context, sentinelKey int64) error {
	cols := make([]string, 0, len(b.spec.AttrColumns)+3)
	cols = append(cols, b.spec.KeyColumn, b.spec.BusinessKeyColumn)
	cols = append(cols, b.spec.AttrColumns...)
	cols = append(cols, "LastUpdated")

	placeholders := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	placeholders = append(placeholders, "?", "?")
	args = append(args, sentinelKey, "UNKNOWN")
	for range b.spec.AttrColumns {
		placeholders = append(placeholders, "?")
		args = append(args, "Unknown")
	}
	placeholders = append(placeholders, "NOW()")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s = %s",
		b.spec.Table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		b.spec.KeyColumn, b.spec.KeyColumn,
	)

	execCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(execCtx, query, args...); err != nil {
		return fmt.Errorf("ошибка при создании сентинела измерения %s: %w", b.spec.Table, err)
	}

	return nil
}

// selectRow читает текущие атрибуты строки измерения
func (b *DimensionBuilder) selectRow(ctx context.Context, key int64) ([]string, bool, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		strings.Join(b.spec.AttrColumns, ", "),
		b.spec.Table,
		b.spec.KeyColumn,
	)

	queryCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw := make([]sql.NullString, len(b.spec.AttrColumns))
	dest := make([]interface{}, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}

	err := b.db.QueryRowContext(queryCtx, query, key).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка при чтении измерения %s: %w", b.spec.Table, err)
	}

	values := make([]string, len(raw))
	for i := range raw {
		if raw[i].Valid {
			values[i] = raw[i].String
		}
	}

	return values, true, nil
}

// insertRow вставляет новую строку измерения
func (b *DimensionBuilder) insertRow(ctx context.Context, key int64, businessKey string, values []string) error {
	cols := make([]string, 0, len(b.spec.AttrColumns)+3)
	cols = append(cols, b.spec.KeyColumn, b.spec.BusinessKeyColumn)
	cols = append(cols, b.spec.AttrColumns...)
	cols = append(cols, "LastUpdated")

	placeholders := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	placeholders = append(placeholders, "?", "?")
	args = append(args, key, businessKey)
	for _, v := range values {
		placeholders = append(placeholders, "?")
		args = append(args, nullable(v))
	}
	placeholders = append(placeholders, "NOW()")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		b.spec.Table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)

	execCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(execCtx, query, args...); err != nil {
		return fmt.Errorf("ошибка при вставке в измерение %s: %w", b.spec.Table, err)
	}

	return nil
}

// updateRow перезаписывает атрибуты строки измерения (type-1)
func (b *DimensionBuilder) updateRow(ctx context.Context, key int64, values []string) error {
	sets := make([]string, 0, len(b.spec.AttrColumns)+1)
	args := make([]interface{}, 0, len(values)+1)
	for i, col := range b.spec.AttrColumns {
		sets = append(sets, col+" = ?")
		args = append(args, nullable(values[i]))
	}
	sets = append(sets, "LastUpdated = NOW()")
	args = append(args, key)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		b.spec.Table,
		strings.Join(sets, ", "),
		b.spec.KeyColumn,
	)

	execCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(execCtx, query, args...); err != nil {
		return fmt.Errorf("ошибка при обновлении измерения %s: %w", b.spec.Table, err)
	}

	return nil
}

// equalValues сравнивает каноничные формы атрибутов
func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// nullable превращает пустую каноничную форму в NULL
func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

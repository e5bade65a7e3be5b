package quality

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Размер выборки нарушающих строк в отчете
const sampleSize = 5

// Validator выполняет проверки инвариантов качества gold-слоя.
// Проверки только читают данные и никогда их не мутируют.
type Validator struct {
	db      *sql.DB
	logger  *utils.ETLLogger
	cfg     *config.ETLConfig
	timeout time.Duration
}

// NewValidator создает новый экземпляр Validator
func NewValidator(db *sql.DB, logger *utils.ETLLogger, cfg *config.ETLConfig) *Validator {
	return &Validator{
		db:      db,
		logger:  logger,
		cfg:     cfg,
		timeout: cfg.QueryTimeout,
	}
}

// Run выполняет все настроенные проверки и формирует отчет.
// Порог проверки определяет исход: превышение делает запуск неуспешным,
// иначе результат носит рекомендательный характер.
func (v *Validator) Run(ctx context.Context, runID string) (*models.QualityReport, error) {
	startTime := time.Now()
	v.logger.Info("Начало стадии Validating")

	report := &models.QualityReport{
		RunID:       runID,
		GeneratedAt: time.Now(),
		Passed:      true,
	}

	// 1. Уникальность бизнес-ключа в каждом измерении
	for _, spec := range v.cfg.Dimensions {
		name := fmt.Sprintf("dim_%s_business_key_unique", spec.Entity)
		sentinel := v.cfg.SentinelKeys[spec.Entity]

		query := fmt.Sprintf(
			"SELECT %s, COUNT(*) AS cnt FROM %s WHERE %s <> ? GROUP BY %s HAVING cnt > 1",
			spec.BusinessKeyColumn, spec.Table, spec.KeyColumn, spec.BusinessKeyColumn,
		)

		if err := v.runSampledCheck(ctx, report, name, query, sentinel); err != nil {
			return nil, err
		}
	}

	// 2. Ссылочная целостность каждой ссылки фактов.
	// Сентинел считается удовлетворяющим проверку.
	fact := v.cfg.FactTable
	for _, ref := range fact.Refs {
		var spec *models.DimensionSpec
		for i := range v.cfg.Dimensions {
			if v.cfg.Dimensions[i].Entity == ref.Entity {
				spec = &v.cfg.Dimensions[i]
				break
			}
		}
		if spec == nil {
			return nil, fmt.Errorf("ссылка фактов %s указывает на ненастроенную сущность %q", ref.Column, ref.Entity)
		}

		name := fmt.Sprintf("%s_%s_ref", snakeCase(fact.Table), ref.Entity)
		sentinel := v.cfg.SentinelKeys[ref.Entity]

		query := fmt.Sprintf(
			"SELECT f.%s FROM %s f LEFT JOIN %s d ON f.%s = d.%s WHERE d.%s IS NULL AND f.%s <> ?",
			ref.Column, fact.Table, spec.Table, ref.Column, spec.KeyColumn, spec.KeyColumn, ref.Column,
		)

		if err := v.runSampledCheck(ctx, report, name, query, sentinel); err != nil {
			return nil, err
		}
	}

	// Ссылка на измерение дат (вырожденное измерение зерна)
	dateCheck := fmt.Sprintf("%s_date_ref", snakeCase(fact.Table))
	dateQuery := fmt.Sprintf(
		"SELECT f.%s FROM %s f LEFT JOIN DimDate d ON f.%s = d.DateKey WHERE d.DateKey IS NULL",
		fact.DateColumn, fact.Table, fact.DateColumn,
	)
	if err := v.runSampledCheck(ctx, report, dateCheck, dateQuery); err != nil {
		return nil, err
	}

	// 3. Проверки NULL/диапазона на назначенных колонках
	for _, rc := range v.cfg.RangeChecks {
		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s",
			rc.Column, rc.Table, rc.Condition,
		)
		if err := v.runSampledCheck(ctx, report, rc.Name, query); err != nil {
			return nil, err
		}
	}

	v.logger.Info("Стадия Validating завершена. Проверок: %d, не пройдено: %d. Длительность: %v",
		len(report.Results), len(report.Failed()), time.Since(startTime))

	return report, nil
}

// runSampledCheck выполняет запрос нарушающих строк и добавляет результат
// в отчет: количество нарушений, ограниченная выборка и статус по порогу
func (v *Validator) runSampledCheck(ctx context.Context, report *models.QualityReport, name, query string, args ...interface{}) error {
	queryCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	rows, err := v.db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка при выполнении проверки качества %q: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("ошибка при чтении колонок проверки %q: %w", name, err)
	}

	failed := 0
	var sample []string

	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("ошибка при сканировании строки проверки %q: %w", name, err)
		}

		failed++
		if len(sample) < sampleSize {
			parts := make([]string, len(raw))
			for i := range raw {
				parts[i] = raw[i].String
			}
			sample = append(sample, strings.Join(parts, "|"))
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка после итерации по строкам проверки %q: %w", name, err)
	}

	threshold := v.cfg.QualityThresholds[name]
	result := models.QualityCheckResult{
		Name:       name,
		FailedRows: failed,
		Threshold:  threshold,
		Sample:     sample,
	}

	switch {
	case failed == 0:
		result.Status = models.CheckStatusPassed
	case failed <= threshold:
		result.Status = models.CheckStatusWarn
		v.logger.Warn("Проверка %q: %d нарушений в пределах порога %d", name, failed, threshold)
	default:
		result.Status = models.CheckStatusFailed
		report.Passed = false
		v.logger.Error("Проверка %q не пройдена: %d нарушений при пороге %d", name, failed, threshold)
	}

	report.Results = append(report.Results, result)
	return nil
}

// snakeCase переводит имя таблицы в нижний регистр с подчеркиваниями
// (FactSales -> fact_sales) для имен проверок
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

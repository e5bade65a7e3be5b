package clean

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"go.uber.org/atomic"
)

// Поддерживаемые форматы дат в исходных данных
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"2006/01/02",
}

// RejectSink принимает отклоненные строки.
// Реализуется reject-писателем; каждая строка попадает в вывод ровно один раз.
type RejectSink interface {
	Write(row models.RejectedRow) error
}

// Cleaner выполняет очистку и приведение сырых записей к типизированной форме
type Cleaner struct {
	logger *utils.ETLLogger
}

// NewCleaner создает новый экземпляр Cleaner
func NewCleaner(logger *utils.ETLLogger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Conform очищает одну сырую запись по объявленной схеме.
// На каждую входную строку ровно один исход: принятая запись или карантин.
// Частичных записей не бывает.
func (c *Cleaner) Conform(raw models.RawRecord, schema models.TableSchema) (*models.CleanRecord, *models.RejectedRow) {
	attributes := make(map[string]interface{}, len(schema.Columns))
	var flags []models.QualityFlag

	for _, col := range schema.Columns {
		value, present := raw.Columns[col.Name]
		value = strings.TrimSpace(value)

		// Отсутствующее значение: для обязательной колонки или части
		// бизнес-ключа — карантин, иначе NULL без флага
		if !present || value == "" {
			if col.Mandatory || col.BusinessKey {
				return nil, c.reject(raw, &models.ParseError{Column: col.Name, Reason: models.ReasonMissingColumn})
			}
			attributes[col.Name] = nil
			continue
		}

		typed, perr := coerce(value, col)
		if perr != nil {
			// Ошибка приведения типа: обязательное поле — карантин,
			// необязательное — NULL с флагом качества
			if col.Mandatory || col.BusinessKey {
				return nil, c.reject(raw, perr)
			}
			attributes[col.Name] = nil
			flags = append(flags, models.QualityFlag{Column: col.Name, Code: perr.Reason})
			continue
		}

		attributes[col.Name] = typed
	}

	// Собираем бизнес-ключ из объявленных колонок
	keyCols := schema.BusinessKeyColumns()
	keyParts := make([]string, 0, len(keyCols))
	for _, name := range keyCols {
		v := attributes[name]
		if v == nil {
			return nil, c.reject(raw, &models.ParseError{Column: name, Reason: models.ReasonMissingKey})
		}
		keyParts = append(keyParts, models.FormatAttribute(v))
	}

	return &models.CleanRecord{
		Entity:      raw.Entity,
		Source:      raw.Source,
		RowID:       raw.RowID,
		BusinessKey: strings.Join(keyParts, "|"),
		ExtractedAt: raw.ExtractedAt,
		Attributes:  attributes,
		Flags:       flags,
	}, nil
}

// reject формирует запись карантина для сырой строки
func (c *Cleaner) reject(raw models.RawRecord, perr *models.ParseError) *models.RejectedRow {
	return &models.RejectedRow{
		Source: raw.Source,
		Entity: raw.Entity,
		RowID:  raw.RowID,
		Reason: perr.Error(),
		Row:    raw.Columns,
	}
}

// coerce приводит строковое значение к объявленному типу колонки
func coerce(value string, col models.ColumnSpec) (interface{}, *models.ParseError) {
	switch col.Type {
	case models.ColumnString:
		return value, nil

	case models.ColumnInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, &models.ParseError{Column: col.Name, Reason: models.ReasonTypeCoercion}
		}
		return n, nil

	case models.ColumnDecimal:
		// Допускаем запятую как десятичный разделитель
		f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil {
			return nil, &models.ParseError{Column: col.Name, Reason: models.ReasonTypeCoercion}
		}
		return f, nil

	case models.ColumnDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
		}
		return nil, &models.ParseError{Column: col.Name, Reason: models.ReasonTypeCoercion}

	case models.ColumnCode:
		// Карта кодов тотальна: код вне карты — ошибка обязательного поля
		conformed, ok := col.CodeMap[strings.ToLower(value)]
		if !ok {
			return nil, &models.ParseError{Column: col.Name, Reason: models.ReasonUnmappedCode}
		}
		return conformed, nil
	}

	return nil, &models.ParseError{Column: col.Name, Reason: models.ReasonTypeCoercion}
}

// BatchResult содержит итог очистки батча
type BatchResult struct {
	Accepted []models.CleanRecord
	Rejected int
}

// ConformBatch очищает батч сырых записей пулом воркеров.
// Очистка не имеет межстрочных зависимостей, поэтому распараллеливается
// свободно; отклоненные строки уходят в sink с указанием запуска и стадии.
func (c *Cleaner) ConformBatch(ctx context.Context, runID, stage string, raws []models.RawRecord, schema models.TableSchema, workers int, sink RejectSink) (*BatchResult, error) {
	if workers < 1 {
		workers = 1
	}

	acceptedCount := atomic.NewInt64(0)
	rejectedCount := atomic.NewInt64(0)

	jobs := make(chan models.RawRecord)
	accepted := make([]models.CleanRecord, 0, len(raws))

	var mu sync.Mutex
	var sinkErr error
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				record, rejected := c.Conform(raw, schema)
				if rejected != nil {
					rejected.RunID = runID
					rejected.Stage = stage
					rejectedCount.Inc()

					mu.Lock()
					if err := sink.Write(*rejected); err != nil && sinkErr == nil {
						sinkErr = err
					}
					mu.Unlock()
					continue
				}

				acceptedCount.Inc()
				mu.Lock()
				accepted = append(accepted, *record)
				mu.Unlock()
			}
		}()
	}

	for _, raw := range raws {
		select {
		case jobs <- raw:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	if sinkErr != nil {
		return nil, sinkErr
	}

	c.logger.Debug("Очистка %s: принято %d, отклонено %d", schema.Entity, acceptedCount.Load(), rejectedCount.Load())

	return &BatchResult{
		Accepted: accepted,
		Rejected: int(rejectedCount.Load()),
	}, nil
}

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
	"go.uber.org/atomic"
)

// RejectSink принимает отклоненные строки фактов
type RejectSink interface {
	Write(row models.RejectedRow) error
}

// FactLoader загружает очищенные записи фактов в таблицу фактов.
// Единолично владеет содержимым таблицы фактов.
//
// Ссылки на измерения разрешаются через реестр только на чтение.
// Запись по зерну идемпотентна: повторная загрузка того же входа не
// создает дублей, а загрузка исправленного входа перезаписывает меры
// (последняя запись по зерну побеждает).
type FactLoader struct {
	db          *sql.DB
	registry    *registry.KeyRegistry
	logger      *utils.ETLLogger
	spec        models.FactTableSpec
	sentinels   map[string]int64
	timeout     time.Duration
	concurrency int
}

// NewFactLoader создает новый экземпляр FactLoader
func NewFactLoader(db *sql.DB, reg *registry.KeyRegistry, logger *utils.ETLLogger, spec models.FactTableSpec, sentinels map[string]int64, timeout time.Duration, concurrency int) *FactLoader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FactLoader{
		db:          db,
		registry:    reg,
		logger:      logger,
		spec:        spec,
		sentinels:   sentinels,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// FactLoadResult содержит итог загрузки фактов
type FactLoadResult struct {
	Loaded   int
	Rejected int
}

// LoadBatch загружает батч записей фактов с ограниченной конкурентностью.
// Отклоненные строки уходят в sink; ошибки уровня строки не прерывают батч.
func (l *FactLoader) LoadBatch(ctx context.Context, runID, stage string, records []models.CleanRecord, sink RejectSink) (*FactLoadResult, error) {
	if len(records) == 0 {
		l.logger.Debug("Нет записей фактов для загрузки")
		return &FactLoadResult{}, nil
	}

	startTime := time.Now()
	l.logger.Info("Начало загрузки фактов в %s (всего: %d)", l.spec.Table, len(records))

	loaded := atomic.NewInt64(0)
	rejected := atomic.NewInt64(0)

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := range records {
		rec := &records[i]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			stop := firstErr != nil
			mu.Unlock()
			if stop {
				return
			}

			row, rejectRow, err := l.resolve(ctx, rec)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			if rejectRow != nil {
				rejectRow.RunID = runID
				rejectRow.Stage = stage
				rejected.Inc()

				mu.Lock()
				if err := sink.Write(*rejectRow); err != nil && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			if err := l.upsertFact(ctx, row); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			loaded.Inc()
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	l.logger.Info("Загрузка фактов завершена. Загружено: %d, отклонено: %d. Длительность: %v",
		loaded.Load(), rejected.Load(), time.Since(startTime))

	return &FactLoadResult{
		Loaded:   int(loaded.Load()),
		Rejected: int(rejected.Load()),
	}, nil
}

// resolve разрешает ссылки записи факта на суррогатные ключи измерений.
// Обязательная неразрешенная ссылка — карантин с причиной
// "unresolved foreign key <колонка>"; необязательная — сентинел.
func (l *FactLoader) resolve(ctx context.Context, rec *models.CleanRecord) (*models.FactRow, *models.RejectedRow, error) {
	dateAttr, ok := rec.Attributes[l.spec.DateField].(time.Time)
	if !ok {
		return nil, l.rejectRow(rec, &models.ReferentialError{Column: l.spec.DateColumn}), nil
	}

	row := &models.FactRow{
		DateKey:  models.DateKeyFor(dateAttr),
		Keys:     make(map[string]int64, len(l.spec.Refs)),
		Measures: make(map[string]interface{}, len(l.spec.Measures)),
	}

	for _, ref := range l.spec.Refs {
		value := rec.Attributes[ref.Field]
		if value == nil {
			if ref.Required {
				return nil, l.rejectRow(rec, &models.ReferentialError{Column: ref.Column}), nil
			}
			row.Keys[ref.Column] = l.sentinels[ref.Entity]
			continue
		}

		key, found, err := l.registry.Lookup(ctx, ref.Entity, models.FormatAttribute(value))
		if err != nil {
			return nil, nil, err
		}
		if !found {
			if ref.Required {
				return nil, l.rejectRow(rec, &models.ReferentialError{Column: ref.Column}), nil
			}
			key = l.sentinels[ref.Entity]
		}

		row.Keys[ref.Column] = key
	}

	for _, m := range l.spec.Measures {
		row.Measures[m.Column] = rec.Attributes[m.Field]
	}

	return row, nil, nil
}

// rejectRow формирует запись карантина для строки факта
func (l *FactLoader) rejectRow(rec *models.CleanRecord, rerr *models.ReferentialError) *models.RejectedRow {
	original := make(map[string]string, len(rec.Attributes))
	for name, v := range rec.Attributes {
		original[name] = models.FormatAttribute(v)
	}

	return &models.RejectedRow{
		Source: rec.Source,
		Entity: rec.Entity,
		RowID:  rec.RowID,
		Reason: rerr.Error(),
		Row:    original,
	}
}

// upsertFact записывает строку фактов по вычисленному зерну.
// INSERT … ON DUPLICATE KEY UPDATE обновляет меры существующего зерна,
// никогда не создавая дубль.
func (l *FactLoader) upsertFact(ctx context.Context, row *models.FactRow) error {
	cols := make([]string, 0, 1+len(l.spec.Refs)+len(l.spec.Measures))
	args := make([]interface{}, 0, cap(cols))

	cols = append(cols, l.spec.DateColumn)
	args = append(args, row.DateKey)

	for _, ref := range l.spec.Refs {
		cols = append(cols, ref.Column)
		args = append(args, row.Keys[ref.Column])
	}

	updates := make([]string, 0, len(l.spec.Measures))
	for _, m := range l.spec.Measures {
		cols = append(cols, m.Column)
		args = append(args, row.Measures[m.Column])
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", m.Column, m.Column))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		l.spec.Table,
		strings.Join(cols, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)

	execCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if _, err := l.db.ExecContext(execCtx, query, args...); err != nil {
		return fmt.Errorf("ошибка при записи строки фактов в %s: %w", l.spec.Table, err)
	}

	return nil
}

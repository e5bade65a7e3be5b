package load

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/registry"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"go.uber.org/atomic"
)

// Manager отвечает за управление загрузкой gold-слоя:
// измерения, измерение дат и таблица фактов
type Manager struct {
	db       *sql.DB
	logger   *utils.ETLLogger
	builders map[string]*DimensionBuilder
	dateDim  *DateDimensionBuilder
	facts    *FactLoader
	cfg      *config.ETLConfig
}

// NewManager создает новый экземпляр Manager
func NewManager(db *sql.DB, reg *registry.KeyRegistry, logger *utils.ETLLogger, cfg *config.ETLConfig) *Manager {
	builders := make(map[string]*DimensionBuilder, len(cfg.Dimensions))
	for _, spec := range cfg.Dimensions {
		builders[spec.Entity] = NewDimensionBuilder(db, reg, logger, spec, cfg.QueryTimeout)
	}

	return &Manager{
		db:       db,
		logger:   logger,
		builders: builders,
		dateDim:  NewDateDimensionBuilder(db, logger, cfg.QueryTimeout),
		facts:    NewFactLoader(db, reg, logger, cfg.FactTable, cfg.SentinelKeys, cfg.QueryTimeout, cfg.FactLoadConcurrency),
		cfg:      cfg,
	}
}

// Builder возвращает построитель измерения для сущности
func (m *Manager) Builder(entity string) (*DimensionBuilder, bool) {
	b, ok := m.builders[entity]
	return b, ok
}

// LoadDimensions выполняет стадию DimensionLoad: сентинелы, измерение дат
// и upsert золотых записей. Возвращает количество записанных строк.
// Upsert разных ключей идут параллельно с ограничением по воркерам.
func (m *Manager) LoadDimensions(ctx context.Context, goldens map[string][]*models.GoldenRecord, dateFrom, dateTo time.Time) (int, error) {
	startTime := time.Now()
	m.logger.Info("Начало стадии DimensionLoad")

	// Сентинелы создаются до фактов, чтобы ссылочная целостность
	// выполнялась для неразрешенных необязательных ссылок
	for entity, builder := range m.builders {
		sentinel, ok := m.cfg.SentinelKeys[entity]
		if !ok {
			continue
		}
		if err := builder.EnsureSentinelRow(ctx, sentinel); err != nil {
			return 0, err
		}
	}

	if !dateFrom.IsZero() {
		if err := m.dateDim.EnsureRange(ctx, dateFrom, dateTo); err != nil {
			return 0, err
		}
	}

	upserted := atomic.NewInt64(0)

	for entity, records := range goldens {
		builder, ok := m.builders[entity]
		if !ok {
			return 0, fmt.Errorf("не настроено измерение для сущности %q", entity)
		}

		if err := m.upsertAll(ctx, builder, records, upserted); err != nil {
			return 0, err
		}

		m.logger.Info("Измерение %s загружено (%d золотых записей)", builder.spec.Table, len(records))
	}

	m.logger.Info("Стадия DimensionLoad завершена. Записано строк: %d. Длительность: %v",
		upserted.Load(), time.Since(startTime))

	return int(upserted.Load()), nil
}

// upsertAll выполняет upsert записей одного измерения пулом воркеров
func (m *Manager) upsertAll(ctx context.Context, builder *DimensionBuilder, records []*models.GoldenRecord, upserted *atomic.Int64) error {
	workers := m.cfg.FactLoadConcurrency
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan *models.GoldenRecord)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for golden := range jobs {
				mu.Lock()
				stop := firstErr != nil
				mu.Unlock()
				if stop {
					continue
				}

				_, written, err := builder.Upsert(ctx, golden)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				if written {
					upserted.Inc()
				}
			}
		}()
	}

	for _, golden := range records {
		select {
		case jobs <- golden:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

// LoadFacts выполняет стадию FactLoad
func (m *Manager) LoadFacts(ctx context.Context, runID, stage string, records []models.CleanRecord, sink RejectSink) (*FactLoadResult, error) {
	return m.facts.LoadBatch(ctx, runID, stage, records, sink)
}

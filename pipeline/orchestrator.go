package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LilVoxy/coursework_warehouse/clean"
	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/extractors"
	"github.com/LilVoxy/coursework_warehouse/load"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/quality"
	"github.com/LilVoxy/coursework_warehouse/registry"
	"github.com/LilVoxy/coursework_warehouse/reject"
	"github.com/LilVoxy/coursework_warehouse/survivorship"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Orchestrator последовательно выполняет стадии конвейера и владеет
// жизненным циклом запуска. Переходы между стадиями — полные барьеры:
// FactLoad не начинается, пока DimensionLoad не зафиксирован полностью,
// поэтому факты не могут сослаться на незаписанные измерения.
//
// Повторный запуск после сбоя безопасен: все стадии идемпотентны,
// а журнал хранит последнюю полностью завершенную стадию.
type Orchestrator struct {
	cfg        *config.ETLConfig
	logger     *utils.ETLLogger
	extractor  extractors.SourceReader
	cleaner    *clean.Cleaner
	resolver   *survivorship.Resolver
	registry   *registry.KeyRegistry
	loader     *load.Manager
	validator  *quality.Validator
	runLogRepo models.RunLogRepository

	mu         sync.RWMutex
	lastReport *models.QualityReport
}

// NewOrchestrator создает новый экземпляр Orchestrator
func NewOrchestrator(
	cfg *config.ETLConfig,
	logger *utils.ETLLogger,
	extractor extractors.SourceReader,
	reg *registry.KeyRegistry,
	loader *load.Manager,
	validator *quality.Validator,
	runLogRepo models.RunLogRepository,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		extractor:  extractor,
		cleaner:    clean.NewCleaner(logger),
		resolver:   survivorship.NewResolver(cfg.Survivorship, logger),
		registry:   reg,
		loader:     loader,
		validator:  validator,
		runLogRepo: runLogRepo,
	}
}

// Setup создает служебные таблицы (журнал запусков, реестр ключей)
func (o *Orchestrator) Setup(ctx context.Context) error {
	if err := o.runLogRepo.CreateRunLogTable(); err != nil {
		return err
	}
	return o.registry.EnsureTable(ctx)
}

// LastReport возвращает отчет качества последнего запуска
func (o *Orchestrator) LastReport() *models.QualityReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastReport
}

// Run выполняет один запуск конвейера.
// sources — фильтр источников (пустой — все настроенные);
// mode — full или incremental.
func (o *Orchestrator) Run(ctx context.Context, runID string, sources []string, mode string) (*models.ETLRunLog, error) {
	startTime := time.Now()
	o.logger.Info("Запуск ETL %s (режим: %s)", runID, mode)

	logID, err := o.runLogRepo.CreateLogEntry(runID, mode, startTime)
	if err != nil {
		return nil, models.NewFatal(StagePending.String(), err)
	}

	runLog := &models.ETLRunLog{
		ID:           logID,
		RunID:        runID,
		Mode:         mode,
		StartTime:    startTime,
		Status:       models.RunStatusInProgress,
		StageReached: StagePending.String(),
	}

	rejects := reject.NewWriter(o.cfg.RejectDir, runID, o.logger)

	if err := o.execute(ctx, runLog, rejects, sources, mode); err != nil {
		// Отклоненные строки не теряются и при неуспешном запуске
		if flushErr := rejects.Flush(); flushErr != nil {
			o.logger.Error("Ошибка при записи reject-вывода: %v", flushErr)
		}

		runLog.Status = models.RunStatusFailed
		runLog.EndTime = time.Now()
		runLog.ErrorMessage = err.Error()

		if updErr := o.runLogRepo.UpdateLogEntryFailure(logID, runLog.EndTime, runLog.StageReached, err.Error()); updErr != nil {
			o.logger.Error("Ошибка при обновлении журнала запусков: %v", updErr)
		}

		o.logger.Error("Запуск ETL %s завершился неуспешно на стадии %s: %v", runID, runLog.StageReached, err)
		return runLog, err
	}

	if err := rejects.Flush(); err != nil {
		o.logger.Error("Ошибка при записи reject-вывода: %v", err)
	}

	runLog.Status = models.RunStatusSuccess
	runLog.StageReached = StageCompleted.String()
	runLog.EndTime = time.Now()

	if err := o.runLogRepo.UpdateLogEntrySuccess(runLog); err != nil {
		o.logger.Error("Ошибка при обновлении журнала запусков: %v", err)
	}

	o.logger.Info("Запуск ETL %s успешно завершен. Длительность: %v", runID, time.Since(startTime))
	return runLog, nil
}

// execute проводит запуск через все стадии конвейера
func (o *Orchestrator) execute(ctx context.Context, runLog *models.ETLRunLog, rejects *reject.Writer, sources []string, mode string) error {
	// Водяной знак инкрементального извлечения — из последнего
	// успешного запуска
	var watermark int64
	if mode == config.ModeIncremental {
		lastRun, err := o.runLogRepo.GetLastSuccessfulRun()
		if err != nil {
			o.logger.Warn("Не удалось получить последний успешный запуск: %v. Будет выполнено полное извлечение.", err)
		} else if lastRun != nil {
			watermark = lastRun.LastProcessedRowID
			o.logger.Info("Инкрементальный режим: водяной знак %d", watermark)
		}
	}

	// 1. Loading: извлечение bronze-данных
	extracted, err := runStage(ctx, o, runLog, StageLoading, func() (*extractors.ExtractedData, error) {
		return o.extractor.Extract(ctx, sources, watermark)
	})
	if err != nil {
		return err
	}
	runLog.RowsExtracted = extracted.TotalRows()
	runLog.LastProcessedRowID = extracted.MaxRowID
	if watermark > runLog.LastProcessedRowID {
		runLog.LastProcessedRowID = watermark
	}

	// 2. Cleaning: очистка и приведение типов
	cleaned, err := runStage(ctx, o, runLog, StageCleaning, func() (map[string][]models.CleanRecord, error) {
		return o.cleanAll(ctx, runLog.RunID, extracted, rejects)
	})
	if err != nil {
		return err
	}
	for _, recs := range cleaned {
		runLog.RowsCleaned += len(recs)
	}
	runLog.RowsQuarantined = rejects.Count(StageCleaning.String())

	// 3. Resolving: консолидация золотых записей.
	// Группировка по бизнес-ключу — барьер: все записи ключа собраны
	// до разрешения.
	goldens, err := runStage(ctx, o, runLog, StageResolving, func() (map[string][]*models.GoldenRecord, error) {
		return o.resolveAll(cleaned)
	})
	if err != nil {
		return err
	}
	for _, recs := range goldens {
		runLog.GoldenRecords += len(recs)
	}

	// 4. KeyAssignment: назначение суррогатных ключей.
	// Материализуется полностью до загрузки измерений.
	if _, err := runStage(ctx, o, runLog, StageKeyAssignment, func() (struct{}, error) {
		return struct{}{}, o.assignKeys(ctx, goldens)
	}); err != nil {
		return err
	}

	// 5. DimensionLoad: сентинелы, измерение дат, upsert измерений
	factRecords := o.factRecords(cleaned)
	dateFrom, dateTo := o.dateRange(factRecords)

	upserted, err := runStage(ctx, o, runLog, StageDimensionLoad, func() (int, error) {
		return o.loader.LoadDimensions(ctx, goldens, dateFrom, dateTo)
	})
	if err != nil {
		return err
	}
	runLog.DimensionsUpserted = upserted

	// 6. FactLoad: разрешение ссылок и запись фактов по зерну
	factResult, err := runStage(ctx, o, runLog, StageFactLoad, func() (*load.FactLoadResult, error) {
		return o.loader.LoadFacts(ctx, runLog.RunID, StageFactLoad.String(), factRecords, rejects)
	})
	if err != nil {
		return err
	}
	runLog.FactsLoaded = factResult.Loaded
	runLog.FactsRejected = factResult.Rejected

	// 7. Validating: проверки качества
	report, err := runStage(ctx, o, runLog, StageValidating, func() (*models.QualityReport, error) {
		return o.validator.Run(ctx, runLog.RunID)
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.lastReport = report
	o.mu.Unlock()

	if !report.Passed {
		failed := report.Failed()[0]
		return models.NewFatal(StageValidating.String(), &models.ValidationError{
			Check:      failed.Name,
			FailedRows: failed.FailedRows,
			Threshold:  failed.Threshold,
		})
	}

	return nil
}

// runStage выполняет одну стадию с барьером по отмене и фиксирует
// завершенную стадию в журнале запусков
func runStage[T any](ctx context.Context, o *Orchestrator, runLog *models.ETLRunLog, stage Stage, fn func() (T, error)) (T, error) {
	var zero T

	// Запуск может быть прерван между стадиями
	if err := ctx.Err(); err != nil {
		return zero, models.NewFatal(stage.String(), err)
	}

	startTime := time.Now()
	o.logger.LogStageStart(stage.String())

	result, err := fn()
	if err != nil {
		if models.IsFatal(err) {
			return zero, err
		}
		return zero, models.NewFatal(stage.String(), err)
	}

	runLog.StageReached = stage.String()
	if updErr := o.runLogRepo.UpdateStageReached(runLog.ID, stage.String()); updErr != nil {
		o.logger.Warn("Не удалось зафиксировать стадию %s в журнале: %v", stage, updErr)
	}

	o.logger.Debug("Стадия %s заняла %v", stage, time.Since(startTime))
	return result, nil
}

// cleanAll очищает извлеченные записи по сущностям
func (o *Orchestrator) cleanAll(ctx context.Context, runID string, extracted *extractors.ExtractedData, rejects *reject.Writer) (map[string][]models.CleanRecord, error) {
	cleaned := make(map[string][]models.CleanRecord, len(extracted.Records))

	// Детерминированный порядок обхода сущностей
	entities := make([]string, 0, len(extracted.Records))
	for entity := range extracted.Records {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		schema, ok := o.cfg.Schemas[entity]
		if !ok {
			return nil, fmt.Errorf("не объявлена схема для сущности %q", entity)
		}

		result, err := o.cleaner.ConformBatch(ctx, runID, StageCleaning.String(), extracted.Records[entity], schema, o.cfg.CleanWorkers, rejects)
		if err != nil {
			return nil, err
		}
		cleaned[entity] = result.Accepted
	}

	return cleaned, nil
}

// resolveAll консолидирует очищенные записи измерений в золотые записи
func (o *Orchestrator) resolveAll(cleaned map[string][]models.CleanRecord) (map[string][]*models.GoldenRecord, error) {
	goldens := make(map[string][]*models.GoldenRecord)

	for _, spec := range o.cfg.Dimensions {
		records, ok := cleaned[spec.Entity]
		if !ok || len(records) == 0 {
			continue
		}

		groups := survivorship.GroupByKey(records)

		// Детерминированный порядок ключей
		keys := make([]string, 0, len(groups))
		for key := range groups {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			golden, err := o.resolver.Resolve(spec.Entity, key, groups[key])
			if err != nil {
				return nil, err
			}
			goldens[spec.Entity] = append(goldens[spec.Entity], golden)
		}
	}

	return goldens, nil
}

// assignKeys назначает суррогатные ключи всем золотым записям
// пулом воркеров: разные ключи идут независимо
func (o *Orchestrator) assignKeys(ctx context.Context, goldens map[string][]*models.GoldenRecord) error {
	workers := o.cfg.CleanWorkers
	if workers < 1 {
		workers = 1
	}

	type job struct {
		entity      string
		businessKey string
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				mu.Lock()
				stop := firstErr != nil
				mu.Unlock()
				if stop {
					continue
				}

				if _, err := o.registry.AssignOrGet(ctx, j.entity, j.businessKey); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for entity, records := range goldens {
		for _, golden := range records {
			select {
			case jobs <- job{entity: entity, businessKey: golden.BusinessKey}:
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			}
		}
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

// factRecords возвращает очищенные записи фактов.
// Фактовые сущности — те, для которых не настроено измерение.
func (o *Orchestrator) factRecords(cleaned map[string][]models.CleanRecord) []models.CleanRecord {
	dims := make(map[string]bool, len(o.cfg.Dimensions))
	for _, spec := range o.cfg.Dimensions {
		dims[spec.Entity] = true
	}

	var facts []models.CleanRecord
	entities := make([]string, 0, len(cleaned))
	for entity := range cleaned {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		if !dims[entity] {
			facts = append(facts, cleaned[entity]...)
		}
	}

	return facts
}

// dateRange возвращает диапазон дат записей фактов для измерения дат
func (o *Orchestrator) dateRange(facts []models.CleanRecord) (time.Time, time.Time) {
	var from, to time.Time
	for _, rec := range facts {
		t, ok := rec.Attributes[o.cfg.FactTable.DateField].(time.Time)
		if !ok {
			continue
		}
		if from.IsZero() || t.Before(from) {
			from = t
		}
		if to.IsZero() || t.After(to) {
			to = t
		}
	}
	return from, to
}

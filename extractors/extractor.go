package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// SourceReader определяет контракт чтения сырых записей из bronze-слоя.
// Записи возвращаются упорядоченно по идентификатору строки.
// Пустой фильтр источников означает "все настроенные источники".
type SourceReader interface {
	Extract(ctx context.Context, sourceFilter []string, lastRowID int64) (*ExtractedData, error)
}

// ExtractedData содержит сырые записи, извлеченные из bronze-слоя,
// сгруппированные по сущностям
type ExtractedData struct {
	Records   map[string][]models.RawRecord
	MaxRowID  int64
	LastRunTS time.Time
}

// TotalRows возвращает общее количество извлеченных строк
func (d *ExtractedData) TotalRows() int {
	total := 0
	for _, recs := range d.Records {
		total += len(recs)
	}
	return total
}

// BronzeExtractor координирует извлечение данных из bronze-таблиц.
// Таблицы именуются по схеме bronze_<источник>_<сущность>.
type BronzeExtractor struct {
	db        *sql.DB
	logger    *utils.ETLLogger
	sources   []config.SourceConfig
	schemas   map[string]models.TableSchema
	batchSize int
	timeout   time.Duration
}

// NewBronzeExtractor создает новый экземпляр BronzeExtractor
func NewBronzeExtractor(db *sql.DB, logger *utils.ETLLogger, cfg *config.ETLConfig) *BronzeExtractor {
	return &BronzeExtractor{
		db:        db,
		logger:    logger,
		sources:   cfg.Sources,
		schemas:   cfg.Schemas,
		batchSize: cfg.BatchSize,
		timeout:   cfg.QueryTimeout,
	}
}

// Extract извлекает сырые записи из настроенных источников.
// lastRowID — водяной знак для инкрементального извлечения:
// читаются только строки с id больше указанного.
func (e *BronzeExtractor) Extract(ctx context.Context, sourceFilter []string, lastRowID int64) (*ExtractedData, error) {
	startTime := time.Now()
	e.logger.Info("Начало стадии Loading (извлечение bronze-данных), водяной знак: %d", lastRowID)

	wanted := make(map[string]bool, len(sourceFilter))
	for _, name := range sourceFilter {
		wanted[name] = true
	}

	data := &ExtractedData{
		Records: make(map[string][]models.RawRecord),
	}

	for _, src := range e.sources {
		if len(wanted) > 0 && !wanted[src.Name] {
			continue
		}
		for _, entity := range src.Entities {
			schema, ok := e.schemas[entity]
			if !ok {
				return nil, fmt.Errorf("не объявлена схема для сущности %q", entity)
			}

			records, err := e.extractTable(ctx, src.Name, entity, schema, lastRowID)
			if err != nil {
				e.logger.Error("Ошибка при извлечении %s/%s: %v", src.Name, entity, err)
				return nil, fmt.Errorf("ошибка извлечения %s/%s: %w", src.Name, entity, err)
			}

			data.Records[entity] = append(data.Records[entity], records...)

			for _, r := range records {
				if r.RowID > data.MaxRowID {
					data.MaxRowID = r.RowID
				}
			}

			e.logger.Debug("Извлечено %d строк из bronze_%s_%s", len(records), src.Name, entity)
		}
	}

	data.LastRunTS = time.Now()
	e.logger.Info("Извлечение завершено. Строк: %d. Длительность: %v", data.TotalRows(), time.Since(startTime))

	return data, nil
}

// extractTable извлекает строки одной bronze-таблицы по объявленной схеме
func (e *BronzeExtractor) extractTable(ctx context.Context, source, entity string, schema models.TableSchema, lastRowID int64) ([]models.RawRecord, error) {
	cols := make([]string, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		cols = append(cols, c.Name)
	}

	table := fmt.Sprintf("bronze_%s_%s", source, entity)
	query := fmt.Sprintf(
		"SELECT id, extracted_at, %s FROM %s WHERE id > ? ORDER BY id LIMIT ?",
		strings.Join(cols, ", "), table,
	)

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, query, lastRowID, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении таблицы %s: %w", table, err)
	}
	defer rows.Close()

	var records []models.RawRecord
	for rows.Next() {
		var rowID int64
		var extractedAt time.Time

		raw := make([]sql.NullString, len(cols))
		dest := make([]interface{}, 0, len(cols)+2)
		dest = append(dest, &rowID, &extractedAt)
		for i := range raw {
			dest = append(dest, &raw[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании строки таблицы %s: %w", table, err)
		}

		columns := make(map[string]string, len(cols))
		for i, name := range cols {
			if raw[i].Valid {
				columns[name] = raw[i].String
			}
		}

		records = append(records, models.RawRecord{
			Source:      source,
			Entity:      entity,
			RowID:       rowID,
			ExtractedAt: extractedAt,
			Columns:     columns,
			ColumnOrder: cols,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка после итерации по таблице %s: %w", table, err)
	}

	return records, nil
}

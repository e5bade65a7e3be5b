package survivorship

import (
	"fmt"
	"sort"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Resolver консолидирует несколько очищенных записей с одним бизнес-ключом
// в одну золотую запись по настроенным приоритетам источников
type Resolver struct {
	rules  models.SurvivorshipConfig
	logger *utils.ETLLogger
}

// NewResolver создает новый экземпляр Resolver
func NewResolver(rules models.SurvivorshipConfig, logger *utils.ETLLogger) *Resolver {
	return &Resolver{
		rules:  rules,
		logger: logger,
	}
}

// GroupByKey группирует очищенные записи по бизнес-ключу.
// Это барьер: все записи одного ключа должны быть собраны до консолидации.
func GroupByKey(records []models.CleanRecord) map[string][]models.CleanRecord {
	groups := make(map[string][]models.CleanRecord)
	for _, rec := range records {
		groups[rec.BusinessKey] = append(groups[rec.BusinessKey], rec)
	}
	return groups
}

// Resolve строит золотую запись из набора очищенных записей одного ключа.
// Функция детерминирована относительно набора входных записей:
// перестановка входа дает идентичный результат. Порядок прибытия
// никогда не участвует в выборе победителя.
func (r *Resolver) Resolve(entity, businessKey string, records []models.CleanRecord) (*models.GoldenRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("нет записей для консолидации ключа %q сущности %q", businessKey, entity)
	}

	// Нормализуем порядок входа, чтобы результат не зависел от него
	sorted := make([]models.CleanRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		if !sorted[i].ExtractedAt.Equal(sorted[j].ExtractedAt) {
			return sorted[i].ExtractedAt.Before(sorted[j].ExtractedAt)
		}
		return sorted[i].RowID < sorted[j].RowID
	})

	// Собираем полный набор атрибутов по всем записям
	attrSet := make(map[string]struct{})
	for _, rec := range sorted {
		for name := range rec.Attributes {
			attrSet[name] = struct{}{}
		}
	}
	attrNames := make([]string, 0, len(attrSet))
	for name := range attrSet {
		attrNames = append(attrNames, name)
	}
	sort.Strings(attrNames)

	golden := &models.GoldenRecord{
		Entity:      entity,
		BusinessKey: businessKey,
		Attributes:  make(map[string]interface{}, len(attrNames)),
		Provenance:  make(map[string]string, len(attrNames)),
	}

	for _, attr := range attrNames {
		value, source := r.selectValue(entity, attr, sorted)
		golden.Attributes[attr] = value
		if source != "" {
			golden.Provenance[attr] = source
		}
	}

	return golden, nil
}

// selectValue выбирает значение атрибута по приоритету источников.
// Источник с высшим приоритетом побеждает; при отсутствии у него
// непустого значения — переход к следующему по приоритету.
// Внутри источника побеждает самая свежая запись по времени извлечения,
// затем — фиксированный порядок по имени источника и идентификатору строки.
func (r *Resolver) selectValue(entity, attr string, sorted []models.CleanRecord) (interface{}, string) {
	priority := r.rules.PriorityFor(entity, attr)

	// Источники вне списка приоритетов идут после него
	// в фиксированном алфавитном порядке
	seen := make(map[string]bool, len(priority))
	for _, s := range priority {
		seen[s] = true
	}
	var rest []string
	for _, rec := range sorted {
		if !seen[rec.Source] {
			seen[rec.Source] = true
			rest = append(rest, rec.Source)
		}
	}
	sort.Strings(rest)
	order := append(append([]string{}, priority...), rest...)

	for _, source := range order {
		var best *models.CleanRecord
		for i := range sorted {
			rec := &sorted[i]
			if rec.Source != source {
				continue
			}
			if rec.Attributes[attr] == nil {
				continue
			}
			if best == nil || rec.ExtractedAt.After(best.ExtractedAt) {
				best = rec
			}
		}
		if best != nil {
			return best.Attributes[attr], source
		}
	}

	return nil, ""
}

package models

// ColumnType определяет объявленный тип колонки в схеме источника
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInt
	ColumnDecimal
	ColumnDate
	ColumnCode
)

// ColumnSpec описывает правила очистки для одной колонки источника.
// Для колонок типа ColumnCode CodeMap обязан быть тотальным:
// код, отсутствующий в карте, трактуется как ошибка обязательного поля.
type ColumnSpec struct {
	Name        string
	Type        ColumnType
	Mandatory   bool
	BusinessKey bool
	CodeMap     map[string]string
}

// TableSchema описывает объявленную схему одной сущности источника
type TableSchema struct {
	Entity  string
	Columns []ColumnSpec
}

// BusinessKeyColumns возвращает колонки, входящие в бизнес-ключ
func (s TableSchema) BusinessKeyColumns() []string {
	var cols []string
	for _, c := range s.Columns {
		if c.BusinessKey {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// EntitySurvivorship задает приоритеты источников для консолидации сущности.
// PerAttribute переопределяет порядок для отдельных атрибутов;
// для остальных действует DefaultOrder.
type EntitySurvivorship struct {
	DefaultOrder []string
	PerAttribute map[string][]string
}

// SurvivorshipConfig — приоритеты источников по каждой сущности
type SurvivorshipConfig map[string]EntitySurvivorship

// PriorityFor возвращает порядок источников для атрибута сущности
func (c SurvivorshipConfig) PriorityFor(entity, attribute string) []string {
	rules, ok := c[entity]
	if !ok {
		return nil
	}
	if order, ok := rules.PerAttribute[attribute]; ok {
		return order
	}
	return rules.DefaultOrder
}

package models

import (
	"fmt"
	"strconv"
	"time"
)

// RawRecord представляет сырую строку из bronze-слоя.
// Записи bronze неизменяемы: они никогда не модифицируются и не удаляются.
type RawRecord struct {
	Source      string
	Entity      string
	RowID       int64
	ExtractedAt time.Time
	Columns     map[string]string
	ColumnOrder []string
}

// QualityFlag помечает атрибут, который не удалось привести к типу
// и который был заменен на NULL при очистке
type QualityFlag struct {
	Column string `json:"column"`
	Code   string `json:"code"`
}

// CleanRecord представляет очищенную и типизированную запись silver-слоя.
// Создается заново при каждом запуске; никогда не мутируется.
// Значения в Attributes имеют типы: string, int64, float64, time.Time или nil.
type CleanRecord struct {
	Entity      string
	Source      string
	RowID       int64
	BusinessKey string
	ExtractedAt time.Time
	Attributes  map[string]interface{}
	Flags       []QualityFlag
}

// GoldenRecord представляет результат консолидации (survivorship)
// нескольких CleanRecord с одним бизнес-ключом.
// Provenance хранит, из какого источника взят каждый атрибут.
type GoldenRecord struct {
	Entity      string
	BusinessKey string
	Attributes  map[string]interface{}
	Provenance  map[string]string
}

// RejectedRow представляет строку, отклоненную на одной из стадий.
// Каждая отклоненная строка попадает в reject-вывод ровно один раз.
type RejectedRow struct {
	RunID  string            `json:"run_id"`
	Stage  string            `json:"stage"`
	Source string            `json:"source"`
	Entity string            `json:"entity"`
	RowID  int64             `json:"row_id"`
	Reason string            `json:"reason"`
	Row    map[string]string `json:"row"`
}

// FormatAttribute приводит типизированное значение атрибута к каноничной
// строковой форме для записи в хранилище и для сравнения при upsert
func FormatAttribute(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format("2006-01-02")
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", t)
	}
}

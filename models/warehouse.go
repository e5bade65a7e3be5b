package models

import "time"

// SurrogateKeyMapping представляет запись реестра суррогатных ключей.
// Инвариант: ровно одно отображение на пару (сущность, бизнес-ключ);
// суррогатный ключ никогда не переназначается и не переиспользуется.
type SurrogateKeyMapping struct {
	Entity      string
	BusinessKey string
	SurrogateID int64
	FirstSeen   time.Time
}

// DimensionRow представляет строку измерения gold-слоя (SCD type-1).
// Инвариант: ровно одна строка на суррогатный ключ;
// бизнес-ключ уникален в пределах сущности.
type DimensionRow struct {
	SurrogateID int64
	BusinessKey string
	Attributes  map[string]string
	LastUpdated time.Time
}

// DimensionSpec описывает таблицу измерения и ее колонки.
// AttrColumns задает порядок колонок атрибутов; значения берутся из
// атрибутов GoldenRecord по именам AttrFields в том же порядке.
type DimensionSpec struct {
	Entity            string
	Table             string
	KeyColumn         string
	BusinessKeyColumn string
	AttrColumns       []string
	AttrFields        []string
}

// FactRef описывает ссылку факта на измерение.
// Для обязательных ссылок неразрешенный ключ приводит к отклонению строки;
// для необязательных подставляется сентинел "неизвестного члена".
type FactRef struct {
	Column   string
	Entity   string
	Field    string
	Required bool
}

// MeasureSpec описывает колонку меры таблицы фактов
type MeasureSpec struct {
	Column string
	Field  string
}

// FactTableSpec описывает таблицу фактов и ее зерно.
// Зерно = DateColumn + колонки всех Refs; на одно зерно существует
// не более одной строки.
type FactTableSpec struct {
	Table      string
	DateColumn string
	DateField  string
	Refs       []FactRef
	Measures   []MeasureSpec
}

// FactRow представляет строку фактов, готовую к записи
type FactRow struct {
	DateKey  int64
	Keys     map[string]int64
	Measures map[string]interface{}
}

// DateKeyFor вычисляет ключ даты формата ГГГГММДД
func DateKeyFor(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

package config

import (
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
)

// Режимы загрузки
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// ETLConfig содержит конфигурацию для ETL-процесса.
// Передается явно каждому компоненту — скрытого глобального состояния нет.
type ETLConfig struct {
	// Конфигурация подключения к bronze-слою (staging исходных данных)
	BronzeConfig DatabaseConfig `json:"bronze_config"`

	// Конфигурация подключения к хранилищу (gold-слой)
	WarehouseConfig DatabaseConfig `json:"warehouse_config"`

	// Интервал запуска ETL в режиме scheduled
	RunInterval time.Duration `json:"run_interval"`

	// Максимальное количество записей, извлекаемых за один запуск
	BatchSize int `json:"batch_size"`

	// Количество воркеров на стадии очистки
	CleanWorkers int `json:"clean_workers"`

	// Ограничение конкурентности записи фактов
	FactLoadConcurrency int `json:"fact_load_concurrency"`

	// Таймаут одного обращения к базе данных
	QueryTimeout time.Duration `json:"query_timeout"`

	// Бюджет повторов для временных ошибок; после исчерпания — фатальная ошибка
	MaxRetries int `json:"max_retries"`

	// Пауза между повторами
	RetryDelay time.Duration `json:"retry_delay"`

	// Каталог для reject-вывода (по подкаталогу на запуск)
	RejectDir string `json:"reject_dir"`

	// Источники и извлекаемые из них сущности
	Sources []SourceConfig `json:"sources"`

	// Объявленные схемы сущностей (правила очистки по колонкам)
	Schemas map[string]models.TableSchema `json:"-"`

	// Приоритеты источников для консолидации
	Survivorship models.SurvivorshipConfig `json:"-"`

	// Спецификации таблиц измерений
	Dimensions []models.DimensionSpec `json:"-"`

	// Спецификация таблицы фактов
	FactTable models.FactTableSpec `json:"-"`

	// Ключи "неизвестного члена" по сущностям измерений
	SentinelKeys map[string]int64 `json:"sentinel_keys"`

	// Проверки NULL/диапазона для мер таблицы фактов
	RangeChecks []models.RangeCheck `json:"-"`

	// Пороги проверок качества: превышение делает запуск неуспешным
	QualityThresholds map[string]int `json:"quality_thresholds"`

	// Включение/отключение детального логирования
	EnableDetailedLogging bool `json:"enable_detailed_logging"`
}

// SourceConfig описывает один источник bronze-слоя.
// Таблицы источника именуются по схеме bronze_<источник>_<сущность>.
type SourceConfig struct {
	Name     string   `json:"name"`
	Entities []string `json:"entities"`
}

// DatabaseConfig содержит настройки подключения к базе данных
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

// Значения конфигурации по умолчанию
var (
	DefaultBronzeConfig = DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "root",
		Password: "",
		DBName:   "sales_staging",
	}

	DefaultWarehouseConfig = DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "root",
		Password: "",
		DBName:   "sales_warehouse",
	}
)

// GetConfig возвращает конфигурацию ETL по умолчанию для витрины продаж
func GetConfig() ETLConfig {
	cfg := ETLConfig{
		BronzeConfig:          DefaultBronzeConfig,
		WarehouseConfig:       DefaultWarehouseConfig,
		RunInterval:           1 * time.Hour,
		BatchSize:             10000,
		CleanWorkers:          4,
		FactLoadConcurrency:   4,
		QueryTimeout:          30 * time.Second,
		MaxRetries:            3,
		RetryDelay:            500 * time.Millisecond,
		RejectDir:             "rejects",
		EnableDetailedLogging: true,
	}

	// Источники: CRM поставляет клиентов и менеджеров, ERP — клиентов,
	// товары и продажи
	cfg.Sources = []SourceConfig{
		{Name: "crm", Entities: []string{"customer", "salesrep"}},
		{Name: "erp", Entities: []string{"customer", "product", "sales"}},
	}

	cfg.Schemas = defaultSchemas()
	cfg.Survivorship = defaultSurvivorship()
	cfg.Dimensions = defaultDimensions()
	cfg.FactTable = defaultFactTable()

	// Сентинелы "неизвестного члена" по измерениям
	cfg.SentinelKeys = map[string]int64{
		"customer": -1,
		"product":  -1,
		"salesrep": -1,
	}

	cfg.RangeChecks = []models.RangeCheck{
		{
			Name:      "fact_sales_quantity_positive",
			Table:     "FactSales",
			Column:    "Quantity",
			Condition: "Quantity <= 0 OR Quantity IS NULL",
		},
		{
			Name:      "fact_sales_amount_non_negative",
			Table:     "FactSales",
			Column:    "Amount",
			Condition: "Amount < 0 OR Amount IS NULL",
		},
	}

	// Пороги проверок качества: 0 — любое нарушение фатально
	cfg.QualityThresholds = map[string]int{
		"dim_customer_business_key_unique": 0,
		"dim_product_business_key_unique":  0,
		"dim_salesrep_business_key_unique": 0,
		"fact_sales_customer_ref":          0,
		"fact_sales_product_ref":           0,
		"fact_sales_salesrep_ref":          0,
		"fact_sales_date_ref":              0,
		"fact_sales_quantity_positive":     10,
		"fact_sales_amount_non_negative":   10,
	}

	return cfg
}

// defaultSchemas возвращает объявленные схемы сущностей источников
func defaultSchemas() map[string]models.TableSchema {
	return map[string]models.TableSchema{
		"customer": {
			Entity: "customer",
			Columns: []models.ColumnSpec{
				{Name: "customer_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
				{Name: "customer_name", Type: models.ColumnString},
				{Name: "city", Type: models.ColumnString},
				{Name: "country", Type: models.ColumnCode, CodeMap: map[string]string{
					"us": "US", "usa": "US", "united states": "US",
					"de": "DE", "germany": "DE",
					"fr": "FR", "france": "FR",
					"gb": "GB", "uk": "GB", "united kingdom": "GB",
				}},
			},
		},
		"product": {
			Entity: "product",
			Columns: []models.ColumnSpec{
				{Name: "product_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
				{Name: "product_name", Type: models.ColumnString},
				{Name: "category", Type: models.ColumnString},
				{Name: "unit_price", Type: models.ColumnDecimal},
			},
		},
		"salesrep": {
			Entity: "salesrep",
			Columns: []models.ColumnSpec{
				{Name: "salesrep_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
				{Name: "salesrep_name", Type: models.ColumnString},
				{Name: "region", Type: models.ColumnString},
			},
		},
		"sales": {
			Entity: "sales",
			Columns: []models.ColumnSpec{
				{Name: "sale_date", Type: models.ColumnDate, Mandatory: true, BusinessKey: true},
				{Name: "customer_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
				{Name: "product_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
				{Name: "salesrep_id", Type: models.ColumnInt, BusinessKey: true},
				{Name: "quantity", Type: models.ColumnInt, Mandatory: true},
				{Name: "amount", Type: models.ColumnDecimal, Mandatory: true},
			},
		},
	}
}

// defaultSurvivorship возвращает приоритеты источников для консолидации.
// CRM считается главным по атрибутам клиента, ERP — по финансовым атрибутам.
func defaultSurvivorship() models.SurvivorshipConfig {
	return models.SurvivorshipConfig{
		"customer": {
			DefaultOrder: []string{"crm", "erp"},
			PerAttribute: map[string][]string{
				"country": {"erp", "crm"},
			},
		},
		"product": {
			DefaultOrder: []string{"erp"},
		},
		"salesrep": {
			DefaultOrder: []string{"crm"},
		},
	}
}

// defaultDimensions возвращает спецификации таблиц измерений gold-слоя
func defaultDimensions() []models.DimensionSpec {
	return []models.DimensionSpec{
		{
			Entity:            "customer",
			Table:             "DimCustomer",
			KeyColumn:         "CustomerKey",
			BusinessKeyColumn: "BusinessCustomerId",
			AttrColumns:       []string{"CustomerName", "City", "Country"},
			AttrFields:        []string{"customer_name", "city", "country"},
		},
		{
			Entity:            "product",
			Table:             "DimProduct",
			KeyColumn:         "ProductKey",
			BusinessKeyColumn: "BusinessProductId",
			AttrColumns:       []string{"ProductName", "Category", "UnitPrice"},
			AttrFields:        []string{"product_name", "category", "unit_price"},
		},
		{
			Entity:            "salesrep",
			Table:             "DimSalesRep",
			KeyColumn:         "SalesRepKey",
			BusinessKeyColumn: "BusinessSalesRepId",
			AttrColumns:       []string{"SalesRepName", "Region"},
			AttrFields:        []string{"salesrep_name", "region"},
		},
	}
}

// defaultFactTable возвращает спецификацию таблицы фактов продаж.
// Зерно: (DateKey, CustomerKey, ProductKey, SalesRepKey).
func defaultFactTable() models.FactTableSpec {
	return models.FactTableSpec{
		Table:      "FactSales",
		DateColumn: "DateKey",
		DateField:  "sale_date",
		Refs: []models.FactRef{
			{Column: "CustomerKey", Entity: "customer", Field: "customer_id", Required: true},
			{Column: "ProductKey", Entity: "product", Field: "product_id", Required: true},
			{Column: "SalesRepKey", Entity: "salesrep", Field: "salesrep_id", Required: false},
		},
		Measures: []models.MeasureSpec{
			{Column: "Quantity", Field: "quantity"},
			{Column: "Amount", Field: "amount"},
		},
	}
}

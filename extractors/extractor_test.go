package extractors

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractorConfig() *config.ETLConfig {
	return &config.ETLConfig{
		BatchSize:    1000,
		QueryTimeout: 5 * time.Second,
		Sources: []config.SourceConfig{
			{Name: "crm", Entities: []string{"customer"}},
			{Name: "erp", Entities: []string{"customer"}},
		},
		Schemas: map[string]models.TableSchema{
			"customer": {
				Entity: "customer",
				Columns: []models.ColumnSpec{
					{Name: "customer_id", Type: models.ColumnInt, Mandatory: true, BusinessKey: true},
					{Name: "customer_name", Type: models.ColumnString},
				},
			},
		},
	}
}

func newTestExtractor(t *testing.T) (*BronzeExtractor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewBronzeExtractor(db, utils.NewETLLogger(false), extractorConfig()), mock
}

func bronzeRows(extractedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "extracted_at", "customer_id", "customer_name"}).
		AddRow(1, extractedAt, "101", "Jane Doe").
		AddRow(2, extractedAt, "102", nil)
}

func TestExtractReadsAllSources(t *testing.T) {
	extractor, mock := newTestExtractor(t)
	extractedAt := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM bronze_crm_customer WHERE id > \\? ORDER BY id").
		WithArgs(int64(0), 1000).
		WillReturnRows(bronzeRows(extractedAt))
	mock.ExpectQuery("FROM bronze_erp_customer WHERE id > \\? ORDER BY id").
		WithArgs(int64(0), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted_at", "customer_id", "customer_name"}).
			AddRow(7, extractedAt, "101", "J. Doe"))

	data, err := extractor.Extract(context.Background(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, data.TotalRows())
	assert.Equal(t, int64(7), data.MaxRowID)

	customers := data.Records["customer"]
	require.Len(t, customers, 3)
	assert.Equal(t, "crm", customers[0].Source)
	assert.Equal(t, "Jane Doe", customers[0].Columns["customer_name"])
	assert.Equal(t, "erp", customers[2].Source)

	// NULL-колонка не попадает в карту значений строки
	_, ok := customers[1].Columns["customer_name"]
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractFiltersSources(t *testing.T) {
	extractor, mock := newTestExtractor(t)
	extractedAt := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	// Запрашивается только crm; erp-таблица не читается
	mock.ExpectQuery("FROM bronze_crm_customer").
		WithArgs(int64(0), 1000).
		WillReturnRows(bronzeRows(extractedAt))

	data, err := extractor.Extract(context.Background(), []string{"crm"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, data.TotalRows())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractAppliesWatermark(t *testing.T) {
	extractor, mock := newTestExtractor(t)

	// Инкрементальное извлечение: читаются только строки после водяного знака
	mock.ExpectQuery("FROM bronze_crm_customer").
		WithArgs(int64(500), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted_at", "customer_id", "customer_name"}))
	mock.ExpectQuery("FROM bronze_erp_customer").
		WithArgs(int64(500), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted_at", "customer_id", "customer_name"}))

	data, err := extractor.Extract(context.Background(), nil, 500)
	require.NoError(t, err)

	assert.Zero(t, data.TotalRows())
	assert.Zero(t, data.MaxRowID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

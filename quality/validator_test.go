package quality

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

func newTestValidator(t *testing.T, thresholds map[string]int) (*Validator, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.ETLConfig{
		QueryTimeout: 5 * time.Second,
		Dimensions: []models.DimensionSpec{
			{
				Entity:            "customer",
				Table:             "DimCustomer",
				KeyColumn:         "CustomerKey",
				BusinessKeyColumn: "CustomerID",
			},
		},
		FactTable: models.FactTableSpec{
			Table:      "FactSales",
			DateColumn: "DateKey",
			Refs: []models.FactRef{
				{Column: "CustomerKey", Entity: "customer", Required: true},
			},
		},
		RangeChecks: []models.RangeCheck{
			{
				Name:      "fact_sales_quantity_positive",
				Table:     "FactSales",
				Column:    "Quantity",
				Condition: "Quantity IS NULL OR Quantity <= 0",
			},
		},
		SentinelKeys:      map[string]int64{"customer": -1},
		QualityThresholds: thresholds,
	}

	return NewValidator(db, utils.NewETLLogger(false), cfg), mock
}

func emptyCheck() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"col"})
}

func TestRunAllChecksPass(t *testing.T) {
	validator, mock := newTestValidator(t, map[string]int{})

	mock.ExpectQuery("SELECT CustomerID, COUNT\\(\\*\\) AS cnt FROM DimCustomer").
		WithArgs(int64(-1)).
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimCustomer").
		WithArgs(int64(-1)).
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimDate").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("SELECT Quantity FROM FactSales").
		WillReturnRows(emptyCheck())

	report, err := validator.Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.True(t, report.Passed)
	require.Len(t, report.Results, 4)
	for _, res := range report.Results {
		assert.Equal(t, models.CheckStatusPassed, res.Status)
		assert.Zero(t, res.FailedRows)
	}
	assert.Empty(t, report.Failed())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunViolationsWithinThresholdWarn(t *testing.T) {
	validator, mock := newTestValidator(t, map[string]int{
		"fact_sales_quantity_positive": 10,
	})

	mock.ExpectQuery("SELECT CustomerID, COUNT\\(\\*\\) AS cnt FROM DimCustomer").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimCustomer").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimDate").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("SELECT Quantity FROM FactSales").
		WillReturnRows(sqlmock.NewRows([]string{"Quantity"}).
			AddRow("-5").AddRow("0").AddRow(nil))

	report, err := validator.Run(context.Background(), "run-1")
	require.NoError(t, err)

	// Нарушения в пределах порога носят рекомендательный характер
	assert.True(t, report.Passed)

	last := report.Results[len(report.Results)-1]
	assert.Equal(t, models.CheckStatusWarn, last.Status)
	assert.Equal(t, 3, last.FailedRows)
	assert.Len(t, last.Sample, 3)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunViolationsBeyondThresholdFail(t *testing.T) {
	validator, mock := newTestValidator(t, map[string]int{})

	dupes := sqlmock.NewRows([]string{"CustomerID", "cnt"}).
		AddRow("101", 2)

	mock.ExpectQuery("SELECT CustomerID, COUNT\\(\\*\\) AS cnt FROM DimCustomer").
		WillReturnRows(dupes)
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimCustomer").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimDate").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("SELECT Quantity FROM FactSales").
		WillReturnRows(emptyCheck())

	report, err := validator.Run(context.Background(), "run-1")
	require.NoError(t, err)

	// Порог уникальности равен нулю: любое нарушение фатально для запуска
	assert.False(t, report.Passed)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "dim_customer_business_key_unique", failed[0].Name)
	assert.Equal(t, models.CheckStatusFailed, failed[0].Status)
	assert.Equal(t, []string{"101|2"}, failed[0].Sample)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSampleLimitedToFiveRows(t *testing.T) {
	validator, mock := newTestValidator(t, map[string]int{})

	rows := sqlmock.NewRows([]string{"CustomerKey"})
	for i := 0; i < 8; i++ {
		rows.AddRow(100 + i)
	}

	mock.ExpectQuery("SELECT CustomerID, COUNT\\(\\*\\) AS cnt FROM DimCustomer").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimCustomer").
		WillReturnRows(rows)
	mock.ExpectQuery("FROM FactSales f LEFT JOIN DimDate").
		WillReturnRows(emptyCheck())
	mock.ExpectQuery("SELECT Quantity FROM FactSales").
		WillReturnRows(emptyCheck())

	report, err := validator.Run(context.Background(), "run-1")
	require.NoError(t, err)

	var refCheck *models.QualityCheckResult
	for i := range report.Results {
		if report.Results[i].Name == "fact_sales_customer_ref" {
			refCheck = &report.Results[i]
		}
	}
	require.NotNil(t, refCheck)

	// В отчет попадает ограниченная выборка, счетчик — полный
	assert.Equal(t, 8, refCheck.FailedRows)
	assert.Len(t, refCheck.Sample, 5)
	assert.False(t, report.Passed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "fact_sales", snakeCase("FactSales"))
	assert.Equal(t, "dim_customer", snakeCase("DimCustomer"))
	assert.Equal(t, "sales", snakeCase("sales"))
}

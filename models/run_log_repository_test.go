package models

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*MySQLRunLogRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewMySQLRunLogRepository(db), mock
}

func runLogColumns() []string {
	return []string{
		"id", "run_id", "mode", "start_time", "end_time", "status", "stage_reached",
		"rows_extracted", "rows_cleaned", "rows_quarantined", "golden_records",
		"dimensions_upserted", "facts_loaded", "facts_rejected",
		"last_processed_row_id", "error_message", "execution_time_seconds",
	}
}

func TestCreateLogEntry(t *testing.T) {
	repo, mock := newTestRepository(t)

	startTime := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO etl_run_log").
		WithArgs("run-1", "full", startTime).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := repo.CreateLogEntry("run-1", "full", startTime)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStageReached(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("UPDATE etl_run_log SET stage_reached").
		WithArgs("FactLoad", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStageReached(7, "FactLoad"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLogEntrySuccess(t *testing.T) {
	repo, mock := newTestRepository(t)

	startTime := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	endTime := startTime.Add(90 * time.Second)

	entry := &ETLRunLog{
		ID:                 7,
		RunID:              "run-1",
		StartTime:          startTime,
		EndTime:            endTime,
		StageReached:       "Completed",
		RowsExtracted:      100,
		RowsCleaned:        95,
		RowsQuarantined:    5,
		GoldenRecords:      40,
		DimensionsUpserted: 12,
		FactsLoaded:        50,
		FactsRejected:      2,
		LastProcessedRowID: 1000,
	}

	mock.ExpectExec("status = 'success'").
		WithArgs(endTime, "Completed", 100, 95, 5, 40, 12, 50, 2, int64(1000), 90.0, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLogEntrySuccess(entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLogEntryFailure(t *testing.T) {
	repo, mock := newTestRepository(t)

	startTime := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	endTime := startTime.Add(30 * time.Second)

	mock.ExpectQuery("SELECT start_time FROM etl_run_log").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"start_time"}).AddRow(startTime))
	mock.ExpectExec("status = 'failed'").
		WithArgs(endTime, "Cleaning", "ошибка очистки", 30.0, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLogEntryFailure(7, endTime, "Cleaning", "ошибка очистки"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLastSuccessfulRun(t *testing.T) {
	repo, mock := newTestRepository(t)

	startTime := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	endTime := startTime.Add(time.Minute)

	rows := sqlmock.NewRows(runLogColumns()).AddRow(
		7, "run-1", "incremental", startTime, endTime, "success", "Completed",
		100, 95, 5, 40, 12, 50, 2, 1000, "", 60.0,
	)

	mock.ExpectQuery("WHERE status = 'success'").WillReturnRows(rows)

	entry, err := repo.GetLastSuccessfulRun()
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "incremental", entry.Mode)
	assert.Equal(t, int64(1000), entry.LastProcessedRowID)
	assert.Equal(t, RunStatusSuccess, entry.Status)
}

func TestGetLastSuccessfulRunEmpty(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("WHERE status = 'success'").
		WillReturnRows(sqlmock.NewRows(runLogColumns()))

	entry, err := repo.GetLastSuccessfulRun()
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetRunHistory(t *testing.T) {
	repo, mock := newTestRepository(t)

	startTime := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(runLogColumns()).
		AddRow(8, "run-2", "full", startTime.Add(time.Hour), startTime.Add(2*time.Hour), "failed", "FactLoad",
			10, 10, 0, 4, 1, 0, 0, 1100, "ошибка загрузки", 10.0).
		AddRow(7, "run-1", "full", startTime, startTime.Add(time.Minute), "success", "Completed",
			100, 95, 5, 40, 12, 50, 2, 1000, "", 60.0)

	mock.ExpectQuery("FROM etl_run_log").
		WithArgs(7).
		WillReturnRows(rows)

	entries, err := repo.GetRunHistory(7)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "run-2", entries[0].RunID)
	assert.Equal(t, "FactLoad", entries[0].StageReached)
	assert.Equal(t, "ошибка загрузки", entries[0].ErrorMessage)
	assert.Equal(t, "run-1", entries[1].RunID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

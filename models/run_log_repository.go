package models

import (
	"database/sql"
	"fmt"
	"time"
)

// MySQLRunLogRepository реализация RunLogRepository для MySQL
type MySQLRunLogRepository struct {
	db *sql.DB
}

// NewMySQLRunLogRepository создает новый экземпляр MySQLRunLogRepository
func NewMySQLRunLogRepository(db *sql.DB) *MySQLRunLogRepository {
	return &MySQLRunLogRepository{
		db: db,
	}
}

// CreateRunLogTable создает таблицу журнала запусков, если она не существует
func (r *MySQLRunLogRepository) CreateRunLogTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS etl_run_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL,
		mode VARCHAR(16) NOT NULL DEFAULT 'full',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NULL,
		status ENUM('success', 'failed', 'in_progress') NOT NULL DEFAULT 'in_progress',
		stage_reached VARCHAR(32) NOT NULL DEFAULT 'Pending',
		rows_extracted INT DEFAULT 0,
		rows_cleaned INT DEFAULT 0,
		rows_quarantined INT DEFAULT 0,
		golden_records INT DEFAULT 0,
		dimensions_upserted INT DEFAULT 0,
		facts_loaded INT DEFAULT 0,
		facts_rejected INT DEFAULT 0,
		last_processed_row_id BIGINT DEFAULT 0,
		error_message TEXT,
		execution_time_seconds FLOAT,
		UNIQUE KEY uq_run_id (run_id)
	);
	`

	_, err := r.db.Exec(query)
	if err != nil {
		return fmt.Errorf("ошибка при создании таблицы etl_run_log: %w", err)
	}

	return nil
}

// CreateLogEntry создает новую запись о запуске ETL
func (r *MySQLRunLogRepository) CreateLogEntry(runID, mode string, startTime time.Time) (int64, error) {
	query := `
	INSERT INTO etl_run_log (run_id, mode, start_time, status, stage_reached)
	VALUES (?, ?, ?, 'in_progress', 'Pending')
	`

	result, err := r.db.Exec(query, runID, mode, startTime)
	if err != nil {
		return 0, fmt.Errorf("ошибка при создании записи о запуске ETL: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка при получении ID созданной записи: %w", err)
	}

	return id, nil
}

// UpdateStageReached фиксирует последнюю полностью завершенную стадию запуска
func (r *MySQLRunLogRepository) UpdateStageReached(id int64, stage string) error {
	query := `UPDATE etl_run_log SET stage_reached = ? WHERE id = ?`

	_, err := r.db.Exec(query, stage, id)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении стадии запуска ETL: %w", err)
	}

	return nil
}

// UpdateLogEntrySuccess обновляет запись при успешном завершении ETL
func (r *MySQLRunLogRepository) UpdateLogEntrySuccess(entry *ETLRunLog) error {
	executionTime := entry.EndTime.Sub(entry.StartTime).Seconds()

	query := `
	UPDATE etl_run_log
	SET
		end_time = ?,
		status = 'success',
		stage_reached = ?,
		rows_extracted = ?,
		rows_cleaned = ?,
		rows_quarantined = ?,
		golden_records = ?,
		dimensions_upserted = ?,
		facts_loaded = ?,
		facts_rejected = ?,
		last_processed_row_id = ?,
		execution_time_seconds = ?
	WHERE id = ?
	`

	_, err := r.db.Exec(
		query,
		entry.EndTime,
		entry.StageReached,
		entry.RowsExtracted,
		entry.RowsCleaned,
		entry.RowsQuarantined,
		entry.GoldenRecords,
		entry.DimensionsUpserted,
		entry.FactsLoaded,
		entry.FactsRejected,
		entry.LastProcessedRowID,
		executionTime,
		entry.ID,
	)

	if err != nil {
		return fmt.Errorf("ошибка при обновлении записи о запуске ETL: %w", err)
	}

	return nil
}

// UpdateLogEntryFailure обновляет запись при неудачном завершении ETL
func (r *MySQLRunLogRepository) UpdateLogEntryFailure(id int64, endTime time.Time, stage, errorMessage string) error {
	var startTime time.Time
	err := r.db.QueryRow("SELECT start_time FROM etl_run_log WHERE id = ?", id).Scan(&startTime)
	if err != nil {
		return fmt.Errorf("ошибка при получении времени начала ETL: %w", err)
	}

	executionTime := endTime.Sub(startTime).Seconds()

	query := `
	UPDATE etl_run_log
	SET
		end_time = ?,
		status = 'failed',
		stage_reached = ?,
		error_message = ?,
		execution_time_seconds = ?
	WHERE id = ?
	`

	_, err = r.db.Exec(query, endTime, stage, errorMessage, executionTime, id)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении записи о запуске ETL: %w", err)
	}

	return nil
}

// GetLastSuccessfulRun получает информацию о последнем успешном запуске ETL
func (r *MySQLRunLogRepository) GetLastSuccessfulRun() (*ETLRunLog, error) {
	query := `
	SELECT
		id, run_id, mode, start_time, end_time, status, stage_reached,
		rows_extracted, rows_cleaned, rows_quarantined, golden_records,
		dimensions_upserted, facts_loaded, facts_rejected,
		last_processed_row_id, IFNULL(error_message, ''), execution_time_seconds
	FROM etl_run_log
	WHERE status = 'success'
	ORDER BY end_time DESC
	LIMIT 1
	`

	var entry ETLRunLog
	err := r.db.QueryRow(query).Scan(
		&entry.ID, &entry.RunID, &entry.Mode, &entry.StartTime, &entry.EndTime,
		&entry.Status, &entry.StageReached,
		&entry.RowsExtracted, &entry.RowsCleaned, &entry.RowsQuarantined, &entry.GoldenRecords,
		&entry.DimensionsUpserted, &entry.FactsLoaded, &entry.FactsRejected,
		&entry.LastProcessedRowID, &entry.ErrorMessage, &entry.ExecutionTimeSeconds,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Нет успешных запусков
		}
		return nil, fmt.Errorf("ошибка при получении информации о последнем успешном запуске ETL: %w", err)
	}

	return &entry, nil
}

// GetRunHistory получает историю запусков ETL за указанный период (в днях)
func (r *MySQLRunLogRepository) GetRunHistory(days int) ([]ETLRunLog, error) {
	query := `
	SELECT
		id, run_id, mode, start_time, IFNULL(end_time, NOW()), status, stage_reached,
		rows_extracted, rows_cleaned, rows_quarantined, golden_records,
		dimensions_upserted, facts_loaded, facts_rejected,
		last_processed_row_id, IFNULL(error_message, ''), IFNULL(execution_time_seconds, 0)
	FROM etl_run_log
	WHERE start_time >= DATE_SUB(NOW(), INTERVAL ? DAY)
	ORDER BY start_time DESC
	`

	rows, err := r.db.Query(query, days)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении истории запусков ETL: %w", err)
	}
	defer rows.Close()

	var entries []ETLRunLog
	for rows.Next() {
		var entry ETLRunLog
		err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.Mode, &entry.StartTime, &entry.EndTime,
			&entry.Status, &entry.StageReached,
			&entry.RowsExtracted, &entry.RowsCleaned, &entry.RowsQuarantined, &entry.GoldenRecords,
			&entry.DimensionsUpserted, &entry.FactsLoaded, &entry.FactsRejected,
			&entry.LastProcessedRowID, &entry.ErrorMessage, &entry.ExecutionTimeSeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка при сканировании записи о запуске ETL: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка после итерации по записям о запусках ETL: %w", err)
	}

	return entries, nil
}

package models

import "time"

// Статусы запуска ETL
const (
	RunStatusInProgress = "in_progress"
	RunStatusSuccess    = "success"
	RunStatusFailed     = "failed"
)

// ETLRunLog представляет запись журнала о запуске ETL-процесса.
// StageReached хранит последнюю полностью завершенную стадию:
// повторный запуск после сбоя безопасен, так как все стадии идемпотентны.
type ETLRunLog struct {
	ID                   int64     `json:"id"`
	RunID                string    `json:"run_id"`
	Mode                 string    `json:"mode"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	Status               string    `json:"status"`
	StageReached         string    `json:"stage_reached"`
	RowsExtracted        int       `json:"rows_extracted"`
	RowsCleaned          int       `json:"rows_cleaned"`
	RowsQuarantined      int       `json:"rows_quarantined"`
	GoldenRecords        int       `json:"golden_records"`
	DimensionsUpserted   int       `json:"dimensions_upserted"`
	FactsLoaded          int       `json:"facts_loaded"`
	FactsRejected        int       `json:"facts_rejected"`
	LastProcessedRowID   int64     `json:"last_processed_row_id"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
}

// RunLogRepository определяет операции журнала запусков ETL
type RunLogRepository interface {
	CreateRunLogTable() error
	CreateLogEntry(runID, mode string, startTime time.Time) (int64, error)
	UpdateStageReached(id int64, stage string) error
	UpdateLogEntrySuccess(entry *ETLRunLog) error
	UpdateLogEntryFailure(id int64, endTime time.Time, stage, errorMessage string) error
	GetLastSuccessfulRun() (*ETLRunLog, error)
	GetRunHistory(days int) ([]ETLRunLog, error)
}

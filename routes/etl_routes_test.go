package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunLogRepo подменяет журнал запусков в тестах маршрутов
type fakeRunLogRepo struct {
	lastRun     *models.ETLRunLog
	history     []models.ETLRunLog
	historyDays int
	err         error
}

func (f *fakeRunLogRepo) CreateRunLogTable() error { return nil }
func (f *fakeRunLogRepo) CreateLogEntry(runID, mode string, startTime time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeRunLogRepo) UpdateStageReached(id int64, stage string) error      { return nil }
func (f *fakeRunLogRepo) UpdateLogEntrySuccess(entry *models.ETLRunLog) error  { return nil }
func (f *fakeRunLogRepo) UpdateLogEntryFailure(id int64, endTime time.Time, stage, errorMessage string) error {
	return nil
}
func (f *fakeRunLogRepo) GetLastSuccessfulRun() (*models.ETLRunLog, error) {
	return f.lastRun, f.err
}
func (f *fakeRunLogRepo) GetRunHistory(days int) ([]models.ETLRunLog, error) {
	f.historyDays = days
	return f.history, f.err
}

// fakeReports подменяет источник отчетов качества
type fakeReports struct {
	report *models.QualityReport
}

func (f *fakeReports) LastReport() *models.QualityReport { return f.report }

func newTestRouter(repo models.RunLogRepository, reports ReportProvider) *mux.Router {
	router := mux.NewRouter()
	SetupRoutes(router, repo, reports)
	return router
}

func TestStatusEndpoint(t *testing.T) {
	repo := &fakeRunLogRepo{
		lastRun: &models.ETLRunLog{RunID: "run-1", Status: models.RunStatusSuccess},
	}
	router := newTestRouter(repo, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	var payload struct {
		LastSuccessfulRun *models.ETLRunLog `json:"last_successful_run"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.NotNil(t, payload.LastSuccessfulRun)
	assert.Equal(t, "run-1", payload.LastSuccessfulRun.RunID)
}

func TestStatusEndpointWithoutRuns(t *testing.T) {
	router := newTestRouter(&fakeRunLogRepo{}, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"last_successful_run": null}`, recorder.Body.String())
}

func TestStatusEndpointRepositoryError(t *testing.T) {
	router := newTestRouter(&fakeRunLogRepo{err: errors.New("база недоступна")}, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/status", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestRunsEndpointDaysParameter(t *testing.T) {
	repo := &fakeRunLogRepo{
		history: []models.ETLRunLog{{RunID: "run-1"}, {RunID: "run-2"}},
	}
	router := newTestRouter(repo, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/runs?days=30", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 30, repo.historyDays)

	var payload struct {
		Runs []models.ETLRunLog `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Len(t, payload.Runs, 2)
}

func TestRunsEndpointDefaultDays(t *testing.T) {
	repo := &fakeRunLogRepo{}
	router := newTestRouter(repo, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/runs?days=bad", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 7, repo.historyDays)
}

func TestQualityEndpoint(t *testing.T) {
	reports := &fakeReports{
		report: &models.QualityReport{RunID: "run-1", Passed: true},
	}
	router := newTestRouter(&fakeRunLogRepo{}, reports)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/quality", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	var report models.QualityReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.True(t, report.Passed)
}

func TestQualityEndpointWithoutReport(t *testing.T) {
	router := newTestRouter(&fakeRunLogRepo{}, &fakeReports{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/etl/quality", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

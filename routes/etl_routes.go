// routes/etl_routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/gorilla/mux"
)

// ReportProvider отдает отчет качества последнего запуска
type ReportProvider interface {
	LastReport() *models.QualityReport
}

// SetupRoutes настраивает маршруты мониторинга ETL
func SetupRoutes(router *mux.Router, repo models.RunLogRepository, reports ReportProvider) {
	// Состояние последнего запуска
	router.HandleFunc("/api/etl/status", GetStatusHandler(repo)).Methods("GET")

	// История запусков
	router.HandleFunc("/api/etl/runs", GetRunsHandler(repo)).Methods("GET")

	// Отчет качества последнего запуска
	router.HandleFunc("/api/etl/quality", GetQualityHandler(reports)).Methods("GET")
}

// GetStatusHandler возвращает обработчик состояния ETL
func GetStatusHandler(repo models.RunLogRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastRun, err := repo.GetLastSuccessfulRun()
		if err != nil {
			http.Error(w, "не удалось получить состояние ETL", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if lastRun == nil {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"last_successful_run": nil,
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"last_successful_run": lastRun,
		})
	}
}

// GetRunsHandler возвращает обработчик истории запусков.
// Параметр days ограничивает глубину истории (по умолчанию 7 дней).
func GetRunsHandler(repo models.RunLogRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				days = parsed
			}
		}

		runs, err := repo.GetRunHistory(days)
		if err != nil {
			http.Error(w, "не удалось получить историю запусков", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"runs": runs,
		})
	}
}

// GetQualityHandler возвращает обработчик отчета качества
func GetQualityHandler(reports ReportProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := reports.LastReport()
		if report == nil {
			http.Error(w, "отчет качества еще не сформирован", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

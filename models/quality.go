package models

import "time"

// Статусы проверки качества
const (
	CheckStatusPassed = "passed"
	CheckStatusWarn   = "warning"
	CheckStatusFailed = "failed"
)

// QualityCheckResult — результат одной проверки качества данных
type QualityCheckResult struct {
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	FailedRows int      `json:"failed_rows"`
	Threshold  int      `json:"threshold"`
	Sample     []string `json:"sample,omitempty"`
}

// QualityReport — итоговый отчет проверок качества по запуску.
// Проверки не мутируют данные; отчет носит рекомендательный характер,
// пока ни один порог не превышен.
type QualityReport struct {
	RunID       string               `json:"run_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Results     []QualityCheckResult `json:"results"`
	Passed      bool                 `json:"passed"`
}

// RangeCheck описывает проверку NULL/диапазона для колонки таблицы.
// Condition — SQL-условие, выделяющее НАРУШАЮЩИЕ строки
// (например "Quantity <= 0 OR Quantity IS NULL").
type RangeCheck struct {
	Name      string
	Table     string
	Column    string
	Condition string
}

// Failed возвращает список проверок, превысивших порог
func (r *QualityReport) Failed() []QualityCheckResult {
	var failed []QualityCheckResult
	for _, res := range r.Results {
		if res.Status == CheckStatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

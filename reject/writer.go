package reject

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"github.com/golang/snappy"
)

// Writer накапливает отклоненные строки запуска и записывает их
// в сжатые snappy файлы формата JSON-lines, по файлу на стадию:
// <dir>/<runID>/<stage>.jsonl.sz
//
// Отклоненные строки никогда не теряются молча: каждая строка имеет
// ровно одно терминальное состояние — целевая таблица или reject-вывод.
type Writer struct {
	dir    string
	runID  string
	logger *utils.ETLLogger

	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
	counts  map[string]int
}

// NewWriter создает новый Writer для указанного запуска
func NewWriter(dir, runID string, logger *utils.ETLLogger) *Writer {
	return &Writer{
		dir:     dir,
		runID:   runID,
		logger:  logger,
		buffers: make(map[string]*bytes.Buffer),
		counts:  make(map[string]int),
	}
}

// Write добавляет отклоненную строку в буфер ее стадии
func (w *Writer) Write(row models.RejectedRow) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации отклоненной строки: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.buffers[row.Stage]
	if !ok {
		buf = &bytes.Buffer{}
		w.buffers[row.Stage] = buf
	}

	buf.Write(payload)
	buf.WriteByte('\n')
	w.counts[row.Stage]++

	return nil
}

// Count возвращает количество отклоненных строк по стадии
func (w *Writer) Count(stage string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[stage]
}

// TotalCount возвращает общее количество отклоненных строк запуска
func (w *Writer) TotalCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	for _, n := range w.counts {
		total += n
	}
	return total
}

// Flush записывает накопленные буферы на диск.
// Стадии без отклоненных строк файлов не создают.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffers) == 0 {
		return nil
	}

	runDir := filepath.Join(w.dir, w.runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("ошибка при создании каталога reject-вывода: %w", err)
	}

	for stage, buf := range w.buffers {
		compressed := snappy.Encode(nil, buf.Bytes())
		path := filepath.Join(runDir, stage+".jsonl.sz")

		if err := os.WriteFile(path, compressed, 0644); err != nil {
			return fmt.Errorf("ошибка при записи reject-файла %s: %w", path, err)
		}

		w.logger.Info("Записан reject-файл %s (%d строк)", path, w.counts[stage])
	}

	return nil
}

// ReadStageFile читает и распаковывает reject-файл стадии.
// Используется в утилитах и тестах для проверки содержимого карантина.
func ReadStageFile(dir, runID, stage string) ([]models.RejectedRow, error) {
	path := filepath.Join(dir, runID, stage+".jsonl.sz")

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении reject-файла %s: %w", path, err)
	}

	decompressed, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("ошибка при распаковке reject-файла %s: %w", path, err)
	}

	var rows []models.RejectedRow
	for _, line := range bytes.Split(decompressed, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var row models.RejectedRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("ошибка при разборе строки reject-файла %s: %w", path, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

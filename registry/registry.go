package registry

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
)

// Количество страйпов для посерийной блокировки ключей
const lockStripes = 64

// KeyRegistry — долговечный реестр суррогатных ключей.
// Единолично владеет выделением ключей: никакой другой компонент
// не пишет в таблицу surrogate_keys.
//
// Гарантии:
//   - не более одного ключа на пару (сущность, бизнес-ключ) даже при
//     конкурентных вызовах: вызовы одного ключа сериализуются страйп-мьютексом
//     в процессе и уникальным ограничением таблицы между процессами;
//   - ключи монотонно возрастают (AUTO_INCREMENT) и никогда не
//     переиспользуются, в том числе после прерванного запуска;
//   - при недоступности хранилища вызов завершается фатальной ошибкой —
//     недолговечного запасного значения не существует.
type KeyRegistry struct {
	db         *sql.DB
	logger     *utils.ETLLogger
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration

	stripes [lockStripes]sync.Mutex

	mu    sync.RWMutex
	cache map[string]int64
}

// NewKeyRegistry создает новый экземпляр KeyRegistry
func NewKeyRegistry(db *sql.DB, logger *utils.ETLLogger, timeout time.Duration, maxRetries int, retryDelay time.Duration) *KeyRegistry {
	return &KeyRegistry{
		db:         db,
		logger:     logger,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		cache:      make(map[string]int64),
	}
}

// EnsureTable создает таблицу реестра, если она не существует
func (r *KeyRegistry) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS surrogate_keys (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		entity_type VARCHAR(32) NOT NULL,
		business_key VARCHAR(255) NOT NULL,
		first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_entity_business_key (entity_type, business_key)
	);
	`

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(execCtx, query); err != nil {
		return fmt.Errorf("ошибка при создании таблицы surrogate_keys: %w", err)
	}

	return nil
}

// AssignOrGet возвращает суррогатный ключ пары (сущность, бизнес-ключ),
// создавая его при первом обращении. Конкурентные вызовы одного ключа
// сериализуются и наблюдают одинаковый результат; разные ключи
// обрабатываются независимо.
func (r *KeyRegistry) AssignOrGet(ctx context.Context, entity, businessKey string) (int64, error) {
	cacheKey := entity + "\x00" + businessKey

	stripe := &r.stripes[stripeFor(cacheKey)]
	stripe.Lock()
	defer stripe.Unlock()

	// Под страйп-блокировкой кэш однозначен: повторный вызов того же
	// ключа не обращается к базе
	r.mu.RLock()
	id, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, found, err := r.selectKey(ctx, entity, businessKey)
	if err != nil {
		return 0, models.NewFatal("KeyAssignment", err)
	}

	if !found {
		if err := r.insertKey(ctx, entity, businessKey); err != nil {
			return 0, models.NewFatal("KeyAssignment", err)
		}

		// Читаем назначенный ключ обратно: при гонке с другим процессом
		// вставка могла быть поглощена уникальным ограничением
		id, found, err = r.selectKey(ctx, entity, businessKey)
		if err != nil {
			return 0, models.NewFatal("KeyAssignment", err)
		}
		if !found {
			return 0, models.NewFatal("KeyAssignment",
				&models.ConcurrencyConflict{Op: "assignOrGet", Attempts: r.maxRetries})
		}

		r.logger.Debug("Назначен суррогатный ключ %d для %s/%s", id, entity, businessKey)
	}

	r.mu.Lock()
	r.cache[cacheKey] = id
	r.mu.Unlock()

	return id, nil
}

// Lookup возвращает существующий суррогатный ключ без создания нового.
// Используется загрузчиком фактов: чтение свободно распараллеливается.
func (r *KeyRegistry) Lookup(ctx context.Context, entity, businessKey string) (int64, bool, error) {
	cacheKey := entity + "\x00" + businessKey

	r.mu.RLock()
	id, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	id, found, err := r.selectKey(ctx, entity, businessKey)
	if err != nil {
		return 0, false, models.NewFatal("FactLoad", err)
	}
	if !found {
		return 0, false, nil
	}

	r.mu.Lock()
	r.cache[cacheKey] = id
	r.mu.Unlock()

	return id, true, nil
}

// selectKey читает ключ из таблицы реестра
func (r *KeyRegistry) selectKey(ctx context.Context, entity, businessKey string) (int64, bool, error) {
	var id int64
	found := false

	err := utils.DoWithRetry(ctx, r.maxRetries, r.retryDelay, func() error {
		queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		err := r.db.QueryRowContext(queryCtx,
			"SELECT id FROM surrogate_keys WHERE entity_type = ? AND business_key = ?",
			entity, businessKey,
		).Scan(&id)

		if err == sql.ErrNoRows {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		found = true
		return nil
	})

	if err != nil {
		return 0, false, fmt.Errorf("ошибка при чтении реестра суррогатных ключей: %w", err)
	}

	return id, found, nil
}

// insertKey вставляет новую запись реестра.
// ON DUPLICATE KEY UPDATE id = id делает вставку безопасной при гонке
// между процессами: проигравшая вставка не меняет существующий ключ.
func (r *KeyRegistry) insertKey(ctx context.Context, entity, businessKey string) error {
	err := utils.DoWithRetry(ctx, r.maxRetries, r.retryDelay, func() error {
		execCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		_, err := r.db.ExecContext(execCtx,
			"INSERT INTO surrogate_keys (entity_type, business_key) VALUES (?, ?) ON DUPLICATE KEY UPDATE id = id",
			entity, businessKey,
		)
		return err
	})

	if err != nil {
		return fmt.Errorf("ошибка при вставке в реестр суррогатных ключей: %w", err)
	}

	return nil
}

// stripeFor возвращает индекс страйпа для ключа
func stripeFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % lockStripes
}

package utils

import (
	"context"
	"fmt"
	"time"
)

// DoWithRetry выполняет операцию с ограниченным количеством повторов.
// Повтор выполняется только для временных ошибок (таймауты, обрывы соединения);
// после исчерпания бюджета повторов возвращается последняя ошибка.
func DoWithRetry(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		// Не повторяем, если контекст уже отменен
		if ctx.Err() != nil {
			return lastErr
		}

		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
		}
	}

	return fmt.Errorf("операция не выполнена после %d попыток: %w", attempts, lastErr)
}

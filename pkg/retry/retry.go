package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация повторов.
//
// Задержка растёт экспоненциально с jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± JitterFactor
type Config struct {
	// MaxAttempts - количество попыток включая первую, 0 = без ограничения
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor в диапазоне 0.0 - 1.0
	JitterFactor float64

	// RetryIf решает, стоит ли повторять ошибку. nil = повторять все кроме Permanent
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)

	// After подменяет time.After в тестах
	After func(time.Duration) <-chan time.Time
}

// DefaultConfig подходит для запросов свечей: 5 попыток, 1s, 2s, 4s, 8s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))
	if c.After == nil {
		c.After = time.After
	}
}

// calculateDelay вычисляет задержку для попытки attempt (с нуля)
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (c *Config) shouldRetry(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return true
}

// Do выполняет операцию с повторами и возвращает последнюю ошибку
//
//	err := retry.Do(ctx, func() error {
//	    return client.Ping(ctx)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и повторами
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var (
		zero    T
		lastErr error
	)

	for attempt := 0; cfg.MaxAttempts <= 0 || attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.shouldRetry(err) {
			return zero, unwrapPermanent(err)
		}

		// Последняя попытка - не ждём
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-cfg.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// RetryIfNotContext не повторяет отмену и таймаут контекста
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ============ Permanent ============

// PermanentError помечает ошибку, которую повторять бессмысленно
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает ошибку в PermanentError
//
//	if resp.StatusCode == http.StatusBadRequest {
//	    return retry.Permanent(apiErr)
//	}
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func unwrapPermanent(err error) error {
	var perm *PermanentError
	if errors.As(err, &perm) && perm == err {
		return perm.Err
	}
	return err
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"backtrack/internal/models"
	"backtrack/pkg/retry"
)

// Интервал свечей, с которым работает бэктест
const Interval = "1m"

// CandleSource - источник минутных свечей биржи
type CandleSource interface {
	// Name возвращает нормализованное имя биржи (binance, bybit)
	Name() string

	// Klines загружает до limit минутных свечей начиная со start (включительно),
	// отсортированных по openTime по возрастанию
	Klines(ctx context.Context, symbol string, start time.Time, limit int) ([]models.TradeData, error)
}

// APIError - ошибка от API биржи
type APIError struct {
	Exchange   string
	StatusCode int // HTTP статус, 0 если ответ не получен
	Code       int // код ошибки биржи (retCode у Bybit, code у Binance)
	Message    string
	Original   error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d, code %d: %s", e.Exchange, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: code %d: %s", e.Exchange, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Original
}

// IsInvalidSymbol сообщает, что биржа не знает монету (400 или 404).
// Такие монеты помечаются невалидными и больше не запрашиваются.
func IsInvalidSymbol(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable сообщает, имеет ли смысл повторить запрос
func IsRetryable(err error) bool {
	if err == nil || !retry.RetryIfNotContext(err) {
		return false
	}

	// битые данные биржи повтор не исправит
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true // сетевые ошибки
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode >= 500:
		return true
	case apiErr.StatusCode == 0:
		return true
	default:
		return false
	}
}

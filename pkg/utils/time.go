package utils

import (
	"fmt"
	"strings"
	"time"
)

// time.go - утилиты для работы со временем бэктеста.
//
// Все расчёты ведутся в UTC: дневные файлы свечей, суточная статистика
// аккаунта и окно подгрузки данных режутся по полуночи UTC.

const (
	MinuteMs int64 = 60 * 1000
	HourMs         = 60 * MinuteMs
	DayMs          = 24 * HourMs

	// MinutesPerDay - количество минутных свечей в полном дне
	MinutesPerDay = int(DayMs / MinuteMs)
)

// ============================================================
// Границы дня
// ============================================================

// GetDayStartFrom возвращает начало дня (00:00:00 UTC) для указанного времени
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayEndFrom возвращает конец дня (23:59:59.999999999 UTC)
func GetDayEndFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// TruncateMinute отбрасывает секунды: свеча с таким openTime покрывает t
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// ============================================================
// Timestamp
// ============================================================

// FromUnixMillis конвертирует миллисекунды Unix в time.Time UTC
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// DayStartMillis возвращает полночь UTC дня, содержащего ms
func DayStartMillis(ms int64) int64 {
	return ms - ((ms%DayMs)+DayMs)%DayMs
}

// ============================================================
// Форматирование
// ============================================================

// FormatDuration выводит длительность сделки в виде "2d 3h 15m".
// Секунды отбрасываются, меньше минуты выводится как "0m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total / 60) % 24
	minutes := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}

	return strings.Join(parts, " ")
}

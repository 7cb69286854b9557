package utils

import (
	"math"
)

// math.go - числовые хелперы бэктеста
//
// Все функции чистые и не делят на ноль: пустая база даёт 0,
// как того требуют производные величины сделки и аккаунта.
//
// Функции:
// - SafeDiv, Percent: деление с нулём вместо Inf/NaN
// - Finite: NaN и бесконечности заменяются нулём
// - AlmostEqual: сравнение с допуском

// DefaultEpsilon - допуск сравнения денежных величин
const DefaultEpsilon = 1e-9

// SafeDiv возвращает a/b, 0 при b == 0
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Percent возвращает part в процентах от base, 0 при нулевой базе.
//
// Примеры:
//   - Percent(5, 200) = 2.5
//   - Percent(5, 0) = 0
func Percent(part, base float64) float64 {
	return 100 * SafeDiv(part, base)
}

// Finite заменяет NaN и ±Inf нулём
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// AlmostEqual сравнивает с абсолютным допуском eps
func AlmostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

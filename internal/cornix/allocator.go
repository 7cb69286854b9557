package cornix

import (
	"math"

	"github.com/samber/lo"

	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// ============================================================
// Распределение процентов по ценовым целям
// ============================================================

// MapPriceTargets сопоставляет цены сигнала с весами стратегии
//
// Правила:
//   - "One Target" или одна цена: 100% на первую цену
//   - явный список весов: попарно по позиции, обрезается по более короткому
//     массиву, без перенормировки
//   - "Two Targets" / "Three Targets": первые 2 или 3 цены по 50% / 33.33%
//   - "Decreasing Exponential": вес i-й цели = max / 2^i,
//     где max = 100 / ((2^n - 1) / (2^n / 2))
//   - "Increasing Exponential": те же веса в обратном порядке, цены на месте
//   - "Evenly Divided": 100/n на каждую
//   - "Fifty On First Target": 50% на первую, остаток поровну
//   - "Skip First": 0% на первую, 100% поровну на остальные
//
// Неизвестное имя стратегии трактуется как "One Target".
//
// Пример:
//
//	MapPriceTargets([]float64{10, 20}, models.NamedStrategy(models.StrategyEvenlyDivided))
//	// [{ID:1 Percentage:50 Price:10} {ID:2 Percentage:50 Price:20}]
func MapPriceTargets(prices []float64, strategy models.Strategy) []models.PriceTargetWithPrice {
	if len(prices) == 0 {
		return nil
	}

	if strategy.Name == models.StrategyOneTarget || len(prices) == 1 {
		return []models.PriceTargetWithPrice{{ID: 1, Percentage: 100, Price: prices[0]}}
	}

	if strategy.IsCustom() {
		n := min(len(prices), len(strategy.Targets))
		return withWeights(prices[:n], func(i int) float64 {
			return strategy.Targets[i].Percentage
		})
	}

	n := len(prices)

	switch strategy.Name {
	case models.StrategyTwoTargets:
		return withWeights(prices[:min(n, 2)], func(int) float64 { return 50 })

	case models.StrategyThreeTargets:
		return withWeights(prices[:min(n, 3)], func(int) float64 { return 33.33 })

	case models.StrategyDecreasingExponential:
		return withWeights(prices, func(i int) float64 {
			return exponentialWeight(n, i)
		})

	case models.StrategyIncreasingExponential:
		return withWeights(prices, func(i int) float64 {
			return exponentialWeight(n, n-1-i)
		})

	case models.StrategyEvenlyDivided:
		pct := 100 / float64(n)
		return withWeights(prices, func(int) float64 { return pct })

	case models.StrategyFiftyOnFirstTarget:
		pct := 50 / float64(n-1)
		return withWeights(prices, func(i int) float64 {
			if i == 0 {
				return 50
			}
			return pct
		})

	case models.StrategySkipFirst:
		pct := 100 / float64(n-1)
		return withWeights(prices, func(i int) float64 {
			if i == 0 {
				return 0
			}
			return pct
		})
	}

	return []models.PriceTargetWithPrice{{ID: 1, Percentage: 100, Price: prices[0]}}
}

func withWeights(prices []float64, weight func(i int) float64) []models.PriceTargetWithPrice {
	return lo.Map(prices, func(price float64, i int) models.PriceTargetWithPrice {
		return models.PriceTargetWithPrice{ID: i + 1, Percentage: weight(i), Price: price}
	})
}

func exponentialWeight(n, i int) float64 {
	pow := math.Pow(2, float64(n))
	maxWeight := 100 / ((pow - 1) / (pow / 2))
	return maxWeight / math.Pow(2, float64(i))
}

// SumPercentage возвращает сумму процентов целей
func SumPercentage(targets []models.PriceTargetWithPrice) float64 {
	return lo.SumBy(targets, func(t models.PriceTargetWithPrice) float64 {
		return t.Percentage
	})
}

// ============================================================
// Зона входа
// ============================================================

// InterpolateEntryZone строит n цен входа внутри зоны [a, b] включительно
//
// Зона обходится от лучшей для открытия границы к худшей: для LONG сверху
// вниз, для SHORT снизу вверх. n=1 даёт только первую границу, n=2 обе.
//
// Пример (LONG):
//
//	InterpolateEntryZone(100, 90, 3, models.DirectionLong) // [100 95 90]
func InterpolateEntryZone(a, b float64, n int, direction models.Direction) []float64 {
	from, to := math.Max(a, b), math.Min(a, b)
	if direction == models.DirectionShort {
		from, to = to, from
	}

	if n <= 1 {
		return []float64{from}
	}

	step := (to - from) / float64(n-1)
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = from + step*float64(i)
	}
	prices[n-1] = to

	return prices
}

// EntryPrices возвращает цены входов ордера с учётом entryType
func EntryPrices(order models.Order, cfg models.CornixConfiguration, direction models.Direction) []float64 {
	if cfg.EntryType != models.EntryTypeZone {
		return order.Entries
	}

	zone := order.EntryZone
	if len(zone) < 2 {
		zone = order.Entries
	}
	if len(zone) < 2 {
		return order.Entries
	}

	n := cfg.EntryZoneTargets
	if n <= 0 {
		n = 2
	}

	return InterpolateEntryZone(zone[0], zone[1], n, direction)
}

// ResolveTargets строит целевые входы и тейки ордера и проверяет суммы процентов.
//
// Входы должны давать ровно 100% (допуск только на погрешность float),
// тейки - 100% ± 0.1. sl.defaultStopLossPct - доля, не меньше 0 и меньше 1.
func ResolveTargets(order models.Order, cfg models.CornixConfiguration) (entries, tps []models.PriceTargetWithPrice, err error) {
	if cfg.SL != nil && (cfg.SL.DefaultStopLossPct < 0 || cfg.SL.DefaultStopLossPct >= 1) {
		return nil, nil, &ConfigError{Order: order.Key(), Err: ErrStopLossPct}
	}

	direction := InferDirection(order)

	entries = MapPriceTargets(EntryPrices(order, cfg, direction), cfg.Entries)
	tps = MapPriceTargets(order.TPs, cfg.TPs)

	if len(entries) == 0 || len(tps) == 0 {
		return nil, nil, &ConfigError{Order: order.Key(), Err: ErrNoTargets}
	}

	if !utils.AlmostEqual(SumPercentage(entries), 100, entriesTolerance) {
		return nil, nil, &ConfigError{Order: order.Key(), Err: ErrEntriesPercentage}
	}

	if !utils.AlmostEqual(SumPercentage(tps), 100, tpsTolerance) {
		return nil, nil, &ConfigError{Order: order.Key(), Err: ErrTpsPercentage}
	}

	return entries, tps, nil
}

const (
	entriesTolerance = utils.DefaultEpsilon
	tpsTolerance     = 0.1
)

package cornix

import (
	"fmt"
	"math"

	"backtrack/internal/models"
)

// MinTrailingPct - минимальная дистанция trailing (0.2%)
const MinTrailingPct = 0.2 / 100

// DefaultConfiguration возвращает конфигурацию Cornix по умолчанию
func DefaultConfiguration() models.CornixConfiguration {
	return models.CornixConfiguration{
		Amount:             100,
		Entries:            models.NamedStrategy(models.StrategyOneTarget),
		TPs:                models.NamedStrategy(models.StrategyEvenlyDivided),
		EntryType:          models.EntryTypeTarget,
		TrailingStop:       models.TrailingStop{Type: models.TrailingStopMovingTarget, Trigger: 1},
		TrailingTakeProfit: models.TrailingDistance(0.02),
	}
}

// MakeAutomaticLeverageAdjustment делит процент на плечо
//
// Для trailing результат не опускается ниже MinTrailingPct.
//
// Пример:
//
//	MakeAutomaticLeverageAdjustment(0.05, 10, false) // 0.005
//	MakeAutomaticLeverageAdjustment(0.01, 10, true)  // 0.002
func MakeAutomaticLeverageAdjustment(pct, leverage float64, isTrailing bool) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	adjusted := pct / leverage

	if isTrailing {
		return math.Max(MinTrailingPct, adjusted)
	}

	return adjusted
}

// CalculateWeightedAverage возвращает средневзвешенную цену целей
//
// Веса нормируются на их сумму, поэтому проценты можно передавать
// как в долях (0.75), так и в процентах (75).
//
// Пример:
//
//	CalculateWeightedAverage([]models.PriceTargetWithPrice{
//	    {Price: 50, Percentage: 0.75},
//	    {Price: 100, Percentage: 0.25},
//	}) // 62.5
func CalculateWeightedAverage(targets []models.PriceTargetWithPrice) float64 {
	total := SumPercentage(targets)
	if total == 0 {
		return 0
	}

	var sum float64
	for _, t := range targets {
		sum += t.Price * t.Percentage
	}

	return sum / total
}

// InferDirection возвращает направление ордера: явное, либо LONG
// если первый тейк выше первого входа
func InferDirection(order models.Order) models.Direction {
	if order.Direction != "" {
		return order.Direction
	}

	first := firstEntry(order)
	if len(order.TPs) == 0 || first == 0 {
		return models.DirectionLong
	}
	if order.TPs[0] > first {
		return models.DirectionLong
	}
	return models.DirectionShort
}

func firstEntry(order models.Order) float64 {
	if len(order.Entries) > 0 {
		return order.Entries[0]
	}
	if len(order.EntryZone) > 0 {
		return order.EntryZone[0]
	}
	return 0
}

// GetDefaultStopLoss вычисляет стоп-лосс по sl.defaultStopLossPct
// от средневзвешенной цены входов. Возвращает nil если дефолтный стоп не задан
// или доля вне [0, 1).
func GetDefaultStopLoss(entries []models.PriceTargetWithPrice, direction models.Direction, leverage float64, sl *models.StopLossConfig) *float64 {
	if sl == nil || sl.DefaultStopLossPct <= 0 || sl.DefaultStopLossPct >= 1 || len(entries) == 0 {
		return nil
	}

	pct := sl.DefaultStopLossPct
	if sl.AutomaticLeverageAdjustment {
		pct = MakeAutomaticLeverageAdjustment(pct, leverage, false)
	}

	avg := CalculateWeightedAverage(entries)

	price := avg * (1 - pct)
	if direction == models.DirectionShort {
		price = avg * (1 + pct)
	}

	return &price
}

// StopLossMove - результат расчёта нового стоп-лосса после тейка
type StopLossMove struct {
	Price       *float64
	Moved       bool
	Unsupported bool // правило переноса не определено, стоп не тронут
}

// GetNewStopLoss вычисляет стоп-лосс после достижения тейка reachedTp (номер с 1)
//
// Правила:
//   - without: стоп не двигается
//   - moving-target (trigger T): на TP T стоп переносится в среднюю цену входа,
//     на каждом следующем TP - на цену TP (reached - T)
//   - breakeven (trigger T): с TP T и далее стоп в средней цене входа
//   - moving-2-target, breakeven по проценту, percent-below-*: правило не
//     определено, стоп не двигается, Unsupported = true
func GetNewStopLoss(ts models.TrailingStop, reachedTp int, averageEntry float64, tps []float64, current *float64) StopLossMove {
	keep := StopLossMove{Price: current}

	trigger := ts.Trigger
	if trigger <= 0 {
		trigger = 1
	}

	var target float64
	switch ts.Type {
	case "", models.TrailingStopWithout:
		return keep

	case models.TrailingStopMovingTarget:
		switch {
		case reachedTp < trigger:
			return keep
		case reachedTp == trigger:
			target = averageEntry
		default:
			idx := reachedTp - trigger - 1
			if idx < 0 || idx >= len(tps) {
				return keep
			}
			target = tps[idx]
		}

	case models.TrailingStopBreakeven:
		if ts.TriggerPct > 0 {
			keep.Unsupported = true
			return keep
		}
		if reachedTp < trigger {
			return keep
		}
		target = averageEntry

	default:
		keep.Unsupported = true
		return keep
	}

	if current != nil && *current == target {
		return keep
	}

	return StopLossMove{Price: &target, Moved: true}
}

// GetFlattenedConfig накладывает переопределения на базовую конфигурацию.
// Нулевые поля переопределения не перекрывают базу.
func GetFlattenedConfig(base models.CornixConfiguration, overrides ...*models.CornixConfiguration) models.CornixConfiguration {
	result := base

	for _, o := range overrides {
		if o == nil {
			continue
		}
		if o.Amount > 0 {
			result.Amount = o.Amount
		}
		if o.AmountPct > 0 {
			result.AmountPct = o.AmountPct
		}
		if o.CloseTradeOnTpSlBeforeEntry != nil {
			v := *o.CloseTradeOnTpSlBeforeEntry
			result.CloseTradeOnTpSlBeforeEntry = &v
		}
		if o.FirstEntryGracePct > 0 {
			result.FirstEntryGracePct = o.FirstEntryGracePct
		}
		if !o.Entries.IsZero() {
			result.Entries = o.Entries
		}
		if !o.TPs.IsZero() {
			result.TPs = o.TPs
		}
		if o.EntryType != "" {
			result.EntryType = o.EntryType
		}
		if o.EntryZoneTargets > 0 {
			result.EntryZoneTargets = o.EntryZoneTargets
		}
		if o.TrailingStop.Type != "" {
			result.TrailingStop = o.TrailingStop
		}
		if !o.TrailingTakeProfit.IsZero() {
			result.TrailingTakeProfit = o.TrailingTakeProfit
		}
		if o.MaxLeverage > 0 {
			result.MaxLeverage = o.MaxLeverage
		}
		if o.MaxActiveOrders != 0 {
			result.MaxActiveOrders = o.MaxActiveOrders
		}
		if o.SL != nil {
			sl := *o.SL
			result.SL = &sl
		}
	}

	return result
}

// GetOrderAmount возвращает сумму, выделяемую ордеру (без плеча)
//
// Приоритет: сумма в ордере > процент от доступного баланса > фиксированная
// сумма конфигурации.
func GetOrderAmount(order models.Order, cfg models.CornixConfiguration, availableBalance float64) float64 {
	if order.Amount > 0 {
		return order.Amount
	}
	if cfg.AmountPct > 0 {
		return availableBalance * cfg.AmountPct / 100
	}
	return cfg.Amount
}

// EffectiveLeverage возвращает плечо ордера, ограниченное maxLeverage
func EffectiveLeverage(order models.Order, cfg models.CornixConfiguration) float64 {
	lev := order.EffectiveLeverage()
	if cfg.MaxLeverage > 0 && lev > cfg.MaxLeverage {
		return cfg.MaxLeverage
	}
	return lev
}

// ValidateOrder проверяет согласованность цен ордера
//
// LONG: входы строго убывают, тейки строго растут, tps[0] > entries[0],
// стоп ниже всех входов. SHORT зеркально.
func ValidateOrder(order models.Order) error {
	if len(order.Entries) == 0 && len(order.EntryZone) < 2 {
		return fmt.Errorf("%w: no entries", ErrInvalidOrder)
	}
	if len(order.TPs) == 0 {
		return fmt.Errorf("%w: no take profits", ErrInvalidOrder)
	}
	if order.Leverage < 0 {
		return fmt.Errorf("%w: negative leverage %v", ErrInvalidOrder, order.Leverage)
	}

	entries := order.Entries
	if len(entries) == 0 {
		entries = order.EntryZone
	}

	for _, p := range append(append([]float64{}, entries...), order.TPs...) {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: non-positive price %v", ErrInvalidOrder, p)
		}
	}

	direction := InferDirection(order)
	long := direction == models.DirectionLong

	if order.Direction != "" && order.Direction != models.DirectionLong && order.Direction != models.DirectionShort {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidOrder, order.Direction)
	}

	if len(order.Entries) > 0 && !strictlyMonotonic(order.Entries, !long) {
		return fmt.Errorf("%w: %s entries must be strictly %s", ErrInvalidOrder, direction, orderWord(!long))
	}
	if !strictlyMonotonic(order.TPs, long) {
		return fmt.Errorf("%w: %s tps must be strictly %s", ErrInvalidOrder, direction, orderWord(long))
	}

	if long && order.TPs[0] <= entries[0] {
		return fmt.Errorf("%w: LONG first tp %v must be above first entry %v", ErrInvalidOrder, order.TPs[0], entries[0])
	}
	if !long && order.TPs[0] >= entries[0] {
		return fmt.Errorf("%w: SHORT first tp %v must be below first entry %v", ErrInvalidOrder, order.TPs[0], entries[0])
	}

	if order.SL != nil {
		low, high := minMax(entries)
		if long && *order.SL >= low {
			return fmt.Errorf("%w: LONG stop loss %v must be below entries", ErrInvalidOrder, *order.SL)
		}
		if !long && *order.SL <= high {
			return fmt.Errorf("%w: SHORT stop loss %v must be above entries", ErrInvalidOrder, *order.SL)
		}
	}

	return nil
}

func strictlyMonotonic(values []float64, ascending bool) bool {
	for i := 1; i < len(values); i++ {
		if ascending && values[i] <= values[i-1] {
			return false
		}
		if !ascending && values[i] >= values[i-1] {
			return false
		}
	}
	return true
}

func orderWord(ascending bool) string {
	if ascending {
		return "ascending"
	}
	return "descending"
}

func minMax(values []float64) (low, high float64) {
	low, high = values[0], values[0]
	for _, v := range values[1:] {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	return low, high
}

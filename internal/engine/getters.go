package engine

import (
	"github.com/samber/lo"

	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// Производные величины пересчитываются из состояния при каждом вызове.

func sumCoins(fills []Fill) float64 {
	return lo.SumBy(fills, func(f Fill) float64 { return f.Coins })
}

func sumTotal(fills []Fill) float64 {
	return lo.SumBy(fills, func(f Fill) float64 { return f.Total })
}

// AllocatedAmount - сумма, выделенная сделке (без плеча)
func (s State) AllocatedAmount() float64 { return s.allocated }

// AllocatedAmountWithLev - выделенная сумма с учётом плеча
func (s State) AllocatedAmountWithLev() float64 { return s.allocated * s.leverage }

// SpentAmountWithLev - объём позиции по исполненным входам
func (s State) SpentAmountWithLev() float64 { return sumTotal(s.entries) }

// SpentAmount - потраченная маржа
func (s State) SpentAmount() float64 { return s.SpentAmountWithLev() / s.leverage }

// RemainingAmount - выделенная, но не потраченная маржа
func (s State) RemainingAmount() float64 { return s.allocated - s.SpentAmount() }

// BoughtCoins - куплено монет
func (s State) BoughtCoins() float64 { return sumCoins(s.entries) }

// SoldCoins - продано монет по тейкам, стопу и отмене
func (s State) SoldCoins() float64 {
	sold := sumCoins(s.takeProfits)
	if s.exit != nil {
		sold += s.exit.Coins
	}
	return sold
}

// RemainingCoins - монеты в позиции
func (s State) RemainingCoins() float64 { return s.BoughtCoins() - s.SoldCoins() }

// SaleValue - выручка от всех продаж
func (s State) SaleValue() float64 {
	total := sumTotal(s.takeProfits)
	if s.exit != nil {
		total += s.exit.Total
	}
	return total
}

// AverageEntryPrice - средняя цена входа, 0 пока нет входов
func (s State) AverageEntryPrice() float64 {
	return utils.SafeDiv(s.SpentAmountWithLev(), s.BoughtCoins())
}

// AverageSalePrice - средняя цена продажи, 0 пока нет продаж
func (s State) AverageSalePrice() float64 {
	return utils.SafeDiv(s.SaleValue(), s.SoldCoins())
}

// RemainingCoinsCurrentValue - оценка остатка по open последней свечи
func (s State) RemainingCoinsCurrentValue() float64 {
	if s.currentPrice == nil {
		return 0
	}
	return s.RemainingCoins() * s.currentPrice.Open
}

func (s State) soldFraction() float64 {
	return utils.SafeDiv(s.SoldCoins(), s.BoughtCoins())
}

// RealizedProfit - прибыль по проданной части позиции
func (s State) RealizedProfit() float64 {
	cost := s.SpentAmountWithLev() * s.soldFraction()
	if s.long() {
		return s.SaleValue() - cost
	}
	return cost - s.SaleValue()
}

// UnrealizedProfit - оценка прибыли по оставшейся части позиции
func (s State) UnrealizedProfit() float64 {
	cost := s.SpentAmountWithLev() * (1 - s.soldFraction())
	if s.long() {
		return s.RemainingCoinsCurrentValue() - cost
	}
	return cost - s.RemainingCoinsCurrentValue()
}

// Profit - итоговая прибыль в USDT (реализованная + нереализованная)
func (s State) Profit() float64 {
	value := s.SaleValue() + s.RemainingCoinsCurrentValue()
	if s.long() {
		return value - s.SpentAmountWithLev()
	}
	return s.SpentAmountWithLev() - value
}

// Pnl - прибыль в процентах от потраченной маржи, 0 если ничего не потрачено
func (s State) Pnl() float64 {
	return utils.Percent(s.Profit(), s.SpentAmount())
}

// Info возвращает снимок итогов сделки
func (s State) Info() models.TradeResult {
	reachedTps := 0
	if n := len(s.takeProfits); n > 0 {
		reachedTps = s.takeProfits[n-1].ID
	}

	pnl := s.Pnl()

	return models.TradeResult{
		ReachedEntries:    len(s.entries),
		ReachedTps:        reachedTps,
		ReachedAllEntries: len(s.remainingEntries) == 0,
		ReachedAllTps:     len(s.remainingTps) == 0,
		OpenTime:          s.openTime,
		CloseTime:         s.CloseTime(),
		IsClosed:          s.IsClosed(),
		IsCancelled:       s.cancelled,
		IsProfitable:      pnl > 0,
		Pnl:               pnl,
		Profit:            s.Profit(),
		HitSl:             s.HitSl(),
		AverageEntryPrice: s.AverageEntryPrice(),
		AverageSalePrice:  s.AverageSalePrice(),
		AllocatedAmount:   s.allocated,
		SpentAmount:       s.SpentAmount(),
		SoldAmount:        s.SaleValue(),
		RealizedProfit:    s.RealizedProfit(),
		UnrealizedProfit:  s.UnrealizedProfit(),
		BoughtCoins:       s.BoughtCoins(),
	}
}

package engine

import (
	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// Summarize сворачивает итоги сделок в сводную статистику.
//
// Стоп учитывается только если сделка в итоге убыточна. NaN в pnl
// считается нулём.
func Summarize(results []models.TradeResult) models.Summary {
	var sum models.Summary

	for _, r := range results {
		sum.CountOrders++

		pnl := utils.Finite(r.Pnl)

		sum.TotalPnl += pnl
		sum.TotalProfit += r.Profit
		if r.IsProfitable {
			sum.CountProfitable++
			sum.PositivePnl += pnl
		} else {
			sum.NegativePnl += pnl
		}

		if r.HitSl && !r.IsProfitable {
			sum.CountSl++
		}
		if r.IsCancelled {
			sum.CountCancelled++
		}
		if !r.IsClosed {
			sum.CountOpen++
		}

		sum.TotalReachedTps += r.ReachedTps
	}

	if sum.CountOrders == 0 {
		return sum
	}

	n := float64(sum.CountOrders)
	sum.AveragePnl = sum.TotalPnl / n
	sum.AverageReachedTps = float64(sum.TotalReachedTps) / n
	sum.PctSl = utils.Percent(float64(sum.CountSl), n)
	sum.PctProfitable = utils.Percent(float64(sum.CountProfitable), n)

	return sum
}

package engine

import (
	"fmt"

	"github.com/samber/lo"

	"backtrack/internal/cornix"
	"backtrack/internal/models"
)

// Update применяет одну свечу и возвращает следующее состояние.
//
// changed = true если произошёл переход фазы или исполнение. Свеча может
// вызвать несколько переходов подряд, поэтому вызывающий повторяет Update
// с той же свечой, пока changed не станет false или сделка не закроется
// (см. Step). Приоритет внутри одного вызова: внешнее событие закрытия,
// вход, тейк-профит, стоп-лосс.
func (s State) Update(c models.TradeData) (State, bool) {
	openMs := s.openTime.UnixMilli()
	if c.OpenTime < openMs || s.IsClosed() {
		text := "Trade is closed"
		if c.OpenTime < openMs {
			text = "Time before trade open"
		}
		s.log.Verbose(models.SkipEvent(text, openMs, c.OpenTime))
		return s, false
	}

	candle := c
	s.currentPrice = &candle

	if s.detailed && s.crossLoggedAt != c.OpenTime {
		s.logCrosses(c)
		s.crossLoggedAt = c.OpenTime
	}

	switch {
	case s.matchesCloseEvent(c):
		return s.cancel(c), true
	case s.matchesEntry(c):
		return s.hitEntry(c), true
	case s.matchesTp(c):
		return s.hitTp(c)
	case s.matchesSl(c):
		return s.hitSl(c), true
	}

	return s, false
}

// ============ Условия ============

func (s State) long() bool {
	return s.direction == models.DirectionLong
}

// slSidePrice - худшая для позиции цена свечи
func (s State) slSidePrice(c models.TradeData) float64 {
	if s.long() {
		return c.Low
	}
	return c.High
}

// tpSidePrice - лучшая для позиции цена свечи
func (s State) tpSidePrice(c models.TradeData) float64 {
	if s.long() {
		return c.High
	}
	return c.Low
}

func (s State) matchesCloseEvent(c models.TradeData) bool {
	for _, ev := range s.order.Events {
		switch ev.Type {
		case models.OrderEventCancelled, models.OrderEventClose, models.OrderEventOpposite:
			if ev.Date.UnixMilli() < c.OpenTime {
				return true
			}
		}
	}
	return false
}

func (s State) matchesEntry(c models.TradeData) bool {
	if s.phase != PhaseInitial && s.phase != PhaseEntryReached {
		return false
	}
	if len(s.remainingEntries) == 0 {
		return false
	}

	threshold := s.remainingEntries[0].Price
	if len(s.entries) == 0 && s.config.FirstEntryGracePct > 0 {
		grace := s.config.FirstEntryGracePct / 100
		if s.long() {
			threshold *= 1 + grace
		} else {
			threshold *= 1 - grace
		}
	}

	if s.long() {
		return c.Low <= threshold
	}
	return c.High >= threshold
}

func (s State) matchesTp(c models.TradeData) bool {
	if len(s.remainingTps) == 0 {
		return false
	}
	if s.phase == PhaseInitial && !s.config.ShouldCloseOnTpBeforeEntry() {
		return false
	}
	if s.trailing.active {
		return true
	}

	if s.long() {
		return c.High >= s.remainingTps[0].Price
	}
	return c.Low <= s.remainingTps[0].Price
}

func (s State) matchesSl(c models.TradeData) bool {
	if s.phase != PhaseEntryReached && s.phase != PhaseTpReached {
		return false
	}
	if s.currentSl == nil {
		return false
	}

	if s.long() {
		return c.Low <= *s.currentSl
	}
	return c.High >= *s.currentSl
}

// ============ Переходы ============

func (s State) cancel(c models.TradeData) State {
	price := c.Open
	sold := s.RemainingCoins()
	total := sold * price

	s.log.Log(models.SaleEvent(models.EventCancelled, c.OpenTime, price, total, sold))

	next := s.to(PhaseCancelled).closedAt(c)
	next.exit = &Fill{ID: -1, Price: price, Coins: sold, Total: total, Date: c.OpenAt()}
	next.cancelled = true
	next.trailing = trailingState{}
	return next
}

func (s State) hitEntry(c models.TradeData) State {
	target := s.remainingEntries[0]

	spent := s.allocated * target.Percentage / 100
	spentWithLev := spent * s.leverage
	bought := spentWithLev / target.Price

	s.log.Log(models.BuyEvent(c.OpenTime, target.Price, spent, spentWithLev, bought))

	next := s.to(PhaseEntryReached)
	next.entries = appendFills(s.entries, Fill{
		ID:    target.ID,
		Price: target.Price,
		Coins: bought,
		Total: spentWithLev,
		Date:  c.OpenAt(),
	})
	next.remainingEntries = s.remainingEntries[1:]
	// позиция изменилась, trailing стартует заново от следующей свечи тейка
	next.trailing = trailingState{}
	return next
}

func (s State) hitTp(c models.TradeData) (State, bool) {
	if s.phase == PhaseInitial {
		return s.tpBeforeEntry(c), true
	}

	if !s.config.TrailingTakeProfit.Enabled() {
		return s.hitTpWithoutTrailing(c), true
	}

	if !s.trailing.active {
		return s.activateTrailing(c), false
	}

	// свеча активации и повторные вызовы с той же свечой не двигают trailing
	if c.OpenTime <= s.trailing.updatedAt {
		return s, false
	}

	if s.shouldTrailingStop(c) {
		return s.hitTpWithTrailing(c), true
	}

	next := s
	next.trailing.updatedAt = c.OpenTime

	if s.shouldTrailingUpdate(c) {
		price := s.tpSidePrice(c)
		next.trailing.reference = price
		next.trailing.stop = s.trailingStopFor(price)
		next.trailing.highestTp = max(s.trailing.highestTp, s.highestPassedTp(price))

		s.log.Log(models.TrailingUpdatedEvent(c.OpenTime, price, next.trailing.stop))
	}

	return next, false
}

func (s State) tpBeforeEntry(c models.TradeData) State {
	s.log.Log(models.CloseEvent(c.OpenTime, s.remainingTps[0].Price, "take profit reached before entry"))

	next := s.to(PhaseTpBeforeEntry).closedAt(c)
	next.cancelled = true
	return next
}

func (s State) hitTpWithoutTrailing(c models.TradeData) State {
	tp := s.remainingTps[0]

	sold := s.BoughtCoins() * tp.Percentage / 100
	total := sold * tp.Price

	s.log.Log(models.SaleEvent(models.EventSell, c.OpenTime, tp.Price, total, sold))

	return s.takeProfit(c, Fill{ID: tp.ID, Price: tp.Price, Coins: sold, Total: total, Date: c.OpenAt()})
}

func (s State) activateTrailing(c models.TradeData) State {
	price := s.tpSidePrice(c)

	next := s
	next.trailing = trailingState{
		active:    true,
		reference: price,
		stop:      s.trailingStopFor(price),
		highestTp: max(s.remainingTps[0].ID, s.highestPassedTp(price)),
		updatedAt: c.OpenTime,
	}

	s.log.Log(models.TrailingActivatedEvent(c.OpenTime, price))
	return next
}

func (s State) hitTpWithTrailing(c models.TradeData) State {
	price := s.trailing.stop
	highest := s.trailing.highestTp

	pct := cornix.SumPercentage(lo.Filter(s.remainingTps, func(tp models.PriceTargetWithPrice, _ int) bool {
		return tp.ID <= highest
	}))

	sold := s.BoughtCoins() * pct / 100
	total := sold * price

	s.log.Log(models.SaleEvent(models.EventSellWithTrailing, c.OpenTime, price, total, sold))

	return s.takeProfit(c, Fill{ID: highest, Price: price, Coins: sold, Total: total, Date: c.OpenAt()})
}

// takeProfit фиксирует тейк fill. Тейки с меньшим id, пропущенные
// trailing-выходом, записываются с нулём монет.
func (s State) takeProfit(c models.TradeData, fill Fill) State {
	merged := lo.FilterMap(s.remainingTps, func(tp models.PriceTargetWithPrice, _ int) (Fill, bool) {
		return Fill{ID: tp.ID, Price: tp.Price, Date: fill.Date, Merged: true}, tp.ID < fill.ID
	})
	remaining := lo.Filter(s.remainingTps, func(tp models.PriceTargetWithPrice, _ int) bool {
		return tp.ID > fill.ID
	})

	var next State
	if len(remaining) == 0 {
		next = s.to(PhaseAllProfitsDone).closedAt(c)
	} else {
		next = s.to(PhaseTpReached)
	}

	next.takeProfits = appendFills(s.takeProfits, append(merged, fill)...)
	next.remainingTps = remaining
	next.trailing = trailingState{}

	if next.IsClosed() {
		return next
	}

	move := cornix.GetNewStopLoss(s.config.TrailingStop, fill.ID, s.AverageEntryPrice(), s.order.TPs, s.currentSl)
	switch {
	case move.Unsupported:
		s.log.Log(models.InfoEvent(c.OpenTime, fmt.Sprintf("trailing stop %q is not supported, stop loss unchanged", s.config.TrailingStop.Type)))
	case move.Moved:
		next.currentSl = move.Price
		s.log.Log(models.SLMovedEvent(c.OpenTime, *move.Price))
	}

	return next
}

func (s State) hitSl(c models.TradeData) State {
	price := *s.currentSl
	sold := s.RemainingCoins()
	total := sold * price

	s.log.Log(models.SaleEvent(models.EventSL, c.OpenTime, price, total, sold))

	phase := PhaseSlReached
	if s.phase == PhaseTpReached {
		phase = PhaseSlAfterTp
	}

	next := s.to(phase).closedAt(c)
	next.exit = &Fill{ID: -1, Price: price, Coins: sold, Total: total, Date: c.OpenAt()}
	return next
}

// ============ Trailing ============

func (s State) effectiveTrailingPct() float64 {
	return cornix.MakeAutomaticLeverageAdjustment(s.config.TrailingTakeProfit.Distance, s.leverage, true)
}

func (s State) trailingStopFor(reference float64) float64 {
	if s.long() {
		return reference * (1 - s.effectiveTrailingPct())
	}
	return reference * (1 + s.effectiveTrailingPct())
}

func (s State) shouldTrailingStop(c models.TradeData) bool {
	price := s.slSidePrice(c)
	if s.long() {
		return price <= s.trailing.stop
	}
	return price >= s.trailing.stop
}

func (s State) shouldTrailingUpdate(c models.TradeData) bool {
	price := s.tpSidePrice(c)
	if s.long() {
		return price > s.trailing.reference
	}
	return price < s.trailing.reference
}

// highestPassedTp возвращает id последнего оставшегося тейка, пройденного ценой
func (s State) highestPassedTp(price float64) int {
	highest := 0
	for _, tp := range s.remainingTps {
		if (s.long() && tp.Price <= price) || (!s.long() && tp.Price >= price) {
			highest = tp.ID
		}
	}
	return highest
}

// ============ Детальный журнал ============

func crossed(c models.TradeData, reference float64, direction string) bool {
	if direction == models.CrossDown {
		return c.Low <= reference && c.Open > reference
	}
	return c.High >= reference && c.Open < reference
}

func (s State) logCross(c models.TradeData, subtype string, id int, price float64) {
	for _, direction := range []string{models.CrossUp, models.CrossDown} {
		if crossed(c, price, direction) {
			s.log.Log(models.CrossEvent(c.OpenTime, direction, subtype, id, price))
		}
	}
}

func (s State) logCrosses(c models.TradeData) {
	if !s.IsOpen() && !s.matchesEntry(c) {
		return
	}

	for _, e := range s.entryTargets {
		s.logCross(c, models.CrossEntry, e.ID, e.Price)
	}

	if avg := s.AverageEntryPrice(); avg > 0 {
		s.logCross(c, models.CrossAverageEntry, 0, avg)
	}

	for _, tp := range s.tpTargets {
		s.logCross(c, models.CrossTP, tp.ID, tp.Price)
	}

	if s.order.SL != nil {
		s.logCross(c, models.CrossSL, 0, *s.order.SL)
	}
}

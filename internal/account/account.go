// Package account моделирует торговый счёт: ордера допускаются по времени
// сигнала в пределах баланса и лимита активных сделок, затем все активные
// сделки шагаются одной минутной свечой за тик.
package account

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"backtrack/internal/cornix"
	"backtrack/internal/engine"
	"backtrack/internal/metrics"
	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// DefaultInitialBalance - стартовый баланс, если не задан
const DefaultInitialBalance = 1000.0

// Options - параметры симуляции аккаунта
type Options struct {
	InitialBalance  float64
	MaxActiveOrders int       // 0 = из конфигурации, -1 = без лимита
	End             time.Time // по умолчанию текущее время
	DetailedLog     bool
	Verbose         bool
	Prefetch        int // параллельных загрузок суток
	Logger          *zap.Logger

	OnDailyStats    func(models.AccountDailyStats)
	OnOrderFinished func(models.OrderResult)
}

// Result - итог симуляции
type Result struct {
	Info         models.AccountInfo         `json:"info"`
	Daily        []models.AccountDailyStats `json:"daily"`
	Finished     []models.OrderResult       `json:"finished"`
	Active       []models.OrderResult       `json:"active"`
	Skipped      []models.SkippedOrder      `json:"skipped"`
	InvalidCoins []models.InvalidCoin       `json:"invalidCoins"`
	StartTime    time.Time                  `json:"startTime"`
	EndTime      time.Time                  `json:"endTime"`
}

// activeOrder - допущенный ордер со своей машиной состояний
type activeOrder struct {
	order  models.Order
	config models.CornixConfiguration
	state  engine.State
	log    *engine.EventLog

	tied     float64 // часть баланса, всё ещё занятая ордером
	realized float64 // уже перенесённая в баланс прибыль
}

// dayStats копит показатели с последней полуночи
type dayStats struct {
	start       time.Time
	equityStart float64
	realized    float64
	unrealized  float64
	touched     bool
}

// Simulation - состояние одного прогона аккаунта. Не потокобезопасна:
// меняется только собственным циклом Run.
type Simulation struct {
	cfg    models.CornixConfiguration
	opts   Options
	logger *zap.Logger
	cache  *candleCache

	currentTime time.Time
	startTime   time.Time
	endTime     time.Time

	remaining []models.Order
	active    []*activeOrder
	finished  []models.OrderResult
	skipped   []models.SkippedOrder
	invalid   []models.InvalidCoin

	initialBalance   float64
	availableBalance float64
	balanceInOrders  float64
	realizedProfit   float64
	closedProfit     float64

	accountPnl extrema
	orderPnl   extrema

	day   dayStats
	daily []models.AccountDailyStats
}

// extrema - минимум и максимум PnL в процентах
type extrema struct {
	min, max float64
}

func (e *extrema) observe(v float64) {
	e.min = math.Min(e.min, v)
	e.max = math.Max(e.max, v)
}

// New готовит симуляцию. Ордера упорядочиваются по дате сигнала,
// часы стартуют с минуты самого раннего ордера.
func New(cfg models.CornixConfiguration, orders []models.Order, src engine.DaySource, opts Options) *Simulation {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = DefaultInitialBalance
	}

	remaining := append([]models.Order(nil), orders...)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Date.Before(remaining[j].Date)
	})

	end := opts.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	s := &Simulation{
		cfg:              cfg,
		opts:             opts,
		logger:           logger.With(utils.Component("account")),
		cache:            newCandleCache(src, opts.Prefetch, logger),
		endTime:          end,
		remaining:        remaining,
		initialBalance:   opts.InitialBalance,
		availableBalance: opts.InitialBalance,
	}
	if len(remaining) > 0 {
		s.startTime = utils.TruncateMinute(remaining[0].Date)
		s.currentTime = s.startTime
		s.startDay(s.currentTime)
	}
	return s
}

// Run шагает часы по минутам до исчерпания ордеров или до End.
// При отмене контекста возвращается частичный результат вместе с ошибкой.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	s.logger.Info("account simulation started",
		utils.Balance(s.initialBalance),
		zap.Int("orders", len(s.remaining)),
		zap.Time("start", s.startTime),
		zap.Time("end", s.endTime))

	for len(s.remaining) > 0 || len(s.active) > 0 {
		if !s.currentTime.Before(s.endTime) {
			break
		}
		if err := ctx.Err(); err != nil {
			return s.result(), err
		}

		if err := s.tick(ctx); err != nil {
			return s.result(), err
		}
		metrics.AccountTicks.Inc()

		if len(s.active) == 0 && len(s.remaining) == 0 {
			break
		}
		s.advance()
	}

	s.flushDay()
	metrics.AccountRealizedProfit.Set(s.realizedProfit)

	res := s.result()
	s.logger.Info("account simulation finished",
		utils.Balance(res.Info.AvailableBalance),
		zap.Float64("realized_profit", res.Info.RealizedProfit),
		zap.Int("finished", res.Info.CountFinishedOrders),
		zap.Int("skipped", res.Info.CountSkippedOrders),
		zap.Int("active", res.Info.CountActiveOrders))
	return res, nil
}

// advance переводит часы на следующую минуту. Без активных ордеров
// часы сразу прыгают к минуте следующего сигнала.
func (s *Simulation) advance() {
	next := s.currentTime.Add(time.Minute)
	if len(s.active) == 0 && len(s.remaining) > 0 {
		if at := utils.TruncateMinute(s.remaining[0].Date); at.After(next) {
			next = at
		}
	}

	if utils.GetDayStartFrom(next) != s.day.start {
		s.flushDay()
		s.startDay(next)
		s.cache.evictBefore(s.day.start)
	}
	s.currentTime = next
}

// tick - одна минута: допуск, загрузка свечей, шаг каждой сделки, сверка баланса
func (s *Simulation) tick(ctx context.Context) error {
	s.admit()
	if len(s.active) == 0 {
		return nil
	}
	s.day.touched = true

	invalid, err := s.cache.ensure(ctx, lo.Map(s.active, func(o *activeOrder, _ int) models.Order { return o.order }), s.currentTime)
	if err != nil {
		return err
	}
	for _, r := range invalid {
		s.dropInvalid(r.key, r.err)
	}

	var tickPnl float64
	still := s.active[:0]
	for _, o := range s.active {
		s.stepOrder(o)
		tickPnl += o.state.Pnl()

		if o.state.IsClosed() {
			s.finish(o)
			continue
		}
		still = append(still, o)
	}
	s.active = still

	s.accountPnl.observe(tickPnl)
	s.day.unrealized = lo.SumBy(s.active, func(o *activeOrder) float64 { return o.state.UnrealizedProfit() })
	return nil
}

// ============ Допуск ордеров ============

func (s *Simulation) admit() {
	boundary := s.currentTime.Add(time.Minute)
	for len(s.remaining) > 0 && s.remaining[0].Date.Before(boundary) {
		order := s.remaining[0]
		s.remaining = s.remaining[1:]
		s.activate(order)
	}
}

func (s *Simulation) activate(order models.Order) {
	cfg := cornix.GetFlattenedConfig(s.cfg, order.Config)

	if err := cornix.ValidateOrder(order); err != nil {
		s.skip(order, models.SkipReasonInvalidOrder, err)
		return
	}

	if limit := s.maxActiveOrders(order); limit >= 0 && len(s.active) >= limit {
		s.skip(order, models.SkipReasonMaxActiveOrders, nil)
		return
	}

	amount := cornix.GetOrderAmount(order, cfg, s.availableBalance)
	if amount <= 0 || amount > s.availableBalance {
		s.skip(order, models.SkipReasonInsufficientBalance, nil)
		return
	}
	order.Amount = amount

	log := engine.NewEventLog(s.opts.Verbose)
	state, err := engine.NewState(order, cfg, s.opts.DetailedLog, log)
	if err != nil {
		s.skip(order, models.SkipReasonInvalidOrder, err)
		return
	}

	s.availableBalance -= amount
	s.balanceInOrders += amount
	s.active = append(s.active, &activeOrder{order: order, config: cfg, state: state, log: log, tied: amount})

	metrics.AccountOrders.WithLabelValues("activated").Inc()
	s.logger.Debug("order activated",
		utils.SignalID(order.Key()), utils.Coin(order.Coin),
		zap.Float64("amount", amount), utils.Balance(s.availableBalance))
}

// maxActiveOrders: настройка ордера > параметр прогона > конфигурация.
// Отрицательное значение - без лимита.
func (s *Simulation) maxActiveOrders(order models.Order) int {
	if order.Config != nil && order.Config.MaxActiveOrders != 0 {
		return order.Config.MaxActiveOrders
	}
	if s.opts.MaxActiveOrders != 0 {
		return s.opts.MaxActiveOrders
	}
	if s.cfg.MaxActiveOrders != 0 {
		return s.cfg.MaxActiveOrders
	}
	return -1
}

func (s *Simulation) skip(order models.Order, reason string, err error) {
	s.skipped = append(s.skipped, models.SkippedOrder{Order: order, Reason: reason, At: s.currentTime})
	metrics.AccountOrders.WithLabelValues("skipped").Inc()

	fields := []zap.Field{utils.SignalID(order.Key()), utils.Coin(order.Coin), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, utils.Err(err))
	}
	s.logger.Info("order skipped", fields...)
}

// ============ Шаг и сверка ============

// stepState - шаг машины состояний одной свечой (подменяется в тестах)
var stepState = engine.Step

// stepOrder применяет свечу текущей минуты. Паника одного ордера
// не останавливает симуляцию: состояние ордера остаётся прежним.
func (s *Simulation) stepOrder(o *activeOrder) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("order step panicked",
				utils.SignalID(o.order.Key()), utils.Coin(o.order.Coin),
				zap.Time("at", s.currentTime), zap.Any("panic", r))
		}
	}()

	c, ok := s.cache.at(o.order, s.currentTime)
	if !ok {
		return
	}

	o.state = stepState(o.state, c)
	s.reconcile(o)
	s.orderPnl.observe(o.state.Pnl())
}

// reconcile переносит изменения сделки в баланс по себестоимости.
//
// Занятая часть = резерв под неисполненные входы + маржа непроданных монет.
// После первого тейка при неполном наборе входы отменяются и их резерв
// освобождается. Сохраняется available + inOrders == initial + realized.
func (s *Simulation) reconcile(o *activeOrder) {
	st := o.state

	var target, realized float64
	if st.IsClosed() {
		realized = st.Profit()
	} else {
		realized = st.RealizedProfit()

		reserve := math.Max(st.RemainingAmount(), 0)
		if len(st.TakeProfits()) > 0 && !st.IsFullyOpen() {
			reserve = 0
		}
		var margin float64
		if bought := st.BoughtCoins(); bought > 0 {
			margin = st.SpentAmount() * st.RemainingCoins() / bought
		}
		target = reserve + margin
	}

	release := o.tied - target
	delta := realized - o.realized

	s.availableBalance += release + delta
	s.balanceInOrders -= release
	s.realizedProfit += delta
	s.day.realized += delta

	o.tied = target
	o.realized = realized
}

func (s *Simulation) finish(o *activeOrder) {
	// остаток резерва мог не вернуться, если сделка закрылась без свечи сверки
	if o.tied != 0 {
		s.availableBalance += o.tied
		s.balanceInOrders -= o.tied
		o.tied = 0
	}

	info := o.state.Info()
	s.closedProfit += info.Profit
	res := models.OrderResult{Order: o.order, Result: info, Events: o.log.Events()}
	s.finished = append(s.finished, res)

	metrics.AccountOrders.WithLabelValues("finished").Inc()
	s.logger.Debug("order finished",
		utils.SignalID(o.order.Key()), utils.Coin(o.order.Coin),
		utils.Pnl(info.Pnl), utils.Balance(s.availableBalance))

	if s.opts.OnOrderFinished != nil {
		s.opts.OnOrderFinished(res)
	}
}

// dropInvalid снимает ордера по монете, которую биржа отвергла, и возвращает их резерв
func (s *Simulation) dropInvalid(k dayKey, err error) {
	coin := models.InvalidCoin{Exchange: k.exchange, Coin: k.pair, Reason: err.Error()}
	if !lo.ContainsBy(s.invalid, func(c models.InvalidCoin) bool { return c.Exchange == coin.Exchange && c.Coin == coin.Coin }) {
		s.invalid = append(s.invalid, coin)
	}

	s.active = lo.Filter(s.active, func(o *activeOrder, _ int) bool {
		if keyFor(o.order, s.currentTime) != k {
			return true
		}
		s.availableBalance += o.tied
		s.balanceInOrders -= o.tied
		s.skip(o.order, models.SkipReasonInvalidCoin, err)
		return false
	})
}

// ============ Дневная статистика ============

func (s *Simulation) startDay(t time.Time) {
	s.day = dayStats{
		start:       utils.GetDayStartFrom(t),
		equityStart: s.availableBalance + s.balanceInOrders,
	}
}

// flushDay закрывает накопленные сутки. Пустые сутки без ордеров не пишутся.
func (s *Simulation) flushDay() {
	if !s.day.touched {
		return
	}

	stats := models.AccountDailyStats{
		Day:                    s.day.start,
		AccountBalance:         s.availableBalance,
		BalanceInOrders:        s.balanceInOrders,
		RealizedProfitPerDay:   s.day.realized,
		UnrealizedProfitPerDay: s.day.unrealized,
		RealizedPnlPerDay:      utils.Percent(s.day.realized, s.day.equityStart),
		UnrealizedPnlPerDay:    utils.Percent(s.day.unrealized, s.day.equityStart),
	}
	s.daily = append(s.daily, stats)
	s.day.touched = false

	s.logger.Debug("day closed",
		utils.Day(stats.Day.Format(time.DateOnly)),
		utils.Balance(stats.AccountBalance),
		zap.Float64("realized", stats.RealizedProfitPerDay))

	if s.opts.OnDailyStats != nil {
		s.opts.OnDailyStats(stats)
	}
}

// ============ Итоги ============

// Info - текущая сводка по аккаунту
func (s *Simulation) Info() models.AccountInfo {
	return models.AccountInfo{
		InitialBalance:             s.initialBalance,
		AvailableBalance:           s.availableBalance,
		BalanceInOrders:            s.balanceInOrders,
		CountActiveOrders:          len(s.active),
		CountFinishedOrders:        len(s.finished),
		CountSkippedOrders:         len(s.skipped),
		OpenOrdersProfit:           lo.SumBy(s.active, func(o *activeOrder) float64 { return o.state.Profit() }),
		OpenOrdersUnrealizedProfit: lo.SumBy(s.active, func(o *activeOrder) float64 { return o.state.UnrealizedProfit() }),
		OpenOrdersRealizedProfit:   lo.SumBy(s.active, func(o *activeOrder) float64 { return o.state.RealizedProfit() }),
		ClosedOrdersProfit:         s.closedProfit,
		RealizedProfit:             s.realizedProfit,
		LargestAccountDrawdownPct:  s.accountPnl.min,
		LargestAccountGainPct:      s.accountPnl.max,
		LargestOrderDrawdownPct:    s.orderPnl.min,
		LargestOrderGainPct:        s.orderPnl.max,
	}
}

// CurrentTime - минута, на которой стоят часы симуляции
func (s *Simulation) CurrentTime() time.Time { return s.currentTime }

func (s *Simulation) result() *Result {
	active := lo.Map(s.active, func(o *activeOrder, _ int) models.OrderResult {
		return models.OrderResult{Order: o.order, Result: o.state.Info(), Events: o.log.Events()}
	})

	return &Result{
		Info:         s.Info(),
		Daily:        s.daily,
		Finished:     s.finished,
		Active:       active,
		Skipped:      s.skipped,
		InvalidCoins: s.invalid,
		StartTime:    s.startTime,
		EndTime:      s.currentTime,
	}
}

// Simulate - New + Run
func Simulate(ctx context.Context, cfg models.CornixConfiguration, orders []models.Order, src engine.DaySource, opts Options) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("account simulation: no candle source")
	}
	return New(cfg, orders, src, opts).Run(ctx)
}

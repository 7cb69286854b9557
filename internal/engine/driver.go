package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backtrack/internal/cornix"
	"backtrack/internal/exchange"
	"backtrack/internal/metrics"
	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// maxTransitionsPerCandle ограничивает цепочку переходов на одной свече.
// Реальная цепочка не длиннее числа входов и тейков.
const maxTransitionsPerCandle = 256

// Options - параметры прогона одиночных сделок
type Options struct {
	DetailedLog bool      // cross-события, перенос стоп-лосса отключён
	Verbose     bool      // сохранять verbose-события (пропущенные свечи)
	Until       time.Time // граница подгрузки по дням, по умолчанию текущее время
	Logger      *zap.Logger

	// OnResult вызывается после каждого ордера в RunBatch
	OnResult func(models.OrderResult)
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Result - итог прогона одной сделки
type Result struct {
	State  State
	Info   models.TradeResult
	Events []models.Event
}

func newResult(s State, log *EventLog) *Result {
	return &Result{State: s, Info: s.Info(), Events: log.Events()}
}

// Step применяет свечу, повторяя Update пока состояние меняется
// и сделка не закрыта
func Step(s State, c models.TradeData) State {
	for i := 0; i < maxTransitionsPerCandle; i++ {
		next, changed := s.Update(c)
		s = next
		if !changed {
			break
		}
		metrics.RecordTransition(string(s.phase))
		if s.IsClosed() {
			break
		}
	}
	metrics.CandlesProcessed.Inc()
	return s
}

// Backtrack прогоняет ордер по свечам в хронологическом порядке
// до закрытия сделки или конца данных
func Backtrack(cfg models.CornixConfiguration, order models.Order, candles []models.TradeData, opts Options) (*Result, error) {
	log := NewEventLog(opts.Verbose)

	state, err := NewState(order, cfg, opts.DetailedLog, log)
	if err != nil {
		return nil, err
	}

	for _, c := range candles {
		state = Step(state, c)
		if state.IsClosed() {
			break
		}
	}

	return newResult(state, log), nil
}

// DaySource отдаёт минутные свечи за сутки (UTC), отсортированные по времени.
// Пустой результат означает, что данных больше нет.
type DaySource interface {
	Day(ctx context.Context, exchange, coin string, day time.Time) ([]models.TradeData, error)
}

// BacktrackByDay подгружает свечи по дню, начиная с дня открытия ордера,
// пока сделка не закроется, данные не закончатся или не будет достигнут Until.
//
// При ошибке источника возвращается частичный результат вместе с ошибкой.
func BacktrackByDay(ctx context.Context, cfg models.CornixConfiguration, order models.Order, src DaySource, opts Options) (*Result, error) {
	log := NewEventLog(opts.Verbose)

	state, err := NewState(order, cfg, opts.DetailedLog, log)
	if err != nil {
		return nil, err
	}

	until := opts.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}

	for day := utils.GetDayStartFrom(order.Date); !state.IsClosed() && !day.After(until); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return newResult(state, log), err
		}

		candles, err := src.Day(ctx, order.Exchange, order.Coin, day)
		if err != nil {
			return newResult(state, log), fmt.Errorf("candles %s %s: %w", order.Coin, day.Format(time.DateOnly), err)
		}
		if len(candles) == 0 {
			break
		}

		for _, c := range candles {
			state = Step(state, c)
			if state.IsClosed() {
				break
			}
		}
	}

	return newResult(state, log), nil
}

// ============================================================
// Пакетный прогон
// ============================================================

// BatchResult - итог прогона набора ордеров
type BatchResult struct {
	Results      []models.OrderResult `json:"results"`
	Summary      models.Summary       `json:"summary"`
	InvalidCoins []models.InvalidCoin `json:"invalidCoins"`
}

// RunBatch прогоняет ордера по одному через BacktrackByDay.
//
// Ошибка одного ордера не прерывает пакет: ошибки конфигурации и данных
// логируются и попадают в OrderResult.Error, монеты с ответом 400/404
// собираются в InvalidCoins.
func RunBatch(ctx context.Context, cfg models.CornixConfiguration, orders []models.Order, src DaySource, opts Options) BatchResult {
	logger := opts.logger()
	batch := BatchResult{}
	var infos []models.TradeResult

	for i, order := range orders {
		if ctx.Err() != nil {
			logger.Warn("batch interrupted", zap.Int("done", i), zap.Int("total", len(orders)))
			break
		}

		orderCfg := cornix.GetFlattenedConfig(cfg, order.Config)
		res, err := runSafely(ctx, orderCfg, order, src, opts)

		out := models.OrderResult{Order: order}
		if res != nil {
			out.Result = res.Info
			out.Events = res.Events
		}

		if err != nil {
			out.Error = err.Error()

			var cfgErr *cornix.ConfigError
			switch {
			case errors.As(err, &cfgErr):
				logger.Warn("order skipped: invalid configuration",
					zap.String("order", order.Key()),
					zap.Error(err))
			case exchange.IsInvalidSymbol(err):
				coin := models.InvalidCoin{Exchange: exchange.Normalize(order.Exchange), Coin: order.Coin, Reason: err.Error()}
				if !containsCoin(batch.InvalidCoins, coin) {
					batch.InvalidCoins = append(batch.InvalidCoins, coin)
				}
				logger.Warn("invalid coin",
					zap.String("order", order.Key()),
					zap.String("exchange", coin.Exchange),
					zap.String("coin", order.Coin))
			default:
				logger.Error("order backtest failed",
					zap.String("order", order.Key()),
					zap.Error(err))
			}
		}

		if res != nil && out.Error == "" {
			infos = append(infos, res.Info)
		}

		batch.Results = append(batch.Results, out)
		if opts.OnResult != nil {
			opts.OnResult(out)
		}

		logger.Debug("order processed",
			zap.String("order", order.Key()),
			zap.Int("progress", i+1),
			zap.Int("total", len(orders)))
	}

	batch.Summary = Summarize(infos)
	return batch
}

// runSafely изолирует панику одного ордера
func runSafely(ctx context.Context, cfg models.CornixConfiguration, order models.Order, src DaySource, opts Options) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("order %s: panic: %v", order.Key(), r)
		}
	}()
	return BacktrackByDay(ctx, cfg, order, src, opts)
}

func containsCoin(coins []models.InvalidCoin, c models.InvalidCoin) bool {
	for _, x := range coins {
		if x.Exchange == c.Exchange && x.Coin == c.Coin {
			return true
		}
	}
	return false
}

// ============================================================
// Источник свечей из памяти
// ============================================================

// SliceSource отдаёт свечи из заранее загруженного среза, не различая монеты.
// Используется CLI с файлом свечей и в тестах.
type SliceSource []models.TradeData

// Day возвращает свечи, открытые в пределах суток day
func (s SliceSource) Day(_ context.Context, _, _ string, day time.Time) ([]models.TradeData, error) {
	from := utils.GetDayStartFrom(day).UnixMilli()
	to := from + utils.DayMs

	var out []models.TradeData
	for _, c := range s {
		if c.OpenTime >= from && c.OpenTime < to {
			out = append(out, c)
		}
	}
	return out, nil
}

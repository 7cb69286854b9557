package account

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtrack/internal/engine"
	"backtrack/internal/exchange"
	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// defaultPrefetch - сколько суток подгружается параллельно
const defaultPrefetch = 4

// dayKey - сутки одной монеты на одной бирже
type dayKey struct {
	exchange string
	pair     string
	day      int64 // начало суток, мс
}

func keyFor(order models.Order, t time.Time) dayKey {
	return dayKey{
		exchange: exchange.Normalize(order.Exchange),
		pair:     exchange.CoinName(order.Coin),
		day:      utils.DayStartMillis(t.UnixMilli()),
	}
}

func (k dayKey) String() string {
	return k.exchange + "/" + k.pair + "/" + strconv.FormatInt(k.day, 10)
}

// candleCache держит свечи текущих суток для всех активных ордеров.
// Сутки без данных тоже запоминаются, чтобы не запрашивать их каждую минуту.
type candleCache struct {
	src      engine.DaySource
	logger   *zap.Logger
	prefetch int

	days map[dayKey]map[int64]models.TradeData
}

func newCandleCache(src engine.DaySource, prefetch int, logger *zap.Logger) *candleCache {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return &candleCache{
		src:      src,
		logger:   logger,
		prefetch: prefetch,
		days:     make(map[dayKey]map[int64]models.TradeData),
	}
}

// fetchResult - итог загрузки одних суток
type fetchResult struct {
	key     dayKey
	order   models.Order
	candles []models.TradeData
	err     error
}

// ensure подгружает недостающие сутки для ордеров параллельно.
// Возвращает монеты, отвергнутые биржей. Ошибка - только отмена контекста.
func (c *candleCache) ensure(ctx context.Context, orders []models.Order, at time.Time) ([]fetchResult, error) {
	var pending []fetchResult
	seen := make(map[dayKey]bool)
	for _, o := range orders {
		k := keyFor(o, at)
		if _, ok := c.days[k]; ok || seen[k] {
			continue
		}
		seen[k] = true
		pending = append(pending, fetchResult{key: k, order: o})
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var g errgroup.Group
	g.SetLimit(c.prefetch)

	for i := range pending {
		r := &pending[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.candles, r.err = c.src.Day(ctx, r.order.Exchange, r.order.Coin, at)
			if r.err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var invalid []fetchResult
	for _, r := range pending {
		byMinute := make(map[int64]models.TradeData, len(r.candles))
		for _, cd := range r.candles {
			byMinute[cd.OpenTime] = cd
		}
		c.days[r.key] = byMinute

		switch {
		case r.err == nil:
		case exchange.IsInvalidSymbol(r.err):
			invalid = append(invalid, r)
		default:
			c.logger.Warn("candles unavailable",
				utils.Exchange(r.key.exchange), utils.Coin(r.key.pair),
				utils.Day(utils.FromUnixMillis(r.key.day).Format(time.DateOnly)),
				utils.Err(r.err))
		}
	}
	return invalid, nil
}

// at возвращает свечу ордера, открытую в минуту t
func (c *candleCache) at(order models.Order, t time.Time) (models.TradeData, bool) {
	day, ok := c.days[keyFor(order, t)]
	if !ok {
		return models.TradeData{}, false
	}
	cd, ok := day[t.UnixMilli()]
	return cd, ok
}

// evictBefore освобождает сутки раньше dayStart
func (c *candleCache) evictBefore(dayStart time.Time) {
	ms := dayStart.UnixMilli()
	for k := range c.days {
		if k.day < ms {
			delete(c.days, k)
		}
	}
}

package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"backtrack/internal/metrics"
	"backtrack/internal/models"
	"backtrack/pkg/ratelimit"
	"backtrack/pkg/retry"
	"backtrack/pkg/utils"
)

// DayProvider отдаёт минутные свечи по суткам: сначала дисковый кэш,
// затем биржа через лимитер и повторы. Реализует engine.DaySource.
type DayProvider struct {
	sources map[string]CandleSource
	cache   *DiskCache
	limiter *ratelimit.MultiLimiter
	retry   retry.Config
	logger  *zap.Logger

	// монеты, которые биржа отвергла; повторно не запрашиваются
	invalid   map[string]error
	invalidMu sync.Mutex
}

// ProviderOption настраивает DayProvider
type ProviderOption func(*DayProvider)

func WithCache(c *DiskCache) ProviderOption {
	return func(p *DayProvider) { p.cache = c }
}

// WithLimiter задаёт лимитер; категория - имя биржи
func WithLimiter(l *ratelimit.MultiLimiter) ProviderOption {
	return func(p *DayProvider) { p.limiter = l }
}

func WithRetry(cfg retry.Config) ProviderOption {
	return func(p *DayProvider) { p.retry = cfg }
}

func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *DayProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewDayProvider создаёт провайдер поверх источников
func NewDayProvider(sources []CandleSource, opts ...ProviderOption) *DayProvider {
	p := &DayProvider{
		sources: make(map[string]CandleSource, len(sources)),
		limiter: ratelimit.NewMultiLimiter(ratelimit.PerInterval(ratelimit.DefaultInterval), ratelimit.DefaultBurst, ratelimit.SystemClock),
		retry:   retry.DefaultConfig(),
		logger:  zap.NewNop(),
		invalid: make(map[string]error),
	}
	for _, s := range sources {
		p.sources[s.Name()] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Day возвращает свечи суток, в которые попадает day, по возрастанию openTime.
// Пустой результат означает, что данных нет (монета ещё не торговалась или день в будущем).
func (p *DayProvider) Day(ctx context.Context, exchange, coin string, day time.Time) ([]models.TradeData, error) {
	ex := Normalize(exchange)
	pair := CoinName(coin)
	dayStart := utils.GetDayStartFrom(day)

	if err := p.knownInvalid(ex, pair); err != nil {
		return nil, err
	}

	cached, ok, err := p.cache.Load(ex, pair, dayStart)
	if err != nil {
		p.logger.Warn("cache read failed", utils.Exchange(ex), utils.Coin(pair), zap.Error(err))
	}
	if ok {
		metrics.RecordCacheHit(ex)
		return cached, nil
	}

	src, ok := p.sources[ex]
	if !ok {
		return nil, fmt.Errorf("no candle source for exchange %q", ex)
	}

	cfg := p.retry
	cfg.RetryIf = IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("klines request failed, retrying",
			utils.Exchange(ex), utils.Coin(pair), zap.Int("attempt", attempt),
			zap.Duration("delay", delay), zap.Error(err))
	}

	candles, err := retry.DoWithResult(ctx, func() ([]models.TradeData, error) {
		if err := p.limiter.Wait(ctx, ex); err != nil {
			return nil, err
		}

		started := time.Now()
		data, err := src.Klines(ctx, pair, dayStart, utils.MinutesPerDay)
		metrics.RecordExchangeRequest(ex, err, time.Since(started).Seconds())
		return data, err
	}, cfg)
	if err != nil {
		if IsInvalidSymbol(err) {
			p.markInvalid(ex, pair, err)
		}
		return nil, fmt.Errorf("load %s %s %s: %w", ex, pair, dayStart.Format(time.DateOnly), err)
	}

	candles = withinDay(candles, dayStart)

	stored, err := p.cache.Store(ex, pair, dayStart, candles)
	if err != nil {
		p.logger.Warn("cache write failed", utils.Exchange(ex), utils.Coin(pair), zap.Error(err))
	}

	p.logger.Debug("day loaded",
		utils.Exchange(ex), utils.Coin(pair), utils.Day(dayStart.Format(time.DateOnly)),
		utils.Candles(len(candles)), zap.Bool("cached", stored))

	return candles, nil
}

// withinDay отбрасывает свечи за пределами суток
func withinDay(candles []models.TradeData, dayStart time.Time) []models.TradeData {
	from := dayStart.UnixMilli()
	to := from + utils.DayMs

	out := candles[:0:0]
	for _, c := range candles {
		if c.OpenTime >= from && c.OpenTime < to {
			out = append(out, c)
		}
	}
	return out
}

func invalidKey(exchange, pair string) string {
	return exchange + "/" + pair
}

func (p *DayProvider) knownInvalid(exchange, pair string) error {
	p.invalidMu.Lock()
	defer p.invalidMu.Unlock()
	return p.invalid[invalidKey(exchange, pair)]
}

func (p *DayProvider) markInvalid(exchange, pair string, err error) {
	p.invalidMu.Lock()
	defer p.invalidMu.Unlock()
	p.invalid[invalidKey(exchange, pair)] = err
}

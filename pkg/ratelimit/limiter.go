package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock абстрагирует время, чтобы лимитер можно было гонять в тестах без sleep
type Clock interface {
	Now() time.Time
	// After возвращает канал, который сработает через d
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock - часы по умолчанию
var SystemClock Clock = realClock{}

// Значения по умолчанию для запросов свечей: 1 запрос раз в 750ms без всплесков.
// Публичные kline-эндпоинты бирж банят IP раньше, чем срабатывает их собственный лимит.
const (
	DefaultInterval = 750 * time.Millisecond
	DefaultBurst    = 1
)

// RateLimiter - token bucket для запросов к биржам.
//
// Ведро пополняется со скоростью rate токенов в секунду и вмещает не больше
// burst токенов. Каждый запрос забирает один токен.
//
//	limiter := NewRateLimiter(1/0.75, 1)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
type RateLimiter struct {
	rate       float64 // токенов в секунду
	burst      float64
	tokens     float64
	lastRefill time.Time
	clock      Clock
	mu         sync.Mutex
}

// NewRateLimiter создаёт лимитер на системных часах
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return NewRateLimiterWithClock(rate, burst, SystemClock)
}

// PerInterval переводит "один запрос раз в d" в токены в секунду
func PerInterval(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}

// NewRateLimiterWithClock создаёт лимитер с заданными часами
func NewRateLimiterWithClock(rate, burst float64, clock Clock) *RateLimiter {
	if rate <= 0 {
		rate = PerInterval(DefaultInterval)
	}
	if burst < 1 {
		burst = DefaultBurst
	}
	if clock == nil {
		clock = SystemClock
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// refill вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.clock.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}

	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-rl.clock.After(waitTime):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow забирает токен без блокировки
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	return false
}

// Tokens возвращает текущее количество доступных токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

func (rl *RateLimiter) Burst() float64 {
	return rl.burst
}

// ============ MultiLimiter ============

// MultiLimiter держит отдельный лимитер на каждую биржу.
// Для неизвестной категории лимитер создаётся лениво с параметрами по умолчанию.
type MultiLimiter struct {
	limiters map[string]*RateLimiter
	rate     float64
	burst    float64
	clock    Clock
	mu       sync.Mutex
}

// NewMultiLimiter создаёт MultiLimiter; rate и burst применяются к новым категориям
func NewMultiLimiter(rate, burst float64, clock Clock) *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
		burst:    burst,
		clock:    clock,
	}
}

// Add задаёт отдельный лимит для категории
func (ml *MultiLimiter) Add(category string, rate, burst float64) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.limiters[category] = NewRateLimiterWithClock(rate, burst, ml.clock)
}

// Get возвращает лимитер категории, создавая его при первом обращении
func (ml *MultiLimiter) Get(category string) *RateLimiter {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	l, ok := ml.limiters[category]
	if !ok {
		l = NewRateLimiterWithClock(ml.rate, ml.burst, ml.clock)
		ml.limiters[category] = l
	}
	return l
}

// Wait ожидает токен для категории
func (ml *MultiLimiter) Wait(ctx context.Context, category string) error {
	return ml.Get(category).Wait(ctx)
}

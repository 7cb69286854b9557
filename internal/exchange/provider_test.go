package exchange

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtrack/internal/models"
	"backtrack/pkg/ratelimit"
	"backtrack/pkg/retry"
	"backtrack/pkg/utils"
)

// stubSource отдаёт заранее подготовленные ответы и считает запросы
type stubSource struct {
	name    string
	mu      sync.Mutex
	calls   int
	symbols []string
	respond func(call int, start time.Time, limit int) ([]models.TradeData, error)
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Klines(_ context.Context, symbol string, start time.Time, limit int) ([]models.TradeData, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.symbols = append(s.symbols, symbol)
	s.mu.Unlock()
	return s.respond(call, start, limit)
}

func minuteCandles(start time.Time, n int) []models.TradeData {
	out := make([]models.TradeData, n)
	for i := range out {
		open := start.UnixMilli() + int64(i)*utils.MinuteMs
		out[i] = models.TradeData{OpenTime: open, Open: 1, High: 2, Low: 0.5, Close: 1.5, CloseTime: open + utils.MinuteMs - 1}
	}
	return out
}

// noWaitRetry повторяет без пауз
func noWaitRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return cfg
}

// instantClock сдвигает время вместо ожидания
type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func newTestProvider(t *testing.T, src CandleSource, cacheDir string) *DayProvider {
	t.Helper()
	clock := &instantClock{now: time.Unix(0, 0)}
	return NewDayProvider([]CandleSource{src},
		WithCache(NewDiskCache(cacheDir)),
		WithLimiter(ratelimit.NewMultiLimiter(ratelimit.PerInterval(ratelimit.DefaultInterval), 1, clock)),
		WithRetry(noWaitRetry()),
	)
}

func TestDiskCache_Path(t *testing.T) {
	c := NewDiskCache("/tmp/cache")
	got := c.Path("binance", "INJUSDT", testDay.Add(15*time.Hour))
	assert.Equal(t, filepath.Join("/tmp/cache", "binance", "1m", "INJUSDT", "INJUSDT_1m_1686787200000.json"), got)
}

func TestDiskCache_StoresOnlyCompleteDays(t *testing.T) {
	c := NewDiskCache(t.TempDir())

	stored, err := c.Store("bybit", "INJUSDT", testDay, minuteCandles(testDay, 100))
	require.NoError(t, err)
	assert.False(t, stored)

	_, ok, err := c.Load("bybit", "INJUSDT", testDay)
	require.NoError(t, err)
	assert.False(t, ok)

	full := minuteCandles(testDay, utils.MinutesPerDay)
	stored, err = c.Store("bybit", "INJUSDT", testDay, full)
	require.NoError(t, err)
	assert.True(t, stored)

	loaded, ok, err := c.Load("bybit", "INJUSDT", testDay)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, full, loaded)
}

func TestDiskCache_Disabled(t *testing.T) {
	c := NewDiskCache("")
	assert.Nil(t, c)

	_, ok, err := c.Load("binance", "INJUSDT", testDay)
	assert.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.Store("binance", "INJUSDT", testDay, minuteCandles(testDay, utils.MinutesPerDay))
	assert.NoError(t, err)
	assert.False(t, stored)
}

func TestDiskCache_CorruptFile(t *testing.T) {
	c := NewDiskCache(t.TempDir())
	path := c.Path("binance", "INJUSDT", testDay)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, ok, err := c.Load("binance", "INJUSDT", testDay)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDayProvider_UsesCacheAfterFirstFetch(t *testing.T) {
	src := &stubSource{name: "binance", respond: func(_ int, start time.Time, limit int) ([]models.TradeData, error) {
		// биржа отдаёт и первую свечу следующих суток
		return minuteCandles(start, limit+1), nil
	}}
	p := newTestProvider(t, src, t.TempDir())

	first, err := p.Day(context.Background(), "Binance Futures", "INJUSDT.P", testDay.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Len(t, first, utils.MinutesPerDay)
	assert.Equal(t, []string{"INJUSDT"}, src.symbols)

	second, err := p.Day(context.Background(), "binance", "INJUSDT", testDay)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.calls, "второй запрос обслуживается из кэша")
}

func TestDayProvider_IncompleteDayNotCached(t *testing.T) {
	src := &stubSource{name: "bybit", respond: func(_ int, start time.Time, _ int) ([]models.TradeData, error) {
		return minuteCandles(start, 30), nil
	}}
	p := newTestProvider(t, src, t.TempDir())

	for i := 0; i < 2; i++ {
		got, err := p.Day(context.Background(), "ByBit USDT", "INJUSDT", testDay)
		require.NoError(t, err)
		assert.Len(t, got, 30)
	}
	assert.Equal(t, 2, src.calls)
}

func TestDayProvider_RetriesTransientErrors(t *testing.T) {
	src := &stubSource{name: "binance", respond: func(call int, start time.Time, _ int) ([]models.TradeData, error) {
		if call < 3 {
			return nil, &APIError{Exchange: "binance", StatusCode: 503, Message: "unavailable"}
		}
		return minuteCandles(start, 5), nil
	}}
	p := newTestProvider(t, src, "")

	got, err := p.Day(context.Background(), "binance", "INJUSDT", testDay)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 3, src.calls)
}

func TestDayProvider_MalformedDataNotRetried(t *testing.T) {
	src := &stubSource{name: "binance", respond: func(int, time.Time, int) ([]models.TradeData, error) {
		return nil, retry.Permanent(errors.New("binance: kline field 1: invalid syntax"))
	}}
	p := newTestProvider(t, src, "")

	_, err := p.Day(context.Background(), "binance", "INJUSDT", testDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid syntax")
	assert.False(t, IsInvalidSymbol(err))
	assert.Equal(t, 1, src.calls)
}

func TestDayProvider_RemembersInvalidSymbols(t *testing.T) {
	src := &stubSource{name: "binance", respond: func(int, time.Time, int) ([]models.TradeData, error) {
		return nil, &APIError{Exchange: "binance", StatusCode: 400, Code: -1121, Message: "Invalid symbol."}
	}}
	p := newTestProvider(t, src, "")

	_, err := p.Day(context.Background(), "binance", "NOPEUSDT", testDay)
	require.Error(t, err)
	assert.True(t, IsInvalidSymbol(err))
	assert.Equal(t, 1, src.calls, "ошибка запроса не повторяется")

	_, err = p.Day(context.Background(), "binance", "NOPEUSDT", testDay.AddDate(0, 0, 1))
	assert.True(t, IsInvalidSymbol(err))
	assert.Equal(t, 1, src.calls, "невалидная монета больше не запрашивается")
}

func TestDayProvider_UnknownExchangeSource(t *testing.T) {
	src := &stubSource{name: "binance"}
	p := newTestProvider(t, src, "")

	_, err := p.Day(context.Background(), "bybit", "INJUSDT", testDay)
	assert.Error(t, err)
}

func TestDayProvider_CancelledContext(t *testing.T) {
	src := &stubSource{name: "binance", respond: func(int, time.Time, int) ([]models.TradeData, error) {
		return nil, errors.New("should not be called")
	}}
	p := newTestProvider(t, src, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Day(ctx, "binance", "INJUSDT", testDay)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtrack/internal/exchange"
	"backtrack/internal/models"
)

// daySourceFunc адаптирует функцию к DaySource
type daySourceFunc func(ctx context.Context, exchange, coin string, day time.Time) ([]models.TradeData, error)

func (f daySourceFunc) Day(ctx context.Context, exchange, coin string, day time.Time) ([]models.TradeData, error) {
	return f(ctx, exchange, coin, day)
}

func TestBacktrackByDay_FetchesUntilClosed(t *testing.T) {
	nextDay := orderTime.AddDate(0, 0, 1)
	src := SliceSource{
		candle(minute(0), 100, 100, 99, 100),
		candle(nextDay, 105, 111, 104, 110),
		candle(nextDay.AddDate(0, 0, 1), 50, 50, 10, 20),
	}

	var days []time.Time
	counting := daySourceFunc(func(ctx context.Context, ex, coin string, day time.Time) ([]models.TradeData, error) {
		days = append(days, day)
		return src.Day(ctx, ex, coin, day)
	})

	order := newOrder([]float64{100}, []float64{110}, 40)

	res, err := BacktrackByDay(context.Background(), plainConfig(100), order, counting, Options{Until: orderTime.AddDate(0, 0, 10)})
	require.NoError(t, err)

	assert.True(t, res.Info.IsClosed)
	assert.InDelta(t, 100, res.Info.Pnl, 1e-9)
	assert.Len(t, days, 2, "после закрытия сделки дни больше не запрашиваются")
}

func TestBacktrackByDay_StopsWhenNoData(t *testing.T) {
	order := newOrder([]float64{100}, []float64{110}, 40)
	src := SliceSource{candle(minute(0), 100, 100, 99, 100)}

	res, err := BacktrackByDay(context.Background(), plainConfig(100), order, src, Options{Until: orderTime.AddDate(1, 0, 0)})
	require.NoError(t, err)

	assert.False(t, res.Info.IsClosed)
	assert.Equal(t, 1, res.Info.ReachedEntries)
}

func TestBacktrackByDay_SourceError(t *testing.T) {
	order := newOrder([]float64{100}, []float64{110}, 40)
	boom := errors.New("boom")

	src := daySourceFunc(func(context.Context, string, string, time.Time) ([]models.TradeData, error) {
		return nil, boom
	})

	res, err := BacktrackByDay(context.Background(), plainConfig(100), order, src, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Equal(t, PhaseInitial, res.State.Phase())
}

func TestRunBatch(t *testing.T) {
	good := newOrder([]float64{100}, []float64{110}, 40)
	good.SignalID = "good"

	badConfig := newOrder([]float64{100, 95, 90}, []float64{110}, 40)
	badConfig.SignalID = "bad-config"
	badConfig.Config = &models.CornixConfiguration{Entries: models.NamedStrategy(models.StrategyThreeTargets)}

	unknownCoin := newOrder([]float64{100}, []float64{110}, 40)
	unknownCoin.SignalID = "unknown"
	unknownCoin.Coin = "NOPEUSDT"

	candles := SliceSource{
		candle(minute(0), 100, 100, 99, 100),
		candle(minute(1), 105, 111, 104, 110),
	}

	src := daySourceFunc(func(ctx context.Context, ex, coin string, day time.Time) ([]models.TradeData, error) {
		if coin == "NOPEUSDT" {
			return nil, &exchange.APIError{Exchange: "binance", StatusCode: 400, Code: -1121, Message: "Invalid symbol."}
		}
		return candles.Day(ctx, ex, coin, day)
	})

	var streamed []string
	batch := RunBatch(context.Background(), plainConfig(100), []models.Order{good, badConfig, unknownCoin, unknownCoin}, src, Options{
		Until:    orderTime.AddDate(0, 0, 2),
		OnResult: func(r models.OrderResult) { streamed = append(streamed, r.Order.SignalID) },
	})

	require.Len(t, batch.Results, 4)
	assert.Equal(t, []string{"good", "bad-config", "unknown", "unknown"}, streamed)

	assert.Empty(t, batch.Results[0].Error)
	assert.True(t, batch.Results[0].Result.IsClosed)
	assert.NotEmpty(t, batch.Results[1].Error)
	assert.NotEmpty(t, batch.Results[2].Error)

	assert.Equal(t, []models.InvalidCoin{{
		Exchange: "binance",
		Coin:     "NOPEUSDT",
		Reason:   batch.Results[2].Error,
	}}, batch.InvalidCoins)

	assert.Equal(t, 1, batch.Summary.CountOrders)
	assert.Equal(t, 1, batch.Summary.CountProfitable)
	assert.InDelta(t, 100, batch.Summary.TotalPnl, 1e-9)
}

func TestRunBatch_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := RunBatch(ctx, plainConfig(100), []models.Order{newOrder([]float64{100}, []float64{110}, 40)}, SliceSource{}, Options{})
	assert.Empty(t, batch.Results)
	assert.Zero(t, batch.Summary.CountOrders)
}

func TestSliceSource_Day(t *testing.T) {
	day := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	src := SliceSource{
		candle(day.Add(-time.Minute), 1, 1, 1, 1),
		candle(day, 2, 2, 2, 2),
		candle(day.Add(23*time.Hour+59*time.Minute), 3, 3, 3, 3),
		candle(day.AddDate(0, 0, 1), 4, 4, 4, 4),
	}

	got, err := src.Day(context.Background(), "", "", day.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Open)
	assert.Equal(t, 3.0, got[1].Open)
}

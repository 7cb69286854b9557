package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"backtrack/internal/models"
)

func TestSummarize(t *testing.T) {
	results := []models.TradeResult{
		{IsClosed: true, IsProfitable: true, Pnl: 200, Profit: 200, ReachedTps: 2},
		{IsClosed: true, HitSl: true, Pnl: -100, Profit: -100},
		{IsClosed: true, HitSl: true, IsProfitable: true, Pnl: 50, Profit: 50, ReachedTps: 1},
		{IsClosed: true, IsCancelled: true, Pnl: -300, Profit: -300},
		{Pnl: math.NaN()},
	}

	got := Summarize(results)

	assert.Equal(t, 5, got.CountOrders)
	assert.Equal(t, 2, got.CountProfitable)
	assert.Equal(t, 1, got.CountSl, "стоп в прибыльной сделке не считается")
	assert.Equal(t, 1, got.CountCancelled)
	assert.Equal(t, 1, got.CountOpen)
	assert.Equal(t, -150.0, got.TotalPnl)
	assert.Equal(t, 250.0, got.PositivePnl)
	assert.Equal(t, -400.0, got.NegativePnl)
	assert.Equal(t, -30.0, got.AveragePnl)
	assert.Equal(t, 3, got.TotalReachedTps)
	assert.Equal(t, 0.6, got.AverageReachedTps)
	assert.Equal(t, 20.0, got.PctSl)
	assert.Equal(t, 40.0, got.PctProfitable)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, models.Summary{}, Summarize(nil))
}

func TestEventLog(t *testing.T) {
	quiet := NewEventLog(false)
	quiet.Log(models.InfoEvent(1, "a"))
	quiet.Verbose(models.InfoEvent(2, "b"))
	assert.Equal(t, 1, quiet.Len())

	loud := NewEventLog(true)
	loud.Log(models.InfoEvent(1, "a"))
	loud.Verbose(models.InfoEvent(2, "b"))
	loud.Log(models.InfoEvent(3, "c"))
	assert.Equal(t, 3, loud.Len())
	assert.Equal(t, []models.Event{models.InfoEvent(3, "c")}, loud.Since(2))
	assert.Nil(t, loud.Since(3))

	events := loud.Events()
	events[0].Text = "changed"
	assert.Equal(t, "a", loud.Events()[0].Text)

	var missing *EventLog
	missing.Log(models.InfoEvent(1, "x"))
	assert.Zero(t, missing.Len())
}

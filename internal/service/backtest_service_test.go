package service

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/samber/lo"

	"backtrack/internal/engine"
	"backtrack/internal/models"
	"backtrack/internal/repository"
)

var orderTime = time.Date(2023, 6, 15, 15, 50, 0, 0, time.UTC)

func candle(at time.Time, open, high, low, close float64) models.TradeData {
	return models.TradeData{
		OpenTime:  at.UnixMilli(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
		CloseTime: at.Add(time.Minute).UnixMilli() - 1,
	}
}

// вход по 100 на первой минуте, тейк 110 на второй
var winningCandles = engine.SliceSource{
	candle(orderTime, 100, 100, 99, 100),
	candle(orderTime.Add(time.Minute), 105, 111, 104, 110),
}

func testConfig() models.CornixConfiguration {
	return models.CornixConfiguration{
		Amount:             100,
		Entries:            models.CustomStrategy(100),
		TPs:                models.CustomStrategy(100),
		TrailingTakeProfit: models.NoTrailing(),
		TrailingStop:       models.TrailingStop{Type: models.TrailingStopWithout},
	}
}

func winningOrder(id string) models.Order {
	return models.Order{
		SignalID: id,
		Coin:     "INJUSDT",
		Leverage: 10,
		Exchange: "Binance Futures",
		Date:     orderTime,
		Entries:  []float64{100},
		TPs:      []float64{110},
		SL:       lo.ToPtr(40.0),
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestService() (*BacktestService, *MockRunRepository, *MockResultRepository, *MockBroadcaster) {
	runs := NewMockRunRepository()
	results := NewMockResultRepository()
	hub := &MockBroadcaster{}

	svc := NewBacktestService(winningCandles, nil)
	svc.SetRepositories(runs, results)
	svc.SetWebSocketHub(hub)
	return svc, runs, results, hub
}

func TestBacktestService_RunSingle(t *testing.T) {
	svc, runs, results, hub := newTestService()

	out, err := svc.RunSingle(context.Background(), &RunRequest{
		Orders: []models.Order{winningOrder("a")},
		Config: testConfig(),
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}

	if out.Run.ID != 1 || out.Run.Status != models.RunStatusFinished || out.Run.Mode != models.RunModeSingle {
		t.Errorf("unexpected run %+v", out.Run)
	}
	if out.Summary.CountOrders != 1 || out.Summary.CountProfitable != 1 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	if len(out.Results) != 1 || !approx(out.Results[0].Result.Pnl, 100) {
		t.Fatalf("unexpected results %+v", out.Results)
	}

	stored, err := svc.GetRun(1)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if stored.Status != models.RunStatusFinished || stored.Summary == nil || stored.FinishedAt == nil {
		t.Errorf("stored run not finished: %+v", stored)
	}
	if runs.finished != 1 {
		t.Errorf("Finish called %d times, want 1", runs.finished)
	}

	trades := results.trades[1]
	if len(trades) != 1 {
		t.Fatalf("stored %d trades, want 1", len(trades))
	}
	rec := trades[0]
	if rec.SignalID != "a" || rec.Exchange != "binance" || rec.Direction != models.DirectionLong {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.Events) == 0 {
		t.Error("record must keep the event log")
	}

	want := []string{"runStarted", "tradeResult", "runFinished"}
	if !reflect.DeepEqual(hub.messages, want) {
		t.Errorf("broadcast = %v, want %v", hub.messages, want)
	}
}

func TestBacktestService_RunSingle_Errors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*MockRunRepository, *MockResultRepository)
		req        *RunRequest
		wantErr    error
		wantResult bool
		wantStatus string
	}{
		{
			name:    "no orders",
			req:     &RunRequest{Config: testConfig()},
			wantErr: ErrNoOrders,
		},
		{
			name:    "nil request",
			wantErr: ErrNoOrders,
		},
		{
			name: "create fails",
			setup: func(runs *MockRunRepository, _ *MockResultRepository) {
				runs.createErr = errors.New("db down")
			},
			req: &RunRequest{Orders: []models.Order{winningOrder("a")}, Config: testConfig()},
		},
		{
			name: "save trades fails",
			setup: func(_ *MockRunRepository, results *MockResultRepository) {
				results.saveErr = errors.New("disk full")
			},
			req:        &RunRequest{Orders: []models.Order{winningOrder("a")}, Config: testConfig()},
			wantResult: true,
			wantStatus: models.RunStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, runs, results, _ := newTestService()
			if tt.setup != nil {
				tt.setup(runs, results)
			}

			out, err := svc.RunSingle(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if (out != nil) != tt.wantResult {
				t.Fatalf("result = %v, want present: %v", out, tt.wantResult)
			}
			if out != nil && out.Run.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", out.Run.Status, tt.wantStatus)
			}
		})
	}
}

func TestBacktestService_RunSingle_Cancelled(t *testing.T) {
	svc, runs, _, hub := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := svc.RunSingle(ctx, &RunRequest{
		Orders: []models.Order{winningOrder("a"), winningOrder("b")},
		Config: testConfig(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("cancelled run processed %d orders", len(out.Results))
	}
	if runs.runs[out.Run.ID].Status != models.RunStatusFailed {
		t.Errorf("stored status = %s, want failed", runs.runs[out.Run.ID].Status)
	}
	if hub.finished == nil || hub.finished.Error == "" {
		t.Error("runFinished must carry the error")
	}
}

func TestBacktestService_WithoutPersistence(t *testing.T) {
	svc := NewBacktestService(winningCandles, nil)

	out, err := svc.RunSingle(context.Background(), &RunRequest{
		Orders: []models.Order{winningOrder("a")},
		Config: testConfig(),
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}
	if out.Run.ID != 0 || out.Run.Status != models.RunStatusFinished {
		t.Errorf("unexpected run %+v", out.Run)
	}

	if _, err := svc.GetRun(1); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("GetRun() error = %v, want ErrPersistenceDisabled", err)
	}
	if _, err := svc.ListRuns(10, 0); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("ListRuns() error = %v, want ErrPersistenceDisabled", err)
	}
	if err := svc.DeleteRun(1); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("DeleteRun() error = %v, want ErrPersistenceDisabled", err)
	}
}

func TestBacktestService_RunAccount(t *testing.T) {
	svc, _, results, hub := newTestService()
	svc.SetDefaults(Defaults{InitialBalance: 500})

	out, err := svc.RunAccount(context.Background(), &AccountRunRequest{
		RunRequest: RunRequest{
			Orders: []models.Order{winningOrder("a")},
			Config: testConfig(),
		},
		End: orderTime.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("RunAccount() error = %v", err)
	}

	if out.Run.Mode != models.RunModeAccount || out.Run.AccountInfo == nil {
		t.Fatalf("unexpected run %+v", out.Run)
	}
	info := out.Run.AccountInfo
	if info.InitialBalance != 500 || !approx(info.AvailableBalance, 600) {
		t.Errorf("balances = %v -> %v, want 500 -> 600", info.InitialBalance, info.AvailableBalance)
	}
	if out.Run.Summary == nil || out.Run.Summary.CountOrders != 1 {
		t.Errorf("unexpected summary %+v", out.Run.Summary)
	}
	if len(out.Finished) != 1 {
		t.Errorf("Finished = %d, want 1", len(out.Finished))
	}

	if len(results.trades[out.Run.ID]) != 1 {
		t.Errorf("stored %d trades, want 1", len(results.trades[out.Run.ID]))
	}
	if len(results.daily[out.Run.ID]) != 1 {
		t.Errorf("stored %d daily records, want 1", len(results.daily[out.Run.ID]))
	}

	daily, err := svc.GetDaily(out.Run.ID)
	if err != nil || len(daily) != 1 {
		t.Fatalf("GetDaily() = %v, %v", daily, err)
	}
	if !approx(daily[0].RealizedProfitPerDay, 100) {
		t.Errorf("RealizedProfitPerDay = %v, want 100", daily[0].RealizedProfitPerDay)
	}

	want := []string{"runStarted", "tradeResult", "dailyStats", "runFinished"}
	if !reflect.DeepEqual(hub.messages, want) {
		t.Errorf("broadcast = %v, want %v", hub.messages, want)
	}
}

func TestBacktestService_RunAccount_DailyStoreErrorIsNotFatal(t *testing.T) {
	svc, _, results, _ := newTestService()
	results.dailyErr = errors.New("constraint violation")

	out, err := svc.RunAccount(context.Background(), &AccountRunRequest{
		RunRequest: RunRequest{Orders: []models.Order{winningOrder("a")}, Config: testConfig()},
		End:        orderTime.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("RunAccount() error = %v", err)
	}
	if out.Run.Status != models.RunStatusFinished {
		t.Errorf("status = %s, want finished", out.Run.Status)
	}
}

func TestBacktestService_History(t *testing.T) {
	svc, _, _, _ := newTestService()

	for i := 0; i < 3; i++ {
		if _, err := svc.RunSingle(context.Background(), &RunRequest{
			Orders: []models.Order{winningOrder("a")},
			Config: testConfig(),
		}); err != nil {
			t.Fatalf("RunSingle() error = %v", err)
		}
	}

	tests := []struct {
		name          string
		limit, offset int
		wantIDs       []int
	}{
		{"default limit", 0, 0, []int{3, 2, 1}},
		{"limit", 2, 0, []int{3, 2}},
		{"offset", 2, 2, []int{1}},
		{"negative offset", 1, -5, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := svc.ListRuns(tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			ids := lo.Map(runs, func(r *models.BacktestRun, _ int) int { return r.ID })
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}

	trades, err := svc.GetTrades(2)
	if err != nil || len(trades) != 1 {
		t.Errorf("GetTrades(2) = %v, %v", trades, err)
	}
	if _, err := svc.GetTrades(99); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("GetTrades(99) error = %v, want ErrRunNotFound", err)
	}

	if err := svc.DeleteRun(1); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := svc.GetRun(1); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("GetRun() after delete error = %v", err)
	}
}

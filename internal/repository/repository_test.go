package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"backtrack/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// ============================================================
// Schema
// ============================================================

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)

	for range schema {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrate_Error(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS backtest_runs`).WillReturnError(errors.New("permission denied"))

	if err := Migrate(db); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ============================================================
// RunRepository Tests
// ============================================================

var runColumnNames = []string{"id", "mode", "status", "orders_count", "summary", "account_info", "error_message", "created_at", "finished_at"}

func TestRunRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		run         *models.BacktestRun
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			run:  &models.BacktestRun{Mode: models.RunModeAccount, OrdersCount: 3},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO backtest_runs`).
					WithArgs(models.RunModeAccount, models.RunStatusRunning, 3, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
		},
		{
			name: "database error",
			run:  &models.BacktestRun{Mode: models.RunModeSingle},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO backtest_runs`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			tt.mockSetup(mock)

			err := NewRunRepository(db).Create(tt.run)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.run.ID != 7 {
					t.Errorf("expected ID=7, got %d", tt.run.ID)
				}
				if tt.run.Status != models.RunStatusRunning {
					t.Errorf("expected status running, got %s", tt.run.Status)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRunRepositoryFinish(t *testing.T) {
	summary := &models.Summary{CountOrders: 2, TotalPnl: 15}

	tests := []struct {
		name      string
		rows      int64
		execErr   error
		wantErr   error
		wantError bool
	}{
		{name: "success", rows: 1},
		{name: "not found", rows: 0, wantErr: ErrRunNotFound, wantError: true},
		{name: "database error", execErr: errors.New("database error"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)

			expect := mock.ExpectExec(`UPDATE backtest_runs`).
				WithArgs(models.RunStatusFinished, sqlmock.AnyArg(), sqlmock.AnyArg(), "", sqlmock.AnyArg(), 7)
			if tt.execErr != nil {
				expect.WillReturnError(tt.execErr)
			} else {
				expect.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}

			run := &models.BacktestRun{ID: 7, Status: models.RunStatusFinished, Summary: summary}
			err := NewRunRepository(db).Finish(run)

			if tt.wantError && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if run.FinishedAt == nil {
				t.Error("FinishedAt must be set")
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRunRepositoryGetByID(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found with json columns", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`SELECT (.+) FROM backtest_runs WHERE id = \$1`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(runColumnNames).AddRow(
				3, models.RunModeAccount, models.RunStatusFinished, 2,
				[]byte(`{"countOrders":2,"totalPnl":12.5}`),
				[]byte(`{"initialBalance":1000,"availableBalance":1012.5}`),
				nil, created, created,
			))

		run, err := NewRunRepository(db).GetByID(3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if run.Mode != models.RunModeAccount || run.OrdersCount != 2 {
			t.Errorf("unexpected run %+v", run)
		}
		if run.Summary == nil || run.Summary.TotalPnl != 12.5 {
			t.Errorf("summary = %+v", run.Summary)
		}
		if run.AccountInfo == nil || run.AccountInfo.AvailableBalance != 1012.5 {
			t.Errorf("account info = %+v", run.AccountInfo)
		}
		if run.FinishedAt == nil || !run.FinishedAt.Equal(created) {
			t.Errorf("finished at = %v", run.FinishedAt)
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`SELECT (.+) FROM backtest_runs`).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := NewRunRepository(db).GetByID(99)
		if !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("corrupt summary", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`SELECT (.+) FROM backtest_runs`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(runColumnNames).AddRow(
				1, models.RunModeSingle, models.RunStatusFinished, 1,
				[]byte(`{not json`), nil, "", created, nil,
			))

		if _, err := NewRunRepository(db).GetByID(1); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestRunRepositoryList(t *testing.T) {
	db, mock := newMock(t)
	created := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM backtest_runs\s+ORDER BY created_at DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(runColumnNames).
			AddRow(2, models.RunModeSingle, models.RunStatusRunning, 5, nil, nil, "", created, nil).
			AddRow(1, models.RunModeSingle, models.RunStatusFailed, 1, nil, nil, "boom", created, created))

	runs, err := NewRunRepository(db).List(20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[1].Error != "boom" || runs[1].Status != models.RunStatusFailed {
		t.Errorf("unexpected run %+v", runs[1])
	}
	if runs[0].FinishedAt != nil {
		t.Error("running run must not have FinishedAt")
	}
}

func TestRunRepositoryDelete(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM backtest_runs`).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewRunRepository(db).Delete(5); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// ============================================================
// ResultRepository Tests
// ============================================================

func TestResultRepositorySaveTradeResults(t *testing.T) {
	db, mock := newMock(t)

	records := []*models.TradeResultRecord{
		{SignalID: "a", Coin: "INJUSDT", Exchange: "binance", Direction: models.DirectionLong, Result: models.TradeResult{Pnl: 10}},
		{SignalID: "b", Coin: "SUSHIUSDT", Exchange: "bybit", Direction: models.DirectionShort},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO trade_results`)
	prep.ExpectQuery().
		WithArgs(4, "a", "INJUSDT", "binance", "LONG", sqlmock.AnyArg(), []byte(`[]`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	prep.ExpectQuery().
		WithArgs(4, "b", "SUSHIUSDT", "bybit", "SHORT", sqlmock.AnyArg(), []byte(`[]`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	if err := NewResultRepository(db).SaveTradeResults(4, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].ID != 11 || records[1].ID != 12 || records[1].RunID != 4 {
		t.Errorf("ids not assigned: %+v %+v", records[0], records[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestResultRepositorySaveTradeResults_RollbackOnError(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO trade_results`).
		ExpectQuery().
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := NewResultRepository(db).SaveTradeResults(1, []*models.TradeResultRecord{{Coin: "X"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestResultRepositorySaveTradeResults_Empty(t *testing.T) {
	db, mock := newMock(t)

	if err := NewResultRepository(db).SaveTradeResults(1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no queries expected: %v", err)
	}
}

func TestResultRepositoryGetTradeResults(t *testing.T) {
	db, mock := newMock(t)
	created := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM trade_results`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "signal_id", "coin", "exchange", "direction", "result", "events", "created_at"}).
			AddRow(11, 4, "a", "INJUSDT", "binance", "LONG",
				[]byte(`{"pnl":10,"isClosed":true}`),
				[]byte(`[{"type":"entry","timestamp":1686844200000,"price":100}]`),
				created))

	records, err := NewResultRepository(db).GetTradeResults(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Direction != models.DirectionLong || rec.Result.Pnl != 10 || !rec.Result.IsClosed {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.Events) != 1 {
		t.Errorf("expected 1 event, got %d", len(rec.Events))
	}
}

func TestResultRepositoryDailyStats(t *testing.T) {
	db, mock := newMock(t)
	day := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)

	stats := models.AccountDailyStats{
		Day:                  day,
		AccountBalance:       1100,
		RealizedProfitPerDay: 100,
		RealizedPnlPerDay:    10,
	}

	mock.ExpectExec(`INSERT INTO account_daily_stats`).
		WithArgs(4, day, 1100.0, 0.0, 100.0, 0.0, 10.0, 0.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT (.+) FROM account_daily_stats`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "day", "account_balance", "balance_in_orders", "realized_profit", "unrealized_profit", "realized_pnl", "unrealized_pnl"}).
			AddRow(1, 4, day, 1100.0, 0.0, 100.0, 0.0, 10.0, 0.0))

	repo := NewResultRepository(db)
	if err := repo.SaveDailyStats(4, stats); err != nil {
		t.Fatalf("SaveDailyStats: %v", err)
	}

	records, err := repo.GetDailyStats(4)
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].RunID != 4 || records[0].AccountDailyStats != stats {
		t.Errorf("unexpected record %+v", records[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

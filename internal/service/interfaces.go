package service

import (
	"context"

	"backtrack/internal/models"
	"backtrack/internal/repository"
)

// RunRepositoryInterface определяет интерфейс репозитория прогонов
type RunRepositoryInterface interface {
	Create(run *models.BacktestRun) error
	Finish(run *models.BacktestRun) error
	GetByID(id int) (*models.BacktestRun, error)
	List(limit, offset int) ([]*models.BacktestRun, error)
	Delete(id int) error
}

// ResultRepositoryInterface определяет интерфейс репозитория результатов
type ResultRepositoryInterface interface {
	SaveTradeResults(runID int, records []*models.TradeResultRecord) error
	GetTradeResults(runID int) ([]*models.TradeResultRecord, error)
	SaveDailyStats(runID int, stats models.AccountDailyStats) error
	GetDailyStats(runID int) ([]*models.DailyStatsRecord, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ RunRepositoryInterface = (*repository.RunRepository)(nil)
var _ ResultRepositoryInterface = (*repository.ResultRepository)(nil)

// RunBroadcaster - интерфейс для трансляции хода прогона через WebSocket
type RunBroadcaster interface {
	BroadcastRunStarted(run *models.BacktestRun)
	BroadcastTradeResult(runID int, result models.OrderResult)
	BroadcastDailyStats(runID int, stats models.AccountDailyStats)
	BroadcastRunFinished(run *models.BacktestRun)
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// BacktestServiceInterface определяет интерфейс сервиса бэктестов
type BacktestServiceInterface interface {
	RunSingle(ctx context.Context, req *RunRequest) (*SingleRun, error)
	RunAccount(ctx context.Context, req *AccountRunRequest) (*AccountRun, error)
	GetRun(id int) (*models.BacktestRun, error)
	ListRuns(limit, offset int) ([]*models.BacktestRun, error)
	GetTrades(runID int) ([]*models.TradeResultRecord, error)
	GetDaily(runID int) ([]*models.DailyStatsRecord, error)
	DeleteRun(id int) error
}

var _ BacktestServiceInterface = (*BacktestService)(nil)

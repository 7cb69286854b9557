package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backtrack/internal/account"
	"backtrack/internal/cornix"
	"backtrack/internal/engine"
	"backtrack/internal/exchange"
	"backtrack/internal/metrics"
	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// Ошибки сервиса бэктестов
var (
	ErrNoOrders            = errors.New("no orders to backtest")
	ErrPersistenceDisabled = errors.New("run persistence is disabled")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Defaults - параметры прогона по умолчанию из конфигурации сервера
type Defaults struct {
	Exchange        string // для ордеров без exchange
	InitialBalance  float64
	MaxActiveOrders int // 0 = из cornix-конфигурации
	Prefetch        int
}

// RunRequest - набор ордеров и конфигурация прогона
type RunRequest struct {
	Orders      []models.Order
	Config      models.CornixConfiguration
	DetailedLog bool
	Verbose     bool
}

// AccountRunRequest - прогон аккаунта; нулевые поля берутся из Defaults
type AccountRunRequest struct {
	RunRequest
	InitialBalance  float64
	MaxActiveOrders int
	End             time.Time
}

// SingleRun - итог прогона одиночных сделок
type SingleRun struct {
	Run *models.BacktestRun `json:"run"`
	engine.BatchResult
}

// AccountRun - итог прогона аккаунта
type AccountRun struct {
	Run *models.BacktestRun `json:"run"`
	*account.Result
}

// BacktestService запускает прогоны и ведёт их историю.
//
// Функции:
// - RunSingle: независимый прогон каждого ордера (engine.RunBatch)
// - RunAccount: симуляция счёта с общим балансом (account.Simulate)
// - GetRun / ListRuns / GetTrades / GetDaily / DeleteRun: история прогонов
//
// Хранилище опционально: без репозиториев прогоны выполняются,
// но не сохраняются, а запросы истории возвращают ErrPersistenceDisabled.
//
// WebSocket интеграция:
// - runStarted при создании прогона
// - tradeResult по каждому завершённому ордеру
// - dailyStats по каждому закрытому дню аккаунта
// - runFinished с итоговой сводкой
type BacktestService struct {
	runRepo    RunRepositoryInterface
	resultRepo ResultRepositoryInterface
	source     engine.DaySource
	defaults   Defaults
	logger     *zap.Logger
	wsHub      RunBroadcaster
}

// NewBacktestService создает сервис поверх источника дневных свечей
func NewBacktestService(source engine.DaySource, logger *zap.Logger) *BacktestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacktestService{
		source: source,
		logger: logger,
	}
}

// SetRepositories включает сохранение прогонов
func (s *BacktestService) SetRepositories(runs RunRepositoryInterface, results ResultRepositoryInterface) {
	s.runRepo = runs
	s.resultRepo = results
}

// SetDefaults задаёт параметры прогона по умолчанию
func (s *BacktestService) SetDefaults(d Defaults) {
	s.defaults = d
}

// SetWebSocketHub устанавливает WebSocket hub для трансляции прогонов.
//
// Вызывается после инициализации Hub в main.go:
//
//	backtestService := service.NewBacktestService(provider, logger)
//	backtestService.SetWebSocketHub(wsHub)
func (s *BacktestService) SetWebSocketHub(hub RunBroadcaster) {
	s.wsHub = hub
}

func (s *BacktestService) persistent() bool {
	return s.runRepo != nil && s.resultRepo != nil
}

// ============ Прогоны ============

// RunSingle прогоняет каждый ордер независимо.
//
// Ошибки отдельных ордеров попадают в OrderResult.Error и не прерывают
// прогон. Ошибка возвращается при отмене ctx или сбое сохранения;
// результат при этом тоже возвращается.
func (s *BacktestService) RunSingle(ctx context.Context, req *RunRequest) (*SingleRun, error) {
	if req == nil || len(req.Orders) == 0 {
		return nil, ErrNoOrders
	}

	run, err := s.startRun(models.RunModeSingle, len(req.Orders))
	if err != nil {
		return nil, err
	}
	orders := s.withDefaultExchange(req.Orders)

	var records []*models.TradeResultRecord
	batch := engine.RunBatch(ctx, req.Config, orders, s.source, engine.Options{
		DetailedLog: req.DetailedLog,
		Verbose:     req.Verbose,
		Logger:      s.logger,
		OnResult: func(res models.OrderResult) {
			if res.Error == "" {
				records = append(records, toRecord(res))
			}
			if s.wsHub != nil {
				s.wsHub.BroadcastTradeResult(run.ID, res)
			}
		},
	})

	run.Summary = &batch.Summary

	runErr := ctx.Err()
	if err := s.saveTrades(run.ID, records); err != nil && runErr == nil {
		runErr = err
	}
	s.finishRun(run, runErr)

	return &SingleRun{Run: run, BatchResult: batch}, runErr
}

// RunAccount симулирует счёт по ордерам в хронологическом порядке
func (s *BacktestService) RunAccount(ctx context.Context, req *AccountRunRequest) (*AccountRun, error) {
	if req == nil || len(req.Orders) == 0 {
		return nil, ErrNoOrders
	}

	run, err := s.startRun(models.RunModeAccount, len(req.Orders))
	if err != nil {
		return nil, err
	}

	opts := account.Options{
		InitialBalance:  req.InitialBalance,
		MaxActiveOrders: req.MaxActiveOrders,
		End:             req.End,
		DetailedLog:     req.DetailedLog,
		Verbose:         req.Verbose,
		Prefetch:        s.defaults.Prefetch,
		Logger:          s.logger,
		OnDailyStats: func(stats models.AccountDailyStats) {
			s.saveDaily(run.ID, stats)
			if s.wsHub != nil {
				s.wsHub.BroadcastDailyStats(run.ID, stats)
			}
		},
		OnOrderFinished: func(res models.OrderResult) {
			if s.wsHub != nil {
				s.wsHub.BroadcastTradeResult(run.ID, res)
			}
		},
	}
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = s.defaults.InitialBalance
	}
	if opts.MaxActiveOrders == 0 {
		opts.MaxActiveOrders = s.defaults.MaxActiveOrders
	}

	res, runErr := account.Simulate(ctx, req.Config, s.withDefaultExchange(req.Orders), s.source, opts)
	if res != nil {
		results := make([]models.TradeResult, 0, len(res.Finished)+len(res.Active))
		records := make([]*models.TradeResultRecord, 0, len(res.Finished)+len(res.Active))
		for _, group := range [][]models.OrderResult{res.Finished, res.Active} {
			for _, r := range group {
				results = append(results, r.Result)
				records = append(records, toRecord(r))
			}
		}

		summary := engine.Summarize(results)
		info := res.Info
		run.Summary = &summary
		run.AccountInfo = &info

		if err := s.saveTrades(run.ID, records); err != nil && runErr == nil {
			runErr = err
		}
	}
	s.finishRun(run, runErr)

	return &AccountRun{Run: run, Result: res}, runErr
}

func (s *BacktestService) startRun(mode string, ordersCount int) (*models.BacktestRun, error) {
	run := &models.BacktestRun{
		Mode:        mode,
		Status:      models.RunStatusRunning,
		OrdersCount: ordersCount,
		CreatedAt:   time.Now(),
	}

	if s.persistent() {
		if err := s.runRepo.Create(run); err != nil {
			metrics.RecordRun(mode, models.RunStatusFailed)
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	}

	s.logger.Info("backtest run started",
		utils.RunID(run.ID),
		zap.String("mode", mode),
		zap.Int("orders", ordersCount))

	if s.wsHub != nil {
		s.wsHub.BroadcastRunStarted(run)
	}
	return run, nil
}

func (s *BacktestService) finishRun(run *models.BacktestRun, runErr error) {
	run.Status = models.RunStatusFinished
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	if s.persistent() {
		if err := s.runRepo.Finish(run); err != nil {
			s.logger.Error("failed to store run result", utils.RunID(run.ID), zap.Error(err))
		}
	}
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	metrics.RecordRun(run.Mode, run.Status)

	fields := []zap.Field{
		utils.RunID(run.ID),
		zap.String("mode", run.Mode),
		zap.String("status", run.Status),
	}
	if run.Summary != nil {
		fields = append(fields,
			zap.Int("orders", run.Summary.CountOrders),
			zap.Float64("total_pnl", run.Summary.TotalPnl))
	}
	if runErr != nil {
		s.logger.Warn("backtest run failed", append(fields, zap.Error(runErr))...)
	} else {
		s.logger.Info("backtest run finished", fields...)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastRunFinished(run)
	}
}

func (s *BacktestService) saveTrades(runID int, records []*models.TradeResultRecord) error {
	if !s.persistent() {
		return nil
	}
	if err := s.resultRepo.SaveTradeResults(runID, records); err != nil {
		return fmt.Errorf("failed to store trade results: %w", err)
	}
	return nil
}

// saveDaily вызывается из цикла симуляции, ошибка только логируется
func (s *BacktestService) saveDaily(runID int, stats models.AccountDailyStats) {
	if !s.persistent() {
		return
	}
	if err := s.resultRepo.SaveDailyStats(runID, stats); err != nil {
		s.logger.Error("failed to store daily stats",
			utils.RunID(runID),
			zap.Time("day", stats.Day),
			zap.Error(err))
	}
}

// withDefaultExchange возвращает копию ордеров с заполненной биржей
func (s *BacktestService) withDefaultExchange(orders []models.Order) []models.Order {
	if s.defaults.Exchange == "" {
		return orders
	}
	out := make([]models.Order, len(orders))
	for i, o := range orders {
		if o.Exchange == "" {
			o.Exchange = s.defaults.Exchange
		}
		out[i] = o
	}
	return out
}

func toRecord(res models.OrderResult) *models.TradeResultRecord {
	direction := res.Order.Direction
	if direction == "" {
		direction = cornix.InferDirection(res.Order)
	}
	return &models.TradeResultRecord{
		SignalID:  res.Order.SignalID,
		Coin:      res.Order.Coin,
		Exchange:  exchange.Normalize(res.Order.Exchange),
		Direction: direction,
		Result:    res.Result,
		Events:    res.Events,
	}
}

// ============ История ============

// GetRun возвращает прогон по ID
func (s *BacktestService) GetRun(id int) (*models.BacktestRun, error) {
	if !s.persistent() {
		return nil, ErrPersistenceDisabled
	}
	return s.runRepo.GetByID(id)
}

// ListRuns возвращает последние прогоны, limit ограничен maxListLimit
func (s *BacktestService) ListRuns(limit, offset int) ([]*models.BacktestRun, error) {
	if !s.persistent() {
		return nil, ErrPersistenceDisabled
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.runRepo.List(limit, offset)
}

// GetTrades возвращает результаты ордеров прогона
func (s *BacktestService) GetTrades(runID int) ([]*models.TradeResultRecord, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	return s.resultRepo.GetTradeResults(runID)
}

// GetDaily возвращает дневную статистику прогона аккаунта
func (s *BacktestService) GetDaily(runID int) ([]*models.DailyStatsRecord, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	return s.resultRepo.GetDailyStats(runID)
}

// DeleteRun удаляет прогон вместе с результатами
func (s *BacktestService) DeleteRun(id int) error {
	if !s.persistent() {
		return ErrPersistenceDisabled
	}
	return s.runRepo.Delete(id)
}

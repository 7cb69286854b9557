package handlers

import (
	"context"

	"backtrack/internal/models"
	"backtrack/internal/repository"
	"backtrack/internal/service"
)

// ============ Mock BacktestService ============

type MockBacktestService struct {
	runs   map[int]*models.BacktestRun
	trades map[int][]*models.TradeResultRecord
	daily  map[int][]*models.DailyStatsRecord

	runErr     error
	partialErr bool
	listErr    error

	lastSingle  *service.RunRequest
	lastAccount *service.AccountRunRequest
	lastLimit   int
	lastOffset  int
}

func NewMockBacktestService() *MockBacktestService {
	return &MockBacktestService{
		runs:   make(map[int]*models.BacktestRun),
		trades: make(map[int][]*models.TradeResultRecord),
		daily:  make(map[int][]*models.DailyStatsRecord),
	}
}

func (m *MockBacktestService) RunSingle(ctx context.Context, req *service.RunRequest) (*service.SingleRun, error) {
	m.lastSingle = req
	if len(req.Orders) == 0 {
		return nil, service.ErrNoOrders
	}
	run := &models.BacktestRun{ID: 1, Mode: models.RunModeSingle, Status: models.RunStatusFinished, OrdersCount: len(req.Orders)}
	out := &service.SingleRun{Run: run}
	out.Summary.CountOrders = len(req.Orders)
	if m.runErr != nil {
		if m.partialErr {
			return out, m.runErr
		}
		return nil, m.runErr
	}
	return out, nil
}

func (m *MockBacktestService) RunAccount(ctx context.Context, req *service.AccountRunRequest) (*service.AccountRun, error) {
	m.lastAccount = req
	if m.runErr != nil {
		return nil, m.runErr
	}
	run := &models.BacktestRun{ID: 2, Mode: models.RunModeAccount, Status: models.RunStatusFinished, OrdersCount: len(req.Orders)}
	return &service.AccountRun{Run: run}, nil
}

func (m *MockBacktestService) GetRun(id int) (*models.BacktestRun, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	return run, nil
}

func (m *MockBacktestService) ListRuns(limit, offset int) ([]*models.BacktestRun, error) {
	m.lastLimit, m.lastOffset = limit, offset
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.BacktestRun
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}

func (m *MockBacktestService) GetTrades(runID int) ([]*models.TradeResultRecord, error) {
	if _, err := m.GetRun(runID); err != nil {
		return nil, err
	}
	return m.trades[runID], nil
}

func (m *MockBacktestService) GetDaily(runID int) ([]*models.DailyStatsRecord, error) {
	if _, err := m.GetRun(runID); err != nil {
		return nil, err
	}
	return m.daily[runID], nil
}

func (m *MockBacktestService) DeleteRun(id int) error {
	if _, err := m.GetRun(id); err != nil {
		return err
	}
	delete(m.runs, id)
	return nil
}

var _ service.BacktestServiceInterface = (*MockBacktestService)(nil)

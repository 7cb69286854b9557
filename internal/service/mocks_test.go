package service

import (
	"sort"
	"sync"
	"time"

	"backtrack/internal/models"
	"backtrack/internal/repository"
)

// ============ Mock RunRepository ============

type MockRunRepository struct {
	runs      map[int]*models.BacktestRun
	createErr error
	finishErr error
	getErr    error
	nextID    int
	finished  int
}

func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		runs:   make(map[int]*models.BacktestRun),
		nextID: 1,
	}
}

func (m *MockRunRepository) Create(run *models.BacktestRun) error {
	if m.createErr != nil {
		return m.createErr
	}
	run.ID = m.nextID
	m.nextID++
	run.CreatedAt = time.Now()
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *MockRunRepository) Finish(run *models.BacktestRun) error {
	if m.finishErr != nil {
		return m.finishErr
	}
	if _, ok := m.runs[run.ID]; !ok {
		return repository.ErrRunNotFound
	}
	now := time.Now()
	run.FinishedAt = &now
	stored := *run
	m.runs[run.ID] = &stored
	m.finished++
	return nil
}

func (m *MockRunRepository) GetByID(id int) (*models.BacktestRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	return run, nil
}

func (m *MockRunRepository) List(limit, offset int) ([]*models.BacktestRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	runs := make([]*models.BacktestRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MockRunRepository) Delete(id int) error {
	if _, ok := m.runs[id]; !ok {
		return repository.ErrRunNotFound
	}
	delete(m.runs, id)
	return nil
}

// ============ Mock ResultRepository ============

type MockResultRepository struct {
	trades   map[int][]*models.TradeResultRecord
	daily    map[int][]models.AccountDailyStats
	saveErr  error
	dailyErr error
}

func NewMockResultRepository() *MockResultRepository {
	return &MockResultRepository{
		trades: make(map[int][]*models.TradeResultRecord),
		daily:  make(map[int][]models.AccountDailyStats),
	}
}

func (m *MockResultRepository) SaveTradeResults(runID int, records []*models.TradeResultRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, rec := range records {
		rec.RunID = runID
	}
	m.trades[runID] = append(m.trades[runID], records...)
	return nil
}

func (m *MockResultRepository) GetTradeResults(runID int) ([]*models.TradeResultRecord, error) {
	return m.trades[runID], nil
}

func (m *MockResultRepository) SaveDailyStats(runID int, stats models.AccountDailyStats) error {
	if m.dailyErr != nil {
		return m.dailyErr
	}
	m.daily[runID] = append(m.daily[runID], stats)
	return nil
}

func (m *MockResultRepository) GetDailyStats(runID int) ([]*models.DailyStatsRecord, error) {
	var out []*models.DailyStatsRecord
	for i, d := range m.daily[runID] {
		out = append(out, &models.DailyStatsRecord{ID: i + 1, RunID: runID, AccountDailyStats: d})
	}
	return out, nil
}

// ============ Mock Broadcaster ============

type MockBroadcaster struct {
	mu       sync.Mutex
	messages []string
	trades   []models.OrderResult
	daily    []models.AccountDailyStats
	finished *models.BacktestRun
}

func (m *MockBroadcaster) BroadcastRunStarted(run *models.BacktestRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, "runStarted")
}

func (m *MockBroadcaster) BroadcastTradeResult(runID int, result models.OrderResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, "tradeResult")
	m.trades = append(m.trades, result)
}

func (m *MockBroadcaster) BroadcastDailyStats(runID int, stats models.AccountDailyStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, "dailyStats")
	m.daily = append(m.daily, stats)
}

func (m *MockBroadcaster) BroadcastRunFinished(run *models.BacktestRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, "runFinished")
	copied := *run
	m.finished = &copied
}

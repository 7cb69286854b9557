package models

import "time"

// BacktestRun представляет запись о прогоне бэктеста
type BacktestRun struct {
	ID          int          `json:"id" db:"id"`
	Mode        string       `json:"mode" db:"mode"`     // single, account
	Status      string       `json:"status" db:"status"` // running, finished, failed
	OrdersCount int          `json:"orders_count" db:"orders_count"`
	Summary     *Summary     `json:"summary,omitempty" db:"summary"`           // JSONB
	AccountInfo *AccountInfo `json:"account_info,omitempty" db:"account_info"` // JSONB, только account
	Error       string       `json:"error,omitempty" db:"error_message"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}

// Режимы прогона
const (
	RunModeSingle  = "single"
	RunModeAccount = "account"
)

// Статусы прогона
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// TradeResultRecord - результат одного ордера внутри прогона
type TradeResultRecord struct {
	ID        int         `json:"id" db:"id"`
	RunID     int         `json:"run_id" db:"run_id"`
	SignalID  string      `json:"signal_id" db:"signal_id"`
	Coin      string      `json:"coin" db:"coin"`
	Exchange  string      `json:"exchange" db:"exchange"`
	Direction Direction   `json:"direction" db:"direction"`
	Result    TradeResult `json:"result" db:"result"` // JSONB
	Events    []Event     `json:"events" db:"events"` // JSONB
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// DailyStatsRecord - дневной срез аккаунта внутри прогона
type DailyStatsRecord struct {
	ID    int `json:"id" db:"id"`
	RunID int `json:"run_id" db:"run_id"`
	AccountDailyStats
}

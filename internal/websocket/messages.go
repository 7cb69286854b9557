package websocket

import (
	"time"

	"backtrack/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRunStarted - прогон создан и начал обработку ордеров
	MessageTypeRunStarted MessageType = "runStarted"

	// MessageTypeTradeResult - ордер прогона завершён (или прерван ошибкой)
	MessageTypeTradeResult MessageType = "tradeResult"

	// MessageTypeDailyStats - закрыт симулированный день аккаунта
	MessageTypeDailyStats MessageType = "dailyStats"

	// MessageTypeRunFinished - прогон завершён, содержит итоговую сводку
	MessageTypeRunFinished MessageType = "runFinished"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// RunMessage - runStarted / runFinished
//
// Для runStarted Summary и AccountInfo пустые, для runFinished
// содержат итог прогона. ID равен 0, если хранилище отключено.
type RunMessage struct {
	BaseMessage
	Run *models.BacktestRun `json:"run"`
}

// NewRunStartedMessage создает сообщение о старте прогона
func NewRunStartedMessage(run *models.BacktestRun) *RunMessage {
	return &RunMessage{BaseMessage: newBase(MessageTypeRunStarted), Run: run}
}

// NewRunFinishedMessage создает сообщение о завершении прогона
func NewRunFinishedMessage(run *models.BacktestRun) *RunMessage {
	return &RunMessage{BaseMessage: newBase(MessageTypeRunFinished), Run: run}
}

// TradeResultMessage - результат одного ордера
//
// Events не передаются: полный журнал доступен через
// GET /api/v1/backtests/{id}/trades.
type TradeResultMessage struct {
	BaseMessage
	RunID int              `json:"run_id"`
	Data  *TradeResultData `json:"data"`
}

// TradeResultData - данные результата ордера
type TradeResultData struct {
	SignalID  string             `json:"signal_id,omitempty"`
	Coin      string             `json:"coin"`
	Exchange  string             `json:"exchange"`
	Direction models.Direction   `json:"direction"`
	Result    models.TradeResult `json:"result"`
	Error     string             `json:"error,omitempty"`
}

// NewTradeResultMessage создает сообщение из результата ордера
func NewTradeResultMessage(runID int, res models.OrderResult) *TradeResultMessage {
	return &TradeResultMessage{
		BaseMessage: newBase(MessageTypeTradeResult),
		RunID:       runID,
		Data: &TradeResultData{
			SignalID:  res.Order.SignalID,
			Coin:      res.Order.Coin,
			Exchange:  res.Order.Exchange,
			Direction: res.Order.Direction,
			Result:    res.Result,
			Error:     res.Error,
		},
	}
}

// DailyStatsMessage - дневной срез аккаунта
type DailyStatsMessage struct {
	BaseMessage
	RunID int                       `json:"run_id"`
	Data  *models.AccountDailyStats `json:"data"`
}

// NewDailyStatsMessage создает сообщение с дневной статистикой
func NewDailyStatsMessage(runID int, stats models.AccountDailyStats) *DailyStatsMessage {
	return &DailyStatsMessage{
		BaseMessage: newBase(MessageTypeDailyStats),
		RunID:       runID,
		Data:        &stats,
	}
}

package models

import "time"

// Причины пропуска ордера в режиме аккаунта
const (
	SkipReasonMaxActiveOrders     = "max active orders limit reached"
	SkipReasonInsufficientBalance = "insufficient balance"
	SkipReasonInvalidOrder        = "invalid order"
	SkipReasonInvalidCoin         = "invalid coin"
)

// SkippedOrder - ордер, отклонённый при допуске
type SkippedOrder struct {
	Order  Order     `json:"order"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// AccountInfo - сводка по прогону аккаунта
type AccountInfo struct {
	InitialBalance             float64 `json:"initialBalance"`
	AvailableBalance           float64 `json:"availableBalance"`
	BalanceInOrders            float64 `json:"balanceInOrders"`
	CountActiveOrders          int     `json:"countActiveOrders"`
	CountFinishedOrders        int     `json:"countFinishedOrders"`
	CountSkippedOrders         int     `json:"countSkippedOrders"`
	OpenOrdersProfit           float64 `json:"openOrdersProfit"`
	OpenOrdersUnrealizedProfit float64 `json:"openOrdersUnrealizedProfit"`
	OpenOrdersRealizedProfit   float64 `json:"openOrdersRealizedProfit"`
	ClosedOrdersProfit         float64 `json:"closedOrdersProfit"`
	RealizedProfit             float64 `json:"realizedProfit"`
	LargestAccountDrawdownPct  float64 `json:"largestAccountDrawdownPct"`
	LargestAccountGainPct      float64 `json:"largestAccountGainPct"`
	LargestOrderDrawdownPct    float64 `json:"largestOrderDrawdownPct"`
	LargestOrderGainPct        float64 `json:"largestOrderGainPct"`
}

// AccountDailyStats - дневной срез аккаунта (UTC)
type AccountDailyStats struct {
	Day                    time.Time `json:"day"`
	AccountBalance         float64   `json:"accountBalance"`
	BalanceInOrders        float64   `json:"balanceInOrders"`
	RealizedProfitPerDay   float64   `json:"realizedProfitPerDay"`
	UnrealizedProfitPerDay float64   `json:"unrealizedProfitPerDay"`
	RealizedPnlPerDay      float64   `json:"realizedPnlPerDay"`
	UnrealizedPnlPerDay    float64   `json:"unrealizedPnlPerDay"`
}

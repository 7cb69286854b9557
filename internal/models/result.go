package models

import "time"

// TradeResult - снимок итогов одной сделки
type TradeResult struct {
	ReachedEntries    int        `json:"reachedEntries"`
	ReachedTps        int        `json:"reachedTps"`
	ReachedAllEntries bool       `json:"reachedAllEntries"`
	ReachedAllTps     bool       `json:"reachedAllTps"`
	OpenTime          time.Time  `json:"openTime"`
	CloseTime         *time.Time `json:"closeTime"`
	IsClosed          bool       `json:"isClosed"`
	IsCancelled       bool       `json:"isCancelled"`
	IsProfitable      bool       `json:"isProfitable"`
	Pnl               float64    `json:"pnl"`    // % от потраченной суммы без плеча
	Profit            float64    `json:"profit"` // в USDT
	HitSl             bool       `json:"hitSl"`
	AverageEntryPrice float64    `json:"averageEntryPrice"`
	AverageSalePrice  float64    `json:"averageSalePrice"`
	AllocatedAmount   float64    `json:"allocatedAmount"`
	SpentAmount       float64    `json:"spentAmount"`
	SoldAmount        float64    `json:"soldAmount"`
	RealizedProfit    float64    `json:"realizedProfit"`
	UnrealizedProfit  float64    `json:"unrealizedProfit"`
	BoughtCoins       float64    `json:"boughtCoins"`
}

// OrderResult - итог прогона одного ордера
type OrderResult struct {
	Order  Order       `json:"order"`
	Result TradeResult `json:"result"`
	Events []Event     `json:"events"`
	Error  string      `json:"error,omitempty"`
}

// Summary - агрегированная статистика по набору сделок
type Summary struct {
	CountOrders       int     `json:"countOrders"`
	CountProfitable   int     `json:"countProfitable"`
	CountSl           int     `json:"countSl"`
	CountCancelled    int     `json:"countCancelled"`
	CountOpen         int     `json:"countOpen"`
	TotalPnl          float64 `json:"totalPnl"`
	AveragePnl        float64 `json:"averagePnl"`
	PositivePnl       float64 `json:"positivePnl"`
	NegativePnl       float64 `json:"negativePnl"`
	TotalProfit       float64 `json:"totalProfit"`
	TotalReachedTps   int     `json:"totalReachedTps"`
	AverageReachedTps float64 `json:"averageReachedTps"`
	PctSl             float64 `json:"pctSl"`
	PctProfitable     float64 `json:"pctProfitable"`
}

// InvalidCoin - монета, по которой биржа вернула 400/404
type InvalidCoin struct {
	Exchange string `json:"exchange"`
	Coin     string `json:"coin"`
	Reason   string `json:"reason,omitempty"`
}

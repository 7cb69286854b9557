package models

import "time"

// Direction - направление сделки
type Direction string

// Направления сделки
const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Типы внешних событий жизненного цикла ордера
const (
	OrderEventCancelled = "cancelled"
	OrderEventClose     = "close"
	OrderEventOpposite  = "opposite"
)

// OrderEvent - внешнее событие, принудительно закрывающее сделку
// независимо от цены (отмена сигнала, закрытие, противоположный сигнал)
type OrderEvent struct {
	Type string    `json:"type"`
	Date time.Time `json:"date"`
}

// Order - неизменяемая спецификация сделки (сигнал)
//
// Цены entries/tps упорядочены так, как они пришли в сигнале:
// для LONG входы убывают, тейки растут; для SHORT наоборот.
type Order struct {
	SignalID  string       `json:"signalId,omitempty"`
	Coin      string       `json:"coin"`                // BTCUSDT
	Amount    float64      `json:"amount,omitempty"`    // 0 = берётся из конфигурации
	Leverage  float64      `json:"leverage,omitempty"`  // 0 = 1x
	Exchange  string       `json:"exchange"`            // "Binance Futures", "ByBit USDT"
	Direction Direction    `json:"direction,omitempty"` // пусто = определяется по первому TP
	Date      time.Time    `json:"date"`
	Entries   []float64    `json:"entries"`
	EntryZone []float64    `json:"entryZone,omitempty"` // 2 границы зоны входа
	TPs       []float64    `json:"tps"`
	SL        *float64     `json:"sl,omitempty"`
	Events    []OrderEvent `json:"events,omitempty"`

	// Config - частичное переопределение конфигурации для конкретного ордера
	Config *CornixConfiguration `json:"config,omitempty"`
}

// EffectiveLeverage возвращает плечо ордера (1 если не задано)
func (o Order) EffectiveLeverage() float64 {
	if o.Leverage <= 0 {
		return 1
	}
	return o.Leverage
}

// Key возвращает идентификатор ордера для логов и отчётов
func (o Order) Key() string {
	if o.SignalID != "" {
		return o.SignalID
	}
	return o.Coin + "@" + o.Date.UTC().Format(time.RFC3339)
}

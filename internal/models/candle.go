package models

import "time"

// TradeData - одна минутная свеча (OHLCV). Время в миллисекундах Unix.
type TradeData struct {
	OpenTime                 int64   `json:"openTime"`
	Open                     float64 `json:"open"`
	High                     float64 `json:"high"`
	Low                      float64 `json:"low"`
	Close                    float64 `json:"close"`
	Volume                   float64 `json:"volume"`
	CloseTime                int64   `json:"closeTime"`
	QuoteAssetVolume         float64 `json:"quoteAssetVolume,omitempty"`
	NumberOfTrades           int64   `json:"numberOfTrades,omitempty"`
	TakerBuyBaseAssetVolume  float64 `json:"takerBuyBaseAssetVolume,omitempty"`
	TakerBuyQuoteAssetVolume float64 `json:"takerBuyQuoteAssetVolume,omitempty"`
}

// OpenAt возвращает время открытия свечи
func (t TradeData) OpenAt() time.Time {
	return time.UnixMilli(t.OpenTime).UTC()
}

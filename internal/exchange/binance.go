package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"backtrack/internal/models"
	"backtrack/pkg/retry"
)

// Binance не отдаёт больше 1500 свечей за запрос, сутки укладываются в один
const binanceMaxLimit = 1500

// Binance загружает свечи USDT-M фьючерсов
type Binance struct {
	client *futures.Client
}

// NewBinance создаёт источник без ключей: klines - публичный эндпоинт.
// nil клиент заменяется общим.
func NewBinance(client *HTTPClient) *Binance {
	if client == nil {
		client = GetGlobalHTTPClient()
	}

	fc := binance.NewFuturesClient("", "")
	fc.HTTPClient = client.GetClient()

	return &Binance{client: fc}
}

// WithBaseURL переключает источник на другой адрес
func (b *Binance) WithBaseURL(u string) *Binance {
	b.client.BaseURL = u
	return b
}

func (b *Binance) Name() string {
	return "binance"
}

func (b *Binance) Klines(ctx context.Context, symbol string, start time.Time, limit int) ([]models.TradeData, error) {
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(Interval).
		StartTime(start.UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, b.wrapError(symbol, err)
	}

	candles := make([]models.TradeData, 0, len(klines))
	for _, k := range klines {
		c, err := convertBinanceKline(k)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func convertBinanceKline(k *futures.Kline) (models.TradeData, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.TradeData{}, fmt.Errorf("binance: kline %d field %d: %w", k.OpenTime, i, err)
		}
		values[i] = v
	}

	quote, _ := strconv.ParseFloat(k.QuoteAssetVolume, 64)
	takerBase, _ := strconv.ParseFloat(k.TakerBuyBaseAssetVolume, 64)
	takerQuote, _ := strconv.ParseFloat(k.TakerBuyQuoteAssetVolume, 64)

	return models.TradeData{
		OpenTime:                 k.OpenTime,
		Open:                     values[0],
		High:                     values[1],
		Low:                      values[2],
		Close:                    values[3],
		Volume:                   values[4],
		CloseTime:                k.CloseTime,
		QuoteAssetVolume:         quote,
		NumberOfTrades:           k.TradeNum,
		TakerBuyBaseAssetVolume:  takerBase,
		TakerBuyQuoteAssetVolume: takerQuote,
	}, nil
}

// wrapError переводит ошибку клиента в APIError.
// Клиент не сообщает HTTP статус, поэтому он восстанавливается по коду Binance:
// -1003 означает 429, -10xx сбои сервера, -11xx и ниже ошибки запроса.
func (b *Binance) wrapError(symbol string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &APIError{Exchange: b.Name(), Message: "request failed for " + symbol, Original: err}
	}

	code := int(apiErr.Code)
	status := http.StatusBadRequest
	switch {
	case code == -1003:
		status = http.StatusTooManyRequests
	case code <= -1000 && code > -1100:
		status = http.StatusServiceUnavailable
	}

	return &APIError{
		Exchange:   b.Name(),
		StatusCode: status,
		Code:       code,
		Message:    apiErr.Message,
		Original:   err,
	}
}

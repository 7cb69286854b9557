package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"backtrack/internal/models"
	"backtrack/pkg/retry"
	"backtrack/pkg/utils"
)

const (
	bybitBaseURL = "https://api.bybit.com"

	// Bybit отдаёт не больше 1000 свечей за запрос
	bybitPageLimit = 1000

	// retCode для неизвестного символа
	bybitInvalidSymbol = 10001
)

var bybitJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Bybit загружает свечи линейных фьючерсов через /v5/market/kline
type Bybit struct {
	baseURL    string
	httpClient *HTTPClient
}

// NewBybit создаёт источник Bybit; nil клиент заменяется общим
func NewBybit(client *HTTPClient) *Bybit {
	if client == nil {
		client = GetGlobalHTTPClient()
	}
	return &Bybit{
		baseURL:    bybitBaseURL,
		httpClient: client,
	}
}

// WithBaseURL переключает источник на другой адрес
func (b *Bybit) WithBaseURL(u string) *Bybit {
	b.baseURL = u
	return b
}

func (b *Bybit) Name() string {
	return "bybit"
}

// Klines загружает limit свечей начиная со start постранично по 1000.
// Следующая страница начинается с closeTime последней свечи.
func (b *Bybit) Klines(ctx context.Context, symbol string, start time.Time, limit int) ([]models.TradeData, error) {
	if limit <= bybitPageLimit {
		return b.klinesPage(ctx, symbol, start.UnixMilli(), limit)
	}

	var (
		data      []models.TradeData
		remaining = limit
		current   = start.UnixMilli()
	)

	for remaining > 0 {
		n := min(remaining, bybitPageLimit)

		page, err := b.klinesPage(ctx, symbol, current, n)
		if err != nil {
			return nil, err
		}
		data = append(data, page...)
		remaining -= n

		if len(page) == 0 {
			break
		}
		current = page[len(page)-1].CloseTime
	}

	return data, nil
}

func (b *Bybit) klinesPage(ctx context.Context, symbol string, startMs int64, limit int) ([]models.TradeData, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("interval", "1")
	params.Set("start", strconv.FormatInt(startMs, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, err := b.doRequest(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Symbol string     `json:"symbol"`
			List   [][]string `json:"list"`
		} `json:"result"`
	}
	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("bybit: decode klines: %w", err))
	}

	candles := make([]models.TradeData, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		c, err := parseBybitKline(row)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		candles = append(candles, c)
	}

	// Bybit отдаёт свечи от новых к старым
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })

	return candles, nil
}

// parseBybitKline разбирает [startTime, open, high, low, close, volume, turnover]
func parseBybitKline(row []string) (models.TradeData, error) {
	if len(row) < 6 {
		return models.TradeData{}, fmt.Errorf("bybit: malformed kline %v", row)
	}

	openTime, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.TradeData{}, fmt.Errorf("bybit: kline start time: %w", err)
	}

	var values [5]float64
	for i := range values {
		if values[i], err = strconv.ParseFloat(row[i+1], 64); err != nil {
			return models.TradeData{}, fmt.Errorf("bybit: kline field %d: %w", i+1, err)
		}
	}

	c := models.TradeData{
		OpenTime:  openTime,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: openTime + utils.MinuteMs - 1,
	}
	if len(row) > 6 {
		c.QuoteAssetVolume, _ = strconv.ParseFloat(row[6], 64)
	}
	return c, nil
}

// doRequest выполняет GET к публичному API Bybit и проверяет retCode
func (b *Bybit) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := b.baseURL + endpoint
	if q := params.Encode(); q != "" {
		reqURL += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Exchange: b.Name(), Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Exchange:   b.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("invalid status %d for %s", resp.StatusCode, params.Get("symbol")),
		}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := bybitJSON.Unmarshal(body, &baseResp); err != nil {
		return nil, fmt.Errorf("bybit: decode response: %w", err)
	}

	if baseResp.RetCode != 0 {
		apiErr := &APIError{
			Exchange: b.Name(),
			Code:     baseResp.RetCode,
			Message:  baseResp.RetMsg,
		}
		if baseResp.RetCode == bybitInvalidSymbol {
			apiErr.StatusCode = http.StatusBadRequest
		}
		return nil, apiErr
	}

	return body, nil
}

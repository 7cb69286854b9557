// Package loader читает входные JSON-файлы: ордера (сигналы), конфигурацию
// Cornix и минутные свечи. Файлы, поправленные руками, чинятся jsonrepair.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"github.com/samber/lo"

	"backtrack/internal/cornix"
	"backtrack/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedFormat - содержимое файла не похоже ни на один из входных форматов
var ErrUnsupportedFormat = errors.New("unsupported input format")

// Batch - ордера из входных файлов. Candles заполняется, если файлы
// содержат выгрузку детального лога (ордер вместе со свечами).
type Batch struct {
	Orders  []models.Order
	Candles []models.TradeData
}

// ============ Файлы ============

// jsonFiles раскрывает пути: каталог даёт свои *.json по алфавиту
func jsonFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

// decode разбирает JSON, при ошибке пробует починить его
func decode(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return err
	}
	if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
		return err
	}
	return nil
}

// asArray приводит одиночный объект к массиву из одного элемента
func asArray(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	case data[0] == '[':
		return data, nil
	case data[0] == '{':
		return append(append([]byte{'['}, data...), ']'), nil
	default:
		return nil, fmt.Errorf("%w: expected JSON array or object", ErrUnsupportedFormat)
	}
}

// ============ Ордера ============

// orderRecord - ордер во входном файле; дата допускает несколько форматов
type orderRecord struct {
	models.Order
	Date   flexTime      `json:"date"`
	Events []eventRecord `json:"events,omitempty"`
}

// eventRecord - внешнее событие ордера; дата в тех же форматах, что и у ордера
type eventRecord struct {
	Type string   `json:"type"`
	Date flexTime `json:"date"`
}

// detailedRecord - элемент выгрузки детального лога
type detailedRecord struct {
	Order     *orderRecord       `json:"order"`
	TradeData []models.TradeData `json:"tradeData"`
}

// Orders читает ордера из файлов и каталогов. Ордер без даты получает now.
func Orders(paths []string, now time.Time) (Batch, error) {
	files, err := jsonFiles(paths)
	if err != nil {
		return Batch{}, err
	}

	var batch Batch
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return Batch{}, fmt.Errorf("read orders: %w", err)
		}
		b, err := ParseOrders(data, now)
		if err != nil {
			return Batch{}, fmt.Errorf("orders %s: %w", f, err)
		}
		batch.Orders = append(batch.Orders, b.Orders...)
		batch.Candles = append(batch.Candles, b.Candles...)
	}

	batch.Candles = normalizeCandles(batch.Candles)
	return batch, nil
}

// ParseOrders разбирает массив ордеров (или одиночный ордер). Элементы
// вида {"order": ..., "tradeData": [...]} приносят и свои свечи.
func ParseOrders(data []byte, now time.Time) (Batch, error) {
	data, err := asArray(data)
	if err != nil {
		return Batch{}, err
	}

	var raw []jsoniter.RawMessage
	if err := decode(data, &raw); err != nil {
		return Batch{}, fmt.Errorf("decode orders: %w", err)
	}

	var batch Batch
	for i, item := range raw {
		var wrapped detailedRecord
		if err := json.Unmarshal(item, &wrapped); err != nil {
			return Batch{}, fmt.Errorf("order #%d: %w", i, err)
		}

		rec := wrapped.Order
		if rec == nil {
			rec = &orderRecord{}
			if err := json.Unmarshal(item, rec); err != nil {
				return Batch{}, fmt.Errorf("order #%d: %w", i, err)
			}
		}
		if rec.Coin == "" {
			return Batch{}, fmt.Errorf("order #%d: %w: missing coin", i, ErrUnsupportedFormat)
		}

		batch.Orders = append(batch.Orders, rec.normalize(now))
		batch.Candles = append(batch.Candles, wrapped.TradeData...)
	}
	return batch, nil
}

func (r orderRecord) normalize(now time.Time) models.Order {
	o := r.Order
	o.Date = r.Date.Time
	if o.Date.IsZero() {
		o.Date = now
	}
	o.Date = o.Date.UTC()
	o.Direction = models.Direction(strings.ToUpper(string(o.Direction)))
	o.Events = nil
	for _, e := range r.Events {
		o.Events = append(o.Events, models.OrderEvent{Type: e.Type, Date: e.Date.UTC()})
	}
	return o
}

// flexTime принимает RFC3339, "2006-01-02 15:04:05" (UTC) и миллисекунды Unix
type flexTime struct {
	time.Time
}

var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("invalid date %s", s)
	}
	for _, layout := range flexLayouts {
		if parsed, err := time.Parse(layout, unquoted); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", unquoted)
}

// ============ Конфигурация ============

// Config читает конфигурацию Cornix. Пустой путь даёт конфигурацию по умолчанию.
func Config(path string) (models.CornixConfiguration, error) {
	if path == "" {
		return cornix.DefaultConfiguration(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.CornixConfiguration{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig разбирает конфигурацию Cornix
func ParseConfig(data []byte) (models.CornixConfiguration, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return models.CornixConfiguration{}, fmt.Errorf("%w: config must be a JSON object", ErrUnsupportedFormat)
	}

	var cfg models.CornixConfiguration
	if err := decode(data, &cfg); err != nil {
		return models.CornixConfiguration{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ============ Свечи ============

// Candles читает свечи из файлов: массивы Binance
// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
// или объекты TradeData (файлы кэша). Результат упорядочен по openTime без повторов.
func Candles(paths []string) ([]models.TradeData, error) {
	files, err := jsonFiles(paths)
	if err != nil {
		return nil, err
	}

	var all []models.TradeData
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read candles: %w", err)
		}
		candles, err := ParseCandles(data)
		if err != nil {
			return nil, fmt.Errorf("candles %s: %w", f, err)
		}
		all = append(all, candles...)
	}
	return normalizeCandles(all), nil
}

// ParseCandles разбирает один файл свечей
func ParseCandles(data []byte) ([]models.TradeData, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: candles must be a JSON array", ErrUnsupportedFormat)
	}

	var raw []jsoniter.RawMessage
	if err := decode(data, &raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	out := make([]models.TradeData, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		switch item[0] {
		case '[':
			var row []any
			if err := json.Unmarshal(item, &row); err != nil {
				return nil, fmt.Errorf("candle #%d: %w", i, err)
			}
			c, err := fromKlineRow(row)
			if err != nil {
				return nil, fmt.Errorf("candle #%d: %w", i, err)
			}
			out = append(out, c)
		case '{':
			var c models.TradeData
			if err := json.Unmarshal(item, &c); err != nil {
				return nil, fmt.Errorf("candle #%d: %w", i, err)
			}
			out = append(out, c)
		default:
			return nil, fmt.Errorf("candle #%d: %w", i, ErrUnsupportedFormat)
		}
	}
	return out, nil
}

// fromKlineRow переводит строку klines Binance в TradeData
func fromKlineRow(row []any) (models.TradeData, error) {
	if len(row) < 7 {
		return models.TradeData{}, fmt.Errorf("%w: kline row has %d fields", ErrUnsupportedFormat, len(row))
	}

	nums := make([]float64, len(row))
	for i, v := range row {
		f, err := toFloat(v)
		if err != nil {
			return models.TradeData{}, fmt.Errorf("field %d: %w", i, err)
		}
		nums[i] = f
	}

	c := models.TradeData{
		OpenTime:  int64(nums[0]),
		Open:      nums[1],
		High:      nums[2],
		Low:       nums[3],
		Close:     nums[4],
		Volume:    nums[5],
		CloseTime: int64(nums[6]),
	}
	if len(nums) > 7 {
		c.QuoteAssetVolume = nums[7]
	}
	if len(nums) > 8 {
		c.NumberOfTrades = int64(nums[8])
	}
	if len(nums) > 9 {
		c.TakerBuyBaseAssetVolume = nums[9]
	}
	if len(nums) > 10 {
		c.TakerBuyQuoteAssetVolume = nums[10]
	}
	return c, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value %v", v)
	}
}

func normalizeCandles(candles []models.TradeData) []models.TradeData {
	if len(candles) == 0 {
		return nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	return lo.UniqBy(candles, func(c models.TradeData) int64 { return c.OpenTime })
}

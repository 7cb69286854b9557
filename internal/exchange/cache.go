package exchange

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"backtrack/internal/models"
	"backtrack/pkg/utils"
)

// DiskCache хранит полные сутки свечей в файлах
// {root}/{exchange}/{interval}/{pair}/{pair}_{interval}_{dayStartMs}.json
type DiskCache struct {
	root string
}

// NewDiskCache создаёт кэш в каталоге root. Пустой root отключает кэш.
func NewDiskCache(root string) *DiskCache {
	if root == "" {
		return nil
	}
	return &DiskCache{root: root}
}

// Path возвращает путь файла суток, в которые попадает day
func (c *DiskCache) Path(exchange, pair string, day time.Time) string {
	dayStart := utils.GetDayStartFrom(day).UnixMilli()
	name := pair + "_" + Interval + "_" + strconv.FormatInt(dayStart, 10) + ".json"
	return filepath.Join(c.root, exchange, Interval, pair, name)
}

// Load читает сутки из кэша. ok=false если файла нет.
func (c *DiskCache) Load(exchange, pair string, day time.Time) (candles []models.TradeData, ok bool, err error) {
	if c == nil {
		return nil, false, nil
	}

	data, err := os.ReadFile(c.Path(exchange, pair, day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}

	if err := sonic.Unmarshal(data, &candles); err != nil {
		return nil, false, fmt.Errorf("decode cache %s: %w", c.Path(exchange, pair, day), err)
	}
	return candles, true, nil
}

// Store записывает сутки в кэш. Неполные сутки не сохраняются:
// для текущего дня биржа ещё не отдала все свечи.
func (c *DiskCache) Store(exchange, pair string, day time.Time, candles []models.TradeData) (bool, error) {
	if c == nil || len(candles) < utils.MinutesPerDay {
		return false, nil
	}

	path := c.Path(exchange, pair, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create cache dir: %w", err)
	}

	data, err := sonic.ConfigDefault.MarshalIndent(candles, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode cache: %w", err)
	}

	// пишем через временный файл, чтобы параллельный читатель не увидел половину
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("write cache: %w", err)
	}
	return true, nil
}

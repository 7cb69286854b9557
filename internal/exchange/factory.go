package exchange

import (
	"fmt"
	"regexp"
	"strings"
)

// SupportedExchanges - биржи, с которых загружаются свечи
var SupportedExchanges = []string{
	"binance",
	"bybit",
}

// DefaultExchange используется когда биржа сигнала не распознана
const DefaultExchange = "binance"

var (
	bybitName   = regexp.MustCompile(`(?i)bybit`)
	binanceName = regexp.MustCompile(`(?i)binance`)
)

// Normalize приводит имя биржи из сигнала ("Binance Futures", "ByBit USDT")
// к имени источника. Неизвестные имена дают binance.
func Normalize(name string) string {
	switch {
	case bybitName.MatchString(name):
		return "bybit"
	case binanceName.MatchString(name):
		return "binance"
	default:
		return DefaultExchange
	}
}

// CoinName приводит пару к виду, который понимает API фьючерсов
//
//	"SUSHIUSDT.P"   -> "SUSHIUSDT"
//	"BTCUSDTPERP"   -> "BTCUSDT"
//	"ETH/USDT"      -> "ETHUSDT"
func CoinName(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	pair = strings.Replace(pair, ".P", "", 1)
	pair = strings.Replace(pair, "PERP", "", 1)
	return strings.ReplaceAll(pair, "/", "")
}

// NewSource создаёт источник свечей по имени биржи
func NewSource(name string, client *HTTPClient) (CandleSource, error) {
	switch strings.ToLower(name) {
	case "binance":
		return NewBinance(client), nil
	case "bybit":
		return NewBybit(client), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// NewSources создаёт источники для списка бирж, повторы игнорируются
func NewSources(names []string, client *HTTPClient) ([]CandleSource, error) {
	seen := make(map[string]bool, len(names))
	sources := make([]CandleSource, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		src, err := NewSource(name, client)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}

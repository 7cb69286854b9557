package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики бэктестера
// ============================================================
//
// Экспортируются сервером на /metrics. В CLI регистрируются так же,
// но не публикуются.

const namespace = "backtrack"

// ============ Движок сделки ============

// CandlesProcessed - свечи, применённые к состоянию сделки
var CandlesProcessed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "candles_processed_total",
		Help:      "Total number of candles folded into trade states",
	},
)

// Transitions - переходы состояния сделки по целевой фазе
var Transitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Total number of trade state transitions by target phase",
	},
	[]string{"phase"},
)

// ============ Аккаунт ============

// AccountOrders - ордера аккаунта по исходу допуска и закрытия
var AccountOrders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "account",
		Name:      "orders_total",
		Help:      "Account orders by result",
	},
	[]string{"result"}, // activated, skipped, finished
)

// AccountTicks - минутные шаги симуляции
var AccountTicks = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "account",
		Name:      "ticks_total",
		Help:      "Total number of simulated account minutes",
	},
)

// AccountRealizedProfit - реализованная прибыль последнего прогона аккаунта
var AccountRealizedProfit = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "account",
		Name:      "realized_profit",
		Help:      "Realized profit of the latest account simulation in USDT",
	},
)

// ============ Биржи ============

// ExchangeRequests - запросы свечей к биржам
var ExchangeRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "requests_total",
		Help:      "Candle requests to exchanges by result",
	},
	[]string{"exchange", "result"}, // ok, error, cache
)

// ExchangeRequestDuration - длительность запросов к биржам
var ExchangeRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "request_duration_seconds",
		Help:      "Duration of candle requests to exchanges",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"exchange"},
)

// ============ Прогоны ============

// Runs - завершённые прогоны по режиму и статусу
var Runs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Backtest runs by mode and status",
	},
	[]string{"mode", "status"},
)

// ============ Вспомогательные функции ============

// RecordTransition записывает переход в фазу
func RecordTransition(phase string) {
	Transitions.WithLabelValues(phase).Inc()
}

// RecordExchangeRequest записывает запрос к бирже
func RecordExchangeRequest(exchange string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExchangeRequests.WithLabelValues(exchange, result).Inc()
	ExchangeRequestDuration.WithLabelValues(exchange).Observe(seconds)
}

// RecordCacheHit записывает день, прочитанный из дискового кэша
func RecordCacheHit(exchange string) {
	ExchangeRequests.WithLabelValues(exchange, "cache").Inc()
}

// RecordRun записывает завершение прогона
func RecordRun(mode, status string) {
	Runs.WithLabelValues(mode, status).Inc()
}

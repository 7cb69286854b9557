//go:build integration

// Package integration проверяет связку компонентов на живом PostgreSQL:
// - репозитории прогонов и результатов
// - полный HTTP цикл прогона с сохранением истории
// - трансляция хода прогона в WebSocket
//
// Запуск: go test -tags=integration ./tests/integration/...
// Без доступной базы тесты пропускаются.
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"backtrack/internal/api"
	"backtrack/internal/engine"
	"backtrack/internal/models"
	"backtrack/internal/repository"
	"backtrack/internal/service"
	"backtrack/internal/websocket"
)

// TestConfig - параметры тестовой базы
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer собирает все компоненты сервера поверх тестовой базы
type TestServer struct {
	DB      *sql.DB
	Router  *mux.Router
	Server  *httptest.Server
	Hub     *websocket.Hub
	Runs    *repository.RunRepository
	Results *repository.ResultRepository
	Service *service.BacktestService
	Cleanup func()
}

func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "backtrack_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB подключается к базе и применяет миграции
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := repository.Migrate(db); err != nil {
		db.Close()
		t.Fatalf("Migrate() error = %v", err)
	}
	cleanupTestTables(db)

	cleanup := func() {
		cleanupTestTables(db)
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer поднимает роутер, hub и сервис поверх тестовой базы.
// Свечи берутся из testCandles.
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()
	db, dbCleanup := SetupTestDB(t)

	hub := websocket.NewHub()
	go hub.Run()

	runs := repository.NewRunRepository(db)
	results := repository.NewResultRepository(db)

	svc := service.NewBacktestService(testCandles, nil)
	svc.SetRepositories(runs, results)
	svc.SetWebSocketHub(hub)

	router := api.SetupRoutes(&api.Dependencies{
		BacktestService: svc,
		Hub:             hub,
	})
	server := httptest.NewServer(router)

	return &TestServer{
		DB:      db,
		Router:  router,
		Server:  server,
		Hub:     hub,
		Runs:    runs,
		Results: results,
		Service: svc,
		Cleanup: func() {
			server.Close()
			hub.Stop()
			dbCleanup()
		},
	}
}

func cleanupTestTables(db *sql.DB) {
	for _, table := range []string{"account_daily_stats", "trade_results", "backtest_runs"} {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table))
	}
}

// ============ Данные ============

var orderTime = time.Date(2023, 6, 15, 15, 50, 0, 0, time.UTC)

func candle(at time.Time, open, high, low, close float64) models.TradeData {
	return models.TradeData{
		OpenTime:  at.UnixMilli(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
		CloseTime: at.Add(time.Minute).UnixMilli() - 1,
	}
}

// вход по 100 на первой минуте, тейк 110 на второй
var testCandles = engine.SliceSource{
	candle(orderTime, 100, 100, 99, 100),
	candle(orderTime.Add(time.Minute), 105, 111, 104, 110),
}

const testOrdersJSON = `[{
	"signalId": "sig-1",
	"coin": "INJUSDT",
	"exchange": "Binance Futures",
	"date": "2023-06-15T15:50:00Z",
	"entries": [{"percentage": 100}],
	"tps": [110],
	"sl": 40,
	"leverage": 10
}]`

const testConfigJSON = `{
	"amount": 100,
	"entries": [{"percentage": 100}],
	"tps": [{"percentage": 100}],
	"trailingTakeProfit": "without",
	"trailingStop": {"type": "without"}
}`

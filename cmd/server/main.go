package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"backtrack/internal/api"
	"backtrack/internal/config"
	"backtrack/internal/exchange"
	"backtrack/internal/repository"
	"backtrack/internal/service"
	"backtrack/internal/websocket"
	"backtrack/pkg/crypto"
	"backtrack/pkg/ratelimit"
	"backtrack/pkg/retry"
	"backtrack/pkg/utils"
)

func main() {
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a token for API_TOKEN_HASH and exit")
	flag.Parse()

	if *hashToken != "" {
		hash, err := crypto.HashToken(*hashToken, crypto.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	// Источник свечей: биржи с лимитом запросов, повторами и дисковым кэшем
	provider, err := initProvider(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to init candle sources", zap.Error(err))
	}

	backtestService := service.NewBacktestService(provider, logger)
	backtestService.SetDefaults(service.Defaults{
		Exchange:        cfg.Backtest.DefaultExchange,
		InitialBalance:  cfg.Backtest.InitialBalance,
		MaxActiveOrders: cfg.Backtest.MaxActiveOrders,
		Prefetch:        cfg.Backtest.Prefetch,
	})

	// База данных опциональна: без неё прогоны не сохраняются
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database",
				zap.String("dsn", cfg.Database.DSNWithoutPassword()), zap.Error(err))
		}
		defer db.Close()

		if err := repository.Migrate(db); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

		backtestService.SetRepositories(
			repository.NewRunRepository(db),
			repository.NewResultRepository(db),
		)
	} else {
		logger.Warn("Database disabled, backtest runs will not be persisted")
	}

	// WebSocket hub для трансляции хода прогонов
	hub := websocket.NewHub()
	hub.SetLogger(logger)
	go hub.Run()
	backtestService.SetWebSocketHub(hub)

	router := api.SetupRoutes(&api.Dependencies{
		BacktestService: backtestService,
		Hub:             hub,
		Logger:          logger,
		TokenHash:       cfg.Security.TokenHash,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})
	if cfg.Security.TokenHash == "" {
		logger.Warn("API_TOKEN_HASH is empty, authentication disabled")
	}

	// Прогон выполняется в рамках запроса, поэтому WriteTimeout не задан
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	hub.Stop()
	exchange.CloseGlobalClient()

	logger.Info("Server exited")
}

// initProvider собирает DayProvider по включённым биржам
func initProvider(cfg *config.Config, logger *zap.Logger) (*exchange.DayProvider, error) {
	sources, err := exchange.NewSources(cfg.Backtest.Exchanges, exchange.GetGlobalHTTPClient())
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Backtest.MaxRetries

	opts := []exchange.ProviderOption{
		exchange.WithLimiter(ratelimit.NewMultiLimiter(
			ratelimit.PerInterval(cfg.Backtest.RequestInterval),
			float64(cfg.Backtest.RequestBurst),
			ratelimit.SystemClock)),
		exchange.WithRetry(retryCfg),
		exchange.WithLogger(logger),
	}
	if cfg.Backtest.CacheDir != "" {
		opts = append(opts, exchange.WithCache(exchange.NewDiskCache(cfg.Backtest.CacheDir)))
	}

	return exchange.NewDayProvider(sources, opts...), nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

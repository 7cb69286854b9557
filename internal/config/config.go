package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"backtrack/internal/exchange"
	"backtrack/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Backtest BacktestConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string // пусто = локальные dev-серверы
}

// DatabaseConfig - настройки подключения к БД.
// При Enabled=false прогоны не сохраняются.
type DatabaseConfig struct {
	Enabled  bool
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// TokenHash - bcrypt-хеш API токена, пусто = без аутентификации
	TokenHash string
}

// BacktestConfig - параметры прогонов и загрузки свечей
type BacktestConfig struct {
	CacheDir        string   // кэш дневных свечей, пусто = без кэша
	Exchanges       []string // включённые источники свечей
	DefaultExchange string   // для ордеров без exchange
	InitialBalance  float64
	MaxActiveOrders int // 0 = из cornix-конфигурации, -1 = без лимита
	Prefetch        int // параллельных загрузок суток в режиме аккаунта

	// Лимиты запросов к биржам
	RequestInterval time.Duration
	RequestBurst    int
	MaxRetries      int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "backtrack"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			TokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Backtest: BacktestConfig{
			CacheDir:        getEnv("BACKTEST_CACHE_DIR", "data/candles"),
			Exchanges:       getEnvAsList("BACKTEST_EXCHANGES", exchange.SupportedExchanges),
			DefaultExchange: strings.ToLower(getEnv("BACKTEST_DEFAULT_EXCHANGE", "binance")),
			InitialBalance:  getEnvAsFloat("BACKTEST_INITIAL_BALANCE", 1000),
			MaxActiveOrders: getEnvAsInt("BACKTEST_MAX_ACTIVE_ORDERS", 0),
			Prefetch:        getEnvAsInt("BACKTEST_PREFETCH", 4),

			RequestInterval: getEnvAsDuration("EXCHANGE_REQUEST_INTERVAL", 750*time.Millisecond),
			RequestBurst:    getEnvAsInt("EXCHANGE_REQUEST_BURST", 1),
			MaxRetries:      getEnvAsInt("EXCHANGE_MAX_RETRIES", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Backtest.InitialBalance <= 0 {
		return fmt.Errorf("BACKTEST_INITIAL_BALANCE must be positive, got %v", c.Backtest.InitialBalance)
	}

	if c.Backtest.MaxActiveOrders < -1 {
		return fmt.Errorf("BACKTEST_MAX_ACTIVE_ORDERS must be -1 (unlimited), 0 (from config) or positive, got %d", c.Backtest.MaxActiveOrders)
	}

	if c.Backtest.Prefetch < 1 || c.Backtest.Prefetch > 32 {
		return fmt.Errorf("BACKTEST_PREFETCH must be between 1 and 32, got %d", c.Backtest.Prefetch)
	}

	if len(c.Backtest.Exchanges) == 0 {
		return fmt.Errorf("BACKTEST_EXCHANGES must list at least one exchange")
	}
	for _, name := range c.Backtest.Exchanges {
		if !exchange.IsSupported(name) {
			return fmt.Errorf("BACKTEST_EXCHANGES: unsupported exchange %q", name)
		}
	}
	if !exchange.IsSupported(c.Backtest.DefaultExchange) {
		return fmt.Errorf("BACKTEST_DEFAULT_EXCHANGE: unsupported exchange %q", c.Backtest.DefaultExchange)
	}

	// Валидация лимитов запросов
	if c.Backtest.RequestInterval <= 0 {
		return fmt.Errorf("EXCHANGE_REQUEST_INTERVAL must be positive, got %v", c.Backtest.RequestInterval)
	}

	if c.Backtest.RequestBurst < 1 {
		return fmt.Errorf("EXCHANGE_REQUEST_BURST must be at least 1, got %d", c.Backtest.RequestBurst)
	}

	if c.Backtest.MaxRetries < 1 || c.Backtest.MaxRetries > 10 {
		return fmt.Errorf("EXCHANGE_MAX_RETRIES must be between 1 and 10, got %d", c.Backtest.MaxRetries)
	}

	if c.Security.TokenHash != "" {
		if _, err := crypto.HashCost(c.Security.TokenHash); err != nil {
			return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash: %w", err)
		}
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr - адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, элементы в нижнем регистре
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package utils

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на zap.
//
// Пакеты бэктеста принимают *zap.Logger через опции, cmd строит
// его здесь. Хелперы полей держат имена ключей единообразными.

// LogConfig настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json или text
	Output      string // путь к файлу, пусто = stderr
	Development bool
}

// InitLogger создаёт логгер. Если файл вывода недоступен, пишет в stderr.
func InitLogger(cfg LogConfig) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" {
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return zap.New(core, opts...)
}

// NewLogger строит *zap.Logger по уровню и формату (json или console)
func NewLogger(level, format string) *zap.Logger {
	return InitLogger(LogConfig{Level: level, Format: format})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============ Поля ============

func Exchange(name string) zap.Field  { return zap.String("exchange", name) }
func Coin(name string) zap.Field      { return zap.String("coin", name) }
func SignalID(id string) zap.Field    { return zap.String("signal_id", id) }
func Pnl(v float64) zap.Field         { return zap.Float64("pnl", v) }
func Balance(v float64) zap.Field     { return zap.Float64("balance", v) }
func RunID(id int) zap.Field          { return zap.Int("run_id", id) }
func Component(name string) zap.Field { return zap.String("component", name) }
func LatencyMs(ms float64) zap.Field  { return zap.Float64("latency_ms", ms) }
func Day(day string) zap.Field        { return zap.String("day", day) }
func Candles(n int) zap.Field         { return zap.Int("candles", n) }
func Err(err error) zap.Field         { return zap.Error(err) }

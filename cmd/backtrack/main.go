package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"backtrack/internal/account"
	"backtrack/internal/config"
	"backtrack/internal/cornix"
	"backtrack/internal/engine"
	"backtrack/internal/exchange"
	"backtrack/internal/loader"
	"backtrack/internal/models"
	"backtrack/pkg/ratelimit"
	"backtrack/pkg/retry"
	"backtrack/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// options - разобранные флаги командной строки
type options struct {
	orders     []string
	configPath string
	candles    []string
	download   bool
	exchanges  []string
	cacheDir   string
	detailed   bool
	verbose    bool

	account         bool
	initialBalance  float64
	maxActiveOrders int
	from, to        time.Time

	output string
}

func main() {
	// Значения по умолчанию берутся из того же окружения, что и у сервера
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	opts, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger := utils.NewLogger(cfg.Logging.Level, "console")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Error("backtest failed", zap.Error(err))
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg *config.Config) (*options, error) {
	fs := flag.NewFlagSet("backtrack", flag.ContinueOnError)

	var (
		orders, candles, exchanges, from, to string
		opts                                 options
	)

	fs.StringVar(&orders, "orders", "", "order files or directories, comma separated")
	fs.StringVar(&opts.configPath, "config", "", "cornix configuration file (default configuration if empty)")
	fs.StringVar(&candles, "candles", "", "candle files, comma separated")
	fs.BoolVar(&opts.download, "download", false, "fetch missing candles from exchanges")
	fs.StringVar(&exchanges, "exchange", strings.Join(cfg.Backtest.Exchanges, ","), "enabled exchanges, the first one is used for orders without exchange")
	fs.StringVar(&opts.cacheDir, "cache", cfg.Backtest.CacheDir, "candle day cache directory, empty disables the cache")
	fs.BoolVar(&opts.detailed, "detailed", false, "log every crossed price level")
	fs.BoolVar(&opts.verbose, "verbose", false, "keep verbose events (skipped candles)")
	fs.BoolVar(&opts.account, "account", false, "simulate an account instead of independent orders")
	fs.Float64Var(&opts.initialBalance, "initial-balance", cfg.Backtest.InitialBalance, "account starting balance")
	fs.IntVar(&opts.maxActiveOrders, "max-active-orders", cfg.Backtest.MaxActiveOrders, "0 = from configuration, -1 = unlimited")
	fs.StringVar(&from, "from", "", "skip orders placed before this date (YYYY-MM-DD or RFC3339)")
	fs.StringVar(&to, "to", "", "skip orders placed after this date and stop the simulation there")
	fs.StringVar(&opts.output, "output", "", "write results as JSON to this file (stdout if empty)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.orders = splitList(orders)
	opts.candles = splitList(candles)
	opts.exchanges = lo.Map(splitList(exchanges), func(s string, _ int) string { return strings.ToLower(s) })

	if len(opts.orders) == 0 {
		return nil, errors.New("-orders is required")
	}
	if len(opts.exchanges) == 0 {
		return nil, errors.New("-exchange must name at least one exchange")
	}
	for _, name := range opts.exchanges {
		if !exchange.IsSupported(name) {
			return nil, fmt.Errorf("-exchange: unsupported exchange %q", name)
		}
	}
	if opts.initialBalance <= 0 {
		return nil, fmt.Errorf("-initial-balance must be positive, got %v", opts.initialBalance)
	}
	if opts.maxActiveOrders < -1 {
		return nil, fmt.Errorf("-max-active-orders must be -1, 0 or positive, got %d", opts.maxActiveOrders)
	}

	var err error
	if opts.from, err = parseDate(from); err != nil {
		return nil, fmt.Errorf("-from: %w", err)
	}
	if opts.to, err = parseDate(to); err != nil {
		return nil, fmt.Errorf("-to: %w", err)
	}
	// дата без времени включает весь день
	if len(to) == len(time.DateOnly) {
		opts.to = utils.GetDayEndFrom(opts.to)
	}
	if !opts.from.IsZero() && !opts.to.IsZero() && opts.to.Before(opts.from) {
		return nil, errors.New("-to is before -from")
	}

	return &opts, nil
}

func run(ctx context.Context, opts *options, cfg *config.Config, logger *zap.Logger) error {
	now := time.Now().UTC()

	batch, err := loader.Orders(opts.orders, now)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}

	orders := filterOrders(batch.Orders, opts.from, opts.to, opts.exchanges[0])
	if len(orders) == 0 {
		return errors.New("no orders in the selected range")
	}

	cornixCfg := cornix.DefaultConfiguration()
	if opts.configPath != "" {
		if cornixCfg, err = loader.Config(opts.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	src, closeSrc, err := candleSource(opts, cfg, batch.Candles, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	logger.Info("backtest started",
		zap.Int("orders", len(orders)),
		zap.Bool("account", opts.account),
		zap.Bool("download", opts.download))

	var out interface{}
	if opts.account {
		res, err := account.Simulate(ctx, cornixCfg, orders, src, account.Options{
			InitialBalance:  opts.initialBalance,
			MaxActiveOrders: opts.maxActiveOrders,
			End:             opts.to,
			DetailedLog:     opts.detailed,
			Verbose:         opts.verbose,
			Prefetch:        cfg.Backtest.Prefetch,
			Logger:          logger,
		})
		if err != nil && res == nil {
			return err
		}
		if err != nil {
			logger.Warn("simulation interrupted, writing partial result", zap.Error(err))
		}
		logger.Info("simulation finished",
			utils.Balance(res.Info.AvailableBalance),
			zap.Int("finished", len(res.Finished)),
			zap.Int("active", len(res.Active)),
			zap.Int("skipped", len(res.Skipped)),
			zap.String("simulated", utils.FormatDuration(res.EndTime.Sub(res.StartTime))))
		out = res
	} else {
		res := engine.RunBatch(ctx, cornixCfg, orders, src, engine.Options{
			DetailedLog: opts.detailed,
			Verbose:     opts.verbose,
			Until:       opts.to,
			Logger:      logger,
		})
		logger.Info("backtest finished",
			zap.Int("orders", res.Summary.CountOrders),
			utils.Pnl(res.Summary.TotalPnl),
			zap.Int("invalid_coins", len(res.InvalidCoins)))
		out = res
	}

	return writeOutput(opts.output, out)
}

// candleSource выбирает источник свечей: файлы, свечи детального лога
// или биржи с дисковым кэшем
func candleSource(opts *options, cfg *config.Config, embedded []models.TradeData, logger *zap.Logger) (engine.DaySource, func(), error) {
	nop := func() {}

	if !opts.download {
		candles := embedded
		if len(opts.candles) > 0 {
			loaded, err := loader.Candles(opts.candles)
			if err != nil {
				return nil, nop, fmt.Errorf("load candles: %w", err)
			}
			candles = loaded
		}
		if len(candles) == 0 {
			return nil, nop, errors.New("no candles: pass -candles or -download")
		}
		return engine.SliceSource(candles), nop, nil
	}

	client := exchange.NewHTTPClient(exchange.DefaultHTTPClientConfig())
	sources, err := exchange.NewSources(opts.exchanges, client)
	if err != nil {
		client.Close()
		return nil, nop, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Backtest.MaxRetries

	providerOpts := []exchange.ProviderOption{
		exchange.WithLimiter(ratelimit.NewMultiLimiter(
			ratelimit.PerInterval(cfg.Backtest.RequestInterval),
			float64(cfg.Backtest.RequestBurst),
			ratelimit.SystemClock)),
		exchange.WithRetry(retryCfg),
		exchange.WithLogger(logger),
	}
	if opts.cacheDir != "" {
		providerOpts = append(providerOpts, exchange.WithCache(exchange.NewDiskCache(opts.cacheDir)))
	}

	return exchange.NewDayProvider(sources, providerOpts...), client.Close, nil
}

// filterOrders оставляет ордера из [from, to] и подставляет биржу по умолчанию
func filterOrders(orders []models.Order, from, to time.Time, defaultExchange string) []models.Order {
	return lo.FilterMap(orders, func(o models.Order, _ int) (models.Order, bool) {
		if !from.IsZero() && o.Date.Before(from) {
			return o, false
		}
		if !to.IsZero() && o.Date.After(to) {
			return o, false
		}
		if o.Exchange == "" {
			o.Exchange = defaultExchange
		}
		return o, true
	})
}

func writeOutput(path string, v interface{}) error {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t.UTC(), nil
}

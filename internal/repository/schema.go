package repository

import (
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json для JSONB-колонок
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// schema - таблицы прогонов бэктеста
var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id SERIAL PRIMARY KEY,
		mode VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		orders_count INT NOT NULL DEFAULT 0,
		summary JSONB,
		account_info JSONB,
		error_message TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS trade_results (
		id SERIAL PRIMARY KEY,
		run_id INT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		signal_id VARCHAR(100) DEFAULT '',
		coin VARCHAR(30) NOT NULL,
		exchange VARCHAR(50) NOT NULL,
		direction VARCHAR(10) NOT NULL,
		result JSONB NOT NULL,
		events JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_results_run_id ON trade_results(run_id)`,
	`CREATE TABLE IF NOT EXISTS account_daily_stats (
		id SERIAL PRIMARY KEY,
		run_id INT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		day DATE NOT NULL,
		account_balance DECIMAL(20, 8) NOT NULL,
		balance_in_orders DECIMAL(20, 8) NOT NULL,
		realized_profit DECIMAL(20, 8) NOT NULL,
		unrealized_profit DECIMAL(20, 8) NOT NULL,
		realized_pnl DECIMAL(20, 8) NOT NULL,
		unrealized_pnl DECIMAL(20, 8) NOT NULL,
		UNIQUE (run_id, day)
	)`,
}

// Migrate создаёт таблицы, если их нет
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"backtrack/internal/models"
)

// ResultRepository - результаты ордеров (trade_results) и дневная
// статистика аккаунта (account_daily_stats)
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository создает новый экземпляр репозитория
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveTradeResults записывает результаты ордеров прогона в одной транзакции
func (r *ResultRepository) SaveTradeResults(runID int, records []*models.TradeResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO trade_results (run_id, signal_id, coin, exchange, direction, result, events, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		resultJSON, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		events := rec.Events
		if events == nil {
			events = []models.Event{}
		}
		eventsJSON, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("encode events: %w", err)
		}

		rec.RunID = runID
		rec.CreatedAt = now
		if err := stmt.QueryRow(runID, rec.SignalID, rec.Coin, rec.Exchange, string(rec.Direction), resultJSON, eventsJSON, rec.CreatedAt).Scan(&rec.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetTradeResults возвращает результаты ордеров прогона в порядке записи
func (r *ResultRepository) GetTradeResults(runID int) ([]*models.TradeResultRecord, error) {
	query := `
		SELECT id, run_id, signal_id, coin, exchange, direction, result, events, created_at
		FROM trade_results
		WHERE run_id = $1
		ORDER BY id`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TradeResultRecord
	for rows.Next() {
		rec := &models.TradeResultRecord{}
		var direction string
		var resultJSON, eventsJSON []byte

		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.SignalID,
			&rec.Coin,
			&rec.Exchange,
			&direction,
			&resultJSON,
			&eventsJSON,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Direction = models.Direction(direction)

		if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		if len(eventsJSON) > 0 {
			if err := json.Unmarshal(eventsJSON, &rec.Events); err != nil {
				return nil, fmt.Errorf("decode events: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// SaveDailyStats записывает дневной срез; повтор за тот же день перезаписывает его
func (r *ResultRepository) SaveDailyStats(runID int, stats models.AccountDailyStats) error {
	query := `
		INSERT INTO account_daily_stats
			(run_id, day, account_balance, balance_in_orders, realized_profit, unrealized_profit, realized_pnl, unrealized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, day) DO UPDATE SET
			account_balance = EXCLUDED.account_balance,
			balance_in_orders = EXCLUDED.balance_in_orders,
			realized_profit = EXCLUDED.realized_profit,
			unrealized_profit = EXCLUDED.unrealized_profit,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl`

	_, err := r.db.Exec(query,
		runID,
		stats.Day,
		stats.AccountBalance,
		stats.BalanceInOrders,
		stats.RealizedProfitPerDay,
		stats.UnrealizedProfitPerDay,
		stats.RealizedPnlPerDay,
		stats.UnrealizedPnlPerDay,
	)
	return err
}

// GetDailyStats возвращает дневную статистику прогона по возрастанию дня
func (r *ResultRepository) GetDailyStats(runID int) ([]*models.DailyStatsRecord, error) {
	query := `
		SELECT id, run_id, day, account_balance, balance_in_orders, realized_profit, unrealized_profit, realized_pnl, unrealized_pnl
		FROM account_daily_stats
		WHERE run_id = $1
		ORDER BY day`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.DailyStatsRecord
	for rows.Next() {
		rec := &models.DailyStatsRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Day,
			&rec.AccountBalance,
			&rec.BalanceInOrders,
			&rec.RealizedProfitPerDay,
			&rec.UnrealizedProfitPerDay,
			&rec.RealizedPnlPerDay,
			&rec.UnrealizedPnlPerDay,
		)
		if err != nil {
			return nil, err
		}
		rec.Day = rec.Day.UTC()
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

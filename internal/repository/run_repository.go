package repository

import (
	"database/sql"
	"errors"
	"time"

	"backtrack/internal/models"
)

// Ошибки репозитория прогонов
var (
	ErrRunNotFound = errors.New("backtest run not found")
)

// RunRepository - работа с таблицей backtest_runs
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository создает новый экземпляр репозитория
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, mode, status, orders_count, summary, account_info, error_message, created_at, finished_at`

// Create создает запись о прогоне в статусе running
func (r *RunRepository) Create(run *models.BacktestRun) error {
	query := `
		INSERT INTO backtest_runs (mode, status, orders_count, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	run.CreatedAt = time.Now()
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	return r.db.QueryRow(query, run.Mode, run.Status, run.OrdersCount, run.CreatedAt).Scan(&run.ID)
}

// Finish фиксирует итог прогона
func (r *RunRepository) Finish(run *models.BacktestRun) error {
	summaryJSON, err := nullableJSON(run.Summary)
	if err != nil {
		return err
	}
	accountJSON, err := nullableJSON(run.AccountInfo)
	if err != nil {
		return err
	}

	now := time.Now()
	run.FinishedAt = &now

	query := `
		UPDATE backtest_runs
		SET status = $1, summary = $2, account_info = $3, error_message = $4, finished_at = $5
		WHERE id = $6`

	result, err := r.db.Exec(query, run.Status, summaryJSON, accountJSON, run.Error, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}

	return nil
}

// GetByID возвращает прогон по ID
func (r *RunRepository) GetByID(id int) (*models.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	return run, nil
}

// List возвращает последние прогоны, новые первыми
func (r *RunRepository) List(limit, offset int) ([]*models.BacktestRun, error) {
	query := `SELECT ` + runColumns + `
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete удаляет прогон вместе с результатами
func (r *RunRepository) Delete(id int) error {
	result, err := r.db.Exec(`DELETE FROM backtest_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}

	return nil
}

// scanner - общий интерфейс *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.BacktestRun, error) {
	run := &models.BacktestRun{}
	var summaryJSON, accountJSON []byte
	var errMsg sql.NullString

	err := s.Scan(
		&run.ID,
		&run.Mode,
		&run.Status,
		&run.OrdersCount,
		&summaryJSON,
		&accountJSON,
		&errMsg,
		&run.CreatedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Error = errMsg.String

	if len(summaryJSON) > 0 {
		run.Summary = &models.Summary{}
		if err := json.Unmarshal(summaryJSON, run.Summary); err != nil {
			return nil, err
		}
	}
	if len(accountJSON) > 0 {
		run.AccountInfo = &models.AccountInfo{}
		if err := json.Unmarshal(accountJSON, run.AccountInfo); err != nil {
			return nil, err
		}
	}

	return run, nil
}

// nullableJSON сериализует значение; nil-указатель даёт NULL
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

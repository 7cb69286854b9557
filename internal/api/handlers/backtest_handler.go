package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"backtrack/internal/cornix"
	"backtrack/internal/loader"
	"backtrack/internal/models"
	"backtrack/internal/repository"
	"backtrack/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes ограничивает тело запроса прогона
const maxBodyBytes = 16 << 20

// BacktestHandler обрабатывает HTTP запросы прогонов бэктеста.
//
// Endpoints:
// - POST /api/v1/backtests - прогон одиночных сделок
// - POST /api/v1/backtests/account - симуляция аккаунта
// - GET /api/v1/backtests?limit=50&offset=0 - история прогонов
// - GET /api/v1/backtests/{id} - прогон со сводкой
// - DELETE /api/v1/backtests/{id} - удалить прогон
// - GET /api/v1/backtests/{id}/trades - результаты ордеров
// - GET /api/v1/backtests/{id}/daily - дневная статистика аккаунта
//
// Прогон выполняется синхронно в рамках запроса, ход прогона
// транслируется в /ws/stream.
type BacktestHandler struct {
	backtestService service.BacktestServiceInterface
	now             func() time.Time
}

// NewBacktestHandler создает новый BacktestHandler с внедрением зависимостей.
func NewBacktestHandler(backtestService service.BacktestServiceInterface) *BacktestHandler {
	return &BacktestHandler{
		backtestService: backtestService,
		now:             time.Now,
	}
}

// BacktestRequest - тело POST /api/v1/backtests
//
// orders принимает те же форматы, что и файлы CLI: массив или одиночный
// ордер, даты строкой или миллисекундами. config по умолчанию -
// стандартная конфигурация Cornix.
type BacktestRequest struct {
	Orders      jsoniter.RawMessage `json:"orders"`
	Config      jsoniter.RawMessage `json:"config,omitempty"`
	DetailedLog bool                `json:"detailedLog"`
	Verbose     bool                `json:"verbose"`
}

// AccountRequest - тело POST /api/v1/backtests/account
type AccountRequest struct {
	BacktestRequest
	InitialBalance  float64    `json:"initialBalance"`
	MaxActiveOrders int        `json:"maxActiveOrders"`
	End             *time.Time `json:"end,omitempty"`
}

// RunBacktest прогоняет каждый ордер независимо.
//
// POST /api/v1/backtests
//
// Request:
//
//	{
//	  "orders": [{"coin": "INJUSDT", "exchange": "Binance Futures", "date": "2023-06-15T15:50:00Z",
//	              "entries": [100, 95], "tps": [110, 120], "sl": 90, "leverage": 10}],
//	  "config": {"amount": 100, "entries": "One Target", "tps": "Evenly Divided"},
//	  "detailedLog": false
//	}
//
// Response 200 OK:
//
//	{"run": {...}, "results": [...], "summary": {...}, "invalidCoins": [...]}
//
// Response 400 Bad Request: тело не разобрано или нет ордеров
func (h *BacktestHandler) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runReq, err := h.buildRunRequest(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	out, err := h.backtestService.RunSingle(r.Context(), runReq)
	if err != nil {
		h.respondRunError(w, err, out != nil)
		return
	}

	respondJSON(w, http.StatusOK, out)
}

// RunAccount запускает симуляцию аккаунта.
//
// POST /api/v1/backtests/account
//
// Request: как у /backtests плюс
//
//	{"initialBalance": 1000, "maxActiveOrders": 5, "end": "2023-07-01T00:00:00Z"}
//
// Response 200 OK:
//
//	{"run": {...}, "info": {...}, "daily": [...], "finished": [...], "active": [...], "skipped": [...]}
func (h *BacktestHandler) RunAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runReq, err := h.buildRunRequest(&req.BacktestRequest)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.InitialBalance < 0 {
		respondError(w, http.StatusBadRequest, "invalid request", errors.New("initialBalance must not be negative"))
		return
	}

	accReq := &service.AccountRunRequest{
		RunRequest:      *runReq,
		InitialBalance:  req.InitialBalance,
		MaxActiveOrders: req.MaxActiveOrders,
	}
	if req.End != nil {
		accReq.End = req.End.UTC()
	}

	out, err := h.backtestService.RunAccount(r.Context(), accReq)
	if err != nil {
		h.respondRunError(w, err, out != nil)
		return
	}

	respondJSON(w, http.StatusOK, out)
}

func (h *BacktestHandler) buildRunRequest(req *BacktestRequest) (*service.RunRequest, error) {
	if len(req.Orders) == 0 {
		return nil, service.ErrNoOrders
	}

	batch, err := loader.ParseOrders(req.Orders, h.now())
	if err != nil {
		return nil, err
	}

	cfg := cornix.DefaultConfiguration()
	if len(req.Config) > 0 && string(req.Config) != "null" {
		if cfg, err = loader.ParseConfig(req.Config); err != nil {
			return nil, err
		}
	}

	return &service.RunRequest{
		Orders:      batch.Orders,
		Config:      cfg,
		DetailedLog: req.DetailedLog,
		Verbose:     req.Verbose,
	}, nil
}

func (h *BacktestHandler) respondRunError(w http.ResponseWriter, err error, partial bool) {
	switch {
	case errors.Is(err, service.ErrNoOrders):
		respondError(w, http.StatusBadRequest, "invalid request", err)
	case partial:
		// прогон создан, но завершился ошибкой (отмена, сбой записи)
		respondError(w, http.StatusInternalServerError, "backtest run failed", err)
	default:
		respondError(w, http.StatusInternalServerError, "failed to start backtest run", err)
	}
}

// ListRuns возвращает историю прогонов, новые первыми.
//
// GET /api/v1/backtests?limit=50&offset=0
func (h *BacktestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offset", err)
		return
	}

	runs, err := h.backtestService.ListRuns(limit, offset)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.BacktestRun{}
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetRun возвращает прогон со сводкой.
//
// GET /api/v1/backtests/{id}
//
// Response 404 Not Found: {"error": "backtest run not found"}
func (h *BacktestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.backtestService.GetRun(id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// DeleteRun удаляет прогон вместе с результатами.
//
// DELETE /api/v1/backtests/{id}
func (h *BacktestHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.backtestService.DeleteRun(id); err != nil {
		h.respondLookupError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTrades возвращает результаты ордеров прогона с журналом событий.
//
// GET /api/v1/backtests/{id}/trades
func (h *BacktestHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	trades, err := h.backtestService.GetTrades(id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.TradeResultRecord{}
	}

	respondJSON(w, http.StatusOK, trades)
}

// GetDaily возвращает дневную статистику прогона аккаунта.
//
// GET /api/v1/backtests/{id}/daily
func (h *BacktestHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	daily, err := h.backtestService.GetDaily(id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	if daily == nil {
		daily = []*models.DailyStatsRecord{}
	}

	respondJSON(w, http.StatusOK, daily)
}

func (h *BacktestHandler) respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrRunNotFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrPersistenceDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, "failed to load backtest runs", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid run id", nil)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

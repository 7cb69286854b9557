package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"backtrack/internal/api/handlers"
	"backtrack/internal/api/middleware"
	"backtrack/internal/service"
	"backtrack/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	BacktestService service.BacktestServiceInterface
	Hub             *websocket.Hub
	Logger          *zap.Logger

	// TokenHash - bcrypt-хеш API токена, пусто = без аутентификации
	TokenHash string

	// CORSOrigins - разрешённые origin, пусто = middleware.DefaultCORSOrigins
	CORSOrigins []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	└── /backtests/
//	    ├── POST / - прогон одиночных сделок
//	    ├── GET / - история прогонов
//	    ├── POST /account - симуляция аккаунта
//	    ├── GET /{id} - прогон со сводкой
//	    ├── DELETE /{id} - удалить прогон
//	    ├── GET /{id}/trades - результаты ордеров
//	    └── GET /{id}/daily - дневная статистика
//
// /ws/stream - WebSocket поток хода прогонов
// /health, /metrics - без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (API и WebSocket)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = middleware.DefaultCORSOrigins
	}
	cors := middleware.CORS(origins)
	router.Use(cors)

	// Маршруты объявлены без OPTIONS, поэтому preflight приходит сюда
	// как method mismatch; CORS отвечает на него сам.
	router.MethodNotAllowedHandler = cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}))

	auth := middleware.Auth(deps.TokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.BacktestService != nil {
		backtestHandler := handlers.NewBacktestHandler(deps.BacktestService)

		api.HandleFunc("/backtests", backtestHandler.RunBacktest).Methods("POST")
		api.HandleFunc("/backtests", backtestHandler.ListRuns).Methods("GET")
		api.HandleFunc("/backtests/account", backtestHandler.RunAccount).Methods("POST")
		api.HandleFunc("/backtests/{id:[0-9]+}", backtestHandler.GetRun).Methods("GET")
		api.HandleFunc("/backtests/{id:[0-9]+}", backtestHandler.DeleteRun).Methods("DELETE")
		api.HandleFunc("/backtests/{id:[0-9]+}/trades", backtestHandler.GetTrades).Methods("GET")
		api.HandleFunc("/backtests/{id:[0-9]+}/daily", backtestHandler.GetDaily).Methods("GET")
	}

	if deps.Hub != nil {
		router.Handle("/ws/stream", auth(http.HandlerFunc(deps.Hub.ServeWS))).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}

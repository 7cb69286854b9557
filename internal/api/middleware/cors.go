package middleware

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// DefaultCORSOrigins - локальные dev-серверы фронтенда
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// CORS - middleware Cross-Origin Resource Sharing
//
// Разрешённым origin отдаётся конкретный Access-Control-Allow-Origin
// с credentials, запросам без Origin (curl, CLI) - "*". "*" в списке
// разрешает любой origin, но без credentials. Для остальных заголовки
// не ставятся и браузер блокирует ответ.
// Preflight (OPTIONS) завершается здесь же с 204.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAll := lo.Contains(origins, "*")
	allowed := lo.SliceToMap(origins, func(o string) (string, struct{}) {
		return strings.TrimRight(strings.TrimSpace(o), "/"), struct{}{}
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, known := allowed[origin]

			switch {
			case origin == "" || (allowAll && !known):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case known:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

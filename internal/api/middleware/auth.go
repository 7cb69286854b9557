package middleware

import (
	"net/http"
	"strings"

	"backtrack/pkg/crypto"
)

// Auth - middleware проверки API токена
//
// Клиент передаёт токен в заголовке Authorization: Bearer <token>,
// сервер хранит только его bcrypt-хеш (API_TOKEN_HASH).
// Пустой хеш отключает проверку (локальный запуск).
//
// Получить хеш:
//
//	server -hash-token <token>
//
// Ответы:
// - 401 Unauthorized: заголовок отсутствует или токен не совпал
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="backtrack"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="backtrack", error="invalid_token"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

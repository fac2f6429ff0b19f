package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/mmeshcher/pointsgate/internal/ratelimit"
)

// clientKey возвращает ключ лимитирования: идентификатор пользователя, если
// запрос аутентифицирован, иначе IP клиента.
func clientKey(r *http.Request) string {
	if userID, ok := GetUserIDFromContext(r.Context()); ok {
		return "u" + strconv.FormatInt(userID, 10)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip" + r.RemoteAddr
	}
	return "ip" + host
}

// RateLimit проверяет лимит указанного класса операций до выполнения запроса.
// Отклонённые запросы получают 429 и подсказку Retry-After в секундах.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(r.Context(), clientKey(r), class)
			if !decision.Allowed {
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

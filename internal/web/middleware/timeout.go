package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds the request context. The pipeline aborts at its next
// suspension point once the deadline passes; the handler decides the response.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

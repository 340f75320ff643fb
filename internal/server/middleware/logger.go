package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each incoming upgrade request. The raw URI is never
// logged: the auth token rides the query string and must not end up in logs.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Bool("hasToken", r.URL.Query().Has("token")),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}

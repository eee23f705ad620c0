package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxQueryLogLength = 512

// RequestLogger attaches a request-scoped logger to the context and writes one
// access log line per request. It expects chi's RequestID to run first.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := logger.With().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_ip", r.RemoteAddr).
				Str("query", truncate(r.URL.RawQuery, maxQueryLogLength)).
				Logger()
			ctx := l.WithContext(r.Context())

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Auth may have added user_id to the context logger.
			ev := zerolog.Ctx(ctx).With().
				Int("status", status).
				Dur("latency", time.Since(start)).
				Int("bytes_out", ww.BytesWritten()).
				Logger()
			switch {
			case status >= 500:
				ev.Error().Msg("request")
			case status >= 400:
				ev.Warn().Msg("request")
			default:
				ev.Info().Msg("request")
			}
		})
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

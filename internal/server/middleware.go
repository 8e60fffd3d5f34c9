package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestID tags the request with an id, reusing X-Request-ID when the
// caller sent one, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	}))
}

// AccessLog writes one entry per request. Successful readiness and load
// checks log at debug level; server errors log as warnings.
func AccessLog(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
			})

			switch {
			case status >= http.StatusInternalServerError:
				entry.Warn("request failed")
			case isHealthPath(r.URL.Path) && status < http.StatusBadRequest:
				entry.Debug("health check served")
			default:
				entry.Info("request served")
			}
		})
	}
}

func isHealthPath(path string) bool {
	return strings.HasPrefix(path, "/health/")
}

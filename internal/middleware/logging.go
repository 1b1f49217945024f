package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"detectionapi/internal/logger"
	"detectionapi/internal/observability"
)

// statusRecorder captures the response status. It stays hijackable for WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs each request and records it in metrics, keyed by route template.
func LoggingMiddleware(log *logger.Logger, metrics *observability.HTTPMetrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := routeTemplate(r)
			elapsed := time.Since(start)
			if metrics != nil {
				metrics.RecordRequest(r.Method, route, rec.status, elapsed)
			}

			switch {
			case rec.status >= 500:
				log.Error("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond), RequestID(r.Context()))
			case rec.status >= 400:
				log.Warning("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond), RequestID(r.Context()))
			default:
				log.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond), RequestID(r.Context()))
			}
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

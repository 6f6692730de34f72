package observability

import (
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// statusRecorder captures the status code written by the handler chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPLogMiddleware records every request in http_request_logs. Writes are
// best-effort: a failing observability store never fails the request.
func HTTPLogMiddleware(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			_, err = db.Exec(`
				INSERT INTO http_request_logs (method, path, status_code, duration_ms, ip_address, user_agent)
				VALUES (?,?,?,?,?,?)`,
				r.Method, r.URL.Path, rec.status, time.Since(start).Milliseconds(),
				ip, r.UserAgent())
			if err != nil {
				slog.Warn("observability http log failed", "error", err)
			}
		})
	}
}

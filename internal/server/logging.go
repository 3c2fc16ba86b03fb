package server

import (
	"log"
	"net/http"

	"cloud.google.com/go/logging"
)

// loggingWriter persists the response status code so the access-log
// middleware below can report it, ported from the teacher's
// app/proxy/middleware.go loggingWriter/newLoggingWriter.
type loggingWriter struct {
	http.ResponseWriter
	Code int
}

func newLoggingWriter(w http.ResponseWriter) *loggingWriter {
	if w, ok := w.(*loggingWriter); ok {
		return w
	}

	return &loggingWriter{w, http.StatusOK}
}

func (w *loggingWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

// WithLogging is a console access-log middleware, ported from the
// teacher's app/proxy/middleware.go WithLogging.
func WithLogging(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w = newLoggingWriter(w)

			defer func() {
				logger.Println(
					r.Method,
					r.URL.Path,
					w.(*loggingWriter).Code,
					r.RemoteAddr,
					r.UserAgent(),
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// WithCloudLogging additionally mirrors every 4xx/5xx response to a
// cloud.google.com/go/logging sink, the way the teacher's
// app/proxy/proxy.go handleResponse logs upstream 5xx responses through its
// *logging.Logger. Here it covers any handler-reported failure, not just
// upstream 5xx, since bare-server's errors originate locally (SSRF denial,
// malformed headers) as often as from the remote.
func WithCloudLogging(cloud *logging.Logger, next http.Handler) http.Handler {
	if cloud == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := newLoggingWriter(w)

		defer func() {
			if lw.Code < http.StatusBadRequest {
				return
			}

			cloud.Log(logging.Entry{
				Severity: logging.Error,
				Payload:  "bare exchange failed",
				HTTPRequest: &logging.HTTPRequest{
					Request:  r,
					Status:   lw.Code,
					RemoteIP: r.Header.Get("X-Forwarded-For"),
				},
			})
		}()

		next.ServeHTTP(lw, r)
	})
}

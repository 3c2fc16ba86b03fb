package bare

import (
	"io"
	"net"
	"net/http"
)

// Request wraps the inbound HTTP exchange with the narrow surface the
// version handlers and outbound fetch need: headers (both canonicalized and
// raw-cased), URL, a streaming body, and (for upgrades) the native
// connection. It exists so neither side has to reach back into
// http.ResponseWriter/*http.Request directly, mirroring the teacher's
// LoggingWriter wrapper pattern (app/proxy/middleware.go) generalized from
// "wrap the writer" to "wrap the whole exchange".
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Raw     []string // flattened [name0, value0, ...] built from Header (canonical names, unordered)
	Body    io.ReadCloser
	Context RequestContext
}

// RequestContext is the subset of *http.Request a Request needs without
// importing net/http into call sites that only care about cancellation.
type RequestContext interface {
	Done() <-chan struct{}
}

// NewRequest adapts an *http.Request into a Request. Raw is flattened from
// r.Header, which net/http has already canonicalized, so its names carry
// canonical case rather than the client's, and its pair order follows map
// iteration and is not defined.
func NewRequest(r *http.Request) *Request {
	raw := make([]string, 0, len(r.Header)*2)
	for name, values := range r.Header {
		for _, v := range values {
			raw = append(raw, name, v)
		}
	}

	return &Request{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Header:  r.Header,
		Raw:     raw,
		Body:    r.Body,
		Context: r.Context(),
	}
}

// Hijack upgrades the underlying exchange to a raw net.Conn, for the
// WebSocket relay paths. It requires w to implement http.Hijacker.
func Hijack(w http.ResponseWriter) (net.Conn, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, New(500, KindUnknown, "error.Unknown", "response writer does not support hijacking")
	}

	conn, _, err := hj.Hijack()
	if err != nil {
		return nil, Wrap(err)
	}

	return conn, nil
}

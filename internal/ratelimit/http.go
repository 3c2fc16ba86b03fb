package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

type (
	// KeyFunc derives the rate-limit bucket key for a request. Adapted from
	// the teacher's ratelimit.KeyFunc/KeyFromHeader.
	KeyFunc func(*http.Request) (string, error)

	// HandleFunc runs the limiter for one request, writing a 429 response
	// and returning false if the bucket is exhausted. Adapted from the
	// teacher's ratelimit.HandleFunc.
	HandleFunc func(http.ResponseWriter, *http.Request, Config) bool

	// Config is the per-route limit/window pair.
	Config struct {
		Limit    uint64
		Duration time.Duration
	}
)

const (
	headerRetryAfter = "Retry-After"
	headerLimit      = "RateLimit-Limit"
	headerRemaining  = "RateLimit-Remaining"
	headerReset      = "RateLimit-Reset"
)

// KeyFromIP resolves the client IP per §4.K's order: X-Forwarded-For's
// first value, else X-Real-IP, else the TCP peer address.
func KeyFromIP() KeyFunc {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i >= 0 {
				return strings.TrimSpace(xff[:i]), nil
			}

			return strings.TrimSpace(xff), nil
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri), nil
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr, nil
		}

		return host, nil
	}
}

// isKeepAlive is the heuristic of Open Question (ii): HTTP/1.1+ requests
// that didn't explicitly ask to close the connection are treated as
// keep-alive and consume a token; everything else only inspects the
// current count.
func isKeepAlive(r *http.Request) bool {
	return r.ProtoAtLeast(1, 1) && !strings.EqualFold(r.Header.Get("Connection"), "close")
}

// NewHandler builds a HandleFunc over strategy, consuming a token for
// keep-alive requests and merely inspecting the current count otherwise
// (§4.K).
func NewHandler(strategy Strategy, keyFunc KeyFunc) HandleFunc {
	return func(w http.ResponseWriter, r *http.Request, cfg Config) bool {
		k, err := keyFunc(r)
		if err != nil {
			bare.Wrap(err).WriteJSON(w, false)
			return false
		}

		req := Request{Key: k, Limit: cfg.Limit, Duration: cfg.Duration}

		var (
			res Result
			e   error
		)

		if isKeepAlive(r) {
			res, e = strategy.Run(r.Context(), req)
		} else {
			res, e = strategy.Peek(r.Context(), req)
		}

		if e != nil {
			bare.Wrap(e).WriteJSON(w, false)
			return false
		}

		remaining := uint64(0)
		if cfg.Limit > res.TotalRequests {
			remaining = cfg.Limit - res.TotalRequests
		}

		h := w.Header()
		h.Set(headerLimit, strconv.FormatUint(cfg.Limit, 10))
		h.Set(headerRemaining, strconv.FormatUint(remaining, 10))
		h.Set(headerReset, strconv.FormatInt(res.ExpiresAt.Unix(), 10))

		if res.State == Deny {
			h.Set(headerRetryAfter, strconv.FormatInt(int64(time.Until(res.ExpiresAt).Seconds()), 10))

			bare.New(
				http.StatusTooManyRequests,
				bare.KindRateLimited,
				"error.TooManyConnections",
				"rate limit exceeded",
			).WriteJSON(w, false)

			return false
		}

		return true
	}
}

// Package envelope implements the parsing/encoding steps of §4.F shared by
// all three wire protocol versions: BareHeaders → outbound http.Header,
// upstream *http.Response → envelope response headers, and the fixed
// forbidden/default header-name policy.
package envelope

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// ForbiddenSend names headers that must never reach the outbound request,
// even if explicitly requested in sendHeaders (§4.F).
var ForbiddenSend = set("connection", "content-length", "transfer-encoding")

// ForbiddenForward names inbound headers that must not be copied into
// sendHeaders via forwardHeaders (§4.F). v1 does not enforce this
// historically (see Open Question (i)); v2/v3 do.
var ForbiddenForward = set("connection", "transfer-encoding", "host", "origin", "referer")

// ForbiddenPass names headers that must never be echoed in the envelope
// response (§4.F): the CORS set is already written unconditionally by
// internal/server, so letting the remote's values through would either
// duplicate or override it.
var ForbiddenPass = set(
	"vary", "connection", "transfer-encoding",
	"access-control-allow-origin", "access-control-allow-headers",
	"access-control-allow-methods", "access-control-expose-headers",
	"access-control-max-age", "access-control-allow-credentials",
)

// DefaultForward is appended to forwardHeaders when absent from the
// request.
var DefaultForward = []string{"accept-encoding", "accept-language"}

// DefaultForwardWebSocket additionally carries the WebSocket handshake
// headers forward; v1 uses it for both of its tunnels, v2 for its WS tunnel.
var DefaultForwardWebSocket = append(append([]string{}, DefaultForward...),
	"sec-websocket-extensions", "sec-websocket-key", "sec-websocket-version")

// DefaultPass is appended to passHeaders when absent from the request.
var DefaultPass = []string{"content-encoding", "content-length", "last-modified"}

// CacheForward/CachePass are added when the request carries ?cache (v2/v3);
// the handlers also add 304 to the pass-through statuses themselves.
var CacheForward = []string{"if-modified-since", "if-none-match", "cache-control"}
var CachePass = []string{"cache-control", "etag"}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}

	return m
}

func isForbidden(forbidden map[string]bool, name string) bool {
	return forbidden[strings.ToLower(name)]
}

// BuildSendHeaders constructs the outbound http.Header from the parsed
// BareHeaders (failing with FORBIDDEN_BARE_HEADER on any name in
// ForbiddenSend) plus, for each name in forward, the inbound request's
// values for that header (looked up case-insensitively). When
// enforceForbiddenForward is true, a forward name in ForbiddenForward also
// fails with FORBIDDEN_BARE_HEADER. Every entry is keyed by the name
// exactly as spelled in the BareHeaders key or the forward list.
func BuildSendHeaders(bh bare.BareHeaders, r *http.Request, forward []string, enforceForbiddenForward bool) (http.Header, error) {
	out := make(http.Header)

	for name, v := range bh {
		if isForbidden(ForbiddenSend, name) {
			return nil, bare.ForbiddenHeader(name)
		}

		out[name] = splitFlatten(v)
	}

	for _, name := range forward {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if enforceForbiddenForward && isForbidden(ForbiddenForward, name) {
			return nil, bare.ForbiddenHeader(name)
		}

		if vs := r.Header.Values(name); len(vs) > 0 {
			out[name] = append(out[name], vs...)
		}
	}

	return out, nil
}

// PopHost extracts a client-supplied Host override from h, removing it from
// h in the process. Per §4.D (setHost=false), the outbound request must use
// this value as-is instead of the remote's own host:port — net/http's
// Transport ignores a "Host" entry left sitting in Request.Header and
// always sends Request.Host instead, so callers must promote the popped
// value onto the outbound request's Host field themselves.
func PopHost(h http.Header) string {
	for name, vs := range h {
		if strings.EqualFold(name, "host") {
			delete(h, name)

			if len(vs) > 0 {
				return vs[0]
			}

			return ""
		}
	}

	return ""
}

// splitFlatten turns a HeaderValue into the []string http.Header expects,
// without joining a Multi value — each element becomes its own header
// line, matching how net/http represents repeated headers.
func splitFlatten(v bare.HeaderValue) []string {
	if v.IsMulti() {
		return append([]string(nil), v.Multi...)
	}

	return []string{v.Single}
}

// WithDefaults returns forward with the names in defaults appended for
// any not already present (case-insensitive).
func WithDefaults(forward, defaults []string) []string {
	have := make(map[string]bool, len(forward))

	for _, f := range forward {
		have[strings.ToLower(strings.TrimSpace(f))] = true
	}

	out := append([]string(nil), forward...)

	for _, d := range defaults {
		if !have[d] {
			out = append(out, d)
		}
	}

	return out
}

// CheckPassHeaders validates that none of names names a ForbiddenPass
// header (v2/v3; §4.F).
func CheckPassHeaders(names []string) error {
	for _, n := range names {
		if isForbidden(ForbiddenPass, n) {
			return bare.ForbiddenHeader(n)
		}
	}

	return nil
}

// ParseCommaList splits a comma-separated header value into trimmed,
// non-empty tokens.
func ParseCommaList(v string) []string {
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// EncodeResponse writes the envelope reply for an HTTP tunnel request
// (§4.F): passHeaders-filtered response headers, x-bare-status/-status-text
// unless the status is 304, x-bare-headers (split via bare.SplitHeaders),
// and the upstream body unless the status carries none.
func EncodeResponse(w http.ResponseWriter, res *http.Response, passHeaders []string, passStatus map[int]bool) error {
	pass := make(map[string]bool, len(passHeaders))
	for _, p := range passHeaders {
		pass[strings.ToLower(p)] = true
	}

	status := http.StatusOK
	if passStatus[res.StatusCode] {
		status = res.StatusCode
	}

	h := w.Header()

	for name, vs := range res.Header {
		if pass[strings.ToLower(name)] {
			for _, v := range vs {
				h.Add(name, v)
			}
		}
	}

	if status != http.StatusNotModified {
		remoteHeaders := make(bare.BareHeaders, len(res.Header))
		for name, vs := range res.Header {
			if len(vs) == 1 {
				remoteHeaders[name] = bare.NewSingleValue(vs[0])
			} else {
				remoteHeaders[name] = bare.NewMultiValue(vs)
			}
		}

		data, err := json.Marshal(remoteHeaders)
		if err != nil {
			return err
		}

		envelope := map[string]string{
			"x-bare-status":      strconv.Itoa(res.StatusCode),
			"x-bare-status-text": http.StatusText(res.StatusCode),
			"x-bare-headers":     string(data),
		}

		for k, v := range bare.SplitHeaders(envelope) {
			h.Set(k, v)
		}
	}

	w.WriteHeader(status)

	if noBody(status) {
		return nil
	}

	_, err := io.Copy(w, res.Body)

	return err
}

func noBody(status int) bool {
	switch status {
	case http.StatusSwitchingProtocols, http.StatusNoContent, http.StatusResetContent, http.StatusNotModified:
		return true
	default:
		return false
	}
}
